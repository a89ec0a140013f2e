package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

var stagingColumns = []string{
	"earthquake_id", "event_time", "updated_at", "status", "event_type", "magnitude", "depth",
	"offset_distance", "offset_direction", "nearest_locality", "state", "county", "region",
	"latitude", "longitude", "horizontal_error", "depth_error",
	"mag_type", "mag_error", "mag_nst", "nst", "gap", "dmin", "rms",
	"net", "location_source", "mag_source", "ingested_at",
}

// LoadBatch appends records to the staging table with COPY in a single
// transaction: either the whole batch lands or none of it does.
func (s *Store) LoadBatch(ctx context.Context, records []domain.StagingRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin staging load: %w", err)
	}
	defer func() {
		if err != nil {
			_ = txn.Rollback()
		}
	}()

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(warehouse.StagingTable, stagingColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			r.EarthquakeID, domain.NormalizeTime(r.Time), domain.NormalizeTime(r.Updated), r.Status, r.Type, r.Magnitude, r.Depth,
			r.OffsetDistance, r.OffsetDirection, r.NearestLocality, r.State, r.County, r.Region,
			r.Latitude, r.Longitude, r.HorizontalError, r.DepthError,
			r.MagType, r.MagError, r.MagNst, r.Nst, r.Gap, r.Dmin, r.RMS,
			r.Net, r.LocationSource, r.MagSource, ingestedAt(r),
		); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy %s: %w", r.EarthquakeID, err)
		}
	}

	// An argument-less Exec flushes the buffered rows.
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	if err = txn.Commit(); err != nil {
		return fmt.Errorf("commit staging load: %w", err)
	}
	return nil
}

// ingestedAt falls back to the load time for records built without one.
func ingestedAt(r domain.StagingRecord) any {
	if r.IngestedAt.IsZero() {
		return "now"
	}
	return r.IngestedAt
}
