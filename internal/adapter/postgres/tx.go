package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

type tx struct {
	tx    *sql.Tx
	store *Store
}

const selectStaging = `SELECT earthquake_id, event_time, updated_at, status, event_type, magnitude, depth,
	offset_distance, offset_direction, nearest_locality, state, county, region,
	latitude, longitude, horizontal_error, depth_error,
	mag_type, mag_error, mag_nst, nst, gap, dmin, rms,
	net, location_source, mag_source, ingested_at
FROM staging_earthquake
ORDER BY staging_id`

func (t *tx) StagingRecords(ctx context.Context) ([]domain.StagingRecord, error) {
	rows, err := t.tx.QueryContext(ctx, selectStaging)
	if err != nil {
		return nil, fmt.Errorf("query staging: %w", err)
	}
	defer rows.Close()

	var records []domain.StagingRecord
	for rows.Next() {
		var r domain.StagingRecord
		if err := rows.Scan(
			&r.EarthquakeID, &r.Time, &r.Updated, &r.Status, &r.Type, &r.Magnitude, &r.Depth,
			&r.OffsetDistance, &r.OffsetDirection, &r.NearestLocality, &r.State, &r.County, &r.Region,
			&r.Latitude, &r.Longitude, &r.HorizontalError, &r.DepthError,
			&r.MagType, &r.MagError, &r.MagNst, &r.Nst, &r.Gap, &r.Dmin, &r.RMS,
			&r.Net, &r.LocationSource, &r.MagSource, &r.IngestedAt,
		); err != nil {
			return nil, fmt.Errorf("scan staging: %w", err)
		}
		r.Time = domain.NormalizeTime(r.Time)
		r.Updated = domain.NormalizeTime(r.Updated)
		r.IngestedAt = domain.NormalizeTime(r.IngestedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

const selectReconciledEvents = `SELECT r.earthquake_id, r.event_time, r.updated_at, r.status, r.event_type, r.magnitude, r.depth,
	r.location_id, r.magnitude_id, r.seismic_metrics_id, r.data_source_id,
	l.latitude, l.longitude, l.nearest_locality, l.state, l.county, l.region,
	l.offset_distance, l.offset_direction, l.horizontal_error, l.depth_error,
	m.mag_type, m.mag_error, m.mag_nst,
	s.nst, s.gap, s.dmin, s.rms,
	d.net, d.location_source, d.mag_source
FROM reconciled_earthquake r
JOIN location l ON l.id = r.location_id
JOIN magnitude_detail m ON m.id = r.magnitude_id
JOIN seismic_metrics s ON s.id = r.seismic_metrics_id
JOIN data_source d ON d.id = r.data_source_id
ORDER BY r.earthquake_id`

func (t *tx) ReconciledEvents(ctx context.Context) ([]domain.ReconciledEvent, error) {
	rows, err := t.tx.QueryContext(ctx, selectReconciledEvents)
	if err != nil {
		return nil, fmt.Errorf("query reconciled events: %w", err)
	}
	defer rows.Close()

	var events []domain.ReconciledEvent
	for rows.Next() {
		var (
			e   domain.ReconciledEvent
			l   = &e.Location
			m   = &e.MagnitudeInfo
			s   = &e.SeismicMetrics
			src = &e.DataSource
		)
		if err := rows.Scan(
			&e.EarthquakeID, &e.Time, &e.Updated, &e.Status, &e.Type, &e.Magnitude, &e.Depth,
			&e.LocationID, &e.MagnitudeID, &e.SeismicMetricsID, &e.DataSourceID,
			&l.Latitude, &l.Longitude, &l.NearestLocality, &l.State, &l.County, &l.Region,
			&l.OffsetDistance, &l.OffsetDirection, &l.HorizontalError, &l.DepthError,
			&m.MagType, &m.MagError, &m.MagNst,
			&s.Nst, &s.Gap, &s.Dmin, &s.RMS,
			&src.Net, &src.LocationSource, &src.MagSource,
		); err != nil {
			return nil, fmt.Errorf("scan reconciled event: %w", err)
		}
		e.Time = domain.NormalizeTime(e.Time)
		e.Updated = domain.NormalizeTime(e.Updated)
		events = append(events, e)
	}
	return events, rows.Err()
}

func keyArgs(key domain.NaturalKey) []any {
	args := key.Values()
	if a, ok := key.(domain.Attributed); ok {
		args = append(args, a.Attributes()...)
	}
	return args
}

func (t *tx) Ensure(ctx context.Context, dim warehouse.Dimension, key domain.NaturalKey) (int64, bool, error) {
	if err := warehouse.ValidateKey(dim, key); err != nil {
		return 0, false, err
	}
	q := t.store.queriesFor(dim)

	var (
		id      int64
		created bool
	)
	if err := t.tx.QueryRowContext(ctx, q.ensure, keyArgs(key)...).Scan(&id, &created); err != nil {
		return 0, false, fmt.Errorf("ensure %s: %w", dim.Table, err)
	}
	return id, created, nil
}

func (t *tx) Lookup(ctx context.Context, dim warehouse.Dimension, key domain.NaturalKey) (int64, bool, error) {
	if err := warehouse.ValidateKey(dim, key); err != nil {
		return 0, false, err
	}
	q := t.store.queriesFor(dim)

	var id int64
	err := t.tx.QueryRowContext(ctx, q.lookup, key.Values()...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", dim.Table, err)
	}
	return id, true, nil
}

const insertReconciled = `INSERT INTO reconciled_earthquake (
	earthquake_id, event_time, updated_at, status, event_type, magnitude, depth,
	location_id, magnitude_id, seismic_metrics_id, data_source_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (earthquake_id) DO NOTHING`

func (t *tx) InsertReconciled(ctx context.Context, f domain.ReconciledEarthquake) (bool, error) {
	return t.insertOrSkip(ctx, insertReconciled,
		f.EarthquakeID, f.Time, f.Updated, f.Status, f.Type, f.Magnitude, f.Depth,
		f.LocationID, f.MagnitudeID, f.SeismicMetricsID, f.DataSourceID,
	)
}

const insertAnalytical = `INSERT INTO earthquake_fact (
	earthquake_id, magnitude, depth, time_id, location_id, magnitude_type_id, data_source_id, status_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (earthquake_id) DO NOTHING`

func (t *tx) InsertAnalytical(ctx context.Context, f domain.AnalyticalFact) (bool, error) {
	return t.insertOrSkip(ctx, insertAnalytical,
		f.EarthquakeID, f.Magnitude, f.Depth,
		f.TimeID, f.LocationID, f.MagnitudeTypeID, f.DataSourceID, f.StatusID,
	)
}

func (t *tx) insertOrSkip(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *tx) Count(ctx context.Context, table string) (int, error) {
	if !warehouse.IsTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := t.tx.QueryRowContext(ctx, "SELECT count(*) FROM "+pq.QuoteIdentifier(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (t *tx) DuplicateKeys(ctx context.Context, dim warehouse.Dimension) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, t.store.queriesFor(dim).duplicates).Scan(&n); err != nil {
		return 0, fmt.Errorf("duplicate keys %s: %w", dim.Table, err)
	}
	return n, nil
}

func (t *tx) DanglingReferences(ctx context.Context, fact warehouse.FactTable, ref warehouse.Reference) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s f LEFT JOIN %s d ON d.id = f.%s WHERE d.id IS NULL`,
		pq.QuoteIdentifier(fact.Table), pq.QuoteIdentifier(ref.Dimension.Table), pq.QuoteIdentifier(ref.Column))

	var n int
	if err := t.tx.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("dangling references %s.%s: %w", fact.Table, ref.Column, err)
	}
	return n, nil
}

func (t *tx) DistinctStagingIDs(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, "SELECT count(DISTINCT earthquake_id) FROM staging_earthquake").Scan(&n); err != nil {
		return 0, fmt.Errorf("distinct staging ids: %w", err)
	}
	return n, nil
}
