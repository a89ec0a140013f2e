package warehouse_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse/memstore"
)

var t1 = time.Date(2024, time.March, 15, 10, 30, 0, 123456000, time.UTC)

// eq1 is the Los Angeles reference event.
func eq1() domain.StagingRecord {
	return domain.StagingRecord{
		EarthquakeID:    "eq1",
		Time:            t1,
		Updated:         t1,
		Status:          "reviewed",
		Type:            "earthquake",
		Magnitude:       4.2,
		Depth:           8.0,
		OffsetDistance:  2.0,
		OffsetDirection: "N",
		NearestLocality: "Los Angeles",
		State:           "CA",
		County:          "LA",
		Region:          "West",
		Latitude:        34.05,
		Longitude:       -118.25,
		HorizontalError: 0.5,
		DepthError:      0.3,
		MagType:         "ml",
		MagError:        0.1,
		MagNst:          12,
		Nst:             20,
		Gap:             90.0,
		Dmin:            0.1,
		RMS:             0.4,
		Net:             "ci",
		LocationSource:  "ci",
		MagSource:       "ci",
	}
}

// eq2 shares every dimension with eq1 except the location.
func eq2() domain.StagingRecord {
	r := eq1()
	r.EarthquakeID = "eq2"
	r.Latitude = 35.1
	r.Time = t1.Add(48 * time.Hour)
	r.Updated = r.Time
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(store warehouse.Store, opts ...warehouse.Option) *warehouse.Pipeline {
	return warehouse.New(store, testLogger(), observability.NewMetricsForTesting(), opts...)
}

func seed(t *testing.T, records ...domain.StagingRecord) *memstore.Store {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.LoadBatch(context.Background(), records))
	return s
}

var allTables = []string{
	warehouse.StagingTable,
	"location", "magnitude_detail", "seismic_metrics", "data_source", "reconciled_earthquake",
	"time_dim", "location_dim", "magnitude_type_dim", "data_source_dim", "status_dim", "earthquake_fact",
}

func tableCounts(t *testing.T, store warehouse.Store) map[string]int {
	t.Helper()
	counts := make(map[string]int, len(allTables))
	err := store.WithTx(context.Background(), func(ctx context.Context, tx warehouse.Tx) error {
		for _, table := range allTables {
			n, err := tx.Count(ctx, table)
			if err != nil {
				return err
			}
			counts[table] = n
		}
		return nil
	})
	require.NoError(t, err)
	return counts
}

// wrapStore decorates every transaction of inner.
type wrapStore struct {
	inner warehouse.Store
	wrap  func(warehouse.Tx) warehouse.Tx
}

func (s wrapStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx warehouse.Tx) error) error {
	return s.inner.WithTx(ctx, func(ctx context.Context, tx warehouse.Tx) error {
		return fn(ctx, s.wrap(tx))
	})
}
