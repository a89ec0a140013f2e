// Package warehouse builds the reconciled (normalized) and analytical (star)
// layers of the earthquake warehouse from the staging store.
//
// Every dimension is an append-only, content-addressed table: a row is
// identified by its natural key and is created at most once through
// [Tx.Ensure]. Facts are keyed by the external event ID and are inserted at
// most once; records whose natural keys cannot be resolved are dropped and
// counted, never raised as errors.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
)

// StagingTable holds raw events exactly as received.
const StagingTable = "staging_earthquake"

// Dimension describes a dimension table: its natural-key columns, in the
// order of the key's Values, followed by any derived attribute columns.
// Every dimension has a surrogate "id" primary key and a uniqueness
// constraint over KeyColumns.
type Dimension struct {
	Table       string
	KeyColumns  []string
	AttrColumns []string
}

// Reference is a fact column holding the surrogate ID of a dimension row.
type Reference struct {
	Column    string
	Dimension Dimension
}

// FactTable describes a fact table keyed by earthquake_id.
type FactTable struct {
	Table      string
	References []Reference
}

// Reconciled layer.
var (
	Location = Dimension{
		Table: "location",
		KeyColumns: []string{
			"latitude", "longitude", "nearest_locality", "state", "county", "region",
			"offset_distance", "offset_direction", "horizontal_error", "depth_error",
		},
	}
	MagnitudeDetail = Dimension{
		Table:      "magnitude_detail",
		KeyColumns: []string{"mag_type", "mag_error", "mag_nst"},
	}
	SeismicMetrics = Dimension{
		Table:      "seismic_metrics",
		KeyColumns: []string{"nst", "gap", "dmin", "rms"},
	}
	DataSource = Dimension{
		Table:      "data_source",
		KeyColumns: []string{"net", "location_source", "mag_source"},
	}

	ReconciledEarthquakes = FactTable{
		Table: "reconciled_earthquake",
		References: []Reference{
			{Column: "location_id", Dimension: Location},
			{Column: "magnitude_id", Dimension: MagnitudeDetail},
			{Column: "seismic_metrics_id", Dimension: SeismicMetrics},
			{Column: "data_source_id", Dimension: DataSource},
		},
	}
)

// Analytical layer.
var (
	TimeDim = Dimension{
		Table:       "time_dim",
		KeyColumns:  []string{"full_time"},
		AttrColumns: []string{"year", "quarter", "month", "day"},
	}
	LocationDim = Dimension{
		Table:      "location_dim",
		KeyColumns: []string{"latitude", "longitude", "nearest_locality", "state", "county", "region"},
	}
	MagnitudeTypeDim = Dimension{
		Table:      "magnitude_type_dim",
		KeyColumns: []string{"mag_type"},
	}
	DataSourceDim = Dimension{
		Table:      "data_source_dim",
		KeyColumns: []string{"net", "location_source", "mag_source"},
	}
	StatusDim = Dimension{
		Table:      "status_dim",
		KeyColumns: []string{"status", "event_type"},
	}

	EarthquakeFacts = FactTable{
		Table: "earthquake_fact",
		References: []Reference{
			{Column: "time_id", Dimension: TimeDim},
			{Column: "location_id", Dimension: LocationDim},
			{Column: "magnitude_type_id", Dimension: MagnitudeTypeDim},
			{Column: "data_source_id", Dimension: DataSourceDim},
			{Column: "status_id", Dimension: StatusDim},
		},
	}
)

// Dimensions lists every dimension, reconciled layer first.
var Dimensions = []Dimension{
	Location, MagnitudeDetail, SeismicMetrics, DataSource,
	TimeDim, LocationDim, MagnitudeTypeDim, DataSourceDim, StatusDim,
}

// Facts lists both fact tables.
var Facts = []FactTable{ReconciledEarthquakes, EarthquakeFacts}

// Key is the constraint satisfied by every natural-key type: comparable, so
// distinct tuples can be collected in a map, and convertible to column values.
type Key interface {
	comparable
	domain.NaturalKey
}

// Store runs units of work against the warehouse.
type Store interface {
	// WithTx runs fn in a single transaction. All writes made through tx
	// become visible together when fn returns nil and are discarded otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of warehouse operations available inside a unit of work.
type Tx interface {
	StagingRecords(ctx context.Context) ([]domain.StagingRecord, error)
	ReconciledEvents(ctx context.Context) ([]domain.ReconciledEvent, error)

	// Ensure returns the surrogate ID of the row whose natural key equals
	// key, inserting it first if absent. created reports whether this call
	// inserted the row.
	Ensure(ctx context.Context, dim Dimension, key domain.NaturalKey) (id int64, created bool, err error)

	// Lookup resolves a natural key without writing.
	Lookup(ctx context.Context, dim Dimension, key domain.NaturalKey) (id int64, found bool, err error)

	// InsertReconciled and InsertAnalytical write a fact unless one with the
	// same earthquake ID exists, reporting whether a row was written.
	InsertReconciled(ctx context.Context, fact domain.ReconciledEarthquake) (bool, error)
	InsertAnalytical(ctx context.Context, fact domain.AnalyticalFact) (bool, error)

	Count(ctx context.Context, table string) (int, error)
	DuplicateKeys(ctx context.Context, dim Dimension) (int, error)
	DanglingReferences(ctx context.Context, fact FactTable, ref Reference) (int, error)
	DistinctStagingIDs(ctx context.Context) (int, error)
}

// ErrInvalidKey is returned for a natural key that does not fit its
// dimension or that holds a value the store cannot compare exactly.
var ErrInvalidKey = errors.New("invalid natural key")

// ValidateKey checks that key has one value per key column of dim and that
// no float is NaN or infinite.
func ValidateKey(dim Dimension, key domain.NaturalKey) error {
	vals := key.Values()
	if len(vals) != len(dim.KeyColumns) {
		return fmt.Errorf("%w: %s expects %d values, got %d", ErrInvalidKey, dim.Table, len(dim.KeyColumns), len(vals))
	}
	for i, v := range vals {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return fmt.Errorf("%w: %s.%s is %v", ErrInvalidKey, dim.Table, dim.KeyColumns[i], f)
		}
	}
	if a, ok := key.(domain.Attributed); ok && len(a.Attributes()) != len(dim.AttrColumns) {
		return fmt.Errorf("%w: %s expects %d attributes", ErrInvalidKey, dim.Table, len(dim.AttrColumns))
	}
	return nil
}

// IsTable reports whether name is one of the warehouse tables, including
// staging.
func IsTable(name string) bool {
	if name == StagingTable {
		return true
	}
	for _, d := range Dimensions {
		if d.Table == name {
			return true
		}
	}
	for _, f := range Facts {
		if f.Table == name {
			return true
		}
	}
	return false
}
