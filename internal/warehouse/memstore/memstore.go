// Package memstore is an in-memory warehouse.Store. Each unit of work runs
// against a private copy of the tables that replaces the shared copy only
// when the unit succeeds, so a failed stage leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

// Store holds every warehouse table in memory. Units of work are serialized.
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ warehouse.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

type dimTable struct {
	ids  map[domain.NaturalKey]int64
	keys []domain.NaturalKey // keys[id-1]
}

type state struct {
	staging    []domain.StagingRecord
	dims       map[string]*dimTable
	reconciled map[string]domain.ReconciledEarthquake
	analytical map[string]domain.AnalyticalFact
}

func newState() *state {
	s := &state{
		dims:       make(map[string]*dimTable, len(warehouse.Dimensions)),
		reconciled: make(map[string]domain.ReconciledEarthquake),
		analytical: make(map[string]domain.AnalyticalFact),
	}
	for _, d := range warehouse.Dimensions {
		s.dims[d.Table] = &dimTable{ids: make(map[domain.NaturalKey]int64)}
	}
	return s
}

func (s *state) clone() *state {
	c := &state{
		staging:    slices.Clone(s.staging),
		dims:       make(map[string]*dimTable, len(s.dims)),
		reconciled: make(map[string]domain.ReconciledEarthquake, len(s.reconciled)),
		analytical: make(map[string]domain.AnalyticalFact, len(s.analytical)),
	}
	for name, d := range s.dims {
		ids := make(map[domain.NaturalKey]int64, len(d.ids))
		for k, v := range d.ids {
			ids[k] = v
		}
		c.dims[name] = &dimTable{ids: ids, keys: slices.Clone(d.keys)}
	}
	for k, v := range s.reconciled {
		c.reconciled[k] = v
	}
	for k, v := range s.analytical {
		c.analytical[k] = v
	}
	return c
}

// WithTx runs fn against a copy of the tables and publishes the copy if fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx warehouse.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

// LoadBatch appends records to the staging table.
func (s *Store) LoadBatch(ctx context.Context, records []domain.StagingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.staging = append(s.state.staging, records...)
	return nil
}

type tx struct {
	state *state
}

func (t *tx) StagingRecords(context.Context) ([]domain.StagingRecord, error) {
	return slices.Clone(t.state.staging), nil
}

func (t *tx) ReconciledEvents(context.Context) ([]domain.ReconciledEvent, error) {
	events := make([]domain.ReconciledEvent, 0, len(t.state.reconciled))
	for _, f := range t.state.reconciled {
		ev := domain.ReconciledEvent{ReconciledEarthquake: f}
		if err := t.joinKey(warehouse.Location, f.LocationID, &ev.Location); err != nil {
			return nil, err
		}
		if err := t.joinKey(warehouse.MagnitudeDetail, f.MagnitudeID, &ev.MagnitudeInfo); err != nil {
			return nil, err
		}
		if err := t.joinKey(warehouse.SeismicMetrics, f.SeismicMetricsID, &ev.SeismicMetrics); err != nil {
			return nil, err
		}
		if err := t.joinKey(warehouse.DataSource, f.DataSourceID, &ev.DataSource); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	slices.SortFunc(events, func(a, b domain.ReconciledEvent) int {
		return strings.Compare(a.EarthquakeID, b.EarthquakeID)
	})
	return events, nil
}

// joinKey copies the natural key of row id of dim into dst, which must point
// at the dimension's key type.
func (t *tx) joinKey(dim warehouse.Dimension, id int64, dst any) error {
	d := t.state.dims[dim.Table]
	if id < 1 || id > int64(len(d.keys)) {
		return fmt.Errorf("%s: no row with id %d", dim.Table, id)
	}
	switch p := dst.(type) {
	case *domain.LocationKey:
		*p = d.keys[id-1].(domain.LocationKey)
	case *domain.MagnitudeKey:
		*p = d.keys[id-1].(domain.MagnitudeKey)
	case *domain.SeismicMetricsKey:
		*p = d.keys[id-1].(domain.SeismicMetricsKey)
	case *domain.DataSourceKey:
		*p = d.keys[id-1].(domain.DataSourceKey)
	default:
		return fmt.Errorf("%s: unsupported key type %T", dim.Table, dst)
	}
	return nil
}

func (t *tx) dim(dim warehouse.Dimension) (*dimTable, error) {
	d, ok := t.state.dims[dim.Table]
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dim.Table)
	}
	return d, nil
}

func (t *tx) Ensure(_ context.Context, dim warehouse.Dimension, key domain.NaturalKey) (int64, bool, error) {
	if err := warehouse.ValidateKey(dim, key); err != nil {
		return 0, false, err
	}
	d, err := t.dim(dim)
	if err != nil {
		return 0, false, err
	}
	if id, ok := d.ids[key]; ok {
		return id, false, nil
	}
	d.keys = append(d.keys, key)
	id := int64(len(d.keys))
	d.ids[key] = id
	return id, true, nil
}

func (t *tx) Lookup(_ context.Context, dim warehouse.Dimension, key domain.NaturalKey) (int64, bool, error) {
	if err := warehouse.ValidateKey(dim, key); err != nil {
		return 0, false, err
	}
	d, err := t.dim(dim)
	if err != nil {
		return 0, false, err
	}
	id, ok := d.ids[key]
	return id, ok, nil
}

func (t *tx) InsertReconciled(_ context.Context, fact domain.ReconciledEarthquake) (bool, error) {
	if _, ok := t.state.reconciled[fact.EarthquakeID]; ok {
		return false, nil
	}
	t.state.reconciled[fact.EarthquakeID] = fact
	return true, nil
}

func (t *tx) InsertAnalytical(_ context.Context, fact domain.AnalyticalFact) (bool, error) {
	if _, ok := t.state.analytical[fact.EarthquakeID]; ok {
		return false, nil
	}
	t.state.analytical[fact.EarthquakeID] = fact
	return true, nil
}

func (t *tx) Count(_ context.Context, table string) (int, error) {
	switch table {
	case warehouse.StagingTable:
		return len(t.state.staging), nil
	case warehouse.ReconciledEarthquakes.Table:
		return len(t.state.reconciled), nil
	case warehouse.EarthquakeFacts.Table:
		return len(t.state.analytical), nil
	}
	if d, ok := t.state.dims[table]; ok {
		return len(d.keys), nil
	}
	return 0, fmt.Errorf("unknown table %q", table)
}

// DuplicateKeys counts rows beyond the first for each natural key.
func (t *tx) DuplicateKeys(_ context.Context, dim warehouse.Dimension) (int, error) {
	d, err := t.dim(dim)
	if err != nil {
		return 0, err
	}
	return len(d.keys) - len(d.ids), nil
}

func (t *tx) DanglingReferences(_ context.Context, fact warehouse.FactTable, ref warehouse.Reference) (int, error) {
	d, err := t.dim(ref.Dimension)
	if err != nil {
		return 0, err
	}
	rows := int64(len(d.keys))
	dangling := func(id int64) bool { return id < 1 || id > rows }

	n := 0
	switch fact.Table {
	case warehouse.ReconciledEarthquakes.Table:
		for _, f := range t.state.reconciled {
			if dangling(reconciledRef(f, ref.Column)) {
				n++
			}
		}
	case warehouse.EarthquakeFacts.Table:
		for _, f := range t.state.analytical {
			if dangling(analyticalRef(f, ref.Column)) {
				n++
			}
		}
	default:
		return 0, fmt.Errorf("unknown fact table %q", fact.Table)
	}
	return n, nil
}

func (t *tx) DistinctStagingIDs(context.Context) (int, error) {
	ids := make(map[string]struct{}, len(t.state.staging))
	for _, r := range t.state.staging {
		ids[r.EarthquakeID] = struct{}{}
	}
	return len(ids), nil
}

func reconciledRef(f domain.ReconciledEarthquake, column string) int64 {
	switch column {
	case "location_id":
		return f.LocationID
	case "magnitude_id":
		return f.MagnitudeID
	case "seismic_metrics_id":
		return f.SeismicMetricsID
	case "data_source_id":
		return f.DataSourceID
	}
	return 0
}

func analyticalRef(f domain.AnalyticalFact, column string) int64 {
	switch column {
	case "time_id":
		return f.TimeID
	case "location_id":
		return f.LocationID
	case "magnitude_type_id":
		return f.MagnitudeTypeID
	case "data_source_id":
		return f.DataSourceID
	case "status_id":
		return f.StatusID
	}
	return 0
}
