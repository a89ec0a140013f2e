package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/ingest"
	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse/memstore"
)

// --- mocks ---

// mockExtractor hands out its events as one batch, then blocks until the
// context is cancelled to simulate waiting for messages.
type mockExtractor struct {
	events []domain.RawEvent
	err    error
	calls  atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	n := m.calls.Add(1)
	if m.err != nil && n == 1 {
		return nil, m.err
	}
	if n <= 2 && len(m.events) > 0 {
		events := m.events
		m.events = nil
		return events, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakyLoader fails the first failures calls, then stores every batch.
type flakyLoader struct {
	mu       sync.Mutex
	failures int
	attempts int
	loaded   []domain.StagingRecord
}

func (f *flakyLoader) LoadBatch(_ context.Context, records []domain.StagingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("database down")
	}
	f.loaded = append(f.loaded, records...)
	return nil
}

func (f *flakyLoader) snapshot() (int, []domain.StagingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, slices.Clone(f.loaded)
}

// commitLog records the offsets committed through RawEvent.Commit.
type commitLog struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitLog) attach(events []domain.RawEvent) {
	for i := range events {
		offset := events[i].Offset
		events[i].Commit = func(context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.offsets = append(c.offsets, offset)
			return nil
		}
	}
}

func (c *commitLog) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.offsets)
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.StagingRecord
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, records []domain.StagingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, records...)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- helpers ---

func catalogEvents(t *testing.T) []domain.RawEvent {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "catalog.json"))
	require.NoError(t, err)

	var rows []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &rows))

	events := make([]domain.RawEvent, len(rows))
	for i, row := range rows {
		events[i] = domain.RawEvent{Value: row, Topic: "usgs-earthquakes", Offset: int64(i)}
	}
	return events
}

func runBriefly(t *testing.T, l *ingest.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Run(ctx))
}

// --- tests ---

func TestLoop_Run_LoadsCatalogIntoStaging(t *testing.T) {
	var commits commitLog
	events := catalogEvents(t)
	commits.attach(events)

	store := memstore.New()
	metrics := observability.NewMetricsForTesting()
	l := ingest.New(&mockExtractor{events: events}, ingest.NewTransformer(), store, testLogger(), metrics, 50)

	runBriefly(t, l)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx warehouse.Tx) error {
		records, err := tx.StagingRecords(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "ci40789071", records[0].EarthquakeID)
		assert.Equal(t, "California", records[0].State)
		assert.Equal(t, "nn00881234", records[1].EarthquakeID)
		assert.Equal(t, "Nevada", records[1].State)
		assert.Equal(t, 14, records[1].Nst)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{3}, commits.committed(), "one commit covers the batch, rejected rows included")
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.MessagesConsumed), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.TransformErrors), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.StagingRowsLoaded), 0)
	require.NoError(t, l.CheckReadiness(context.Background()))
}

func TestLoop_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	l := ingest.New(&mockExtractor{}, ingest.NewTransformer(), ldr, testLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.Run(ctx))
	assert.Empty(t, ldr.loaded)
	require.Error(t, l.CheckReadiness(context.Background()))
}

func TestLoop_Run_AllRejected(t *testing.T) {
	events := catalogEvents(t)[2:]
	ldr := &mockLoader{}
	l := ingest.New(&mockExtractor{events: events}, ingest.NewTransformer(), ldr, testLogger(), observability.NewMetricsForTesting(), 10)

	runBriefly(t, l)

	assert.Empty(t, ldr.loaded)
	require.Error(t, l.CheckReadiness(context.Background()))
}

// mixedBatch is an accepted row at offset 10 followed by a rejected one at 11.
func mixedBatch(t *testing.T) []domain.RawEvent {
	t.Helper()
	all := catalogEvents(t)
	good, bad := all[0], all[2]
	good.Offset, bad.Offset = 10, 11
	return []domain.RawEvent{good, bad}
}

func TestLoop_Run_LoadFailureCommitsNothing(t *testing.T) {
	var commits commitLog
	events := mixedBatch(t)
	commits.attach(events)

	ldr := &mockLoader{err: errors.New("database down")}
	l := ingest.New(&mockExtractor{events: events}, ingest.NewTransformer(), ldr, testLogger(), observability.NewMetricsForTesting(), 10)

	runBriefly(t, l)

	assert.Empty(t, commits.committed(), "the rejected row must not commit past the unloaded one")
	assert.Empty(t, ldr.loaded)
	require.Error(t, l.CheckReadiness(context.Background()))
}

func TestLoop_Run_RetriesSameBatchUntilLoaded(t *testing.T) {
	var commits commitLog
	events := mixedBatch(t)
	commits.attach(events)

	clock := clockwork.NewFakeClock()
	ext := &mockExtractor{events: events}
	ldr := &flakyLoader{failures: 2}
	metrics := observability.NewMetricsForTesting()
	l := ingest.New(ext, ingest.NewTransformer(), ldr, testLogger(), metrics, 10, ingest.WithClock(clock))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	for _, d := range []time.Duration{200 * time.Millisecond, 400 * time.Millisecond} {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Empty(t, commits.committed(), "nothing is committed while the load is failing")
		clock.Advance(d)
	}

	require.Eventually(t, func() bool {
		return len(commits.committed()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	attempts, loaded := ldr.snapshot()
	assert.Equal(t, 3, attempts)
	require.Len(t, loaded, 1, "the same batch is retried, not skipped or duplicated")
	assert.Equal(t, "ci40789071", loaded[0].EarthquakeID)
	assert.Equal(t, []int64{11}, commits.committed())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StagingRowsLoaded), 0)
	require.NoError(t, l.CheckReadiness(context.Background()))

	cancel()
	require.NoError(t, <-done)
}

func TestLoop_Run_CommitsHighestOffsetPerPartition(t *testing.T) {
	var commits commitLog
	all := catalogEvents(t)
	events := []domain.RawEvent{all[0], all[1], all[2]}
	events[0].Partition, events[0].Offset = 0, 7
	events[1].Partition, events[1].Offset = 1, 3
	events[2].Partition, events[2].Offset = 0, 8
	commits.attach(events)

	l := ingest.New(&mockExtractor{events: events}, ingest.NewTransformer(), memstore.New(), testLogger(), observability.NewMetricsForTesting(), 10)
	runBriefly(t, l)

	assert.Equal(t, []int64{8, 3}, commits.committed())
}

func TestLoop_Run_RecoversFromExtractError(t *testing.T) {
	ext := &mockExtractor{events: catalogEvents(t)[:1], err: errors.New("broker unavailable")}
	ldr := &mockLoader{}
	l := ingest.New(ext, ingest.NewTransformer(), ldr, testLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx))

	ldr.mu.Lock()
	defer ldr.mu.Unlock()
	assert.Len(t, ldr.loaded, 1)
}

func TestCatalogTransformer_Transform(t *testing.T) {
	events := catalogEvents(t)
	tfm := ingest.NewTransformer()

	rec, err := tfm.Transform(context.Background(), events[0])
	require.NoError(t, err)
	assert.Equal(t, "Ridgecrest", rec.NearestLocality)
	assert.Equal(t, "West", rec.Region)

	_, err = tfm.Transform(context.Background(), events[2])
	require.ErrorIs(t, err, domain.ErrMissingField)

	_, err = tfm.Transform(context.Background(), events[3])
	require.ErrorIs(t, err, domain.ErrOutsideCoverage)
}
