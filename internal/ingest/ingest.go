// Package ingest feeds the staging table from the source topic: extract a
// batch of catalogue rows, normalize each one, and load the survivors.
//
// Offsets are committed only after the batch they belong to is in staging.
// A load that fails is retried with the same records until it succeeds or
// the loop is stopped, so a commit never covers a row that was not loaded.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw event into a staging record.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.StagingRecord, error)
}

// BatchLoader writes staging records to the staging store.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []domain.StagingRecord) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for retry delays and batch timings.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// Loop moves catalogue rows from the source topic into staging.
type Loop struct {
	source     BatchExtractor
	normalizer Transformer
	staging    BatchLoader
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	batchSize  int
	loaded     atomic.Bool
}

// New creates a Loop reading batches of up to batchSize messages.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Loop {
	loop := &Loop{
		source:     e,
		normalizer: t,
		staging:    l,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
		batchSize:  batchSize,
	}
	for _, opt := range opts {
		opt(loop)
	}
	return loop
}

// CheckReadiness returns nil once a batch has been loaded into staging.
func (l *Loop) CheckReadiness(_ context.Context) error {
	if !l.loaded.Load() {
		return errors.New("ingest has not loaded any records yet")
	}
	return nil
}

// Run stages batches until the context is cancelled and always returns nil.
// Extract and load failures are logged and retried.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingest started", "batch_size", l.batchSize)
	l.metrics.IngestRunning.Set(1)
	defer l.metrics.IngestRunning.Set(0)

	extractRetry := l.newRetry()
	for ctx.Err() == nil {
		raws, err := l.source.ExtractBatch(ctx, l.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Error("extract batch failed", "error", err, "retry_in", extractRetry.delay)
			if !extractRetry.wait(ctx) {
				break
			}
			continue
		}
		extractRetry.reset()

		if len(raws) > 0 && !l.stage(ctx, raws) {
			break
		}
	}

	l.logger.Info("ingest stopping", "reason", context.Cause(ctx))
	return nil
}

// stage normalizes one batch, loads the accepted records and then commits
// the batch. It returns false when ctx ended before the batch was loaded;
// the batch is then left uncommitted for redelivery.
func (l *Loop) stage(ctx context.Context, raws []domain.RawEvent) bool {
	start := l.clock.Now()
	l.metrics.MessagesConsumed.Add(float64(len(raws)))
	l.metrics.BatchSize.Observe(float64(len(raws)))

	records := l.normalize(ctx, raws)
	if len(records) > 0 {
		if !l.loadUntilStored(ctx, records) {
			return false
		}
		l.metrics.StagingRowsLoaded.Add(float64(len(records)))
		l.metrics.BatchProcessingDuration.Observe(l.clock.Since(start).Seconds())
		l.loaded.Store(true)
	}

	// Rejected messages are committed along with the batch; redelivery
	// would reject them again.
	l.commit(ctx, raws)
	return true
}

// normalize returns the records of every message the normalizer accepts.
func (l *Loop) normalize(ctx context.Context, raws []domain.RawEvent) []domain.StagingRecord {
	records := make([]domain.StagingRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := l.normalizer.Transform(ctx, raw)
		if err != nil {
			l.logger.Warn("rejected catalogue row",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			l.metrics.TransformErrors.Inc()
			continue
		}
		records = append(records, rec)
	}
	return records
}

// loadUntilStored retries LoadBatch with the same records until it succeeds.
// It returns false if ctx ends first.
func (l *Loop) loadUntilStored(ctx context.Context, records []domain.StagingRecord) bool {
	retry := l.newRetry()
	for attempt := 1; ; attempt++ {
		err := l.staging.LoadBatch(ctx, records)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		l.logger.Error("load batch failed",
			"error", err,
			"records", len(records),
			"attempt", attempt,
			"retry_in", retry.delay,
		)
		if !retry.wait(ctx) {
			return false
		}
	}
}

// commit commits the highest offset of each partition in the batch. Kafka
// offsets are cumulative, so this covers every message below it too.
func (l *Loop) commit(ctx context.Context, raws []domain.RawEvent) {
	for _, raw := range lastPerPartition(raws) {
		if raw.Commit == nil {
			continue
		}
		if err := raw.Commit(ctx); err != nil {
			l.logger.Warn("commit offset failed", "error", err,
				"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
		}
	}
}

type partitionKey struct {
	topic     string
	partition int
}

func lastPerPartition(raws []domain.RawEvent) []domain.RawEvent {
	last := make(map[partitionKey]domain.RawEvent, 1)
	for _, raw := range raws {
		k := partitionKey{raw.Topic, raw.Partition}
		if cur, ok := last[k]; !ok || raw.Offset > cur.Offset {
			last[k] = raw
		}
	}
	out := make([]domain.RawEvent, 0, len(last))
	for _, raw := range last {
		out = append(out, raw)
	}
	slices.SortFunc(out, func(a, b domain.RawEvent) int {
		return cmp.Or(cmp.Compare(a.Topic, b.Topic), cmp.Compare(a.Partition, b.Partition))
	})
	return out
}

// retry is an exponential delay: 200ms doubling up to 5s.
type retry struct {
	clock clockwork.Clock
	delay time.Duration
}

func (l *Loop) newRetry() *retry {
	return &retry{clock: l.clock, delay: initialBackoff}
}

func (r *retry) reset() { r.delay = initialBackoff }

// wait sleeps for the current delay and doubles it. It returns false if ctx
// ends first.
func (r *retry) wait(ctx context.Context) bool {
	timer := r.clock.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
	}
	r.delay = min(r.delay*2, maxBackoff)
	return true
}
