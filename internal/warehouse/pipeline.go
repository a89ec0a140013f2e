package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
)

var (
	// ErrPrecondition marks a stage whose upstream tables are not populated.
	ErrPrecondition = errors.New("stage precondition not met")

	// ErrRunInProgress is returned when Run is called while another run of
	// the same pipeline has not finished.
	ErrRunInProgress = errors.New("pipeline run already in progress")
)

// StageName identifies one of the ordered warehouse stages.
type StageName string

const (
	StageReconciledDimensions StageName = "reconciled_dimensions"
	StageReconciledFacts      StageName = "reconciled_facts"
	StageAnalyticalDimensions StageName = "analytical_dimensions"
	StageAnalyticalFacts      StageName = "analytical_facts"
)

// StageState is the lifecycle position of a stage within one run.
type StageState string

const (
	StatePending   StageState = "pending"
	StateRunning   StageState = "running"
	StateSucceeded StageState = "succeeded"
	StateFailed    StageState = "failed"
	StateSkipped   StageState = "skipped"
)

// StageReport describes the outcome of one stage. Counts are only set once
// the stage has committed.
type StageReport struct {
	Name       StageName                  `json:"name"`
	State      StageState                 `json:"state"`
	StartedAt  time.Time                  `json:"started_at,omitzero"`
	FinishedAt time.Time                  `json:"finished_at,omitzero"`
	Source     int                        `json:"source"`
	Dimensions map[string]DimensionCounts `json:"dimensions,omitempty"`
	Facts      *FactCounts                `json:"facts,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// RunReport describes one pass of the pipeline over the staging store.
type RunReport struct {
	RunID       uuid.UUID     `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	StagingRows int           `json:"staging_rows"`
	Stages      []StageReport `json:"stages"`
}

// Succeeded reports whether every stage committed.
func (r RunReport) Succeeded() bool {
	for _, s := range r.Stages {
		if s.State != StateSucceeded {
			return false
		}
	}
	return len(r.Stages) > 0
}

// Stage returns the report of the named stage.
func (r RunReport) Stage(name StageName) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Recorder receives every finished run report.
type Recorder interface {
	Record(ctx context.Context, report RunReport) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used to timestamp reports.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithKeyCacheSize bounds the per-stage natural-key cache. Zero disables it.
func WithKeyCacheSize(n int) Option {
	return func(p *Pipeline) { p.cacheSize = n }
}

// WithRecorder adds a recorder that is handed every finished report.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorders = append(p.recorders, r) }
}

// Pipeline runs the four warehouse stages in order, each in its own
// transaction. A stage starts only after the previous one committed.
type Pipeline struct {
	store     Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	cacheSize int
	recorders []Recorder

	running sync.Mutex
	ready   atomic.Bool

	mu   sync.Mutex
	last *RunReport
}

// New creates a Pipeline over store.
func New(store Store, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		cacheSize: 10000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a run has completed every stage.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastReport returns the report of the most recent finished run.
func (p *Pipeline) LastReport() (RunReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RunReport{}, false
	}
	return *p.last, true
}

type stage struct {
	name         StageName
	precondition func(ctx context.Context, tx Tx) error
	run          func(ctx context.Context, tx Tx, sr *StageReport) error
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{
			name: StageReconciledDimensions,
			run:  p.reconciledDimensions,
		},
		{
			name: StageReconciledFacts,
			precondition: func(ctx context.Context, tx Tx) error {
				return requirePopulated(ctx, tx, StagingTable, Location, MagnitudeDetail, SeismicMetrics, DataSource)
			},
			run: p.reconciledFacts,
		},
		{
			name: StageAnalyticalDimensions,
			precondition: func(ctx context.Context, tx Tx) error {
				return requirePopulated(ctx, tx, ReconciledEarthquakes.Table, Location, MagnitudeDetail, SeismicMetrics, DataSource)
			},
			run: p.analyticalDimensions,
		},
		{
			name: StageAnalyticalFacts,
			precondition: func(ctx context.Context, tx Tx) error {
				return requirePopulated(ctx, tx, ReconciledEarthquakes.Table, TimeDim, LocationDim, MagnitudeTypeDim, DataSourceDim, StatusDim)
			},
			run: p.analyticalFacts,
		},
	}
}

// Run executes one full pass. The returned report is complete even when an
// error is returned; the error names the failing stage.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	if !p.running.TryLock() {
		return RunReport{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	stages := p.stages()
	report := RunReport{
		RunID:     uuid.New(),
		StartedAt: p.clock.Now().UTC(),
		Stages:    make([]StageReport, len(stages)),
	}
	for i, s := range stages {
		report.Stages[i] = StageReport{Name: s.name, State: StatePending}
	}

	logger := p.logger.With("run_id", report.RunID.String())
	logger.Info("pipeline run started")

	var runErr error
	for i, s := range stages {
		sr := &report.Stages[i]
		if err := p.runStage(ctx, logger, s, sr); err != nil {
			runErr = fmt.Errorf("stage %s: %w", s.name, err)
			for j := i + 1; j < len(report.Stages); j++ {
				report.Stages[j].State = StateSkipped
			}
			break
		}
	}

	report.StagingRows = report.Stages[0].Source
	report.FinishedAt = p.clock.Now().UTC()
	p.finish(ctx, logger, report, runErr)
	return report, runErr
}

func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, s stage, sr *StageReport) error {
	sr.State = StateRunning
	sr.StartedAt = p.clock.Now().UTC()
	start := p.clock.Now()

	err := p.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if s.precondition != nil {
			if err := s.precondition(ctx, tx); err != nil {
				return err
			}
		}
		return s.run(ctx, tx, sr)
	})

	sr.FinishedAt = p.clock.Now().UTC()
	p.metrics.StageDuration.WithLabelValues(string(s.name)).Observe(p.clock.Since(start).Seconds())

	if err != nil {
		// Nothing the stage counted was committed.
		sr.State = StateFailed
		sr.Error = err.Error()
		sr.Source = 0
		sr.Dimensions = nil
		sr.Facts = nil
		p.metrics.StageFailures.WithLabelValues(string(s.name)).Inc()
		logger.Error("stage failed", "stage", s.name, "error", err)
		return err
	}

	sr.State = StateSucceeded
	p.observeStage(logger, sr)
	return nil
}

func (p *Pipeline) observeStage(logger *slog.Logger, sr *StageReport) {
	attrs := []any{"stage", sr.Name, "source", sr.Source, "duration", sr.FinishedAt.Sub(sr.StartedAt)}

	for table, c := range sr.Dimensions {
		p.metrics.DimensionRowsInserted.WithLabelValues(table).Add(float64(c.Inserted))
		logger.Debug("dimension deduplicated", "stage", sr.Name, "table", table,
			"distinct", c.Distinct, "inserted", c.Inserted, "existing", c.Existing)
	}

	if f := sr.Facts; f != nil {
		table := factTableFor(sr.Name)
		p.metrics.FactRowsInserted.WithLabelValues(table).Add(float64(f.Inserted))
		p.metrics.FactsUnresolved.WithLabelValues(table).Add(float64(f.Unresolved))
		attrs = append(attrs, "inserted", f.Inserted, "existing", f.Existing, "unresolved", f.Unresolved)
		if f.Unresolved > 0 {
			logger.Warn("stage dropped unresolved records",
				"stage", sr.Name, "table", table, "unresolved", f.Unresolved, "sample", f.UnresolvedSample)
		}
	}

	logger.Info("stage succeeded", attrs...)
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, report RunReport, runErr error) {
	if runErr == nil {
		p.ready.Store(true)
		p.metrics.RunsTotal.WithLabelValues(string(StateSucceeded)).Inc()
		p.metrics.LastRunSuccess.Set(1)
		logger.Info("pipeline run succeeded",
			"staging_rows", report.StagingRows, "duration", report.FinishedAt.Sub(report.StartedAt))
	} else {
		p.metrics.RunsTotal.WithLabelValues(string(StateFailed)).Inc()
		p.metrics.LastRunSuccess.Set(0)
		logger.Error("pipeline run failed", "error", runErr)
	}

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	// A cancelled run is still recorded.
	rctx := context.WithoutCancel(ctx)
	for _, r := range p.recorders {
		if err := r.Record(rctx, report); err != nil {
			logger.Warn("record run report failed", "error", err)
		}
	}
}

func (p *Pipeline) reconciledDimensions(ctx context.Context, tx Tx, sr *StageReport) error {
	records, err := tx.StagingRecords(ctx)
	if err != nil {
		return fmt.Errorf("read staging: %w", err)
	}
	counts, err := ReconcileDimensions(ctx, tx, records)
	if err != nil {
		return err
	}
	sr.Source = len(records)
	sr.Dimensions = counts
	return nil
}

func (p *Pipeline) reconciledFacts(ctx context.Context, tx Tx, sr *StageReport) error {
	records, err := tx.StagingRecords(ctx)
	if err != nil {
		return fmt.Errorf("read staging: %w", err)
	}
	counts, err := ResolveReconciled(ctx, tx, newCachedLookup(tx, p.cacheSize, p.metrics), records)
	if err != nil {
		return err
	}
	sr.Source = len(records)
	sr.Facts = &counts
	return nil
}

func (p *Pipeline) analyticalDimensions(ctx context.Context, tx Tx, sr *StageReport) error {
	events, err := tx.ReconciledEvents(ctx)
	if err != nil {
		return fmt.Errorf("read reconciled events: %w", err)
	}
	counts, err := AnalyticalDimensions(ctx, tx, events)
	if err != nil {
		return err
	}
	sr.Source = len(events)
	sr.Dimensions = counts
	return nil
}

func (p *Pipeline) analyticalFacts(ctx context.Context, tx Tx, sr *StageReport) error {
	events, err := tx.ReconciledEvents(ctx)
	if err != nil {
		return fmt.Errorf("read reconciled events: %w", err)
	}
	counts, err := ResolveAnalytical(ctx, tx, newCachedLookup(tx, p.cacheSize, p.metrics), events)
	if err != nil {
		return err
	}
	sr.Source = len(events)
	sr.Facts = &counts
	return nil
}

// requirePopulated fails with ErrPrecondition when source holds rows but any
// of the required dimensions is empty.
func requirePopulated(ctx context.Context, tx Tx, source string, required ...Dimension) error {
	n, err := tx.Count(ctx, source)
	if err != nil {
		return fmt.Errorf("count %s: %w", source, err)
	}
	if n == 0 {
		return nil
	}
	for _, dim := range required {
		c, err := tx.Count(ctx, dim.Table)
		if err != nil {
			return fmt.Errorf("count %s: %w", dim.Table, err)
		}
		if c == 0 {
			return fmt.Errorf("%w: %s is empty while %s has %d rows", ErrPrecondition, dim.Table, source, n)
		}
	}
	return nil
}

func factTableFor(name StageName) string {
	if name == StageAnalyticalFacts {
		return EarthquakeFacts.Table
	}
	return ReconciledEarthquakes.Table
}
