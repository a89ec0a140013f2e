package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/quake-warehouse-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-warehouse-etl/internal/adapter/kafka"
	"github.com/couchcryptid/quake-warehouse-etl/internal/adapter/postgres"
	"github.com/couchcryptid/quake-warehouse-etl/internal/config"
	"github.com/couchcryptid/quake-warehouse-etl/internal/ingest"
	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse/memstore"
)

// stagingStore is a warehouse store that also accepts staging loads.
type stagingStore interface {
	warehouse.Store
	ingest.BatchLoader
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, logger, metrics)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) int {
	store, readiness, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open warehouse store", "error", err)
		return 1
	}
	defer closeStore()

	opts := []warehouse.Option{warehouse.WithKeyCacheSize(cfg.KeyCacheSize)}
	if rec, ok := store.(warehouse.Recorder); ok {
		opts = append(opts, warehouse.WithRecorder(rec))
	}
	var closers []io.Closer
	if cfg.KafkaReportTopic != "" {
		reports := kafkaadapter.NewReportWriter(cfg, logger)
		closers = append(closers, reports)
		opts = append(opts, warehouse.WithRecorder(reports))
		logger.Info("publishing run reports", "topic", cfg.KafkaReportTopic)
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("close error", "error", err)
			}
		}
	}()

	p := warehouse.New(store, logger, metrics, opts...)

	checkers := []httpadapter.ReadinessChecker{p}
	if readiness != nil {
		checkers = append(checkers, readiness)
	}

	// Run once and exit.
	if cfg.RunInterval == 0 {
		report, err := p.Run(ctx)
		if err != nil {
			logger.Error("pipeline run failed", "run_id", report.RunID.String(), "error", err)
			return 1
		}
		return 0
	}

	var ingestLoop *ingest.Loop
	if cfg.IngestEnabled {
		reader := kafkaadapter.NewReader(cfg, logger)
		closers = append(closers, reader)
		ingestLoop = ingest.New(reader, ingest.NewTransformer(), store, logger, metrics, cfg.BatchSize)
		checkers = append(checkers, ingestLoop)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.AllReady(checkers...), p, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if ingestLoop != nil {
		go func() {
			if err := ingestLoop.Run(ctx); err != nil {
				logger.Error("ingest error", "error", err)
			}
		}()
	}

	if err := p.Schedule(ctx, cfg.RunInterval); err != nil {
		logger.Error("scheduler error", "error", err)
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

// openStore opens the configured warehouse. The returned checker is nil when
// the store has no external dependency to probe.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stagingStore, httpadapter.ReadinessChecker, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory warehouse; nothing is persisted")
		return memstore.New(), nil, func() {}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := postgres.Open(openCtx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.Migrate(openCtx); err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	logger.Info("warehouse schema ready", "max_open_conns", cfg.DBMaxOpenConns)

	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}
	return store, store, closeFn, nil
}
