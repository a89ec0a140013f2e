package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// Schedule runs the pipeline immediately and then every interval until ctx
// is cancelled. A tick that arrives while a run is still in progress is
// skipped. Failed runs are logged and retried on the next tick.
func (p *Pipeline) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid schedule interval %s", interval)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Every(interval).Do(func() {
		p.logger.Debug("scheduled pipeline run")
		if _, err := p.Run(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			p.logger.Warn("scheduled pipeline run failed, retrying next tick", "error", err, "interval", interval)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule pipeline: %w", err)
	}

	p.logger.Info("pipeline scheduler started", "interval", interval)
	scheduler.StartAsync()

	<-ctx.Done()

	scheduler.Stop()
	p.logger.Info("pipeline scheduler stopped")
	return nil
}
