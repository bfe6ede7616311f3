package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/store"
)

// ProgressSource counts a dataset's jobs by status.
type ProgressSource interface {
	DatasetProgress(ctx context.Context, datasetID string) (store.Progress, error)
}

// AwaitConfig bounds Await.
type AwaitConfig struct {
	MaxWait      time.Duration
	PollInterval time.Duration
}

// Await polls until no crawl or extraction job of the dataset is queued or
// running, MaxWait elapses, or ctx is cancelled. It reports whether the
// dataset settled; a timeout is not an error and the caller proceeds with
// whatever data exists. Transient progress errors are logged and retried.
func Await(ctx context.Context, src ProgressSource, datasetID string, cfg AwaitConfig) (store.Progress, bool, error) {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	log := zap.L().With(zap.String("component", "await"), zap.String("dataset_id", datasetID))

	deadline := time.NewTimer(cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	last := store.NewProgress()
	for {
		p, err := src.DatasetProgress(ctx, datasetID)
		switch {
		case err != nil && ctx.Err() != nil:
			return last, false, ctx.Err()
		case err != nil:
			log.Warn("await: progress check failed", zap.Error(err))
		default:
			last = p
			if p.Outstanding() == 0 {
				log.Info("await: dataset settled", zap.Int("jobs", p.Total()), zap.Duration("elapsed", time.Since(start)))
				return p, true, nil
			}
			log.Info("await: jobs outstanding",
				zap.Int("outstanding", p.Outstanding()),
				zap.Int("total", p.Total()),
				zap.Any("crawl", p.Crawl),
				zap.Any("extraction", p.Extraction),
			)
		}

		select {
		case <-ctx.Done():
			return last, false, ctx.Err()
		case <-deadline.C:
			log.Warn("await: max wait reached, proceeding", zap.Int("outstanding", last.Outstanding()))
			return last, false, nil
		case <-ticker.C:
		}
	}
}
