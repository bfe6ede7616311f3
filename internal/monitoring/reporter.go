package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/store"
)

// DepthSource reports job counts per kind and status.
type DepthSource interface {
	QueueDepth(ctx context.Context) (store.Progress, error)
}

// Reporter samples queue depth into gauges on a fixed interval.
type Reporter struct {
	src      DepthSource
	interval time.Duration
}

// NewReporter creates a Reporter. A non-positive interval means 30s.
func NewReporter(src DepthSource, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{src: src, interval: interval}
}

// Run samples once immediately, then on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.reporter"))
	log.Info("starting queue reporter", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sample(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("queue reporter stopped")
			return
		case <-ticker.C:
			r.Sample(ctx, log)
		}
	}
}

// Sample reads queue depth once and updates the gauges.
func (r *Reporter) Sample(ctx context.Context, log *zap.Logger) {
	p, err := r.src.QueueDepth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("monitoring: failed to sample queue depth", zap.Error(err))
		}
		return
	}

	// Statuses missing from the sample read as zero rather than keeping a
	// stale value.
	QueueDepth.Reset()
	for status, n := range p.Crawl {
		QueueDepth.WithLabelValues(KindCrawl, string(status)).Set(float64(n))
	}
	for status, n := range p.Extraction {
		QueueDepth.WithLabelValues(KindExtraction, string(status)).Set(float64(n))
	}

	log.Info("queue depth",
		zap.Int("outstanding", p.Outstanding()),
		zap.Int("total", p.Total()),
		zap.Any("crawl", p.Crawl),
		zap.Any("extraction", p.Extraction),
	)
}
