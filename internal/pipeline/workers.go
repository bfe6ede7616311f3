package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/crawler"
	"github.com/sells-group/prospector/internal/extract"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/store"
)

// CrawlRunner crawls one claimed job and writes its terminal status.
type CrawlRunner interface {
	Run(ctx context.Context, job model.CrawlJob) (*crawler.Result, error)
}

// ExtractRunner extracts one claimed job and writes its terminal status.
type ExtractRunner interface {
	Run(ctx context.Context, job model.ExtractionJob) (*extract.Outcome, error)
}

// BusinessLookup finds the run a business belongs to.
type BusinessLookup interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
}

// PoolConfig sizes the stage pools.
type PoolConfig struct {
	CrawlWorkers     int
	ExtractWorkers   int
	DiscoveryWorkers int
	BatchSize        int
	PollInterval     time.Duration
}

func (c *PoolConfig) applyDefaults() {
	if c.CrawlWorkers <= 0 {
		c.CrawlWorkers = 4
	}
	if c.ExtractWorkers <= 0 {
		c.ExtractWorkers = 4
	}
	if c.DiscoveryWorkers <= 0 {
		c.DiscoveryWorkers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
}

const terminalWriteTimeout = 10 * time.Second

// pool is a fixed set of workers fed by a claim loop through a task
// channel. Every job the loop claims is handed to a worker, and a job whose
// handler errors or panics is passed to fail so it still reaches a
// terminal status.
type pool[J any] struct {
	kind    string
	workers int
	batch   int
	poll    time.Duration

	claim  func(ctx context.Context, limit int) ([]J, error)
	handle func(ctx context.Context, job J) error
	fail   func(ctx context.Context, job J, cause error)
	id     func(job J) string
}

type jobResult struct {
	id  string
	err error
}

// run claims and processes jobs. With drain set it returns once a claim
// comes back empty; otherwise it polls until ctx is cancelled. Jobs already
// claimed are processed either way. It returns the number of jobs handled.
func (p *pool[J]) run(ctx context.Context, drain bool) (int, error) {
	tasks := make(chan J, p.batch)
	results := make(chan jobResult, p.batch)
	log := zap.L().With(zap.String("component", "workers"), zap.String("kind", p.kind))

	var feedErr error
	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(tasks)
		feedErr = p.feed(ctx, tasks, drain, log)
		return nil
	})

	workers := new(errgroup.Group)
	for range p.workers {
		workers.Go(func() error {
			for job := range tasks {
				results <- jobResult{id: p.id(job), err: p.process(ctx, job)}
			}
			return nil
		})
	}
	go func() {
		_ = workers.Wait()
		close(results)
	}()

	handled := 0
	for r := range results {
		handled++
		if r.err != nil {
			log.Warn("job failed", zap.String("job_id", r.id), zap.Error(r.err))
		}
	}
	_ = g.Wait()
	return handled, feedErr
}

func (p *pool[J]) feed(ctx context.Context, tasks chan<- J, drain bool, log *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		jobs, err := p.claim(ctx, p.batch)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil && drain:
			return err
		case err != nil:
			log.Warn("claim failed", zap.Error(err))
		case len(jobs) > 0:
			monitoring.JobsClaimed.WithLabelValues(p.kind).Add(float64(len(jobs)))
			log.Debug("claimed jobs", zap.Int("count", len(jobs)))
			for _, j := range jobs {
				tasks <- j
			}
			continue
		case drain:
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.poll):
		}
	}
}

func (p *pool[J]) process(ctx context.Context, job J) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: %s job %s panicked: %v", p.kind, p.id(job), r)
		}
		if err != nil {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
			defer cancel()
			p.fail(fctx, job, err)
		}
	}()
	return p.handle(ctx, job)
}

// Workers runs the discovery, crawl and extraction pools.
type Workers struct {
	discovery *pool[*model.DiscoveryRun]
	crawl     *pool[model.CrawlJob]
	extract   *pool[model.ExtractionJob]
}

// NewWorkers wires the three stage pools to the store and runners.
func NewWorkers(st store.Store, orch *Orchestrator, crawls CrawlRunner, extractions ExtractRunner, businesses BusinessLookup, cfg PoolConfig) *Workers {
	cfg.applyDefaults()

	return &Workers{
		discovery: &pool[*model.DiscoveryRun]{
			kind:    monitoring.KindDiscovery,
			workers: cfg.DiscoveryWorkers,
			batch:   cfg.DiscoveryWorkers,
			poll:    cfg.PollInterval,
			claim: func(ctx context.Context, limit int) ([]*model.DiscoveryRun, error) {
				var runs []*model.DiscoveryRun
				for range limit {
					run, err := st.ClaimPendingRun(ctx)
					if err != nil || run == nil {
						return runs, err
					}
					runs = append(runs, run)
				}
				return runs, nil
			},
			handle: func(ctx context.Context, run *model.DiscoveryRun) error {
				_, err := orch.RunDiscovery(ctx, run)
				return err
			},
			// RunDiscovery already failed the run; this covers panics.
			fail: func(ctx context.Context, run *model.DiscoveryRun, cause error) {
				err := st.FinishRun(ctx, run.ID, store.RunOutcome{Status: model.RunStatusFailed, ErrorMessage: cause.Error()})
				logTerminal(err, monitoring.KindDiscovery, run.ID)
			},
			id: func(run *model.DiscoveryRun) string { return run.ID },
		},
		crawl: &pool[model.CrawlJob]{
			kind:    monitoring.KindCrawl,
			workers: cfg.CrawlWorkers,
			batch:   cfg.BatchSize,
			poll:    cfg.PollInterval,
			claim:   st.ClaimCrawlJobs,
			handle: func(ctx context.Context, job model.CrawlJob) error {
				_, err := crawls.Run(ctx, job)
				return err
			},
			fail: func(ctx context.Context, job model.CrawlJob, cause error) {
				err := st.FinishCrawlJob(ctx, job.ID, model.CrawlStatusFailed, 0, cause.Error())
				logTerminal(err, monitoring.KindCrawl, job.ID)
				if err := orch.OnCrawlFinished(ctx, job.BusinessID); err != nil {
					zap.L().Error("pipeline: reset extraction after crawl failure",
						zap.String("business_id", job.BusinessID), zap.Error(err))
				}
			},
			id: func(job model.CrawlJob) string { return job.ID },
		},
		extract: &pool[model.ExtractionJob]{
			kind:    monitoring.KindExtraction,
			workers: cfg.ExtractWorkers,
			batch:   cfg.BatchSize,
			poll:    cfg.PollInterval,
			claim:   st.ClaimExtractionJobs,
			handle: func(ctx context.Context, job model.ExtractionJob) error {
				_, err := extractions.Run(ctx, job)
				return err
			},
			fail: func(ctx context.Context, job model.ExtractionJob, cause error) {
				err := st.FinishExtractionJob(ctx, job.ID, model.ExtractionStatusFailed, cause.Error())
				logTerminal(err, monitoring.KindExtraction, job.ID)
				b, err := businesses.GetBusiness(ctx, job.BusinessID)
				if err != nil {
					zap.L().Warn("pipeline: load business for run close", zap.String("business_id", job.BusinessID), zap.Error(err))
					return
				}
				if _, _, err := orch.OnExtractionFinished(ctx, b.DiscoveryRunID); err != nil {
					zap.L().Error("pipeline: close run", zap.String("run_id", b.DiscoveryRunID), zap.Error(err))
				}
			},
			id: func(job model.ExtractionJob) string { return job.ID },
		},
	}
}

func logTerminal(err error, kind, id string) {
	switch {
	case err == nil:
		monitoring.JobsFinished.WithLabelValues(kind, "failed").Inc()
	case errors.Is(err, store.ErrNotClaimed), errors.Is(err, model.ErrInvalidTransition):
		// The handler already wrote a terminal status.
		zap.L().Debug("pipeline: job already terminal", zap.String("kind", kind), zap.String("job_id", id))
	default:
		zap.L().Error("pipeline: write terminal failure", zap.String("kind", kind), zap.String("job_id", id), zap.Error(err))
	}
}

// Run runs every pool until ctx is cancelled, then waits for claimed jobs
// to finish.
func (w *Workers) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.Go(func() error { _, err := w.discovery.run(ctx, false); return err })
	g.Go(func() error { _, err := w.crawl.run(ctx, false); return err })
	g.Go(func() error { _, err := w.extract.run(ctx, false); return err })
	return g.Wait()
}

// Drain processes queued work stage by stage until no stage finds anything
// to claim. Crawls re-arm extraction and the fallback can queue crawls, so
// the stages repeat until all are empty.
func (w *Workers) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	for ctx.Err() == nil {
		d, err := w.discovery.run(ctx, true)
		if err != nil {
			return stats, err
		}
		c, err := w.crawl.run(ctx, true)
		if err != nil {
			return stats, err
		}
		e, err := w.extract.run(ctx, true)
		if err != nil {
			return stats, err
		}
		stats.Runs += d
		stats.Crawls += c
		stats.Extractions += e
		if d+c+e == 0 {
			return stats, nil
		}
	}
	return stats, ctx.Err()
}

// DrainStats counts jobs handled by Drain.
type DrainStats struct {
	Runs        int
	Crawls      int
	Extractions int
}

func (s DrainStats) String() string {
	return fmt.Sprintf("%d runs, %d crawls, %d extractions", s.Runs, s.Crawls, s.Extractions)
}
