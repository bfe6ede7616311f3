// Package pipeline sequences discovery, crawl and extraction. The
// orchestrator opens and closes discovery runs; stage worker pools claim
// jobs from the store and drive each one to a terminal status.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

// Discoverer resolves a request into stored businesses.
type Discoverer interface {
	Discover(ctx context.Context, run *model.DiscoveryRun, req discovery.Request) (*discovery.Result, error)
}

// Summary is what a run stores as its stats.
type Summary struct {
	discovery.Stats
	DatasetID      string `json:"dataset_id"`
	CrawlJobs      int    `json:"crawl_jobs"`
	ExtractionJobs int    `json:"extraction_jobs"`
	// ActiveCrawls counts businesses whose crawl was already queued or
	// running from an earlier run.
	ActiveCrawls int `json:"active_crawls"`
}

// Orchestrator drives a discovery run from creation to fan-out.
type Orchestrator struct {
	store      store.Store
	discoverer Discoverer
	pagesLimit int
}

// NewOrchestrator creates an Orchestrator. pagesLimit bounds each crawl job
// it enqueues.
func NewOrchestrator(st store.Store, d Discoverer, pagesLimit int) *Orchestrator {
	if pagesLimit <= 0 {
		pagesLimit = model.DefaultPagesLimit
	}
	return &Orchestrator{store: st, discoverer: d, pagesLimit: pagesLimit}
}

// CreateRun validates req and records a pending run carrying it, before any
// external call is made.
func (o *Orchestrator) CreateRun(ctx context.Context, req discovery.Request) (*model.DiscoveryRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode request")
	}
	run, err := o.store.CreateRun(ctx, req.DatasetID, req.UserID, raw)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	zap.L().Info("discovery run created",
		zap.String("run_id", run.ID),
		zap.String("location_id", req.LocationID),
		zap.String("industry", req.IndustryKey()),
	)
	return run, nil
}

// StartRun moves a pending run to running.
func (o *Orchestrator) StartRun(ctx context.Context, runID string) error {
	return o.store.StartRun(ctx, runID)
}

// Discover creates, starts and runs discovery for req in one call.
func (o *Orchestrator) Discover(ctx context.Context, req discovery.Request) (*model.DiscoveryRun, *Summary, error) {
	run, err := o.CreateRun(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if err := o.StartRun(ctx, run.ID); err != nil {
		o.fail(ctx, run.ID, err)
		return run, nil, err
	}
	run.Status = model.RunStatusRunning
	sum, err := o.RunDiscovery(ctx, run)
	return run, sum, err
}

// RunDiscovery runs discovery for a started run and fans its businesses out:
// a crawl job for each business with a website, an extraction job (which
// goes straight to the fallback chain) for each without. Any error marks the
// run failed. A run that found nothing completes immediately.
func (o *Orchestrator) RunDiscovery(ctx context.Context, run *model.DiscoveryRun) (*Summary, error) {
	log := zap.L().With(zap.String("component", "orchestrator"), zap.String("run_id", run.ID))

	sum, err := o.runDiscovery(ctx, run, log)
	if err != nil {
		o.fail(ctx, run.ID, err)
		return sum, err
	}
	return sum, nil
}

func (o *Orchestrator) runDiscovery(ctx context.Context, run *model.DiscoveryRun, log *zap.Logger) (*Summary, error) {
	var req discovery.Request
	if len(run.Request) == 0 {
		return nil, eris.Errorf("pipeline: run %s has no request", run.ID)
	}
	if err := json.Unmarshal(run.Request, &req); err != nil {
		return nil, eris.Wrapf(err, "pipeline: decode request for run %s", run.ID)
	}
	if req.DatasetID == "" {
		req.DatasetID = run.DatasetID
	}
	if req.UserID == "" {
		req.UserID = run.UserID
	}

	start := time.Now()
	res, err := o.discoverer.Discover(ctx, run, req)
	if err != nil {
		return nil, err
	}
	if res.DatasetID != "" && res.DatasetID != run.DatasetID {
		if err := o.store.SetRunDataset(ctx, run.ID, res.DatasetID); err != nil {
			return nil, err
		}
		run.DatasetID = res.DatasetID
	}
	o.closeDisplaced(ctx, res.Displaced, log)

	sum := &Summary{Stats: res.Stats, DatasetID: res.DatasetID}
	for _, b := range res.Businesses {
		if b.Website == "" {
			if err := o.store.ResetExtractionJob(ctx, b.ID); err != nil {
				return sum, err
			}
			sum.ExtractionJobs++
			continue
		}
		created, err := o.store.EnqueueCrawlJob(ctx, b.ID, b.Website, o.pagesLimit)
		if err != nil {
			return sum, err
		}
		if created {
			sum.CrawlJobs++
		} else {
			sum.ActiveCrawls++
		}
	}

	stats, err := json.Marshal(sum)
	if err != nil {
		return sum, eris.Wrap(err, "pipeline: encode stats")
	}
	costs, err := json.Marshal(res.Costs)
	if err != nil {
		return sum, eris.Wrap(err, "pipeline: encode costs")
	}

	log.Info("discovery finished",
		zap.String("dataset_id", res.DatasetID),
		zap.Int("businesses", len(res.Businesses)),
		zap.Bool("reused", res.Reused),
		zap.Int("crawl_jobs", sum.CrawlJobs),
		zap.Int("extraction_jobs", sum.ExtractionJobs),
		zap.Duration("elapsed", time.Since(start)),
	)

	if len(res.Businesses) == 0 {
		return sum, o.store.FinishRun(ctx, run.ID, store.RunOutcome{
			Status:        model.RunStatusCompleted,
			Stats:         stats,
			CostEstimates: costs,
		})
	}
	if err := o.store.SaveRunStats(ctx, run.ID, stats, costs); err != nil {
		return sum, err
	}

	// Every business may already be settled when its crawl came from an
	// earlier run and finished in the meantime.
	if _, _, err := o.store.CloseRunIfDone(ctx, run.ID); err != nil {
		return sum, err
	}
	return sum, nil
}

// closeDisplaced re-checks runs that lost businesses to this one. Their
// remaining jobs may all be terminal already, and no later job finish would
// name them again.
func (o *Orchestrator) closeDisplaced(ctx context.Context, runIDs []string, log *zap.Logger) {
	for _, id := range runIDs {
		closed, status, err := o.store.CloseRunIfDone(ctx, id)
		if err != nil {
			log.Warn("close displaced run", zap.String("displaced_run_id", id), zap.Error(err))
			continue
		}
		if closed {
			log.Info("displaced run closed", zap.String("displaced_run_id", id), zap.String("status", string(status)))
		}
	}
}

// OnCrawlFinished re-arms extraction for the business.
func (o *Orchestrator) OnCrawlFinished(ctx context.Context, businessID string) error {
	return o.store.ResetExtractionJob(ctx, businessID)
}

// OnExtractionFinished closes the run if none of its jobs is outstanding.
func (o *Orchestrator) OnExtractionFinished(ctx context.Context, runID string) (bool, model.RunStatus, error) {
	if runID == "" {
		return false, "", nil
	}
	return o.store.CloseRunIfDone(ctx, runID)
}

// fail records err on the run. The write outlives a cancelled ctx.
func (o *Orchestrator) fail(ctx context.Context, runID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := o.store.FinishRun(ctx, runID, store.RunOutcome{
		Status:       model.RunStatusFailed,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		zap.L().Error("pipeline: mark run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	zap.L().Warn("discovery run failed", zap.String("run_id", runID), zap.Error(cause))
}
