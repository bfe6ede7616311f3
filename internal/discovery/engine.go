package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
)

// Engine runs discovery requests.
type Engine struct {
	store     Store
	catalog   *Catalog
	calc      *cost.Calculator
	sources   map[Mode]Source
	blocklist []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSource registers the source used for mode.
func WithSource(mode Mode, src Source) EngineOption {
	return func(e *Engine) { e.sources[mode] = src }
}

// WithDirectoryBlocklist replaces the default directory host blocklist.
func WithDirectoryBlocklist(hosts []string) EngineOption {
	return func(e *Engine) { e.blocklist = hosts }
}

// NewEngine creates an Engine. Sources are registered with WithSource.
func NewEngine(store Store, catalog *Catalog, calc *cost.Calculator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		catalog:   catalog,
		calc:      calc,
		sources:   make(map[Mode]Source),
		blocklist: DefaultDirectoryBlocklist,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Discover resolves the request into canonical businesses linked to the
// run's dataset. Stored businesses matching the location and industry are
// reused without external calls unless the request asks for a refresh.
func (e *Engine) Discover(ctx context.Context, run *model.DiscoveryRun, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeRegistry
	}

	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("location_id", req.LocationID),
		zap.String("industry", req.IndustryKey()),
		zap.String("mode", string(mode)),
	)
	start := time.Now()

	terms, err := e.catalog.Resolve(req.Industry, req.IndustryGroup)
	if err != nil {
		return nil, err
	}

	datasetID := req.DatasetID
	if datasetID == "" {
		datasetID = run.DatasetID
	}
	if datasetID == "" {
		datasetID, err = e.store.ResolveDataset(ctx, req.UserID, req.LocationID, req.IndustryKey())
		if err != nil {
			return nil, err
		}
	}

	res := &Result{DatasetID: datasetID}
	res.Stats.Source = string(mode)
	usage := cost.Usage{PagesPerSite: model.DefaultPagesLimit}

	reused := false
	if !req.Refresh {
		existing, err := e.store.FindBusinesses(ctx, req.LocationID, terms.Industries)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			ids := make([]string, len(existing))
			for i, b := range existing {
				ids[i] = b.ID
			}
			displaced, err := e.store.LinkBusinesses(ctx, ids, datasetID, run.ID)
			if err != nil {
				return nil, err
			}
			res.Displaced = displaced
			reused = true
			res.Stats.Source = "store"
			log.Info("discovery: reusing stored businesses", zap.Int("count", len(existing)))
		}
	}

	if !reused {
		src, ok := e.sources[mode]
		if !ok {
			return nil, eris.Errorf("discovery: no source registered for mode %q", mode)
		}
		cands, used, err := src.Collect(ctx, req, terms)
		usage.RegistryCalls, usage.SearchCalls = used.RegistryCalls, used.SearchCalls
		if err != nil {
			return nil, err
		}

		for i := range cands {
			cands[i].Website = NormalizeWebsite(cands[i].Website, e.blocklist)
			if cands[i].LocationID == "" && mode == ModeGrid {
				cands[i].LocationID = req.LocationID
			}
		}
		unique, dups := Dedupe(cands)
		res.Stats.Candidates = len(cands)
		res.Stats.Duplicates = dups

		rows := make([]model.Business, len(unique))
		for i, c := range unique {
			rows[i] = c.Business(datasetID, run.ID)
		}
		displaced, err := e.store.UpsertBusinesses(ctx, rows)
		if err != nil {
			return nil, err
		}
		res.Displaced = displaced
	}

	businesses, err := e.store.BusinessesForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	res.Businesses = businesses
	res.Reused = reused
	res.Stats.Reused = reused
	res.Stats.RegistryCalls = usage.RegistryCalls
	res.Stats.SearchCalls = usage.SearchCalls
	res.Stats.Completeness(businesses)

	usage.Businesses = len(businesses)
	usage.WithWebsite = res.Stats.WithWebsite
	usage.MissingContact = MissingContact(businesses)
	res.Costs = e.calc.Estimate(usage)

	log.Info("discovery: complete",
		zap.Int("businesses", res.Stats.BusinessesFound),
		zap.Int("duplicates", res.Stats.Duplicates),
		zap.Float64("website_pct", res.Stats.WebsitePct),
		zap.Float64("est_total_usd", res.Costs.Total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
