// Package crawler fetches a bounded set of pages from a business website
// and stores them as snapshots for contact extraction.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/resilience"
)

// Store is the slice of the job store the crawler writes to.
type Store interface {
	SaveCrawlPage(ctx context.Context, page model.CrawlPage) (bool, error)
	FinishCrawlJob(ctx context.Context, id string, status model.CrawlStatus, pagesCrawled int, errMsg string) error
	ResetExtractionJob(ctx context.Context, businessID string) error
}

// RobotsChecker decides whether a URL may be fetched.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) (bool, error)
}

// Config tunes the crawler.
type Config struct {
	// MaxPages applies to jobs that carry no pages_limit of their own.
	MaxPages     int
	ExcludePaths []string
}

// Result summarizes one crawl. Err is the error that stopped the crawl
// early, if any; it is recorded on the job even when the crawl succeeded.
type Result struct {
	Status       model.CrawlStatus
	PagesCrawled int
	Err          error
}

// Crawler runs crawl jobs.
type Crawler struct {
	store    Store
	sessions SessionFactory
	robots   RobotsChecker
	matcher  *PathMatcher
	maxPages int
}

// New creates a Crawler.
func New(store Store, sessions SessionFactory, robots RobotsChecker, cfg Config) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = model.DefaultPagesLimit
	}
	return &Crawler{
		store:    store,
		sessions: sessions,
		robots:   robots,
		matcher:  NewPathMatcher(cfg.ExcludePaths),
		maxPages: cfg.MaxPages,
	}
}

// finishTimeout bounds the terminal writes, which run even after ctx is
// cancelled so a claimed job never stays running.
const finishTimeout = 10 * time.Second

// Run crawls a claimed job, writes its terminal status and re-arms the
// business's extraction job. The returned error is only for store failures;
// crawl failures are recorded on the job.
func (c *Crawler) Run(ctx context.Context, job model.CrawlJob) (*Result, error) {
	log := zap.L().With(
		zap.String("component", "crawler"),
		zap.String("job_id", job.ID),
		zap.String("business_id", job.BusinessID),
	)

	res := c.crawl(ctx, job, log)

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	var errs []error
	if err := c.store.FinishCrawlJob(finishCtx, job.ID, res.Status, res.PagesCrawled, errMsg); err != nil {
		errs = append(errs, err)
	}
	monitoring.JobsFinished.WithLabelValues(monitoring.KindCrawl, string(res.Status)).Inc()

	if err := c.store.ResetExtractionJob(finishCtx, job.BusinessID); err != nil {
		errs = append(errs, err)
	}

	log.Info("crawl job finished",
		zap.String("status", string(res.Status)),
		zap.Int("pages_crawled", res.PagesCrawled),
		zap.String("error", errMsg),
	)
	return res, eris.Wrapf(errors.Join(errs...), "crawler: finish job %s", job.ID)
}

// crawl fetches pages breadth-first: the homepage, the fixed seed paths,
// then links harvested from the homepage. A seed that answers with a client
// error is skipped; any other fetch error ends the crawl.
func (c *Crawler) crawl(ctx context.Context, job model.CrawlJob, log *zap.Logger) *Result {
	res := &Result{Status: model.CrawlStatusFailed}

	limit := job.PagesLimit
	if limit <= 0 {
		limit = c.maxPages
	}

	home, err := NormalizeURL(job.WebsiteURL)
	if err != nil {
		res.Err = err
		return res
	}

	allowed, err := c.robots.Allowed(ctx, home.String())
	if err != nil {
		res.Err = err
		return res
	}
	if !allowed {
		res.Err = eris.Wrapf(ErrRobotsDisallowed, "crawler: %s", home.Host)
		return res
	}

	session, err := c.sessions.Open(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() { _ = session.Close() }()

	fetcher := c.sessions.Name()
	queue := SeedURLs(home)
	seen := make(map[string]bool, len(queue))
	for _, u := range queue {
		seen[u] = true
	}
	savedFinal := make(map[string]bool)
	savedHash := make(map[string]bool)

	for i := 0; i < len(queue) && res.PagesCrawled < limit; i++ {
		target := queue[i]
		isHome := i == 0

		if !isHome {
			if c.matcher.IsExcluded(target) {
				monitoring.PagesFetched.WithLabelValues(fetcher, "excluded").Inc()
				continue
			}
			if ok, _ := c.robots.Allowed(ctx, target); !ok {
				monitoring.PagesFetched.WithLabelValues(fetcher, "excluded").Inc()
				continue
			}
		}

		page, err := session.Fetch(ctx, target)
		if err != nil {
			if !isHome && isMissingPage(err) {
				monitoring.PagesFetched.WithLabelValues(fetcher, "missing").Inc()
				continue
			}
			monitoring.PagesFetched.WithLabelValues(fetcher, "error").Inc()
			log.Debug("crawler: fetch failed", zap.String("url", target), zap.Error(err))
			res.Err = err
			break
		}

		final := page.FinalURL
		if final == "" {
			final = target
		}
		sum := sha256.Sum256(page.HTML)
		hash := hex.EncodeToString(sum[:])

		// Seed paths often redirect to, or soft-404 as, a page already saved.
		if !isHome && (savedFinal[final] || savedHash[hash]) {
			monitoring.PagesFetched.WithLabelValues(fetcher, "duplicate").Inc()
			continue
		}

		inserted, err := c.store.SaveCrawlPage(ctx, model.CrawlPage{
			CrawlJobID:  job.ID,
			URL:         target,
			FinalURL:    final,
			ContentHash: hash,
			HTML:        string(page.HTML),
			FetchedAt:   time.Now().UTC(),
		})
		if err != nil {
			res.Err = err
			break
		}
		if !inserted {
			log.Debug("crawler: page already stored", zap.String("url", target))
		}
		monitoring.PagesFetched.WithLabelValues(fetcher, "saved").Inc()
		res.PagesCrawled++
		savedFinal[final] = true
		savedHash[hash] = true

		if isHome {
			base := home
			if u, err := url.Parse(final); err == nil && u.Host != "" {
				base = u
			}
			for _, link := range HarvestLinks(base, page.HTML) {
				if !seen[link] {
					seen[link] = true
					queue = append(queue, link)
				}
			}
		}
	}

	if res.PagesCrawled > 0 {
		res.Status = model.CrawlStatusSuccess
	}
	return res
}

// isMissingPage reports a client error for one URL, which says nothing
// about the rest of the site. Timeouts and throttling are not included.
func isMissingPage(err error) bool {
	switch resilience.StatusCode(err) {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return resilience.IsClientError(err)
}
