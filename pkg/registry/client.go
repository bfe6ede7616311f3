package registry

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/resilience"
)

const (
	defaultPageSize    = 100
	defaultMaxPages    = 50
	defaultBackoffBase = 30 * time.Second
	defaultMaxRetries  = 3
	defaultPairWorkers = 2
)

// Config configures the registry client.
type Config struct {
	BaseURL     string
	APIKey      string
	PageSize    int
	MaxPages    int // safety ceiling per SearchAll call
	Sort        string
	ActiveOnly  bool
	BackoffBase time.Duration
	MaxRetries  int
	PairWorkers int
}

// Query is one registry search.
type Query struct {
	Locations  []string
	Activities []string
	Offset     int
}

// Page is one page of search results.
type Page struct {
	Records []Record
	Offset  int
	HasMore bool
	Kind    EnvelopeKind
}

// Batch is the result of paging through a query.
type Batch struct {
	Records []Record
	// NextOffset resumes the query in a follow-up SearchAll call.
	NextOffset int
	Exhausted  bool
	// Calls counts pages requested, excluding 429 retries.
	Calls int
}

// Observer receives one callback per HTTP response (0 on transport error).
type Observer func(statusCode int)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver registers a response observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// Client is the rate-limited registry client.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *Limiter
	observe Observer
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client gated by limiter, which should be shared by all
// callers in the process.
func NewClient(cfg Config, limiter *Limiter, opts ...Option) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PairWorkers <= 0 {
		cfg.PairWorkers = defaultPairWorkers
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		observe: func(int) {},
		sleep:   resilience.SleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search fetches one page. A 429 backs off exponentially and resets the
// limiter before each retry. A 404 is an empty page.
func (c *Client) Search(ctx context.Context, q Query) (*Page, error) {
	retry := resilience.RateLimitBackoff(c.cfg.BackoffBase, c.cfg.MaxRetries)
	retry.Sleep = c.sleep
	retry.OnRetry = func(attempt int, err error) {
		c.limiter.Reset()
		zap.L().Warn("registry: rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Strings("locations", q.Locations),
			zap.Strings("activities", q.Activities),
			zap.Int("offset", q.Offset),
			zap.Error(err),
		)
	}

	page, err := resilience.Retry(ctx, retry, func(ctx context.Context) (*Page, error) {
		return c.searchOnce(ctx, q)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "registry: search offset %d", q.Offset)
	}
	return page, nil
}

func (c *Client) searchOnce(ctx context.Context, q Query) (*Page, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/companies?"+c.params(q).Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "registry: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(0)
		return nil, eris.Wrap(err, "registry: send request")
	}
	defer resp.Body.Close() //nolint:errcheck
	c.observe(resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Page{Offset: q.Offset}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.NewStatusError("registry", resp.StatusCode, body)
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if env.Kind == EnvelopeUnknown {
		zap.L().Debug("registry: recovered records from unknown envelope", zap.Int("records", len(env.Records)))
	}

	page := &Page{Records: env.Records, Offset: q.Offset, Kind: env.Kind}
	page.HasMore = len(env.Records) >= c.cfg.PageSize
	if m := env.Metadata; m != nil {
		switch {
		case m.HasMore != nil:
			page.HasMore = *m.HasMore
		case m.TotalCount != nil:
			page.HasMore = q.Offset+len(env.Records) < *m.TotalCount
		}
	}
	if len(env.Records) == 0 {
		page.HasMore = false
	}
	return page, nil
}

func (c *Client) params(q Query) url.Values {
	v := url.Values{}
	if len(q.Locations) > 0 {
		v.Set("location", strings.Join(q.Locations, ","))
	}
	if len(q.Activities) > 0 {
		v.Set("activity", strings.Join(q.Activities, ","))
	}
	v.Set("offset", strconv.Itoa(q.Offset))
	v.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if c.cfg.Sort != "" {
		v.Set("sort", c.cfg.Sort)
	}
	if c.cfg.ActiveOnly {
		v.Set("activeOnly", "true")
	}
	// Some gateways strip custom headers; the key is sent in both places.
	v.Set("apiKey", c.cfg.APIKey)
	return v
}

// SearchAll pages through q from startOffset until the server reports no
// more results or MaxPages pages have been read. Records fetched before an
// error are returned alongside it.
func (c *Client) SearchAll(ctx context.Context, q Query, startOffset int) (*Batch, error) {
	b := &Batch{NextOffset: startOffset}
	for i := 0; i < c.cfg.MaxPages; i++ {
		q.Offset = b.NextOffset
		page, err := c.Search(ctx, q)
		b.Calls++
		if err != nil {
			return b, err
		}
		for j := range page.Records {
			if len(q.Locations) == 1 {
				page.Records[j].QueryLocation = q.Locations[0]
			}
			if len(q.Activities) == 1 {
				page.Records[j].QueryActivity = q.Activities[0]
			}
		}
		b.Records = append(b.Records, page.Records...)
		b.NextOffset += len(page.Records)
		if !page.HasMore {
			b.Exhausted = true
			return b, nil
		}
	}

	zap.L().Warn("registry: page ceiling reached",
		zap.Strings("locations", q.Locations),
		zap.Int("max_pages", c.cfg.MaxPages),
		zap.Int("next_offset", b.NextOffset),
	)
	return b, nil
}

// SearchPairs runs one paged query per (location, activity) pair and merges
// the results, dropping repeated registry numbers. With no activities, one
// query per location is issued. The returned batch is exhausted only when
// every pair was read to its end.
func (c *Client) SearchPairs(ctx context.Context, locations, activities []string) (*Batch, error) {
	type pair struct{ loc, act string }
	var pairs []pair
	for _, loc := range locations {
		if len(activities) == 0 {
			pairs = append(pairs, pair{loc: loc})
			continue
		}
		for _, act := range activities {
			pairs = append(pairs, pair{loc: loc, act: act})
		}
	}

	results := make([]*Batch, len(pairs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PairWorkers)
	for i, p := range pairs {
		g.Go(func() error {
			q := Query{Locations: []string{p.loc}}
			if p.act != "" {
				q.Activities = []string{p.act}
			}
			batch, err := c.SearchAll(gctx, q, 0)
			if err != nil {
				return eris.Wrapf(err, "registry: location %s activity %s", p.loc, p.act)
			}
			mu.Lock()
			results[i] = batch
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Batch{Exhausted: true}
	seen := make(map[string]bool)
	for _, b := range results {
		merged.Calls += b.Calls
		merged.Exhausted = merged.Exhausted && b.Exhausted
		for _, r := range b.Records {
			if r.Number != "" {
				if seen[r.Number] {
					continue
				}
				seen[r.Number] = true
			}
			merged.Records = append(merged.Records, r)
		}
	}
	return merged, nil
}
