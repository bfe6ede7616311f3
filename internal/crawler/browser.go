package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	UserAgent  string
	NavTimeout time.Duration
	// ExecPath overrides chromedp's browser lookup.
	ExecPath string
}

// BrowserFetcher renders pages in one shared headless Chrome process. Each
// crawl job gets its own browser context (a fresh profile with separate
// cookies and storage) on top of the shared allocator.
type BrowserFetcher struct {
	cfg         BrowserConfig
	allocCtx    context.Context
	cancelAlloc context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	sessions      int
}

// NewBrowserFetcher prepares the allocator. The browser process is launched
// by the first Open.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserFetcher{cfg: cfg, allocCtx: allocCtx, cancelAlloc: cancel}
}

// Name implements SessionFactory.
func (b *BrowserFetcher) Name() string { return "browser" }

// browser returns the context owning the browser process, launching it on
// first use.
func (b *BrowserFetcher) browser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	ctx, cancel := chromedp.NewContext(b.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, eris.Wrap(err, "crawler: launch browser")
	}
	b.browserCtx, b.cancelBrowser = ctx, cancel
	zap.L().Info("crawler: browser launched")
	return ctx, nil
}

// Open creates an isolated browser context for one crawl job.
func (b *BrowserFetcher) Open(ctx context.Context) (Session, error) {
	parent, err := b.browser()
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(parent, chromedp.WithNewBrowserContext())

	// The first Run attaches the target. It must not run under a timeout
	// context or the deadline would tear the tab down with it.
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "ja,en;q=0.8"}),
	); err != nil {
		cancel()
		return nil, eris.Wrap(err, "crawler: open browser context")
	}
	if err := ctx.Err(); err != nil {
		cancel()
		return nil, eris.Wrap(err, "crawler: open browser context")
	}

	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()

	return &browserSession{parent: b, tabCtx: tabCtx, cancel: cancel}, nil
}

// Close shuts the browser process down.
func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	if b.cancelBrowser != nil {
		b.cancelBrowser()
	}
	b.mu.Unlock()
	b.cancelAlloc()
}

type browserSession struct {
	parent *BrowserFetcher
	tabCtx context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Fetch navigates to targetURL and returns the rendered document. The
// navigation is bounded by the configured timeout and by ctx.
func (s *browserSession) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	navCtx, cancel := context.WithTimeout(s.tabCtx, s.parent.cfg.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, location string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: navigate %s", targetURL)
	}

	body := []byte(html)
	if blocked, kind := DetectBlock(nil, body); blocked {
		return nil, eris.Errorf("crawler: %s blocked (%s)", targetURL, kind)
	}
	if len(body) < minBodyBytes {
		return nil, eris.Errorf("crawler: %s: empty page", targetURL)
	}
	return &Page{URL: targetURL, FinalURL: location, HTML: body}, nil
}

func (s *browserSession) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.parent.mu.Lock()
		s.parent.sessions--
		n := s.parent.sessions
		s.parent.mu.Unlock()
		zap.L().Debug("crawler: browser context closed", zap.Int("open_sessions", n))
	})
	return nil
}
