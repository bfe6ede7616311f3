package crawler

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/resilience"
)

// DefaultUserAgent identifies the crawler to site operators.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ProspectorBot/1.0; +https://sells-group.com/bot)"

const (
	maxBodyBytes = 2 << 20
	minBodyBytes = 64
)

// Page is one fetched document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       []byte
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Session is a Fetcher bound to one crawl job. Close releases whatever
// per-job state the session holds.
type Session interface {
	Fetcher
	Close() error
}

// SessionFactory opens one Session per crawl job.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
	Name() string
}

// HTTPFetcher fetches pages with net/http. Sessions share one client since
// plain HTTP carries no per-job state besides cookies, which are not kept.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher. timeout bounds each request.
func NewHTTPFetcher(userAgent string, timeout time.Duration) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

// Name implements SessionFactory.
func (f *HTTPFetcher) Name() string { return "http" }

// Open implements SessionFactory.
func (f *HTTPFetcher) Open(_ context.Context) (Session, error) {
	return httpSession{f}, nil
}

type httpSession struct{ *HTTPFetcher }

func (httpSession) Close() error { return nil }

// Fetch GETs targetURL, following redirects. Anti-bot pages, error statuses
// and near-empty bodies are errors; a 404 carries a StatusError so callers
// can tell a missing page from a broken site.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: fetch %s", targetURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: read %s", targetURL)
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("crawler: %s blocked (%s)", targetURL, kind)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Wrapf(resilience.NewStatusError("crawler", resp.StatusCode, nil), "crawler: fetch %s", targetURL)
	}
	if len(body) < minBodyBytes {
		return nil, eris.Errorf("crawler: %s: empty page", targetURL)
	}

	return &Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       body,
	}, nil
}
