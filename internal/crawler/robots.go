package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// ErrRobotsDisallowed is returned when a site's robots.txt forbids the crawl.
var ErrRobotsDisallowed = eris.New("crawler: disallowed by robots.txt")

// RobotsEntry is a cached robots.txt response.
type RobotsEntry struct {
	StatusCode int
	Body       []byte
}

// RobotsCache stores robots.txt responses per origin.
type RobotsCache interface {
	Get(ctx context.Context, origin string) (*RobotsEntry, bool, error)
	Set(ctx context.Context, origin string, entry RobotsEntry) error
}

// Robots answers robots.txt policy questions, fetching each origin's file
// once per cache lifetime.
type Robots struct {
	client    *http.Client
	cache     RobotsCache
	userAgent string
	agent     string
}

// NewRobots creates a Robots checker. A nil cache gets an in-memory one.
func NewRobots(cache RobotsCache, userAgent string) *Robots {
	if cache == nil {
		cache = NewMemoryRobotsCache(time.Hour)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Robots{
		client:    &http.Client{Timeout: 10 * time.Second},
		cache:     cache,
		userAgent: userAgent,
		agent:     ProductToken(userAgent),
	}
}

// ProductToken returns the name matched against robots.txt User-agent
// lines: the first product in userAgent whose name contains "bot", else the
// first versioned product other than Mozilla.
func ProductToken(userAgent string) string {
	fields := strings.FieldsFunc(userAgent, func(r rune) bool {
		return r == ' ' || r == ';' || r == '(' || r == ')'
	})
	var first, product string
	for _, f := range fields {
		if strings.HasPrefix(f, "+") || strings.Contains(f, "://") {
			continue
		}
		name, _, versioned := strings.Cut(f, "/")
		if name == "" {
			continue
		}
		if strings.Contains(strings.ToLower(name), "bot") {
			return name
		}
		if first == "" {
			first = name
		}
		if versioned && product == "" && !strings.EqualFold(name, "mozilla") {
			product = name
		}
	}
	switch {
	case product != "":
		return product
	case first != "":
		return first
	}
	return userAgent
}

// Allowed reports whether rawURL may be fetched. An unreachable robots.txt
// allows the crawl and is not cached.
func (r *Robots) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, eris.Errorf("crawler: robots: invalid url %q", rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	entry, ok, err := r.cache.Get(ctx, origin)
	if err != nil {
		zap.L().Warn("crawler: robots cache read failed", zap.String("origin", origin), zap.Error(err))
	}
	if !ok {
		entry, err = r.fetch(ctx, origin)
		if err != nil {
			zap.L().Debug("crawler: robots.txt unreachable, allowing", zap.String("origin", origin), zap.Error(err))
			return true, nil
		}
		if err := r.cache.Set(ctx, origin, *entry); err != nil {
			zap.L().Warn("crawler: robots cache write failed", zap.String("origin", origin), zap.Error(err))
		}
	}

	data, err := robotstxt.FromStatusAndBytes(entry.StatusCode, entry.Body)
	if err != nil {
		// Unparseable robots.txt is treated as absent.
		return true, nil
	}

	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return data.TestAgent(target, r.agent), nil
}

func (r *Robots) fetch(ctx context.Context, origin string) (*RobotsEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: robots request")
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: robots fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, eris.Wrap(err, "crawler: robots read")
	}
	return &RobotsEntry{StatusCode: resp.StatusCode, Body: body}, nil
}
