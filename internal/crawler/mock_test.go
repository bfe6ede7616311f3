package crawler

import (
	"context"
	"strings"
	"sync"

	"github.com/sells-group/prospector/internal/model"
)

type finishCall struct {
	id     string
	status model.CrawlStatus
	pages  int
	errMsg string
}

type mockStore struct {
	mu        sync.Mutex
	pages     []model.CrawlPage
	finished  []finishCall
	resets    []string
	finishErr error
	saveErr   error
}

func (m *mockStore) SaveCrawlPage(_ context.Context, p model.CrawlPage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	for _, existing := range m.pages {
		if existing.CrawlJobID == p.CrawlJobID && existing.URL == p.URL {
			return false, nil
		}
	}
	m.pages = append(m.pages, p)
	return true, nil
}

func (m *mockStore) FinishCrawlJob(_ context.Context, id string, status model.CrawlStatus, pages int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, finishCall{id: id, status: status, pages: pages, errMsg: errMsg})
	return m.finishErr
}

func (m *mockStore) ResetExtractionJob(_ context.Context, businessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, businessID)
	return nil
}

func (m *mockStore) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pages))
	for _, p := range m.pages {
		i := strings.Index(p.URL[len("http://"):], "/")
		out = append(out, p.URL[len("http://")+i:])
	}
	return out
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) (bool, error) { return true, nil }

// htmlPage pads body so it clears the minimum page size.
func htmlPage(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body +
		"<p>" + strings.Repeat("lorem ipsum dolor ", 8) + "</p></body></html>"
}
