package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector/internal/crawler"
	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/extract"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, run *model.DiscoveryRun, req discovery.Request) (*discovery.Result, error) {
	args := m.Called(ctx, run, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.Result), args.Error(1)
}

// memStore is an in-memory store.Store whose claims and transitions follow
// the same conditional rules as the Postgres one.
type memStore struct {
	mu          sync.Mutex
	seq         int
	runs        map[string]*model.DiscoveryRun
	runOrder    []string
	crawls      map[string]*model.CrawlJob
	crawlOrder  []string
	extractions map[string]*model.ExtractionJob // by business id
	businesses  map[string]model.Business
	pages       []model.CrawlPage
	outcomes    map[string]store.RunOutcome
	enqueueErr  error
}

func newMemStore() *memStore {
	return &memStore{
		runs:        map[string]*model.DiscoveryRun{},
		crawls:      map[string]*model.CrawlJob{},
		extractions: map[string]*model.ExtractionJob{},
		businesses:  map[string]model.Business{},
		outcomes:    map[string]store.RunOutcome{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addBusiness(b model.Business) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.ID] = b
}

func (m *memStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, extract.ErrBusinessNotFound
	}
	return &b, nil
}

func (m *memStore) CreateRun(_ context.Context, datasetID, userID string, request json.RawMessage) (*model.DiscoveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &model.DiscoveryRun{ID: m.nextID("run"), DatasetID: datasetID, UserID: userID, Status: model.RunStatusPending, Request: request}
	m.runs[r.ID] = r
	m.runOrder = append(m.runOrder, r.ID)
	cp := *r
	return &cp, nil
}

func (m *memStore) StartRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.Status != model.RunStatusPending {
		return model.ErrInvalidTransition
	}
	r.Status = model.RunStatusRunning
	return nil
}

func (m *memStore) ClaimPendingRun(context.Context) (*model.DiscoveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.runOrder {
		if r := m.runs[id]; r.Status == model.RunStatusPending {
			r.Status = model.RunStatusRunning
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) SetRunDataset(_ context.Context, id, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].DatasetID = datasetID
	return nil
}

func (m *memStore) SaveRunStats(_ context.Context, id string, stats, costs json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Stats, m.runs[id].CostEstimates = stats, costs
	return nil
}

func (m *memStore) FinishRun(_ context.Context, id string, out store.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || !r.Status.CanTransition(out.Status) {
		return model.ErrInvalidTransition
	}
	r.Status = out.Status
	if out.ErrorMessage != "" {
		msg := out.ErrorMessage
		r.ErrorMessage = &msg
	}
	if out.Stats != nil {
		r.Stats = out.Stats
	}
	m.outcomes[id] = out
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*model.DiscoveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRunsByDataset(_ context.Context, datasetID string, _ int) ([]model.DiscoveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DiscoveryRun
	for _, id := range m.runOrder {
		if r := m.runs[id]; r.DatasetID == datasetID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) CloseRunIfDone(_ context.Context, runID string) (bool, model.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.Status != model.RunStatusRunning {
		return false, "", nil
	}
	failed := false
	for _, b := range m.businesses {
		if b.DiscoveryRunID != runID {
			continue
		}
		if e, ok := m.extractions[b.ID]; ok {
			if !e.Status.Terminal() {
				return false, "", nil
			}
			failed = failed || e.Status == model.ExtractionStatusFailed
		}
		for _, c := range m.crawls {
			if c.BusinessID == b.ID && !c.Status.Terminal() {
				return false, "", nil
			}
		}
	}
	r.Status = model.RunStatusCompleted
	if failed {
		r.Status = model.RunStatusFailed
	}
	return true, r.Status, nil
}

func (m *memStore) EnqueueCrawlJob(_ context.Context, businessID, websiteURL string, pagesLimit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return false, m.enqueueErr
	}
	for _, c := range m.crawls {
		if c.BusinessID == businessID && !c.Status.Terminal() {
			return false, nil
		}
	}
	j := &model.CrawlJob{ID: m.nextID("crawl"), BusinessID: businessID, WebsiteURL: websiteURL, Status: model.CrawlStatusQueued, PagesLimit: pagesLimit}
	m.crawls[j.ID] = j
	m.crawlOrder = append(m.crawlOrder, j.ID)
	return true, nil
}

func (m *memStore) ClaimCrawlJobs(_ context.Context, limit int) ([]model.CrawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CrawlJob
	for _, id := range m.crawlOrder {
		if len(out) == limit {
			break
		}
		if j := m.crawls[id]; j.Status == model.CrawlStatusQueued {
			j.Status = model.CrawlStatusRunning
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) ClaimCrawlJob(_ context.Context, id string) (*model.CrawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.crawls[id]
	if !ok || j.Status != model.CrawlStatusQueued {
		return nil, store.ErrNotClaimed
	}
	j.Status = model.CrawlStatusRunning
	cp := *j
	return &cp, nil
}

func (m *memStore) FinishCrawlJob(_ context.Context, id string, status model.CrawlStatus, pages int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.crawls[id]
	if !ok || j.Status != model.CrawlStatusRunning {
		return store.ErrNotClaimed
	}
	j.Status, j.PagesCrawled = status, min(pages, j.PagesLimit)
	if errMsg != "" {
		j.ErrorMessage = &errMsg
	}
	return nil
}

func (m *memStore) SaveCrawlPage(_ context.Context, p model.CrawlPage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, p)
	return true, nil
}

func (m *memStore) LatestCrawlPages(context.Context, string) ([]model.CrawlPage, error) {
	return nil, nil
}

func (m *memStore) ResetExtractionJob(_ context.Context, businessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.extractions[businessID]; ok {
		e.Status, e.ErrorMessage = model.ExtractionStatusQueued, nil
		return nil
	}
	m.extractions[businessID] = &model.ExtractionJob{ID: m.nextID("ext"), BusinessID: businessID, Status: model.ExtractionStatusQueued}
	return nil
}

func (m *memStore) ClaimExtractionJobs(_ context.Context, limit int) ([]model.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExtractionJob
	for _, e := range m.extractions {
		if len(out) == limit {
			break
		}
		if e.Status == model.ExtractionStatusQueued {
			e.Status = model.ExtractionStatusRunning
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) FinishExtractionJob(_ context.Context, id string, status model.ExtractionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.extractions {
		if e.ID != id {
			continue
		}
		if e.Status != model.ExtractionStatusRunning {
			return store.ErrNotClaimed
		}
		e.Status = status
		if errMsg != "" {
			e.ErrorMessage = &errMsg
		}
		return nil
	}
	return store.ErrNotClaimed
}

func (m *memStore) DatasetProgress(ctx context.Context, _ string) (store.Progress, error) {
	return m.QueueDepth(ctx)
}

func (m *memStore) QueueDepth(context.Context) (store.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := store.NewProgress()
	for _, c := range m.crawls {
		p.Crawl[c.Status]++
	}
	for _, e := range m.extractions {
		p.Extraction[e.Status]++
	}
	return p, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) runStatus(id string) model.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id].Status
}

func (m *memStore) crawlStatuses() map[model.CrawlStatus]int {
	p, _ := m.QueueDepth(context.Background())
	return p.Crawl
}

func (m *memStore) extractionStatuses() map[model.ExtractionStatus]int {
	p, _ := m.QueueDepth(context.Background())
	return p.Extraction
}

// fakeCrawler finishes each job like the real crawler: terminal write, then
// extraction reset.
type fakeCrawler struct {
	st    *memStore
	mu    sync.Mutex
	seen  []string
	fail  map[string]bool
	panic bool
}

func (f *fakeCrawler) Run(ctx context.Context, job model.CrawlJob) (*crawler.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, job.ID)
	f.mu.Unlock()
	if f.panic {
		panic("browser crashed")
	}
	status, pages := model.CrawlStatusSuccess, 3
	if f.fail[job.BusinessID] {
		status, pages = model.CrawlStatusFailed, 0
	}
	if err := f.st.FinishCrawlJob(ctx, job.ID, status, pages, ""); err != nil {
		return nil, err
	}
	return &crawler.Result{Status: status, PagesCrawled: pages}, f.st.ResetExtractionJob(ctx, job.BusinessID)
}

// fakeExtractor finishes each job and closes the business's run, as the
// extraction engine does.
type fakeExtractor struct {
	st   *memStore
	fail map[string]bool
	err  error
}

func (f *fakeExtractor) Run(ctx context.Context, job model.ExtractionJob) (*extract.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	status := model.ExtractionStatusSuccess
	if f.fail[job.BusinessID] {
		status = model.ExtractionStatusFailed
	}
	if err := f.st.FinishExtractionJob(ctx, job.ID, status, ""); err != nil {
		return nil, err
	}
	b, err := f.st.GetBusiness(ctx, job.BusinessID)
	if err != nil {
		return nil, err
	}
	_, _, err = f.st.CloseRunIfDone(ctx, b.DiscoveryRunID)
	return &extract.Outcome{}, err
}
