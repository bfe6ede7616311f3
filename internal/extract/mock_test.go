package extract

import (
	"context"
	"sync"

	"github.com/sells-group/prospector/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	biz      map[string]*model.Business
	hasEmail bool
	hasPhone bool
	saved    []Finding
	social   []Social
	patches  []Patch
	getErr   error
	saveErr  error
}

func newFakeStore(b *model.Business) *fakeStore {
	return &fakeStore{biz: map[string]*model.Business{b.ID: b}}
}

func (f *fakeStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.biz[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ContactTypes(context.Context, string) (bool, bool, error) {
	return f.hasEmail, f.hasPhone, nil
}

func (f *fakeStore) SaveFindings(_ context.Context, _ string, findings []Finding) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = append(f.saved, findings...)
	return len(findings), nil
}

func (f *fakeStore) SaveSocialLinks(_ context.Context, _ string, links []Social) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.social = append(f.social, links...)
	return len(links), nil
}

func (f *fakeStore) FillBusiness(_ context.Context, id string, p Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, p)
	b := f.biz[id]
	if b.Website == "" {
		b.Website = p.Website
	}
	if b.Phone == "" {
		b.Phone = p.Phone
	}
	if b.Email == "" {
		b.Email = p.Email
	}
	if b.PlaceID == "" {
		b.PlaceID = p.PlaceID
	}
	return nil
}

type finishCall struct {
	id     string
	status model.ExtractionStatus
	errMsg string
}

type enqueueCall struct {
	businessID string
	website    string
	limit      int
}

type fakeJobs struct {
	mu        sync.Mutex
	pages     []model.CrawlPage
	finished  []finishCall
	enqueued  []enqueueCall
	closed    []string
	finishErr error
}

func (f *fakeJobs) LatestCrawlPages(context.Context, string) ([]model.CrawlPage, error) {
	return f.pages, nil
}

func (f *fakeJobs) EnqueueCrawlJob(_ context.Context, businessID, website string, limit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueueCall{businessID, website, limit})
	return true, nil
}

func (f *fakeJobs) FinishExtractionJob(_ context.Context, id string, status model.ExtractionStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishCall{id, status, errMsg})
	return f.finishErr
}

func (f *fakeJobs) CloseRunIfDone(_ context.Context, runID string) (bool, model.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, runID)
	return true, model.RunStatusCompleted, nil
}
