package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/registry"
)

// mockStore implements Store in memory with the same merge rules as the
// Postgres upsert: rows are keyed by external id, stored values win over
// incoming ones, and dataset/run links always move.
type mockStore struct {
	mu         sync.Mutex
	rows       map[string]*model.Business
	datasets   map[string]string
	nextID     int
	upserts    int
	links      int
	upsertErr  error
	resolveErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		rows:     make(map[string]*model.Business),
		datasets: make(map[string]string),
	}
}

func (m *mockStore) ResolveDataset(_ context.Context, userID, locationID, industry string) (string, error) {
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + locationID + "|" + industry
	if id, ok := m.datasets[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("ds-%d", len(m.datasets)+1)
	m.datasets[key] = id
	return id, nil
}

func (m *mockStore) FindBusinesses(_ context.Context, locationID string, industries []string) ([]model.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(industries))
	for _, ind := range industries {
		want[ind] = true
	}
	var out []model.Business
	for _, b := range m.sorted() {
		if strings.HasPrefix(b.LocationID, locationID) && want[b.Industry] {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockStore) LinkBusinesses(_ context.Context, ids []string, datasetID, runID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links++
	var prev []*string
	for _, b := range m.sorted() {
		for _, id := range ids {
			if b.ID == id {
				was := b.DiscoveryRunID
				prev = append(prev, &was)
				b.DatasetID, b.DiscoveryRunID = datasetID, runID
			}
		}
	}
	return displacedRuns(prev, runID), nil
}

func (m *mockStore) UpsertBusinesses(_ context.Context, businesses []model.Business) ([]string, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	var prev []*string
	var incoming []string
	for _, in := range businesses {
		if in.LocationID == "" {
			return nil, ErrMissingLocation
		}
		cur, ok := m.rows[in.ExternalID]
		if !ok {
			m.nextID++
			b := in
			b.ID = fmt.Sprintf("biz-%d", m.nextID)
			m.rows[in.ExternalID] = &b
			continue
		}
		fill := func(d *string, s string) {
			if *d == "" {
				*d = s
			}
		}
		fill(&cur.Name, in.Name)
		fill(&cur.Address, in.Address)
		fill(&cur.Website, in.Website)
		fill(&cur.Domain, in.Domain)
		fill(&cur.Phone, in.Phone)
		fill(&cur.Email, in.Email)
		was := cur.DiscoveryRunID
		prev = append(prev, &was)
		cur.DatasetID, cur.DiscoveryRunID = in.DatasetID, in.DiscoveryRunID
		incoming = append(incoming, in.DiscoveryRunID)
	}
	return displacedRuns(prev, incoming...), nil
}

func (m *mockStore) BusinessesForRun(_ context.Context, runID string) ([]model.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Business
	for _, b := range m.sorted() {
		if b.DiscoveryRunID == runID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockStore) sorted() []*model.Business {
	out := make([]*model.Business, 0, len(m.rows))
	for _, b := range m.rows {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// mockSource returns fixed candidates and records its calls.
type mockSource struct {
	cands []Candidate
	usage cost.Usage
	err   error
	calls int
}

func (s *mockSource) Collect(_ context.Context, _ Request, _ Terms) ([]Candidate, cost.Usage, error) {
	s.calls++
	out := make([]Candidate, len(s.cands))
	copy(out, s.cands)
	return out, s.usage, s.err
}

// fakeSearcher implements RegistrySearcher.
type fakeSearcher struct {
	batch      *registry.Batch
	err        error
	locations  []string
	activities []string
}

func (f *fakeSearcher) SearchPairs(_ context.Context, locations, activities []string) (*registry.Batch, error) {
	f.locations, f.activities = locations, activities
	return f.batch, f.err
}
