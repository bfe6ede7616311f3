package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/pkg/registry"
)

// Source collects candidates for a request from an external provider.
type Source interface {
	Collect(ctx context.Context, req Request, terms Terms) ([]Candidate, cost.Usage, error)
}

// RegistrySearcher is the subset of the registry client used by discovery.
type RegistrySearcher interface {
	SearchPairs(ctx context.Context, locations, activities []string) (*registry.Batch, error)
}

// RegistrySource queries the business registry once per (location,
// activity) pair.
type RegistrySource struct {
	client RegistrySearcher
}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource(client RegistrySearcher) *RegistrySource {
	return &RegistrySource{client: client}
}

// Collect runs the registry queries and maps records to candidates.
func (s *RegistrySource) Collect(ctx context.Context, req Request, terms Terms) ([]Candidate, cost.Usage, error) {
	locations := req.SubLocations
	if len(locations) == 0 {
		locations = []string{req.LocationID}
	}

	batch, err := s.client.SearchPairs(ctx, locations, terms.ActivityCodes)
	var usage cost.Usage
	if batch != nil {
		usage.RegistryCalls = batch.Calls
		monitoring.RegistryCalls.Add(float64(batch.Calls))
	}
	if err != nil {
		return nil, usage, eris.Wrap(err, "discovery: registry search")
	}
	if !batch.Exhausted {
		zap.L().Warn("discovery: registry results truncated at page ceiling",
			zap.String("location_id", req.LocationID),
			zap.Int("records", len(batch.Records)),
		)
	}

	defaultIndustry := ""
	if len(terms.Industries) == 1 {
		defaultIndustry = terms.Industries[0]
	}

	cands := make([]Candidate, 0, len(batch.Records))
	for _, r := range batch.Records {
		industry := terms.ByActivity[r.QueryActivity]
		if industry == "" {
			industry = defaultIndustry
		}
		cands = append(cands, Candidate{
			Source:     SourceRegistry,
			ProviderID: strings.TrimSpace(r.Number),
			Name:       strings.TrimSpace(r.Name),
			Address:    strings.TrimSpace(r.Address),
			PostalCode: strings.TrimSpace(r.PostalCode),
			LocationID: r.LocationID(),
			Industry:   industry,
			Website:    r.Website,
			Phone:      strings.TrimSpace(r.Phone),
			Email:      strings.TrimSpace(r.Email),
		})
	}
	return cands, usage, nil
}
