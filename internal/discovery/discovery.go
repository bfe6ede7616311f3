// Package discovery resolves a location and industry request into a
// deduplicated set of canonical business records, sourced from the business
// registry or from a geo-grid of keyword searches.
package discovery

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
)

// Mode selects the external source used when no stored businesses match.
type Mode string

const (
	ModeRegistry Mode = "registry"
	ModeGrid     Mode = "grid"
)

// Source names recorded on business rows.
const (
	SourceRegistry = "registry"
	SourcePlaces   = "places"
)

// ErrMissingLocation is a contract error: a business reached persistence
// without a location id.
var ErrMissingLocation = eris.New("discovery: business has no location id")

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Request is one discovery request. It is stored on the run so a discovery
// worker can replay it.
type Request struct {
	DatasetID     string   `json:"dataset_id,omitempty"`
	UserID        string   `json:"user_id"`
	LocationID    string   `json:"location_id"`
	SubLocations  []string `json:"sub_locations,omitempty"`
	Industry      string   `json:"industry,omitempty"`
	IndustryGroup string   `json:"industry_group,omitempty"`
	Mode          Mode     `json:"mode,omitempty"`
	Center        *LatLng  `json:"center,omitempty"`
	RadiusKM      float64  `json:"radius_km,omitempty"`
	// Refresh skips reuse of stored businesses and always queries the source.
	Refresh bool `json:"refresh,omitempty"`
}

// IndustryKey is the dataset industry label: the group when one was given.
func (r Request) IndustryKey() string {
	if r.IndustryGroup != "" {
		return "group:" + r.IndustryGroup
	}
	return r.Industry
}

// Validate checks the fields every mode needs.
func (r Request) Validate() error {
	if r.LocationID == "" {
		return eris.New("discovery: location_id is required")
	}
	if r.Industry == "" && r.IndustryGroup == "" {
		return eris.New("discovery: industry or industry_group is required")
	}
	if r.DatasetID == "" && r.UserID == "" {
		return eris.New("discovery: user_id is required without dataset_id")
	}
	switch r.Mode {
	case "", ModeRegistry:
	case ModeGrid:
		if r.Center == nil {
			return eris.New("discovery: grid mode requires center")
		}
	default:
		return eris.Errorf("discovery: unknown mode %q", r.Mode)
	}
	return nil
}

// Candidate is one business sighting from an external source, before
// deduplication.
type Candidate struct {
	Source     string
	ProviderID string
	Name       string
	Address    string
	PostalCode string
	LocationID string
	Industry   string
	Website    string
	Phone      string
	Email      string
	PlaceID    string
	Latitude   *float64
	Longitude  *float64

	// Key is the canonical external id, set by Dedupe.
	Key string
}

// Business converts a deduplicated candidate to a business row linked to
// the dataset and run.
func (c Candidate) Business(datasetID, runID string) model.Business {
	return model.Business{
		ExternalID:     c.Key,
		Source:         c.Source,
		Name:           c.Name,
		Address:        c.Address,
		PostalCode:     c.PostalCode,
		LocationID:     c.LocationID,
		Industry:       c.Industry,
		Website:        c.Website,
		Domain:         NormalizeDomain(c.Website),
		Phone:          c.Phone,
		Email:          c.Email,
		PlaceID:        c.PlaceID,
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		DatasetID:      datasetID,
		DiscoveryRunID: runID,
	}
}

// Result is the outcome of one discovery.
type Result struct {
	DatasetID  string
	Businesses []model.Business
	Reused     bool
	Stats      Stats
	Costs      cost.Estimate
	// Displaced lists earlier runs whose businesses moved to this run.
	Displaced []string
}
