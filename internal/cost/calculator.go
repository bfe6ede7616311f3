// Package cost produces coarse, descriptive cost estimates for a discovery
// run. The figures size downstream export and refresh work; they are not
// used for billing.
package cost

import "math"

// Rates holds per-unit pricing.
type Rates struct {
	RegistryPerCall  float64 `yaml:"registry_per_call" mapstructure:"registry_per_call"`
	PlacesSearch     float64 `yaml:"places_search" mapstructure:"places_search"`
	PlacesDetail     float64 `yaml:"places_detail" mapstructure:"places_detail"`
	CrawlPerPage     float64 `yaml:"crawl_per_page" mapstructure:"crawl_per_page"`
	ExportPerRecord  float64 `yaml:"export_per_record" mapstructure:"export_per_record"`
	RefreshPerRecord float64 `yaml:"refresh_per_record" mapstructure:"refresh_per_record"`
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		RegistryPerCall:  0,
		PlacesSearch:     0.032,
		PlacesDetail:     0.017,
		CrawlPerPage:     0.0002,
		ExportPerRecord:  0.001,
		RefreshPerRecord: 0.01,
	}
}

// Usage is what a discovery run consumed or is expected to trigger.
type Usage struct {
	RegistryCalls int `json:"registry_calls"`
	SearchCalls   int `json:"search_calls"`
	Businesses    int `json:"businesses"`
	WithWebsite   int `json:"with_website"`
	// MissingContact counts businesses lacking a website or a phone, which
	// are expected to hit the place-detail fallback.
	MissingContact int `json:"missing_contact"`
	PagesPerSite   int `json:"pages_per_site"`
}

// Estimate is the per-stage cost breakdown in USD.
type Estimate struct {
	Discovery float64 `json:"discovery"`
	Crawl     float64 `json:"crawl"`
	Fallback  float64 `json:"fallback"`
	Export    float64 `json:"export"`
	Refresh   float64 `json:"refresh"`
	Total     float64 `json:"total"`
}

// Calculator computes cost estimates.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate prices u. Crawl cost assumes every site uses its full page budget.
func (c *Calculator) Estimate(u Usage) Estimate {
	e := Estimate{
		Discovery: float64(u.RegistryCalls)*c.rates.RegistryPerCall + float64(u.SearchCalls)*c.rates.PlacesSearch,
		Crawl:     float64(u.WithWebsite*u.PagesPerSite) * c.rates.CrawlPerPage,
		Fallback:  float64(u.MissingContact) * c.rates.PlacesDetail,
		Export:    float64(u.Businesses) * c.rates.ExportPerRecord,
		Refresh:   float64(u.Businesses) * c.rates.RefreshPerRecord,
	}
	e.Discovery = round(e.Discovery)
	e.Crawl = round(e.Crawl)
	e.Fallback = round(e.Fallback)
	e.Export = round(e.Export)
	e.Refresh = round(e.Refresh)
	e.Total = round(e.Discovery + e.Crawl + e.Fallback + e.Export + e.Refresh)
	return e
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
