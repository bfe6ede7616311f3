package discovery

import (
	"math"

	"github.com/sells-group/prospector/internal/model"
)

// Stats are the descriptive outputs of one discovery run.
type Stats struct {
	Source          string  `json:"source"`
	Reused          bool    `json:"reused"`
	Candidates      int     `json:"candidates"`
	Duplicates      int     `json:"duplicates"`
	BusinessesFound int     `json:"businesses_found"`
	WithWebsite     int     `json:"with_website"`
	WithPhone       int     `json:"with_phone"`
	WithEmail       int     `json:"with_email"`
	WebsitePct      float64 `json:"website_pct"`
	PhonePct        float64 `json:"phone_pct"`
	EmailPct        float64 `json:"email_pct"`
	RegistryCalls   int     `json:"registry_calls"`
	SearchCalls     int     `json:"search_calls"`
}

// Completeness fills the business counts and field-coverage percentages.
func (s *Stats) Completeness(businesses []model.Business) {
	s.BusinessesFound = len(businesses)
	s.WithWebsite, s.WithPhone, s.WithEmail = 0, 0, 0
	for _, b := range businesses {
		if b.Website != "" {
			s.WithWebsite++
		}
		if b.Phone != "" {
			s.WithPhone++
		}
		if b.Email != "" {
			s.WithEmail++
		}
	}
	s.WebsitePct = pct(s.WithWebsite, s.BusinessesFound)
	s.PhonePct = pct(s.WithPhone, s.BusinessesFound)
	s.EmailPct = pct(s.WithEmail, s.BusinessesFound)
}

// MissingContact counts businesses lacking a website or a phone.
func MissingContact(businesses []model.Business) int {
	n := 0
	for _, b := range businesses {
		if b.Website == "" || b.Phone == "" {
			n++
		}
	}
	return n
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
