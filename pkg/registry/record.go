package registry

import "strings"

// Record is one company from the registry.
type Record struct {
	Number           string   `json:"corporateNumber"`
	Name             string   `json:"name"`
	Address          string   `json:"location"`
	PostalCode       string   `json:"postalCode"`
	PrefectureCode   string   `json:"prefectureCode"`
	MunicipalityCode string   `json:"municipalityCode"`
	CityCode         string   `json:"cityCode"` // pre-merger city identifier
	Website          string   `json:"companyUrl"`
	Phone            string   `json:"phoneNumber"`
	Email            string   `json:"email"`
	ActivityCodes    []string `json:"businessItems"`
	Status           string   `json:"status"`

	// QueryLocation is the location filter that returned this record.
	QueryLocation string `json:"-"`
	// QueryActivity is the activity filter that returned this record.
	QueryActivity string `json:"-"`
}

// LocationID picks the record's location identifier: municipality, then
// prefecture, then legacy city, then the query filter that found it.
func (r Record) LocationID() string {
	for _, v := range []string{r.MunicipalityCode, r.PrefectureCode, r.CityCode, r.QueryLocation} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
