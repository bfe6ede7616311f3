package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Key prefixes of canonical external ids, in precedence order.
const (
	keyRegistry  = "reg:"
	keyPlace     = "place:"
	keyDomain    = "domain:"
	keySynthetic = "syn:"
)

// DefaultDirectoryBlocklist holds listing and social hosts whose URLs are
// never a business's own website.
var DefaultDirectoryBlocklist = []string{
	"tabelog.com",
	"hotpepper.jp",
	"ekiten.jp",
	"mapion.co.jp",
	"itp.ne.jp",
	"goo.ne.jp",
	"jalan.net",
	"retty.me",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"line.me",
	"yelp.com",
	"google.com",
}

var corporateMarkers = []string{"株式会社", "有限会社", "合同会社", "合資会社", "(株)", "(有)", "(同)"}

var corporateSuffixes = map[string]bool{
	"co": true, "ltd": true, "inc": true, "llc": true, "corp": true, "corporation": true, "kk": true,
}

// NormalizeDomain returns the lower-cased host of a website without "www."
// or port. Bare hosts without a scheme are accepted.
func NormalizeDomain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// NormalizeWebsite returns an absolute http(s) URL for the website, or ""
// when it is unparseable or points at a directory host.
func NormalizeWebsite(raw string, blocklist []string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || NormalizeDomain(raw) == "" {
		return ""
	}
	if isDirectoryURL(raw, blocklist) {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// isDirectoryURL checks if a URL's hostname matches any entry in the blocklist.
func isDirectoryURL(website string, blocklist []string) bool {
	host := NormalizeDomain(website)
	if host == "" {
		return false
	}
	for _, blocked := range blocklist {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// NormalizeName folds width and case and drops corporate-form markers,
// whitespace and punctuation, so "株式会社 ＡＢＣ" and "ABC(株)" agree.
func NormalizeName(name string) string {
	s := strings.ToLower(norm.NFKC.String(name))
	for _, m := range corporateMarkers {
		s = strings.ReplaceAll(s, m, " ")
	}
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for len(tokens) > 1 && corporateSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, "")
}

// SyntheticKey derives a stable key from name and location for sources that
// give neither an identifier nor a website.
func SyntheticKey(name, locationID string) string {
	sum := sha256.Sum256([]byte(NormalizeName(name) + "|" + strings.TrimSpace(locationID)))
	return keySynthetic + hex.EncodeToString(sum[:12])
}

// CanonicalKey picks the external id: provider id, then website domain, then
// the synthetic name+location key.
func CanonicalKey(c Candidate) string {
	if id := strings.TrimSpace(c.ProviderID); id != "" {
		if c.Source == SourcePlaces {
			return keyPlace + id
		}
		return keyRegistry + id
	}
	if d := NormalizeDomain(c.Website); d != "" {
		return keyDomain + d
	}
	if NormalizeName(c.Name) == "" {
		return ""
	}
	return SyntheticKey(c.Name, c.LocationID)
}

// Dedupe collapses candidates sharing a canonical key. The first sighting
// wins; later sightings only fill its empty fields. Candidates without any
// usable key are dropped. It returns the survivors in first-seen order and
// the number of candidates merged or dropped.
func Dedupe(cands []Candidate) ([]Candidate, int) {
	index := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	dropped := 0
	for _, c := range cands {
		c.Key = CanonicalKey(c)
		if c.Key == "" {
			dropped++
			continue
		}
		if i, ok := index[c.Key]; ok {
			out[i] = merge(out[i], c)
			dropped++
			continue
		}
		index[c.Key] = len(out)
		out = append(out, c)
	}
	return out, dropped
}

func merge(dst, src Candidate) Candidate {
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.Name, src.Name)
	fill(&dst.Address, src.Address)
	fill(&dst.PostalCode, src.PostalCode)
	fill(&dst.LocationID, src.LocationID)
	fill(&dst.Industry, src.Industry)
	fill(&dst.Website, src.Website)
	fill(&dst.Phone, src.Phone)
	fill(&dst.Email, src.Email)
	fill(&dst.PlaceID, src.PlaceID)
	if dst.Latitude == nil {
		dst.Latitude, dst.Longitude = src.Latitude, src.Longitude
	}
	return dst
}
