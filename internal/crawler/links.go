package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// SeedPaths are probed on every site after the homepage.
var SeedPaths = []string{
	"/contact",
	"/contact-us",
	"/inquiry",
	"/toiawase",
	"/otoiawase",
	"/about",
	"/about-us",
	"/company",
	"/corporate",
	"/kaisha",
	"/gaiyou",
	"/access",
}

// contactKeywords mark links worth following from the homepage, matched
// against lower-cased anchor text and href.
var contactKeywords = []string{
	"contact", "inquiry", "toiawase", "otoiawase", "about", "company",
	"corporate", "kaisha", "gaiyou", "profile", "access",
	"お問い合わせ", "お問合せ", "問い合わせ", "問合せ", "会社概要", "会社案内",
	"企業情報", "アクセス", "店舗情報", "医院案内", "事務所案内",
}

var footerSelectors = "footer a[href], #footer a[href], .footer a[href], #ft a[href]"

// NormalizeURL makes raw an absolute http(s) URL with a path and without a
// fragment.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: parse url")
	}
	if u.Host == "" {
		return nil, eris.Errorf("crawler: %q has no host", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// SeedURLs returns the homepage followed by the fixed seed paths on its
// origin.
func SeedURLs(home *url.URL) []string {
	out := make([]string, 0, len(SeedPaths)+1)
	out = append(out, home.String())
	for _, p := range SeedPaths {
		out = append(out, (&url.URL{Scheme: home.Scheme, Host: home.Host, Path: p}).String())
	}
	return out
}

// HarvestLinks returns same-origin footer links and links whose text or
// href mentions a contact keyword, in document order without duplicates.
func HarvestLinks(base *url.URL, html []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(href string) {
		u := resolveSameOrigin(base, href)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	doc.Find(footerSelectors).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href)
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.ToLower(strings.TrimSpace(s.Text()) + " " + s.AttrOr("title", "") + " " + href)
		for _, kw := range contactKeywords {
			if strings.Contains(text, kw) {
				add(href)
				return
			}
		}
	})

	return out
}

// resolveSameOrigin resolves href against base and returns it without a
// fragment, or "" when it leaves the origin or is not a page link.
func resolveSameOrigin(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if !sameSite(abs.Host, base.Host) {
		return ""
	}
	abs.Fragment = ""
	if abs.Path == "" {
		abs.Path = "/"
	}
	return abs.String()
}

// sameSite treats "www." and bare hosts as one origin.
func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}
