package extract

import (
	"net/url"
	"strings"
)

type socialPlatform struct {
	name string
	host string
	// prefixed platforms keep a leading path segment such as "company".
	prefixes []string
	// caseSensitive handles keep their case.
	caseSensitive bool
}

var socialHosts = map[string]socialPlatform{
	"facebook.com":  {name: "facebook", host: "www.facebook.com"},
	"fb.com":        {name: "facebook", host: "www.facebook.com"},
	"instagram.com": {name: "instagram", host: "www.instagram.com"},
	"twitter.com":   {name: "x", host: "x.com"},
	"x.com":         {name: "x", host: "x.com"},
	"linkedin.com":  {name: "linkedin", host: "www.linkedin.com", prefixes: []string{"company", "in", "school"}},
	"youtube.com":   {name: "youtube", host: "www.youtube.com", prefixes: []string{"channel", "c", "user"}, caseSensitive: true},
	"tiktok.com":    {name: "tiktok", host: "www.tiktok.com"},
	"note.com":      {name: "note", host: "note.com"},
}

// nonProfileSegments are share widgets and content pages, not profiles.
var nonProfileSegments = map[string]bool{
	"sharer": true, "sharer.php": true, "share": true, "share.php": true,
	"intent": true, "dialog": true, "plugins": true, "hashtag": true,
	"watch": true, "p": true, "reel": true, "tr": true, "embed": true,
	"home": true, "login": true, "search": true, "explore": true, "results": true,
}

// CanonicalSocial maps a profile link to (platform, canonical URL). The
// canonical form is https://<platform host>/<first path segment>, with the
// handle-type prefix kept for platforms that use one.
func CanonicalSocial(raw string) (platform, canonical string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "mobile.")
	p, known := socialHosts[host]
	if !known {
		return "", "", false
	}

	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) == 0 {
		return "", "", false
	}
	first := segs[0]
	if nonProfileSegments[strings.ToLower(first)] {
		return "", "", false
	}

	path := first
	for _, prefix := range p.prefixes {
		if strings.EqualFold(first, prefix) {
			if len(segs) < 2 {
				return "", "", false
			}
			path = strings.ToLower(first) + "/" + segs[1]
			break
		}
	}
	if !p.caseSensitive {
		path = strings.ToLower(path)
	}
	return p.name, "https://" + p.host + "/" + path, true
}
