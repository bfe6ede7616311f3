package crawler

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExcludePaths skips sections that never carry contact details and
// binary assets the extractor cannot read.
var DefaultExcludePaths = []string{
	"/blog/*",
	"/news/*",
	"/press/*",
	"/topics/*",
	"/column/*",
	"/recruit/*",
	"/careers/*",
	"/wp-content/*",
	"/*.pdf",
	"/*.jpg",
	"/*.png",
	"/*.zip",
}

// PathMatcher filters URLs by glob-style path patterns. A trailing "/*"
// also matches deeper paths, so "/blog/*" excludes "/blog/2024/01/post".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher. Empty patterns fall back to
// DefaultExcludePaths.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = DefaultExcludePaths
	}
	lower := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lower = append(lower, p)
		}
	}
	return &PathMatcher{patterns: lower}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL matches an exclude pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

// matchSegmented tries path.Match, then a prefix match for "dir/*" patterns,
// then the last path element for "/*.ext" patterns at any depth.
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
	}
	if strings.HasPrefix(pattern, "/*.") {
		ok, _ := path.Match(strings.TrimPrefix(pattern, "/"), path.Base(urlPath))
		return ok
	}
	return false
}
