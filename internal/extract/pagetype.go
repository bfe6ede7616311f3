package extract

import (
	"net/url"
	"strings"

	"github.com/sells-group/prospector/internal/model"
)

var pageTypeKeywords = []struct {
	pageType model.PageType
	keywords []string
}{
	{model.PageTypeContact, []string{"contact", "inquiry", "toiawase", "otoiawase", "mailform"}},
	{model.PageTypeCompany, []string{"company", "corporate", "kaisha", "corp", "outline", "gaiyou", "gaiyo", "access"}},
	{model.PageTypeAbout, []string{"about", "profile", "greeting", "aisatsu", "philosophy", "concept", "staff", "doctor"}},
}

// InferPageType classifies a page by its URL path. Paths that match no
// keyword, including the site root, count as the homepage.
func InferPageType(rawURL string) model.PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.PageTypeHomepage
	}
	p := strings.ToLower(u.Path)
	for _, entry := range pageTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(p, kw) {
				return entry.pageType
			}
		}
	}
	return model.PageTypeHomepage
}
