// Package extract turns crawled page snapshots into normalized contacts,
// falling back to the place-detail API when the crawl leaves gaps.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/sells-group/prospector/internal/model"
)

// Finding is one contact sighting with the page it came from.
type Finding struct {
	Type        model.ContactType
	Value       string
	IsGeneric   bool
	SourceURL   string
	PageType    model.PageType
	ContentHash string
}

// Key identifies a finding for deduplication within a business.
func (f Finding) Key() string {
	return string(f.Type) + "|" + f.Value
}

// Social is a canonical profile link.
type Social struct {
	Platform string
	URL      string
}

// PageResult holds everything found on one page.
type PageResult struct {
	Contacts []Finding
	Social   []Social
}

const footerSelector = "footer, #footer, .footer, #ft"

// regions are scanned in order; the first sighting of a value keeps its
// page type, so the footer goes before the whole body.
var regions = []struct {
	selector string
	footer   bool
}{
	{"header, #header, .header", false},
	{"nav, #nav, .nav, .gnav, #gnav", false},
	{".topbar, #topbar, .top-bar, #top-bar, .header-top, #header-top", false},
	{footerSelector, true},
	{"form, #contact, .contact, .contact-form, .wpcf7", false},
	{"body", false},
}

type collector struct {
	src      string
	hash     string
	pageType model.PageType
	seen     map[string]bool
	social   map[string]bool
	res      PageResult
}

func (c *collector) add(t model.ContactType, value string, pt model.PageType) {
	f := Finding{Type: t, Value: value, SourceURL: c.src, PageType: pt, ContentHash: c.hash}
	if t == model.ContactEmail {
		f.IsGeneric = IsGenericMailbox(value)
	}
	if c.seen[f.Key()] {
		return
	}
	c.seen[f.Key()] = true
	c.res.Contacts = append(c.res.Contacts, f)
}

func (c *collector) text(s string, pt model.PageType) {
	for _, e := range findEmails(s) {
		c.add(model.ContactEmail, e, pt)
	}
	for _, p := range findPhones(s) {
		c.add(model.ContactPhone, p, pt)
	}
}

func (c *collector) email(raw string, pt model.PageType) {
	if e, ok := NormalizeEmail(raw); ok {
		c.add(model.ContactEmail, e, pt)
	}
}

// ExtractPage scans one page: mailto and tel anchors first, then the text
// of each region, then form fields, meta tags and data attributes.
func ExtractPage(page model.CrawlPage) PageResult {
	src := page.FinalURL
	if src == "" {
		src = page.URL
	}
	c := &collector{
		src:      src,
		hash:     page.ContentHash,
		pageType: InferPageType(src),
		seen:     make(map[string]bool),
		social:   make(map[string]bool),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return c.res
	}

	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		pt := c.pageType
		if s.Closest(footerSelector).Length() > 0 {
			pt = model.PageTypeFooter
		}
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			addrs := strings.TrimPrefix(lower, "mailto:")
			if i := strings.IndexAny(addrs, "?#"); i >= 0 {
				addrs = addrs[:i]
			}
			for _, a := range strings.Split(addrs, ",") {
				c.email(a, pt)
			}
		case strings.HasPrefix(lower, "tel:"):
			if p, ok := NormalizePhone(href); ok {
				c.add(model.ContactPhone, p, pt)
			}
		default:
			if platform, canonical, ok := CanonicalSocial(href); ok && !c.social[canonical] {
				c.social[canonical] = true
				c.res.Social = append(c.res.Social, Social{Platform: platform, URL: canonical})
			}
		}
	})

	// Structured data carries "email" and "telephone" fields.
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		c.text(s.Text(), c.pageType)
	})
	doc.Find("script, style, noscript, template").Remove()

	for _, r := range regions {
		pt := c.pageType
		if r.footer {
			pt = model.PageTypeFooter
		}
		doc.Find(r.selector).Each(func(_ int, s *goquery.Selection) {
			c.text(spacedText(s), pt)
		})
	}

	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		action := s.AttrOr("action", "")
		if strings.HasPrefix(strings.ToLower(action), "mailto:") {
			c.email(action, c.pageType)
			return
		}
		c.text(action, c.pageType)
	})

	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "email":
			c.email(s.AttrOr("value", ""), c.pageType)
			c.email(s.AttrOr("placeholder", ""), c.pageType)
		case "hidden":
			c.text(s.AttrOr("value", ""), c.pageType)
		case "tel":
			c.text(s.AttrOr("value", ""), c.pageType)
		}
	})

	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		c.text(s.AttrOr("content", ""), c.pageType)
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(attr.Key, "data-") {
				c.text(attr.Val, c.pageType)
			}
		}
	})

	return c.res
}

// spacedText joins the selection's text nodes with spaces so adjacent
// elements do not run together.
func spacedText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}
