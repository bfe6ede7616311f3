package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

const homepageHTML = `<!doctype html>
<html><head>
<title>Acme Dental</title>
<meta name="description" content="Acme Dental Clinic">
<script type="application/ld+json">{"@type":"Dentist","telephone":"+81-3-9999-0000"}</script>
<script>var trap = "script@example.com";</script>
</head>
<body>
<header><p>ご予約 TEL 03-1234-5678</p></header>
<main>
  <p>院長 山田 taro.yamada@example.com</p>
  <p>FAX 03-1234-5679</p>
  <a href="https://www.facebook.com/AcmeDental/">Facebook</a>
  <a href="https://twitter.com/intent/tweet?text=hi">Share</a>
  <img src="/img/logo@2x.png">
</main>
<footer>
  <a href="mailto:Info@Example.com?subject=hello">メール</a>
  <p>Copyright Acme</p>
  <a href="https://www.instagram.com/acme.dental/">Instagram</a>
</footer>
</body></html>`

func page(url, html string) model.CrawlPage {
	return model.CrawlPage{URL: url, FinalURL: url, HTML: html, ContentHash: "hash-" + url}
}

func findingValues(fs []Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Value
	}
	return out
}

func findingFor(t *testing.T, fs []Finding, value string) Finding {
	t.Helper()
	for _, f := range fs {
		if f.Value == value {
			return f
		}
	}
	require.Failf(t, "finding not found", "%s not in %v", value, findingValues(fs))
	return Finding{}
}

func TestExtractPage_Homepage(t *testing.T) {
	res := ExtractPage(page("https://example.com/", homepageHTML))

	assert.ElementsMatch(t, []string{
		"info@example.com",
		"+81399990000",
		"+81312345678",
		"taro.yamada@example.com",
	}, findingValues(res.Contacts))

	info := findingFor(t, res.Contacts, "info@example.com")
	assert.Equal(t, model.ContactEmail, info.Type)
	assert.Equal(t, model.PageTypeFooter, info.PageType)
	assert.True(t, info.IsGeneric)
	assert.Equal(t, "https://example.com/", info.SourceURL)
	assert.Equal(t, "hash-https://example.com/", info.ContentHash)

	person := findingFor(t, res.Contacts, "taro.yamada@example.com")
	assert.False(t, person.IsGeneric)
	assert.Equal(t, model.PageTypeHomepage, person.PageType)

	tel := findingFor(t, res.Contacts, "+81312345678")
	assert.Equal(t, model.ContactPhone, tel.Type)

	assert.Equal(t, []Social{
		{Platform: "facebook", URL: "https://www.facebook.com/acmedental"},
		{Platform: "instagram", URL: "https://www.instagram.com/acme.dental"},
	}, res.Social)
}

func TestExtractPage_ContactPageSources(t *testing.T) {
	html := `<html><body>
<form action="/send.php" method="post">
  <input type="email" name="email">
  <input type="hidden" name="to" value="contact@acme.co.jp">
</form>
<div data-tel="0120-111-222">フリーダイヤル</div>
<p>お問い合わせ: support [at] acme [dot] co [dot] jp</p>
</body></html>`
	res := ExtractPage(page("https://acme.co.jp/contact/", html))

	values := findingValues(res.Contacts)
	assert.Contains(t, values, "contact@acme.co.jp")
	assert.Contains(t, values, "support@acme.co.jp")
	assert.Contains(t, values, "+81120111222")
	for _, f := range res.Contacts {
		assert.Equal(t, model.PageTypeContact, f.PageType, f.Value)
	}
}

func TestExtractPage_FallsBackToRequestedURL(t *testing.T) {
	p := model.CrawlPage{URL: "https://acme.jp/about", HTML: `<p>info@acme.jp</p>`}
	res := ExtractPage(p)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, "https://acme.jp/about", res.Contacts[0].SourceURL)
	assert.Equal(t, model.PageTypeAbout, res.Contacts[0].PageType)
}

func TestExtractPage_Empty(t *testing.T) {
	res := ExtractPage(page("https://acme.jp/", ""))
	assert.Empty(t, res.Contacts)
	assert.Empty(t, res.Social)
}

func TestCollect_FirstSightingWins(t *testing.T) {
	pages := []model.CrawlPage{
		page("https://acme.jp/", `<footer><a href="mailto:info@acme.jp">mail</a></footer>`),
		page("https://acme.jp/contact", `<p>info@acme.jp TEL 03-1234-5678</p><a href="https://x.com/acme">x</a>`),
		page("https://acme.jp/company", `<p>TEL 03-1234-5678</p><a href="https://twitter.com/Acme">x</a>`),
	}

	findings, social := Collect(pages)
	require.Len(t, findings, 2)
	assert.Equal(t, "info@acme.jp", findings[0].Value)
	assert.Equal(t, model.PageTypeFooter, findings[0].PageType)
	assert.Equal(t, "https://acme.jp/", findings[0].SourceURL)
	assert.Equal(t, "+81312345678", findings[1].Value)
	assert.Equal(t, model.PageTypeContact, findings[1].PageType)

	assert.Equal(t, []Social{{Platform: "x", URL: "https://x.com/acme"}}, social)
}
