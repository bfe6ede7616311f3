package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	plainEmailRe = regexp.MustCompile(`[a-z0-9][a-z0-9._%+-]*@[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,24}`)
	// obfuscatedEmailRe matches bracketed or starred separators. Plain "@"
	// addresses are left to plainEmailRe.
	obfuscatedEmailRe = regexp.MustCompile(`[a-z0-9][a-z0-9._%+-]*\s*(?:\[\s*at\s*\]|\(\s*at\s*\)|\{\s*at\s*\}|<\s*at\s*>|★|☆)\s*[a-z0-9-]+(?:(?:\s*(?:\[\s*dot\s*\]|\(\s*dot\s*\)|\{\s*dot\s*\})\s*|\.)[a-z0-9-]+)+`)
	// spelledEmailRe needs both words spelled out, so prose such as
	// "visit us at example.com" is not read as an address.
	spelledEmailRe = regexp.MustCompile(`[a-z0-9][a-z0-9._%+-]*\s+at\s+[a-z0-9-]+(?:\s+dot\s+[a-z0-9-]+)+`)
	// spacedEmailRe matches "info @ example . com". A period only joins
	// labels when it is spaced on both sides or on neither.
	spacedEmailRe = regexp.MustCompile(`[a-z0-9][a-z0-9._%+-]*\s+@\s+[a-z0-9-]+(?:(?:\s+\.\s+|\.)[a-z0-9-]+)+`)

	phoneRe = regexp.MustCompile(`(?:\+81[\s-]?(?:\(0\)\s?)?|\(?0)\d{1,4}(?:[\s\-.)]{0,2}\d{1,4}){1,3}`)
)

// faxMarkers and telMarkers label numbers in surrounding text.
var (
	faxMarkers = []string{"fax", "ファックス", "ファクス"}
	telMarkers = []string{"tel", "phone", "電話", "☎", "お問い合わせ"}
)

// prepareText folds full-width characters and lower-cases s so the
// patterns above apply.
func prepareText(s string) string {
	return strings.ToLower(width.Fold.String(s))
}

// findEmails returns normalized emails found in text, in order.
func findEmails(text string) []string {
	text = prepareText(text)
	var out []string
	for _, m := range plainEmailRe.FindAllString(text, -1) {
		if e, ok := NormalizeEmail(m); ok {
			out = append(out, e)
		}
	}
	for _, re := range []*regexp.Regexp{obfuscatedEmailRe, spelledEmailRe, spacedEmailRe} {
		for _, m := range re.FindAllString(text, -1) {
			if e, ok := NormalizeEmail(m); ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// findPhones returns normalized phone numbers found in text, in order.
// Numbers labelled as fax are skipped.
func findPhones(text string) []string {
	text = prepareText(text)
	var out []string
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		if isFax(text, loc[0]) {
			continue
		}
		if p, ok := NormalizePhone(text[loc[0]:loc[1]]); ok {
			out = append(out, p)
		}
	}
	return out
}

// isFax looks at the label closest before the number at start.
func isFax(text string, start int) bool {
	lo := max(start-24, 0)
	window := text[lo:start]
	fax, tel := -1, -1
	for _, m := range faxMarkers {
		fax = max(fax, strings.LastIndex(window, m))
	}
	for _, m := range telMarkers {
		tel = max(tel, strings.LastIndex(window, m))
	}
	return fax > tel
}
