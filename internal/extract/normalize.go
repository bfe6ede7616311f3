package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	atRe  = regexp.MustCompile(`\s*(?:\[\s*at\s*\]|\(\s*at\s*\)|\{\s*at\s*\}|<\s*at\s*>|★|☆|@)\s*`)
	dotRe = regexp.MustCompile(`\s*(?:\[\s*dot\s*\]|\(\s*dot\s*\)|\{\s*dot\s*\}|<\s*dot\s*>)\s*`)
	// Spelled-out separators only count between word characters.
	spacedAtRe  = regexp.MustCompile(`([a-z0-9._%+-])\s+at\s+([a-z0-9-])`)
	spacedDotRe = regexp.MustCompile(`([a-z0-9-])\s+dot\s+([a-z0-9-])`)
	// A literal "." counts when spaced on both sides, as in "example . com".
	spacedPeriodRe = regexp.MustCompile(`([a-z0-9-])\s+\.\s+([a-z0-9-])`)

	strictEmailRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._%+-]{0,62}[a-z0-9_%+-])?@(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,24}$`)
)

// fileSuffixes catch asset names such as "logo@2x.png" that look like emails.
var fileSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// NormalizeEmail folds, lower-cases and de-obfuscates raw, then checks it
// against a strict address shape. It returns false for anything that does
// not survive. Normalizing a normalized address returns it unchanged.
func NormalizeEmail(raw string) (string, bool) {
	s := strings.ToLower(width.Fold.String(raw))
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "mailto:")
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	s = atRe.ReplaceAllString(s, "@")
	s = dotRe.ReplaceAllString(s, ".")
	if !strings.Contains(s, "@") {
		s = spacedAtRe.ReplaceAllString(s, "$1@$2")
	}
	s = spacedDotRe.ReplaceAllString(s, "$1.$2")
	s = spacedPeriodRe.ReplaceAllString(s, "$1.$2")
	s = strings.Trim(s, " \t\r\n<>\"'.,;:()[]{}")

	if strings.Count(s, "@") != 1 || strings.Contains(s, "..") {
		return "", false
	}
	for _, suffix := range fileSuffixes {
		if strings.HasSuffix(s, suffix) {
			return "", false
		}
	}
	if !strictEmailRe.MatchString(s) {
		return "", false
	}
	return s, true
}

// NormalizePhone reduces raw to a Japanese number in E.164 form
// ("+81" followed by the national number without its leading 0). Only
// national numbers of 10 or 11 digits starting with 0, or numbers already
// carrying the 81 country code, are accepted; anything else is discarded.
// Normalizing a normalized number returns it unchanged.
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(width.Fold.String(raw))
	s = strings.TrimPrefix(strings.ToLower(s), "tel:")

	plus := strings.HasPrefix(strings.TrimSpace(s), "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()

	// Drop the "(0)" trunk prefix some sites write after the country code.
	if strings.HasPrefix(d, "810") && len(d) >= 12 {
		d = "81" + d[3:]
	}

	var national string
	switch {
	case strings.HasPrefix(d, "81") && (len(d) == 11 || len(d) == 12):
		national = "0" + d[2:]
	case plus:
		return "", false
	default:
		national = d
	}

	if len(national) != 10 && len(national) != 11 {
		return "", false
	}
	if national[0] != '0' || national[1] == '0' {
		return "", false
	}
	// Only mobile, IP, toll-free and pager ranges use 11 digits.
	if len(national) == 11 {
		switch national[:3] {
		case "070", "080", "090", "050", "020", "060":
		default:
			if national[:4] != "0800" {
				return "", false
			}
		}
	}
	return "+81" + national[1:], true
}

// genericMailboxes are role addresses shared by a team rather than a person.
var genericMailboxes = map[string]bool{
	"info": true, "information": true, "contact": true, "contactus": true,
	"sales": true, "support": true, "office": true, "admin": true,
	"mail": true, "email": true, "inquiry": true, "inquiries": true,
	"enquiry": true, "toiawase": true, "otoiawase": true, "hello": true,
	"webmaster": true, "postmaster": true, "noreply": true, "no-reply": true,
	"reception": true, "uketsuke": true, "recruit": true, "saiyo": true,
	"customer": true, "service": true, "help": true, "general": true,
	"desk": true, "staff": true, "shop": true, "reserve": true, "yoyaku": true,
}

// IsGenericMailbox reports whether email is a role mailbox such as info@.
// Trailing digits are ignored, so info2@ is generic too.
func IsGenericMailbox(email string) bool {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return false
	}
	local = strings.TrimRight(local, "0123456789")
	local = strings.TrimRight(local, "-_.")
	return genericMailboxes[local]
}
