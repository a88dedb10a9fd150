package processing

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	redirectRe       = regexp.MustCompile(`(?i)^\s*#\s*redirect\b`)
	redirectTargetRe = regexp.MustCompile(`\[\[([^\]|#]*)`)
)

// skipPrefixes are namespaces that never hold encyclopedic content.
var skipPrefixes = []string{
	"Wikipedia:", "Template:", "Category:", "File:", "Image:",
	"Help:", "Portal:", "Draft:", "MediaWiki:", "Module:",
	"User:", "Talk:", "User talk:", "Wikipedia talk:",
	"Template talk:", "Category talk:", "File talk:",
	"Help talk:", "Portal talk:", "Draft talk:",
}

// NormalizeTitle returns the canonical display form of a title: underscores
// become spaces, whitespace runs collapse, the text is NFC and the first
// letter is upper case. It is idempotent.
func NormalizeTitle(raw string) string {
	s := strings.ReplaceAll(raw, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	if r != utf8.RuneError && unicode.IsLower(r) {
		s = string(unicode.ToUpper(r)) + s[size:]
	}
	return norm.NFC.String(s)
}

// TitleKey is the lookup key for a title: the normalized title, case folded.
// Variant spellings such as "Albert_Einstein" and "albert einstein" share one key.
func TitleKey(raw string) string {
	// cases.Caser keeps state, so one is built per call.
	return norm.NFC.String(cases.Fold().String(NormalizeTitle(raw)))
}

// IsRedirect reports whether the markup is a redirect directive.
func IsRedirect(text string) bool {
	return redirectRe.MatchString(text)
}

// RedirectTarget returns the normalized target of a redirect directive.
func RedirectTarget(text string) (string, bool) {
	loc := redirectRe.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	m := redirectTargetRe.FindStringSubmatch(text[loc[1]:])
	if m == nil {
		return "", false
	}
	target := NormalizeTitle(m[1])
	return target, target != ""
}

// IsContentTitle is false for pages living in a non-article namespace.
func IsContentTitle(title string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(title, prefix) {
			return false
		}
	}
	return true
}
