package processing

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var anchorRe = regexp.MustCompile(`<a href="/wiki/([^"#]*)(?:#[^"]*)?">(.*?)</a>`)

// PlainText strips the generated anchors from sanitized text and decodes
// entities, giving the text a reader sees.
func PlainText(content string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(content, ""))
}

// CharCount counts characters, not bytes.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

// RuneBoundary clamps i into [0, len(s)] and moves it back to the start of
// the rune containing it. Any offset is accepted.
func RuneBoundary(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// Truncate shortens s to at most maxChars characters. It cuts at the last
// whitespace when that keeps more than half of the budget, otherwise at the
// character limit. It never splits a code point.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}

	end := 0
	for n := 0; n < maxChars; n++ {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	cut := s[:end]
	if sp := strings.LastIndexFunc(cut, unicode.IsSpace); sp > 0 && utf8.RuneCountInString(cut[:sp]) > maxChars/2 {
		cut = cut[:sp]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}

// PruneLinks replaces anchors whose target is unknown with their label.
// exists receives the TitleKey of the target.
func PruneLinks(content string, exists func(key string) bool) string {
	return anchorRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := anchorRe.FindStringSubmatch(m)
		target, err := url.PathUnescape(html.UnescapeString(sub[1]))
		if err != nil {
			return sub[2]
		}
		if exists(TitleKey(target)) {
			return m
		}
		return sub[2]
	})
}
