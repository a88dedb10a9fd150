// Package processing turns raw wiki markup into sanitized article text.
// Every function here is pure: the same input always yields the same output.
package processing

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Result is the normalized form of one page's markup.
type Result struct {
	// Text is HTML-safe: every character from the source is escaped and the
	// only markup present is anchors generated for internal links.
	Text       string
	Categories []string
	Links      []string
	// PlainChars is the character count of PlainText(Text).
	PlainChars int
}

// Links are parked in the text as U+E000 <index> U+E001 while the rest of the
// markup is cleaned. Both runes are removed from the input up front and from
// every decoded entity, so only generated placeholders can exist.
const (
	placeholderOpen  = '\uE000'
	placeholderClose = '\uE001'
)

var (
	placeholderStrip = strings.NewReplacer(string(placeholderOpen), "", string(placeholderClose), "")
	placeholderRe    = regexp.MustCompile(`\x{E000}([0-9]+)\x{E001}`)

	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	refSelfRe    = regexp.MustCompile(`(?i)<ref[^>]*/\s*>`)
	refRe        = regexp.MustCompile(`(?is)<ref(?:\s[^>]*)?>.*?</ref\s*>`)
	nonProseRes  = blockTagPatterns("gallery", "imagemap", "timeline", "math", "chem", "score", "syntaxhighlight", "source", "graph")
	extLinkRe    = regexp.MustCompile(`\[(?:https?|ftp)://[^\s\]]+(?:\s+([^\]]*))?\]`)
	quoteRe      = regexp.MustCompile(`'{2,}`)
	headerRe     = regexp.MustCompile(`(?m)^[ \t]*={2,6}[ \t]*(.+?)[ \t]*={2,6}[ \t]*$`)
	bulletRe     = regexp.MustCompile(`(?m)^[ \t]*[\*#:;]+[ \t]*`)
	ruleRe       = regexp.MustCompile(`(?m)^-{4,}[ \t]*$`)
	magicWordRe  = regexp.MustCompile(`__[A-Z]+__`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	spaceRe      = regexp.MustCompile(`[ \t\x{00A0}]+`)
	edgeSpaceRe  = regexp.MustCompile(`(?m)^ +| +$`)
	newlineRe    = regexp.MustCompile(`\n{3,}`)
	linkTrailRe  = regexp.MustCompile(`^[a-z]+`)
	interlangRe  = regexp.MustCompile(`^[a-z]{2,3}(?:-[a-z]+)?$`)
	parentheseRe = regexp.MustCompile(`\s*\([^)]*\)$`)
)

func blockTagPatterns(names ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(names))
	for _, n := range names {
		out = append(out, regexp.MustCompile(`(?is)<`+n+`(?:\s[^>]*)?>.*?</`+n+`\s*>`))
	}
	return out
}

type link struct {
	page     string
	fragment string
	label    string
}

// Normalize converts raw markup into sanitized text, the category set and the
// internal link targets.
func Normalize(raw string) Result {
	s := placeholderStrip.Replace(raw)
	s = commentRe.ReplaceAllString(s, "")
	s = refSelfRe.ReplaceAllString(s, "")
	s = refRe.ReplaceAllString(s, "")
	for _, re := range nonProseRes {
		s = re.ReplaceAllString(s, "")
	}
	s = stripNested(s)

	var (
		links      []link
		categories []string
		seenCat    = map[string]struct{}{}
	)
	s = replaceLinks(s, func(content, trail string) (string, bool) {
		trimmed := strings.TrimSpace(content)
		colon := strings.HasPrefix(trimmed, ":")
		body := strings.TrimPrefix(trimmed, ":")
		prefix, rest, hasPrefix := strings.Cut(body, ":")

		if hasPrefix && !colon {
			switch strings.ToLower(strings.TrimSpace(prefix)) {
			case "file", "image", "media":
				return "", false
			case "category":
				name, _, _ := strings.Cut(rest, "|")
				name = NormalizeTitle(html.UnescapeString(name))
				if name != "" {
					if _, dup := seenCat[name]; !dup {
						seenCat[name] = struct{}{}
						categories = append(categories, name)
					}
				}
				return "", false
			}
			if interlangRe.MatchString(strings.TrimSpace(prefix)) && !strings.Contains(rest, "|") {
				return "", false
			}
		}

		l := parseLink(body)
		l.label += trail
		links = append(links, l)
		return string(placeholderOpen) + strconv.Itoa(len(links)-1) + string(placeholderClose), true
	})

	s = extLinkRe.ReplaceAllString(s, "$1")
	s = quoteRe.ReplaceAllString(s, "")
	s = headerRe.ReplaceAllString(s, "$1")
	s = bulletRe.ReplaceAllString(s, "")
	s = ruleRe.ReplaceAllString(s, "")
	s = magicWordRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	s = outsidePlaceholders(s, func(chunk string) string {
		return placeholderStrip.Replace(html.UnescapeString(chunk))
	})
	s = collapseWhitespace(s)
	s = html.EscapeString(s)
	s = restorePlaceholders(s, links)

	return Result{
		Text:       s,
		Categories: nonNil(categories),
		Links:      linkTargets(links),
		PlainChars: CharCount(PlainText(s)),
	}
}

// outsidePlaceholders applies fn to the text between placeholders.
func outsidePlaceholders(s string, fn func(string) string) string {
	locs := placeholderRe.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return fn(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, loc := range locs {
		b.WriteString(fn(s[prev:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		prev = loc[1]
	}
	b.WriteString(fn(s[prev:]))
	return b.String()
}

func restorePlaceholders(s string, links []link) string {
	if len(links) == 0 {
		return s
	}
	open := utf8.RuneLen(placeholderOpen)
	closing := utf8.RuneLen(placeholderClose)
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		idx, err := strconv.Atoi(m[open : len(m)-closing])
		if err != nil || idx < 0 || idx >= len(links) {
			return ""
		}
		return renderLink(links[idx])
	})
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRe.ReplaceAllString(s, " ")
	s = edgeSpaceRe.ReplaceAllString(s, "")
	s = newlineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func parseLink(body string) link {
	target, label, piped := strings.Cut(body, "|")
	target = html.UnescapeString(strings.TrimSpace(target))
	page, fragment, _ := strings.Cut(target, "#")

	l := link{page: NormalizeTitle(page), fragment: strings.TrimSpace(fragment)}
	switch {
	case !piped:
		l.label = target
	case strings.TrimSpace(label) == "":
		// Pipe trick: [[Paris (city)|]] shows "Paris".
		short := page
		if _, after, ok := strings.Cut(short, ":"); ok {
			short = after
		}
		l.label = parentheseRe.ReplaceAllString(strings.TrimSpace(short), "")
	default:
		l.label = label
	}
	return l
}

func cleanLabel(label string) string {
	label = strings.NewReplacer("[[", "", "]]", "").Replace(label)
	label = quoteRe.ReplaceAllString(label, "")
	label = tagRe.ReplaceAllString(label, "")
	label = placeholderStrip.Replace(html.UnescapeString(label))
	return strings.Join(strings.Fields(label), " ")
}

// renderLink escapes the target and the label independently: the target for
// a URL path segment inside an attribute, the label for element text.
func renderLink(l link) string {
	label := cleanLabel(l.label)
	if label == "" {
		label = l.page
	}
	if l.page == "" {
		return html.EscapeString(label)
	}
	return `<a href="` + html.EscapeString(LinkPath(l.page, l.fragment)) + `">` + html.EscapeString(label) + `</a>`
}

// LinkPath is the URL path an internal link to title points at.
func LinkPath(title, fragment string) string {
	href := "/wiki/" + url.PathEscape(strings.ReplaceAll(NormalizeTitle(title), " ", "_"))
	if fragment != "" {
		href += "#" + url.PathEscape(strings.ReplaceAll(fragment, " ", "_"))
	}
	return href
}

func linkTargets(links []link) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if l.page == "" {
			continue
		}
		if _, ok := seen[l.page]; ok {
			continue
		}
		seen[l.page] = struct{}{}
		out = append(out, l.page)
	}
	return out
}

// stripNested removes templates {{...}} and tables {|...|}, honoring nesting.
func stripNested(s string) string {
	if !strings.Contains(s, "{{") && !strings.Contains(s, "{|") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var stack []byte // '}' for templates, '|' for tables
	for i := 0; i < len(s); i++ {
		c := s[i]
		var next byte
		if i+1 < len(s) {
			next = s[i+1]
		}
		if c == '{' && (next == '{' || next == '|') {
			if next == '{' {
				stack = append(stack, '}')
			} else {
				stack = append(stack, '|')
			}
			i++
			continue
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if (top == '}' && c == '}' && next == '}') || (top == '|' && c == '|' && next == '}') {
				stack = stack[:len(stack)-1]
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// replaceLinks walks [[...]] spans, which may nest (links inside image
// captions), and substitutes fn's result. trail holds the lowercase letters
// directly after the closing brackets; fn reports whether it absorbed them.
// Unclosed brackets are kept verbatim.
func replaceLinks(s string, fn func(content, trail string) (out string, usedTrail bool)) string {
	if !strings.Contains(s, "[[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if !strings.HasPrefix(s[i:], "[[") {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := matchingClose(s, i+2)
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		content := s[i+2 : end]
		i = end + 2
		trail := linkTrailRe.FindString(s[i:])
		out, used := fn(content, trail)
		if used {
			i += len(trail)
		}
		b.WriteString(out)
	}
	return b.String()
}

func matchingClose(s string, from int) int {
	depth := 1
	for j := from; j+1 < len(s); j++ {
		switch {
		case s[j] == '[' && s[j+1] == '[':
			depth++
			j++
		case s[j] == ']' && s[j+1] == ']':
			depth--
			if depth == 0 {
				return j
			}
			j++
		}
	}
	return -1
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
