package processing_test

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/processing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bold and link", raw: "The '''dog''' is a [[mammal]].", want: `The dog is a <a href="/wiki/Mammal">mammal</a>.`},
		{name: "piped label", raw: "A [[Canis familiaris|dog]].", want: `A <a href="/wiki/Canis_familiaris">dog</a>.`},
		{name: "link trail", raw: "Many [[dog]]s bark.", want: `Many <a href="/wiki/Dog">dogs</a> bark.`},
		{name: "fragment", raw: "[[Cat#Behavior|cats]]", want: `<a href="/wiki/Cat#Behavior">cats</a>`},
		{name: "pipe trick", raw: "[[Paris (city)|]]", want: `<a href="/wiki/Paris_%28city%29">Paris</a>`},
		{name: "nested templates", raw: "{{Infobox|a={{nested|x}}}}Body text", want: "Body text"},
		{name: "table", raw: "Before\n{|\n| cell\n|-\n| other\n|}\nafter", want: "Before\n\nafter"},
		{name: "comment and refs", raw: `Fact<ref name="a">cite</ref><ref name="b"/> more<!-- hidden -->.`, want: "Fact more."},
		{name: "header", raw: "Intro\n== History ==\nOld", want: "Intro\nHistory\nOld"},
		{name: "bullets", raw: "* one\n** two\n# three", want: "one\ntwo\nthree"},
		{name: "file with nested caption", raw: "[[File:Dog.jpg|thumb|A [[dog]] photo]]After", want: "After"},
		{name: "interlanguage", raw: "Text[[de:Hund]]", want: "Text"},
		{name: "external link label", raw: "See [https://example.com Example site] or [https://x.org].", want: "See Example site or ."},
		{name: "magic word", raw: "__TOC__Text", want: "Text"},
		{name: "entities escaped", raw: "Fish &amp; chips &lt;b&gt;", want: "Fish &amp; chips &lt;b&gt;"},
		{name: "raw tags removed", raw: "a <span style=\"x\">b</span> c", want: "a b c"},
		{name: "unclosed link kept", raw: "broken [[link", want: "broken [[link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.Normalize(tt.raw).Text)
		})
	}
}

func TestNormalizeCategories(t *testing.T) {
	res := processing.Normalize("Text [[Category:Dogs|sort key]] [[Category:Pets]] [[category:dogs]]")
	require.Equal(t, "Text", res.Text)
	require.Equal(t, []string{"Dogs", "Pets"}, res.Categories)
}

func TestNormalizeCategoriesNeverNil(t *testing.T) {
	res := processing.Normalize("plain")
	require.NotNil(t, res.Categories)
	require.Empty(t, res.Categories)
}

func TestNormalizeLinks(t *testing.T) {
	res := processing.Normalize("[[Dog]] and [[dog|hound]] and [[Cat#Behavior|cats]] [[:Category:Pets|pets]]")
	require.Equal(t, []string{"Dog", "Cat", "Category:Pets"}, res.Links)
	require.Empty(t, res.Categories, "colon-prefixed category link is a plain link")
}

func TestNormalizeEscapesTargetAndLabelIndependently(t *testing.T) {
	raw := `Intro [[Foo"><script>alert(1)</script>|<img src=x onerror=alert(1)>]] ` +
		`[[Bar|x" onmouseover="alert(1)]] &lt;script&gt;alert(2)&lt;/script&gt; <script>alert(3)</script>`
	res := processing.Normalize(raw)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Text))
	require.NoError(t, err)

	body := doc.Find("body")
	require.Equal(t, 0, body.Find("script, img, span, b").Length())

	body.Find("*").Each(func(_ int, sel *goquery.Selection) {
		require.Equal(t, "a", goquery.NodeName(sel))
		for _, attr := range sel.Nodes[0].Attr {
			require.Equal(t, "href", attr.Key)
			require.True(t, strings.HasPrefix(attr.Val, "/wiki/"), attr.Val)
		}
	})

	anchors := body.Find("a")
	require.Equal(t, 2, anchors.Length())
	href, _ := anchors.Eq(0).Attr("href")
	require.NotContains(t, href, `"`)
	require.NotContains(t, href, "<")
	require.Equal(t, `x" onmouseover="alert(1)`, anchors.Eq(1).Text())
	require.Contains(t, body.Text(), "<script>alert(2)</script>", "decoded entities stay text")
}

func TestNormalizeRejectsForgedPlaceholders(t *testing.T) {
	res := processing.Normalize("a &#xE000;0&#xE001; b 0 [[X]]")
	require.Equal(t, `a 0 b 0 <a href="/wiki/X">X</a>`, res.Text)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := "{{Infobox}}'''Dog''' [[Canis|dogs]] and [[Wolf]]s. [[Category:Mammals]]\n== See also ==\n* [[Cat]]"
	first := processing.Normalize(raw)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, processing.Normalize(raw))
	}
}

func TestNormalizeCountsPlainCharacters(t *testing.T) {
	res := processing.Normalize("Ünïcode [[Dog|hounds]] &amp; <b>more</b>")
	require.Equal(t, processing.CharCount(processing.PlainText(res.Text)), res.PlainChars)
	require.Equal(t, len([]rune("Ünïcode hounds & more")), res.PlainChars)
}
