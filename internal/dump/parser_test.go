package dump_test

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/archive"
	"github.com/DeafMist/wiki-offline/internal/dump"
	"github.com/DeafMist/wiki-offline/internal/models"
)

const header = `<mediawiki xmlns="http://www.mediawiki.org/xml/export-0.11/" version="0.11" xml:lang="en">
  <siteinfo><sitename>Wikipedia</sitename></siteinfo>
`

func page(id, ns, title, extra, text string) string {
	return `  <page>
    <title>` + title + `</title>
    <ns>` + ns + `</ns>
    <id>` + id + `</id>` + extra + `
    <revision>
      <id>9` + id + `</id>
      <timestamp>2024-05-01T12:00:00Z</timestamp>
      <contributor><username>Someone</username><id>42</id></contributor>
      <text bytes="10" xml:space="preserve">` + text + `</text>
    </revision>
  </page>
`
}

func drain(t *testing.T, p *dump.Parser) ([]*models.RawPage, []error) {
	t.Helper()
	var pages []*models.RawPage
	var errs []error
	for {
		pg, err := p.Next()
		if errors.Is(err, io.EOF) {
			return pages, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pages = append(pages, pg)
	}
}

func TestParserYieldsPages(t *testing.T) {
	doc := header +
		page("12", "0", "Dog", "", "The '''dog''' is a [[mammal]] &amp; pet.") +
		page("13", "0", "Canine", `<redirect title="Dog" />`, "#REDIRECT [[Dog]]") +
		page("14", "4", "Wikipedia:About", "", "meta") +
		`</mediawiki>`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{})
	pages, errs := drain(t, p)
	require.Empty(t, errs)
	require.Len(t, pages, 3)

	dog := pages[0]
	require.Equal(t, uint64(12), dog.ID, "page id, not revision or contributor id")
	require.Equal(t, "Dog", dog.Title)
	require.Equal(t, 0, dog.Namespace)
	require.Equal(t, "The '''dog''' is a [[mammal]] & pet.", dog.Text)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), dog.Timestamp)
	require.False(t, dog.IsRedirect())

	require.Equal(t, "Dog", pages[1].RedirectTarget)
	require.True(t, pages[1].IsRedirect())
	require.Equal(t, 4, pages[2].Namespace)
}

func TestParserSkipsOversizedPageAndContinues(t *testing.T) {
	big := strings.Repeat("x", 4096)
	doc := header +
		page("1", "0", "Huge", "", big) +
		page("2", "0", "Small", "", "fits") +
		`</mediawiki>`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{MaxPageBytes: 1024})
	pages, errs := drain(t, p)

	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], dump.ErrPageTooLarge)
	var pe *dump.PageError
	require.True(t, errors.As(errs[0], &pe))
	require.Equal(t, "Huge", pe.Title)

	require.Len(t, pages, 1)
	require.Equal(t, "Small", pages[0].Title)
}

func TestParserMalformedPageIsSkipped(t *testing.T) {
	doc := header +
		page("abc", "0", "Bad id", "", "text") +
		page("3", "zero", "Bad ns", "", "text") +
		page("4", "0", "", "", "no title") +
		page("5", "0", "Good", "", "text") +
		`</mediawiki>`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{})
	pages, errs := drain(t, p)

	require.Len(t, errs, 3)
	for _, err := range errs {
		require.ErrorIs(t, err, dump.ErrParse)
		require.NotErrorIs(t, err, dump.ErrPageTooLarge)
	}
	require.Len(t, pages, 1)
	require.Equal(t, uint64(5), pages[0].ID)
}

func TestParserTruncatedStreamEndsWithParseError(t *testing.T) {
	doc := header + page("1", "0", "Complete", "", "body") + `  <page><title>Cut</title><id>2</id><revision><text>half`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{})
	pages, errs := drain(t, p)

	require.Len(t, pages, 1)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], dump.ErrParse)

	_, err := p.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestParserMalformedPageCostsOnlyThatPage(t *testing.T) {
	doc := header +
		page("1", "0", "Dog", "", "woof") +
		page("2", "0", "Fish & Chips", "", "fried") +
		page("3", "0", "Cat", "", "meow") +
		page("4", "0", "Horse", "", "neigh") +
		`</mediawiki>`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{})
	pages, errs := drain(t, p)

	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], dump.ErrParse)
	var pe *dump.PageError
	require.True(t, errors.As(errs[0], &pe))
	require.Equal(t, "Fish & Chips", pe.Title)

	require.Len(t, pages, 3)
	require.Equal(t, "Dog", pages[0].Title)
	require.Equal(t, "Cat", pages[1].Title)
	require.Equal(t, "Horse", pages[2].Title)
}

func TestParserPageLargerThanReadBuffer(t *testing.T) {
	big := strings.Repeat("abcdefgh", 300_000)
	doc := header + page("1", "0", "Long", "", big) + page("2", "0", "Short", "", "x") + `</mediawiki>`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{MaxPageBytes: 4 << 20})
	pages, errs := drain(t, p)
	require.Empty(t, errs)
	require.Len(t, pages, 2)
	require.Equal(t, big, pages[0].Text)
	require.Equal(t, "Short", pages[1].Title)
}

type corruptReader struct {
	data io.Reader
}

func (c *corruptReader) Read(p []byte) (int, error) {
	n, err := c.data.Read(p)
	if errors.Is(err, io.EOF) {
		return n, &archive.CorruptArchiveError{Codec: archive.CodecBzip2, Err: errors.New("bad block")}
	}
	return n, err
}

func TestParserPassesArchiveCorruptionThrough(t *testing.T) {
	doc := header + page("1", "0", "Ok", "", "body") + `  <page><title>Next`
	p := dump.NewParser(&corruptReader{data: strings.NewReader(doc)}, dump.Options{})

	first, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "Ok", first.Title)

	_, err = p.Next()
	require.ErrorIs(t, err, archive.ErrCorruptArchive)
	require.NotErrorIs(t, err, dump.ErrParse)

	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestParserReusesBufferAcrossPages(t *testing.T) {
	doc := header +
		page("1", "0", "First", "", "alpha") +
		page("2", "0", "Second", "", "beta") +
		`</mediawiki>`

	p := dump.NewParser(strings.NewReader(doc), dump.Options{})
	pages, errs := drain(t, p)
	require.Empty(t, errs)
	require.Equal(t, "alpha", pages[0].Text)
	require.Equal(t, "beta", pages[1].Text)
}
