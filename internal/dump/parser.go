// Package dump decodes the page/revision structure of an export one page at
// a time.
package dump

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/wiki-offline/internal/archive"
	"github.com/DeafMist/wiki-offline/internal/models"
)

// DefaultMaxPageBytes caps the raw XML buffered for a single page.
const DefaultMaxPageBytes = 32 << 20

const (
	readBufferSize = 1 << 20
	// headBytes of an oversized page are kept to name it in the error.
	headBytes = 4 << 10
)

var (
	pageEnd = []byte("/page>")
	titleRe = regexp.MustCompile(`<title>([^<]*)</title>`)
)

var (
	ErrPageTooLarge = errors.New("page too large")
	ErrParse        = errors.New("page parse error")
)

// Kind classifies a per-page failure. Both kinds skip the page only.
type Kind int

const (
	KindParse Kind = iota
	KindPageTooLarge
)

// PageError describes a page that could not be turned into a RawPage.
type PageError struct {
	Kind   Kind
	PageID uint64
	Title  string
	Err    error
}

func (e *PageError) Error() string {
	what := "parse error"
	if e.Kind == KindPageTooLarge {
		what = "page too large"
	}
	if e.Title != "" {
		return fmt.Sprintf("%s in page %q: %v", what, e.Title, e.Err)
	}
	return fmt.Sprintf("%s: %v", what, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

func (e *PageError) Is(target error) bool {
	switch target {
	case ErrPageTooLarge:
		return e.Kind == KindPageTooLarge
	case ErrParse:
		return e.Kind == KindParse
	}
	return false
}

// Options tune the parser.
type Options struct {
	MaxPageBytes int
}

// Parser yields pages from an export stream. The stream is cut at <page>
// boundaries and every page is decoded on its own, so malformed XML costs
// one page and never more than one page is held in memory.
type Parser struct {
	r       *bufio.Reader
	maxPage int
	page    bytes.Buffer
	text    bytes.Buffer
	field   bytes.Buffer
	done    bool
}

// NewParser wraps r, which is usually an *archive.Stream.
func NewParser(r io.Reader, opts Options) *Parser {
	if opts.MaxPageBytes <= 0 {
		opts.MaxPageBytes = DefaultMaxPageBytes
	}
	return &Parser{r: bufio.NewReaderSize(r, readBufferSize), maxPage: opts.MaxPageBytes}
}

// pageState tracks what has been seen inside the current <page>.
type pageState struct {
	id        string
	title     string
	ns        string
	redirect  string
	timestamp string
}

// Next returns the next page. Per-page failures come back as *PageError and
// the caller may keep calling Next. An *archive.CorruptArchiveError or a
// read failure is fatal. io.EOF marks the end of the stream.
func (p *Parser) Next() (*models.RawPage, error) {
	if p.done {
		return nil, io.EOF
	}
	if err := p.seekPage(); err != nil {
		return nil, p.fail(err, nil)
	}
	tooLarge, err := p.capturePage()
	if err != nil {
		return nil, p.fail(err, p.page.Bytes())
	}
	if tooLarge {
		return nil, &PageError{
			Kind:  KindPageTooLarge,
			Title: headTitle(p.page.Bytes()),
			Err:   fmt.Errorf("page exceeds %d bytes", p.maxPage),
		}
	}
	return p.decode(p.page.Bytes())
}

// seekPage advances the reader to the '<' opening the next <page> element.
func (p *Parser) seekPage() error {
	for {
		if _, err := p.r.ReadSlice('<'); err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return err
		}
		name, err := p.r.Peek(5)
		if err != nil {
			return err
		}
		if string(name[:4]) == "page" {
			switch name[4] {
			case '>', ' ', '\t', '\n', '\r':
				return nil
			}
		}
	}
}

// capturePage copies the page up to and including </page> into p.page.
// Past maxPage only the head is kept and the rest is drained.
func (p *Parser) capturePage() (tooLarge bool, err error) {
	p.page.Reset()
	p.page.WriteByte('<')
	for {
		chunk, err := p.r.ReadSlice('<')
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return tooLarge, err
		}
		tooLarge = p.keep(chunk, tooLarge)
		if err != nil {
			continue
		}
		end, err := p.r.Peek(len(pageEnd))
		if err != nil {
			return tooLarge, err
		}
		if bytes.Equal(end, pageEnd) {
			tooLarge = p.keep(pageEnd, tooLarge)
			_, _ = p.r.Discard(len(pageEnd))
			return tooLarge, nil
		}
	}
}

func (p *Parser) keep(chunk []byte, tooLarge bool) bool {
	if tooLarge {
		return true
	}
	if p.page.Len()+len(chunk) <= p.maxPage {
		p.page.Write(chunk)
		return false
	}
	if room := headBytes - p.page.Len(); room > 0 {
		p.page.Write(chunk[:min(room, len(chunk))])
	}
	p.page.Truncate(min(p.page.Len(), headBytes))
	return true
}

// decode parses one captured <page>...</page> fragment.
func (p *Parser) decode(data []byte) (*models.RawPage, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var st pageState
	p.text.Reset()
	p.field.Reset()

	// path holds element names below <page>.
	path := make([]string, 0, 8)
	opened := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			title := st.title
			if title == "" {
				title = headTitle(data)
			}
			return nil, &PageError{Kind: KindParse, Title: title, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !opened {
				opened = true
				continue
			}
			path = append(path, t.Name.Local)
			p.field.Reset()
			if len(path) == 1 && t.Name.Local == "redirect" {
				for _, a := range t.Attr {
					if a.Name.Local == "title" {
						st.redirect = strings.TrimSpace(a.Value)
					}
				}
			}
		case xml.CharData:
			p.collect(path, t)
		case xml.EndElement:
			if len(path) == 0 {
				// </page>
				return p.finish(&st)
			}
			p.assign(path, &st)
			path = path[:len(path)-1]
		}
	}
}

func (p *Parser) collect(path []string, data xml.CharData) {
	if len(path) == 2 && path[0] == "revision" && path[1] == "text" {
		p.text.Write(data)
		return
	}
	if isScalarField(path) {
		p.field.Write(data)
	}
}

func isScalarField(path []string) bool {
	switch len(path) {
	case 1:
		switch path[0] {
		case "title", "ns", "id":
			return true
		}
	case 2:
		return path[0] == "revision" && path[1] == "timestamp"
	}
	return false
}

func (p *Parser) assign(path []string, st *pageState) {
	if !isScalarField(path) {
		return
	}
	value := strings.TrimSpace(p.field.String())
	p.field.Reset()
	switch {
	case len(path) == 1 && path[0] == "title":
		st.title = value
	case len(path) == 1 && path[0] == "ns":
		st.ns = value
	case len(path) == 1 && path[0] == "id":
		st.id = value
	case len(path) == 2:
		st.timestamp = value
	}
}

func (p *Parser) finish(st *pageState) (*models.RawPage, error) {
	page := &models.RawPage{
		Title:          st.title,
		RedirectTarget: st.redirect,
		Text:           p.text.String(),
	}
	p.text.Reset()

	if page.Title == "" {
		return nil, &PageError{Kind: KindParse, Err: errors.New("missing title")}
	}

	id, err := strconv.ParseUint(st.id, 10, 64)
	if err != nil {
		return nil, &PageError{Kind: KindParse, Title: st.title, Err: fmt.Errorf("invalid id %q", st.id)}
	}
	page.ID = id

	if st.ns != "" {
		ns, err := strconv.Atoi(st.ns)
		if err != nil {
			return nil, &PageError{Kind: KindParse, PageID: id, Title: st.title, Err: fmt.Errorf("invalid namespace %q", st.ns)}
		}
		page.Namespace = ns
	}

	if st.timestamp != "" {
		ts, err := time.Parse(time.RFC3339, st.timestamp)
		if err != nil {
			return nil, &PageError{Kind: KindParse, PageID: id, Title: st.title, Err: fmt.Errorf("invalid timestamp %q", st.timestamp)}
		}
		page.Timestamp = ts.UTC()
	}

	return page, nil
}

// fail classifies a read failure and ends the stream. Archive corruption is
// passed through untouched. A stream that stops inside a page reports that
// page once as a parse error.
func (p *Parser) fail(err error, partial []byte) error {
	p.done = true
	defer p.page.Reset()

	var corrupt *archive.CorruptArchiveError
	if errors.As(err, &corrupt) {
		return corrupt
	}
	if errors.Is(err, io.EOF) {
		if partial == nil {
			return io.EOF
		}
		return &PageError{Kind: KindParse, Title: headTitle(partial), Err: io.ErrUnexpectedEOF}
	}
	return fmt.Errorf("read dump: %w", err)
}

// headTitle digs the title out of raw page bytes that could not be decoded.
func headTitle(data []byte) string {
	m := titleRe.FindSubmatch(data)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(string(m[1])))
}
