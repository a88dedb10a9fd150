// Package search answers ranked full-text queries against the index and
// hydrates the hits through the content store.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/DeafMist/wiki-offline/internal/processing"
	"github.com/DeafMist/wiki-offline/internal/searchindex"
	"github.com/DeafMist/wiki-offline/internal/store"
)

const (
	// MaxQueryChars bounds the accepted query length.
	MaxQueryChars = 200

	DefaultTitleBoost   = 5.0
	DefaultSnippetChars = 200
	DefaultPageSize     = 20
	MaxPageSize         = 100
	// MaxResultWindow caps page*pageSize, so deep pages never make the index
	// rank more than this many hits.
	MaxResultWindow = 10_000

	snippetLead = 40
	ellipsis    = "…"
)

var (
	ErrQueryTooLong = errors.New("query too long")
	ErrNoIndex      = errors.New("no committed search index")
	ErrPageTooDeep  = errors.New("result page beyond result window")
)

// Options tune ranking and presentation.
type Options struct {
	TitleBoost   float64
	SnippetChars int
	Logger       *slog.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	idx   *searchindex.Index
	store store.Store
	opts  Options
	log   *slog.Logger
}

// Hit is one search result.
type Hit struct {
	ID         uint64   `json:"id"`
	Title      string   `json:"title"`
	Score      float64  `json:"score"`
	Snippet    string   `json:"snippet"`
	Categories []string `json:"categories"`
}

// Result is one page of hits. Total counts every matching article.
type Result struct {
	Query    string `json:"query"`
	Total    uint64 `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Hits     []Hit  `json:"hits"`
}

// New creates an engine. idx may be nil, in which case every search fails
// with ErrNoIndex.
func New(idx *searchindex.Index, st store.Store, opts Options) *Engine {
	if opts.TitleBoost <= 0 {
		opts.TitleBoost = DefaultTitleBoost
	}
	if opts.SnippetChars <= 0 {
		opts.SnippetChars = DefaultSnippetChars
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{idx: idx, store: st, opts: opts, log: log}
}

// Search returns page (1-based) of the articles matching every term of q.
// Ordering is by descending score with ties broken by ascending id, so
// pagination is stable.
func (e *Engine) Search(ctx context.Context, q string, page, pageSize int) (Result, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	res := Result{Query: q, Page: page, PageSize: pageSize, Hits: []Hit{}}

	q = strings.TrimSpace(q)
	if processing.CharCount(q) > MaxQueryChars {
		return res, fmt.Errorf("%w: %d characters, limit %d", ErrQueryTooLong, processing.CharCount(q), MaxQueryChars)
	}
	if page > MaxResultWindow/pageSize {
		return res, fmt.Errorf("%w: page %d of size %d exceeds %d results", ErrPageTooDeep, page, pageSize, MaxResultWindow)
	}
	if e.idx == nil {
		return res, ErrNoIndex
	}
	terms := e.idx.Terms(q)
	if len(terms) == 0 {
		return res, nil
	}

	hits, err := e.idx.Search(ctx, BuildQuery(terms, e.opts.TitleBoost), (page-1)*pageSize, pageSize)
	if err != nil {
		return res, err
	}
	res.Total = hits.Total

	for _, h := range hits.Hits {
		a, ok, err := e.store.GetByID(ctx, h.ID)
		if err != nil {
			return res, fmt.Errorf("hydrate hit %d: %w", h.ID, err)
		}
		if !ok {
			e.log.Warn("search hit missing from store", "id", h.ID)
			continue
		}
		res.Hits = append(res.Hits, Hit{
			ID:         a.ID,
			Title:      a.Title,
			Score:      h.Score,
			Snippet:    Snippet(processing.PlainText(a.Content), terms, e.opts.SnippetChars),
			Categories: a.Categories,
		})
	}
	return res, nil
}

// BuildQuery requires every term to match the title or the body. A title
// match is weighted by titleBoost.
func BuildQuery(terms []string, titleBoost float64) query.Query {
	if len(terms) == 0 {
		return bleve.NewMatchNoneQuery()
	}
	clauses := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		title := bleve.NewTermQuery(term)
		title.SetField(searchindex.FieldTitle)
		title.SetBoost(titleBoost)

		body := bleve.NewTermQuery(term)
		body.SetField(searchindex.FieldBody)

		clauses = append(clauses, bleve.NewDisjunctionQuery(title, body))
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// Snippet cuts a window of at most maxChars characters out of plain,
// starting a little before the earliest term occurrence.
func Snippet(plain string, terms []string, maxChars int) string {
	first := -1
	if m := termMatcher(terms); m != nil {
		if loc := m.FindStringIndex(plain); loc != nil {
			first = loc[0]
		}
	}

	start := 0
	if first > 0 {
		anchor := processing.RuneBoundary(plain, first)
		start = anchor
		for back := 0; back < snippetLead && start > 0; back++ {
			start = processing.RuneBoundary(plain, start-1)
		}
		if start > 0 {
			if sp := strings.IndexAny(plain[start:anchor], " \n"); sp >= 0 {
				start += sp + 1
			}
		}
	}

	rest := plain[start:]
	out := processing.Truncate(rest, maxChars)
	truncated := len(out) < len(rest)
	if start > 0 {
		out = ellipsis + out
	}
	if truncated {
		out += ellipsis
	}
	return out
}

// termMatcher matches any of terms regardless of case. Offsets refer to the
// searched text itself, unlike a search over a lowered copy.
func termMatcher(terms []string) *regexp.Regexp {
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		if term != "" {
			quoted = append(quoted, regexp.QuoteMeta(term))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
}
