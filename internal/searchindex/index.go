package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

// Index is a read-only handle on a committed index. It is safe for
// concurrent use.
type Index struct {
	idx      bleve.Index
	dir      string
	manifest Manifest
}

// Hit is one ranked document.
type Hit struct {
	ID    uint64
	Score float64
}

// Hits is one page of ranked documents.
type Hits struct {
	Total uint64
	Hits  []Hit
}

// Open attaches a committed index. Directories without a marker, such as
// an interrupted build, are refused.
func Open(dir string) (*Index, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	idx, err := bleve.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", dir, err)
	}
	return &Index{idx: idx, dir: dir, manifest: manifest}, nil
}

// Manifest returns the commit marker the index was opened with.
func (x *Index) Manifest() Manifest { return x.manifest }

// DocCount is the number of indexed articles.
func (x *Index) DocCount() uint64 { return x.manifest.DocCount }

// Close releases the index files.
func (x *Index) Close() error { return x.idx.Close() }

// Article re-materializes an article from stored fields.
func (x *Index) Article(_ context.Context, id uint64) (models.Article, bool, error) {
	return x.load(DocID(id))
}

// ArticleByTitle finds the article whose title key matches title.
func (x *Index) ArticleByTitle(ctx context.Context, title string) (models.Article, bool, error) {
	key := processing.TitleKey(title)
	if key == "" {
		return models.Article{}, false, nil
	}
	q := bleve.NewTermQuery(key)
	q.SetField(FieldTitleKey)

	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.SortBy([]string{"_id"})
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return models.Article{}, false, fmt.Errorf("title lookup: %w", err)
	}
	if len(res.Hits) == 0 {
		return models.Article{}, false, nil
	}
	return x.load(res.Hits[0].ID)
}

// Browse lists titles in title-key order starting at the first key not
// below start.
func (x *Index) Browse(ctx context.Context, start string, size int) ([]models.TitleEntry, error) {
	if size <= 0 {
		return []models.TitleEntry{}, nil
	}
	var q query.Query = bleve.NewMatchAllQuery()
	if key := processing.TitleKey(start); key != "" {
		inclusive := true
		rq := bleve.NewTermRangeInclusiveQuery(key, "", &inclusive, nil)
		rq.SetField(FieldTitleKey)
		q = rq
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.SortBy([]string{FieldTitleKey, "_id"})
	req.Fields = []string{FieldTitle}
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}

	return titleEntries(res.Hits)
}

func titleEntries(hits search.DocumentMatchCollection) ([]models.TitleEntry, error) {
	out := make([]models.TitleEntry, 0, len(hits))
	for _, hit := range hits {
		id, err := parseDocID(hit.ID)
		if err != nil {
			return nil, err
		}
		title, _ := hit.Fields[FieldTitle].(string)
		out = append(out, models.TitleEntry{ID: id, Title: title})
	}
	return out, nil
}

// After lists up to size articles whose id is above after, in id order.
func (x *Index) After(ctx context.Context, after uint64, size int) ([]models.TitleEntry, error) {
	if size <= 0 {
		return []models.TitleEntry{}, nil
	}
	lo := float64(after)
	exclusive := false
	q := bleve.NewNumericRangeInclusiveQuery(&lo, nil, &exclusive, nil)
	q.SetField(FieldID)

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.SortBy([]string{"_id"})
	req.Fields = []string{FieldTitle}
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list after %d: %w", after, err)
	}
	return titleEntries(res.Hits)
}

// Search runs q and returns one page of hits ordered by descending score,
// ties broken by ascending id.
func (x *Index) Search(ctx context.Context, q query.Query, from, size int) (Hits, error) {
	req := bleve.NewSearchRequestOptions(q, size, from, false)
	req.SortBy([]string{"-_score", "_id"})
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return Hits{}, fmt.Errorf("search: %w", err)
	}

	out := Hits{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, hit := range res.Hits {
		id, err := parseDocID(hit.ID)
		if err != nil {
			return Hits{}, err
		}
		out.Hits = append(out.Hits, Hit{ID: id, Score: hit.Score})
	}
	return out, nil
}

// Terms runs text through the index analyzer, dropping repeats.
func (x *Index) Terms(text string) []string {
	analyzer := x.idx.Mapping().AnalyzerNamed(AnalyzerName)
	if analyzer == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var terms []string
	for _, tok := range analyzer.Analyze([]byte(text)) {
		term := string(tok.Term)
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func (x *Index) load(docID string) (models.Article, bool, error) {
	doc, err := x.idx.Document(docID)
	if err != nil {
		return models.Article{}, false, fmt.Errorf("load document %s: %w", docID, err)
	}
	if doc == nil {
		return models.Article{}, false, nil
	}

	id, err := parseDocID(docID)
	if err != nil {
		return models.Article{}, false, err
	}
	a := models.Article{ID: id, Categories: []string{}}

	var fieldErr error
	doc.VisitFields(func(f index.Field) {
		switch f.Name() {
		case FieldTitle:
			a.Title = string(f.Value())
		case FieldContent:
			a.Content = string(f.Value())
		case FieldCategoriesJSON:
			if err := json.Unmarshal(f.Value(), &a.Categories); err != nil && fieldErr == nil {
				fieldErr = fmt.Errorf("decode categories of %s: %w", docID, err)
			}
		case FieldExtractedAt:
			ts, err := time.Parse(time.RFC3339Nano, string(f.Value()))
			if err != nil && fieldErr == nil {
				fieldErr = fmt.Errorf("decode extracted_at of %s: %w", docID, err)
			}
			a.ExtractedAt = ts.UTC()
		}
	})
	if fieldErr != nil {
		return models.Article{}, false, fieldErr
	}
	if a.Categories == nil {
		a.Categories = []string{}
	}
	return a, true, nil
}

func parseDocID(docID string) (uint64, error) {
	id, err := strconv.ParseUint(docID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad document id %q: %w", docID, err)
	}
	return id, nil
}
