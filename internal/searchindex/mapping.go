// Package searchindex builds and reads the on-disk full-text index.
package searchindex

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	unicodetok "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

// AnalyzerName splits on Unicode word boundaries and lower-cases. No stop
// words are removed, so every query term can match.
const AnalyzerName = "wikitext"

// Field names.
const (
	FieldID             = "id"
	FieldTitle          = "title"
	FieldTitleKey       = "title_key"
	FieldBody           = "body"
	FieldContent        = "content"
	FieldCategories     = "categories"
	FieldCategoriesJSON = "categories_json"
	FieldExtractedAt    = "extracted_at"
)

// NewMapping returns the static document mapping used for every build.
func NewMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicodetok.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("register analyzer: %w", err)
	}
	m.DefaultAnalyzer = AnalyzerName
	m.IndexDynamic = false
	m.StoreDynamic = false
	m.DocValuesDynamic = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(FieldTitle, textField(true, true))
	doc.AddFieldMappingsAt(FieldBody, textField(true, false))
	doc.AddFieldMappingsAt(FieldContent, textField(false, true))
	doc.AddFieldMappingsAt(FieldCategoriesJSON, textField(false, true))
	doc.AddFieldMappingsAt(FieldExtractedAt, textField(false, true))
	doc.AddFieldMappingsAt(FieldTitleKey, keywordField(true))
	doc.AddFieldMappingsAt(FieldCategories, keywordField(false))

	id := bleve.NewNumericFieldMapping()
	id.Store = false
	id.IncludeInAll = false
	id.DocValues = false
	doc.AddFieldMappingsAt(FieldID, id)

	m.DefaultMapping = doc
	return m, nil
}

func textField(index, store bool) *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = AnalyzerName
	f.Index = index
	f.Store = store
	f.IncludeInAll = false
	f.IncludeTermVectors = false
	f.DocValues = false
	return f
}

// keywordField indexes the whole value as one term. Doc values allow
// sorting on it.
func keywordField(docValues bool) *mapping.FieldMapping {
	f := bleve.NewKeywordFieldMapping()
	f.Analyzer = keyword.Name
	f.Store = false
	f.IncludeInAll = false
	f.IncludeTermVectors = false
	f.DocValues = docValues
	return f
}

// DocID pads the id so lexical document order equals numeric order.
func DocID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func document(a models.Article) (map[string]interface{}, error) {
	categories := a.Categories
	if categories == nil {
		categories = []string{}
	}
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	return map[string]interface{}{
		FieldID:             float64(a.ID),
		FieldTitle:          a.Title,
		FieldTitleKey:       processing.TitleKey(a.Title),
		FieldBody:           processing.PlainText(a.Content),
		FieldContent:        a.Content,
		FieldCategories:     categories,
		FieldCategoriesJSON: string(catJSON),
		FieldExtractedAt:    a.ExtractedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
