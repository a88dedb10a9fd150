package elasticsearch

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/models"
)

func TestBuildSearchBody(t *testing.T) {
	body := buildSearchBody(SearchParams{Query: " red apple ", From: -3, Size: 500, TitleBoost: 5})

	require.Equal(t, 0, body["from"])
	require.Equal(t, 200, body["size"])

	mm := body["query"].(map[string]any)["multi_match"].(map[string]any)
	require.Equal(t, "red apple", mm["query"])
	require.Equal(t, "and", mm["operator"])
	require.Equal(t, "cross_fields", mm["type"])
	require.Equal(t, []string{"title^5", "body"}, mm["fields"])

	sort := body["sort"].([]map[string]any)
	require.Len(t, sort, 2)
	require.Contains(t, sort[0], "_score")
	require.Contains(t, sort[1], "id")
}

func TestBuildSearchBodyEmptyQueryMatchesNothing(t *testing.T) {
	body := buildSearchBody(SearchParams{})
	require.Contains(t, body["query"], "match_none")
	require.Equal(t, 20, body["size"])
}

func TestBuildBulkBody(t *testing.T) {
	a := models.Article{ID: 7, Title: "Dog", Content: `A <a href="/wiki/Wolf">wolf</a> &amp; dog`, ExtractedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	payload, err := buildBulkBody([]Document{NewDocument(a, "run-1")})
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(payload), []byte("\n"))
	require.Len(t, lines, 2)
	require.JSONEq(t, `{"index":{"_id":"7"}}`, string(lines[0]))

	var doc Document
	require.NoError(t, json.Unmarshal(lines[1], &doc))
	require.Equal(t, "A wolf & dog", doc.Body)
	require.Equal(t, "run-1", doc.RunID)
	require.Equal(t, []string{}, doc.Categories)
}

func TestIndexMappingIsStrict(t *testing.T) {
	m := indexMapping()["mappings"].(map[string]any)
	require.Equal(t, "strict", m["dynamic"])
	props := m["properties"].(map[string]any)
	for _, field := range []string{"id", "title", "body", "content", "categories", "extracted_at", "run_id"} {
		require.Contains(t, props, field)
	}
}
