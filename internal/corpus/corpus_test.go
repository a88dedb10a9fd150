package corpus_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/corpus"
	"github.com/DeafMist/wiki-offline/internal/models"
)

var extractedAt = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func article(id uint64, title, content string) models.Article {
	return models.Article{ID: id, Title: title, Content: content, Categories: []string{}, ExtractedAt: extractedAt}
}

func writeAll(t *testing.T, path string, articles ...models.Article) {
	t.Helper()
	w, err := corpus.Create(path)
	require.NoError(t, err)
	for _, a := range articles {
		require.NoError(t, w.Write(a))
	}
	require.NoError(t, w.Close())
}

func readAll(t *testing.T, path string) []models.Article {
	t.Helper()
	var out []models.Article
	require.NoError(t, corpus.ForEach(context.Background(), path, func(a models.Article) error {
		out = append(out, a)
		return nil
	}))
	return out
}

func TestWriteThenForEach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.jsonl")
	dog := article(1, "Dog", `The <a href="/wiki/Wolf">wolf</a> &amp; dog`)
	dog.Categories = []string{"Mammals", "Pets"}
	cat := article(2, "Cat", "Cats")
	cat.Categories = nil

	writeAll(t, path, dog, cat)

	got := readAll(t, path)
	require.Len(t, got, 2)
	require.Equal(t, dog, got[0])
	require.Equal(t, []string{}, got[1].Categories)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(raw), "\n"))
	require.Contains(t, string(raw), `"categories":[]`)
}

func TestForEachIgnoresUnterminatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.jsonl")
	writeAll(t, path, article(1, "Dog", "body"))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":2,"title":"Ca`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := readAll(t, path)
	require.Len(t, got, 1)

	n, err := corpus.Count(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestForEachCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":1,\"title\":\"Dog\"}\nnot json\n"), 0o644))

	err := corpus.ForEach(context.Background(), path, func(models.Article) error { return nil })
	require.ErrorIs(t, err, corpus.ErrCorruptRecord)
	require.Contains(t, err.Error(), "line 2")
}

func TestForEachStopsOnCallbackError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.jsonl")
	writeAll(t, path, article(1, "A", "a"), article(2, "B", "b"))

	stop := errors.New("stop")
	calls := 0
	err := corpus.ForEach(context.Background(), path, func(models.Article) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestPruneLinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.jsonl")
	writeAll(t, path,
		article(1, "Dog", `A <a href="/wiki/Cat">cat</a> chases a <a href="/wiki/Unicorn">unicorn</a>.`),
		article(2, "Cat", `Cats avoid <a href="/wiki/Dog#Behavior">dogs</a>.`),
	)

	res, err := corpus.PruneLinks(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Articles)
	require.Equal(t, uint64(1), res.Rewritten)

	got := readAll(t, path)
	require.Equal(t, `A <a href="/wiki/Cat">cat</a> chases a unicorn.`, got[0].Content)
	require.Equal(t, `Cats avoid <a href="/wiki/Dog#Behavior">dogs</a>.`, got[1].Content)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file is renamed away")
}

func TestReadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"language":"en","articles_extracted":42,"other":true}`), 0o644))

	meta, err := corpus.ReadMetadata(path)
	require.NoError(t, err)
	require.Equal(t, models.RunMetadata{Language: "en", ArticlesExtracted: 42}, meta)
}
