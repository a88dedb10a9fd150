package store

import (
	"context"
	"math/rand/v2"

	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/searchindex"
)

// IndexBacked keeps no article bodies in memory; every read goes to the
// stored fields of the index.
type IndexBacked struct {
	idx *searchindex.Index
}

func NewIndexBacked(idx *searchindex.Index) *IndexBacked {
	return &IndexBacked{idx: idx}
}

func (s *IndexBacked) GetByID(ctx context.Context, id uint64) (models.Article, bool, error) {
	return s.idx.Article(ctx, id)
}

func (s *IndexBacked) GetByTitle(ctx context.Context, title string) (models.Article, bool, error) {
	return s.idx.ArticleByTitle(ctx, title)
}

func (s *IndexBacked) Preview(ctx context.Context, id uint64, maxChars int) (Preview, bool, error) {
	a, ok, err := s.idx.Article(ctx, id)
	if err != nil || !ok {
		return Preview{}, false, err
	}
	return preview(a, maxChars), true, nil
}

func (s *IndexBacked) Browse(ctx context.Context, start string, size int) ([]models.TitleEntry, error) {
	return s.idx.Browse(ctx, start, size)
}

func (s *IndexBacked) After(ctx context.Context, after uint64, size int) ([]models.TitleEntry, error) {
	return s.idx.After(ctx, after, size)
}

// Random draws an id from [1, DocCount] and takes the first article at or
// above it, wrapping to the lowest id when the draw lands past the end.
func (s *IndexBacked) Random(ctx context.Context) (models.TitleEntry, bool, error) {
	n := s.idx.DocCount()
	if n == 0 {
		return models.TitleEntry{}, false, nil
	}
	for _, after := range []uint64{rand.Uint64N(n), 0} {
		got, err := s.idx.After(ctx, after, 1)
		if err != nil {
			return models.TitleEntry{}, false, err
		}
		if len(got) == 1 {
			return got[0], true, nil
		}
	}
	return models.TitleEntry{}, false, nil
}

func (s *IndexBacked) Count() uint64 { return s.idx.DocCount() }

func (s *IndexBacked) Mode() Mode { return ModeIndex }
