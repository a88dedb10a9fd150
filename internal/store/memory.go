package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/DeafMist/wiki-offline/internal/corpus"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

type titleRef struct {
	key string
	id  uint64
}

// InMemory holds the whole corpus. It is immutable after construction and
// needs no locking.
type InMemory struct {
	byID   map[uint64]models.Article
	byKey  map[string]uint64
	sorted []titleRef
	ids    []uint64
}

// NewInMemory indexes articles. When two articles share a title key the one
// with the lower id wins.
func NewInMemory(articles []models.Article) *InMemory {
	s := &InMemory{
		byID:  make(map[uint64]models.Article, len(articles)),
		byKey: make(map[string]uint64, len(articles)),
	}
	for _, a := range articles {
		s.add(a)
	}
	s.seal()
	return s
}

// LoadInMemory reads the article log at path.
func LoadInMemory(ctx context.Context, path string) (*InMemory, error) {
	s := &InMemory{
		byID:  make(map[uint64]models.Article),
		byKey: make(map[string]uint64),
	}
	if err := corpus.ForEach(ctx, path, func(a models.Article) error {
		s.add(a)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	s.seal()
	return s, nil
}

func (s *InMemory) add(a models.Article) {
	a.ExtractedAt = a.ExtractedAt.UTC()
	if a.Categories == nil {
		a.Categories = []string{}
	}
	s.byID[a.ID] = a
	key := processing.TitleKey(a.Title)
	if prev, ok := s.byKey[key]; !ok || a.ID < prev {
		s.byKey[key] = a.ID
	}
}

func (s *InMemory) seal() {
	s.ids = make([]uint64, 0, len(s.byID))
	for id := range s.byID {
		s.ids = append(s.ids, id)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })

	s.sorted = make([]titleRef, 0, len(s.byKey))
	for key, id := range s.byKey {
		s.sorted = append(s.sorted, titleRef{key: key, id: id})
	}
	sort.Slice(s.sorted, func(i, j int) bool {
		if s.sorted[i].key != s.sorted[j].key {
			return s.sorted[i].key < s.sorted[j].key
		}
		return s.sorted[i].id < s.sorted[j].id
	})
}

func (s *InMemory) GetByID(_ context.Context, id uint64) (models.Article, bool, error) {
	a, ok := s.byID[id]
	return a, ok, nil
}

func (s *InMemory) GetByTitle(ctx context.Context, title string) (models.Article, bool, error) {
	id, ok := s.byKey[processing.TitleKey(title)]
	if !ok {
		return models.Article{}, false, nil
	}
	return s.GetByID(ctx, id)
}

func (s *InMemory) Preview(_ context.Context, id uint64, maxChars int) (Preview, bool, error) {
	a, ok := s.byID[id]
	if !ok {
		return Preview{}, false, nil
	}
	return preview(a, maxChars), true, nil
}

func (s *InMemory) Browse(_ context.Context, start string, size int) ([]models.TitleEntry, error) {
	out := []models.TitleEntry{}
	if size <= 0 {
		return out, nil
	}
	key := processing.TitleKey(start)
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i].key >= key })
	for ; i < len(s.sorted) && len(out) < size; i++ {
		ref := s.sorted[i]
		out = append(out, models.TitleEntry{ID: ref.id, Title: s.byID[ref.id].Title})
	}
	return out, nil
}

func (s *InMemory) After(_ context.Context, after uint64, size int) ([]models.TitleEntry, error) {
	out := []models.TitleEntry{}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] > after })
	for ; i < len(s.ids) && len(out) < size; i++ {
		out = append(out, models.TitleEntry{ID: s.ids[i], Title: s.byID[s.ids[i]].Title})
	}
	return out, nil
}

func (s *InMemory) Random(_ context.Context) (models.TitleEntry, bool, error) {
	if len(s.sorted) == 0 {
		return models.TitleEntry{}, false, nil
	}
	ref := s.sorted[rand.IntN(len(s.sorted))]
	return models.TitleEntry{ID: ref.id, Title: s.byID[ref.id].Title}, true, nil
}

func (s *InMemory) Count() uint64 { return uint64(len(s.byID)) }

func (s *InMemory) Mode() Mode { return ModeMemory }
