// Package store serves articles by id and title from one of two backends
// chosen at startup: fully in memory, or straight from the on-disk index.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
	"github.com/DeafMist/wiki-offline/internal/searchindex"
)

// Mode names a backend.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeMemory Mode = "memory"
	ModeIndex  Mode = "index"
)

// ParseMode accepts auto, memory and index.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeMemory, ModeIndex:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown store backend %q", s)
}

// Store is the read surface shared by both backends. A miss is reported
// with ok == false and a nil error.
type Store interface {
	GetByID(ctx context.Context, id uint64) (models.Article, bool, error)
	GetByTitle(ctx context.Context, title string) (models.Article, bool, error)
	Preview(ctx context.Context, id uint64, maxChars int) (Preview, bool, error)
	Browse(ctx context.Context, start string, size int) ([]models.TitleEntry, error)
	// After pages through articles in id order, starting above the given id.
	After(ctx context.Context, after uint64, size int) ([]models.TitleEntry, error)
	// Random picks one article uniformly; ok is false for an empty store.
	Random(ctx context.Context) (models.TitleEntry, bool, error)
	Count() uint64
	Mode() Mode
}

// Preview is the leading plain text of an article.
type Preview struct {
	ID        uint64 `json:"id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
	Words     int    `json:"words"`
}

func preview(a models.Article, maxChars int) Preview {
	plain := processing.PlainText(a.Content)
	text := processing.Truncate(plain, maxChars)
	return Preview{
		ID:        a.ID,
		Title:     a.Title,
		Text:      text,
		Truncated: len(text) < len(plain),
		Words:     len(strings.Fields(plain)),
	}
}

// Options locate the corpus and the index.
type Options struct {
	Mode       Mode
	CorpusPath string
	IndexPath  string
	Logger     *slog.Logger
}

// Opened is the result of Open. Index is nil when no committed index exists;
// it stays open for search even when the store serves from memory.
type Opened struct {
	Store Store
	Index *searchindex.Index
}

// Close releases the index, if any.
func (o *Opened) Close() error {
	if o.Index == nil {
		return nil
	}
	return o.Index.Close()
}

// Open picks the backend once. Auto prefers a committed index and falls
// back to loading the corpus into memory.
func Open(ctx context.Context, opts Options) (*Opened, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var idx *searchindex.Index
	if searchindex.Committed(opts.IndexPath) {
		var err error
		idx, err = searchindex.Open(opts.IndexPath)
		if err != nil {
			return nil, err
		}
	} else if opts.Mode == ModeIndex {
		return nil, fmt.Errorf("index backend requested: %w: %s", searchindex.ErrNotCommitted, opts.IndexPath)
	}

	mode := opts.Mode
	if mode == ModeAuto || mode == "" {
		mode = ModeMemory
		if idx != nil {
			mode = ModeIndex
		}
	}

	switch mode {
	case ModeIndex:
		log.Info("content store ready", "mode", mode, "articles", idx.DocCount())
		return &Opened{Store: NewIndexBacked(idx), Index: idx}, nil
	case ModeMemory:
		mem, err := LoadInMemory(ctx, opts.CorpusPath)
		if err != nil {
			if idx != nil {
				_ = idx.Close()
			}
			return nil, err
		}
		log.Info("content store ready", "mode", mode, "articles", mem.Count(), "index", idx != nil)
		return &Opened{Store: mem, Index: idx}, nil
	}
	if idx != nil {
		_ = idx.Close()
	}
	return nil, errors.New("unknown store mode " + string(mode))
}
