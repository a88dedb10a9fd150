package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DeafMist/wiki-offline/internal/dedupe"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

// PruneResult summarizes a dead-link rewrite.
type PruneResult struct {
	Articles  uint64
	Rewritten uint64
}

// PruneLinks rewrites links to titles that are not in the log into plain
// labels. The first pass collects the title keys, the second writes a new log
// next to the old one and renames it into place.
func PruneLinks(ctx context.Context, path string) (PruneResult, error) {
	var res PruneResult

	titles := dedupe.NewTitleSet(0)
	if err := ForEach(ctx, path, func(a models.Article) error {
		titles.Mark(processing.TitleKey(a.Title))
		return nil
	}); err != nil {
		return res, fmt.Errorf("collect titles: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".prune-*")
	if err != nil {
		return res, fmt.Errorf("create prune output: %w", err)
	}
	tmpPath := tmp.Name()
	out := NewWriter(tmp)
	out.file = tmp

	err = ForEach(ctx, path, func(a models.Article) error {
		res.Articles++
		pruned := processing.PruneLinks(a.Content, titles.Seen)
		if pruned != a.Content {
			res.Rewritten++
			a.Content = pruned
		}
		return out.Write(a)
	})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return res, fmt.Errorf("prune links: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return res, fmt.Errorf("replace corpus: %w", err)
	}
	return res, nil
}
