package searchindex

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CleanupStale removes staging and backup directories left next to dir by
// interrupted builds once nothing inside them changed for maxAge. A build
// still writing segments keeps its staging directory alive.
func CleanupStale(dir string, maxAge time.Duration, now time.Time) ([]string, error) {
	var candidates []string
	for _, pattern := range []string{dir + ".building-*", dir + ".old-*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		candidates = append(candidates, matches...)
	}

	var removed []string
	for _, path := range candidates {
		latest, err := lastModified(path)
		if err != nil {
			continue
		}
		if now.Sub(latest) < maxAge {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// lastModified is the newest modification time of path and everything below it.
func lastModified(path string) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}
