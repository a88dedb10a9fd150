package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"

	"github.com/DeafMist/wiki-offline/internal/models"
)

// MarkerFile is written last; an index directory without it is not usable.
const MarkerFile = "COMMITTED.json"

const defaultBatchSize = 1000

var (
	ErrIndexBuild   = errors.New("index build failed")
	ErrNotCommitted = errors.New("index not committed")
)

// BuildError reports the stage at which a build gave up. The previously
// committed index, if any, is untouched.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build failed during %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrIndexBuild }

// Manifest is the content of the completion marker.
type Manifest struct {
	DocCount uint64    `json:"doc_count"`
	BuiltAt  time.Time `json:"built_at"`
	BuildID  string    `json:"build_id"`
}

// Source feeds articles to a build in id order.
type Source func(yield func(models.Article) error) error

// BuildOptions tune Build.
type BuildOptions struct {
	BatchSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Build indexes every article from src into a staging directory next to
// dir, marks it committed and swaps it into place.
func Build(ctx context.Context, dir string, src Source, opts BuildOptions) (Manifest, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	buildID := uuid.NewString()
	staging := dir + ".building-" + buildID
	log := opts.Logger.With("build_id", buildID, "staging", staging)

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return Manifest{}, &BuildError{Stage: "prepare", Err: err}
	}

	manifest, err := populate(ctx, staging, src, opts.BatchSize, log)
	if err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			log.Warn("remove staging index", "error", rmErr)
		}
		return Manifest{}, err
	}
	manifest.BuildID = buildID
	manifest.BuiltAt = opts.Now().UTC()

	if err := writeMarker(staging, manifest); err != nil {
		_ = os.RemoveAll(staging)
		return Manifest{}, &BuildError{Stage: "commit", Err: err}
	}
	if err := swap(staging, dir, buildID, log); err != nil {
		_ = os.RemoveAll(staging)
		return Manifest{}, &BuildError{Stage: "swap", Err: err}
	}

	log.Info("index committed", "dir", dir, "documents", manifest.DocCount)
	return manifest, nil
}

func populate(ctx context.Context, staging string, src Source, batchSize int, log *slog.Logger) (Manifest, error) {
	m, err := NewMapping()
	if err != nil {
		return Manifest{}, &BuildError{Stage: "mapping", Err: err}
	}
	idx, err := bleve.New(staging, m)
	if err != nil {
		return Manifest{}, &BuildError{Stage: "create", Err: err}
	}

	batch := idx.NewBatch()
	var indexed uint64
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := idx.Batch(batch); err != nil {
			return err
		}
		batch.Reset()
		return nil
	}

	err = src(func(a models.Article) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := document(a)
		if err != nil {
			return err
		}
		if err := batch.Index(DocID(a.ID), doc); err != nil {
			return fmt.Errorf("index article %d: %w", a.ID, err)
		}
		indexed++
		if batch.Size() >= batchSize {
			if err := flush(); err != nil {
				return err
			}
			if indexed%(uint64(batchSize)*100) == 0 {
				log.Info("index progress", "documents", indexed)
			}
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		_ = idx.Close()
		return Manifest{}, &BuildError{Stage: "populate", Err: err}
	}

	count, err := idx.DocCount()
	if err != nil {
		_ = idx.Close()
		return Manifest{}, &BuildError{Stage: "count", Err: err}
	}
	if err := idx.Close(); err != nil {
		return Manifest{}, &BuildError{Stage: "close", Err: err}
	}
	return Manifest{DocCount: count}, nil
}

func writeMarker(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, MarkerFile))
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// swap moves the committed staging directory to dir. An existing index is
// parked under a backup name first and restored if the final rename fails.
func swap(staging, dir, buildID string, log *slog.Logger) error {
	backup := ""
	if _, err := os.Stat(dir); err == nil {
		backup = dir + ".old-" + buildID
		if err := os.Rename(dir, backup); err != nil {
			return fmt.Errorf("park previous index: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.Rename(staging, dir); err != nil {
		if backup != "" {
			if restoreErr := os.Rename(backup, dir); restoreErr != nil {
				log.Error("restore previous index", "error", restoreErr, "backup", backup)
			}
		}
		return fmt.Errorf("install index: %w", err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			log.Warn("remove previous index", "error", err, "backup", backup)
		}
	}
	return nil
}

// ReadManifest returns the marker of a committed index directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%w: %s", ErrNotCommitted, dir)
	}
	if err != nil {
		return m, fmt.Errorf("read marker: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: bad marker in %s: %v", ErrNotCommitted, dir, err)
	}
	return m, nil
}

// Committed reports whether dir holds a usable index.
func Committed(dir string) bool {
	_, err := ReadManifest(dir)
	return err == nil
}
