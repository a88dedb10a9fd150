package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/DeafMist/wiki-offline/internal/models"
)

// ErrCorruptRecord is returned for a complete line that does not decode.
var ErrCorruptRecord = errors.New("corrupt corpus record")

// ForEach calls fn for every record in the log at path, in order.
func ForEach(ctx context.Context, path string, fn func(models.Article) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return Scan(ctx, f, fn)
}

// Scan reads records from r. A final line without a newline is the remains
// of an interrupted write and is ignored. Iteration stops at the first error
// returned by fn.
func Scan(ctx context.Context, r io.Reader, fn func(models.Article) error) error {
	br := bufio.NewReaderSize(r, bufferSize)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read corpus: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var a models.Article
		if err := json.Unmarshal(line, &a); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrCorruptRecord, lineNo, err)
		}
		if a.Categories == nil {
			a.Categories = []string{}
		}
		if err := fn(a); err != nil {
			return err
		}
	}
}

// Count returns the number of complete records in the log.
func Count(ctx context.Context, path string) (uint64, error) {
	var n uint64
	err := ForEach(ctx, path, func(models.Article) error {
		n++
		return nil
	})
	return n, err
}

// ReadMetadata decodes config.json or stats.json. Unknown fields are ignored.
func ReadMetadata(path string) (models.RunMetadata, error) {
	var meta models.RunMetadata
	raw, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return meta, nil
}
