// Package corpus reads and writes the durable article log: one JSON object
// per line, appended in id order.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/DeafMist/wiki-offline/internal/models"
)

const bufferSize = 1 << 20

// Writer appends articles to a record log. It is not safe for concurrent use.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	records uint64
	bytes   uint64
}

// Create truncates or creates the log at path.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create corpus: %w", err)
	}
	w := NewWriter(f)
	w.file = f
	return w, nil
}

// NewWriter writes records to w. Close only flushes unless w came from Create.
func NewWriter(w io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriterSize(w, bufferSize)}
}

// Write appends one record and its terminating newline.
func (w *Writer) Write(a models.Article) error {
	if a.Categories == nil {
		a.Categories = []string{}
	}
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode article %d: %w", a.ID, err)
	}
	line = append(line, '\n')
	n, err := w.buf.Write(line)
	w.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("write article %d: %w", a.ID, err)
	}
	w.records++
	return nil
}

// Flush pushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush corpus: %w", err)
	}
	return nil
}

// Records is the number of records accepted so far.
func (w *Writer) Records() uint64 { return w.records }

// Bytes is the number of bytes accepted so far, newlines included.
func (w *Writer) Bytes() uint64 { return w.bytes }

// Close flushes and, for files, syncs and closes.
func (w *Writer) Close() error {
	flushErr := w.Flush()
	if w.file == nil {
		return flushErr
	}
	if flushErr != nil {
		_ = w.file.Close()
		return flushErr
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("sync corpus: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close corpus: %w", err)
	}
	return nil
}
