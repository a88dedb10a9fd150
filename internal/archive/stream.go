// Package archive exposes a compressed dump as a plain forward-only byte
// stream without materializing it.
package archive

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names the compression format of a source.
type Codec string

const (
	CodecPlain Codec = "plain"
	CodecBzip2 Codec = "bzip2"
	CodecGzip  Codec = "gzip"
	CodecZstd  Codec = "zstd"
	CodecLZ4   Codec = "lz4"
)

var (
	magicBzip2 = []byte("BZh")
	magicGzip  = []byte{0x1f, 0x8b}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4   = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ErrCorruptArchive matches every CorruptArchiveError.
var ErrCorruptArchive = errors.New("corrupt archive")

// CorruptArchiveError reports a malformed compressed frame together with how
// far the stream got before failing.
type CorruptArchiveError struct {
	Codec           Codec
	CompressedBytes int64
	DecodedBytes    int64
	Err             error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt %s archive after %d compressed / %d decoded bytes: %v",
		e.Codec, e.CompressedBytes, e.DecodedBytes, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

func (e *CorruptArchiveError) Is(target error) bool { return target == ErrCorruptArchive }

// Options configure how remote sources are reached.
type Options struct {
	AWSRegion   string
	S3PathStyle bool
}

// Stream is a decompressed view over a source. It only supports sequential reads.
type Stream struct {
	codec   Codec
	src     io.Closer
	counter *countingReader
	dec     io.Reader
	closers []func() error
	decoded int64
	err     error
}

// Open opens a local path or an s3://bucket/key object and wraps it in the
// matching decompressor.
func Open(ctx context.Context, path string, opts Options) (*Stream, error) {
	var src io.ReadCloser
	if strings.HasPrefix(path, "s3://") {
		rc, err := openS3(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		src = rc
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open dump: %w", err)
		}
		src = f
	}

	s, err := NewStream(src, filepath.Base(path))
	if err != nil {
		src.Close()
		return nil, err
	}
	return s, nil
}

// NewStream sniffs the codec of src (falling back to the name's extension)
// and returns a decompressing stream. Closing the stream closes src.
func NewStream(src io.ReadCloser, name string) (*Stream, error) {
	counter := &countingReader{r: src}
	buffered := bufio.NewReaderSize(counter, 1<<20)

	magic, _ := buffered.Peek(4)
	codec := detect(magic, name)

	s := &Stream{codec: codec, src: src, counter: counter}
	switch codec {
	case CodecBzip2:
		s.dec = bzip2.NewReader(buffered)
	case CodecGzip:
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, s.corrupt(err)
		}
		s.dec = zr
		s.closers = append(s.closers, zr.Close)
	case CodecZstd:
		zr, err := zstd.NewReader(buffered, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, s.corrupt(err)
		}
		s.dec = zr
		s.closers = append(s.closers, func() error { zr.Close(); return nil })
	case CodecLZ4:
		s.dec = lz4.NewReader(buffered)
	default:
		s.dec = buffered
	}
	return s, nil
}

func detect(magic []byte, name string) Codec {
	switch {
	case bytes.HasPrefix(magic, magicBzip2):
		return CodecBzip2
	case bytes.HasPrefix(magic, magicGzip):
		return CodecGzip
	case bytes.HasPrefix(magic, magicZstd):
		return CodecZstd
	case bytes.HasPrefix(magic, magicLZ4):
		return CodecLZ4
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".bz2":
		return CodecBzip2
	case ".gz":
		return CodecGzip
	case ".zst":
		return CodecZstd
	case ".lz4":
		return CodecLZ4
	}
	return CodecPlain
}

// Codec reports the detected compression format.
func (s *Stream) Codec() Codec { return s.codec }

// CompressedBytes is the number of bytes consumed from the source so far.
func (s *Stream) CompressedBytes() int64 { return s.counter.n }

// DecodedBytes is the number of decompressed bytes delivered so far.
func (s *Stream) DecodedBytes() int64 { return s.decoded }

// Read implements io.Reader. Once a decompression error occurs every later
// call returns the same *CorruptArchiveError.
func (s *Stream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.dec.Read(p)
	s.decoded += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = s.corrupt(err)
		return n, s.err
	}
	return n, err
}

// Close releases the decompressor and the underlying source.
func (s *Stream) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	errs = append(errs, s.src.Close())
	return errors.Join(errs...)
}

func (s *Stream) corrupt(err error) *CorruptArchiveError {
	return &CorruptArchiveError{
		Codec:           s.codec,
		CompressedBytes: s.counter.n,
		DecodedBytes:    s.decoded,
		Err:             err,
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
