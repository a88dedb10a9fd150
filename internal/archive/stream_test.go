package archive_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/archive"
)

const payload = "<mediawiki><page><title>Dog</title></page></mediawiki>\n"

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lz4ed(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestStreamDecodesEveryCodec(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		data  []byte
		codec archive.Codec
	}{
		{name: "plain", file: "dump.xml", data: []byte(payload), codec: archive.CodecPlain},
		{name: "gzip", file: "dump.xml.gz", data: gzipped(t, payload), codec: archive.CodecGzip},
		{name: "zstd", file: "dump.xml.zst", data: zstded(t, payload), codec: archive.CodecZstd},
		{name: "lz4", file: "dump.xml.lz4", data: lz4ed(t, payload), codec: archive.CodecLZ4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := archive.NewStream(io.NopCloser(bytes.NewReader(tt.data)), tt.file)
			require.NoError(t, err)
			defer s.Close()

			require.Equal(t, tt.codec, s.Codec())
			got, err := io.ReadAll(s)
			require.NoError(t, err)
			require.Equal(t, payload, string(got))
			require.EqualValues(t, len(payload), s.DecodedBytes())
			require.EqualValues(t, len(tt.data), s.CompressedBytes())
		})
	}
}

func TestStreamDetectsByMagicOverExtension(t *testing.T) {
	s, err := archive.NewStream(io.NopCloser(bytes.NewReader(gzipped(t, payload))), "dump.xml.bz2")
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, archive.CodecGzip, s.Codec())
}

func TestStreamCorruptBzip2(t *testing.T) {
	garbage := append([]byte("BZh9"), bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 64)...)
	s, err := archive.NewStream(io.NopCloser(bytes.NewReader(garbage)), "dump.xml.bz2")
	require.NoError(t, err)
	defer s.Close()

	_, err = io.ReadAll(s)
	require.Error(t, err)
	require.True(t, errors.Is(err, archive.ErrCorruptArchive))

	var corrupt *archive.CorruptArchiveError
	require.True(t, errors.As(err, &corrupt))
	require.Equal(t, archive.CodecBzip2, corrupt.Codec)
	require.Positive(t, corrupt.CompressedBytes)

	_, again := s.Read(make([]byte, 8))
	require.Equal(t, err, again)
}

func TestStreamTruncatedGzipReportsProgress(t *testing.T) {
	data := gzipped(t, strings.Repeat(payload, 2000))
	truncated := data[:len(data)/2]

	s, err := archive.NewStream(io.NopCloser(bytes.NewReader(truncated)), "dump.xml.gz")
	require.NoError(t, err)
	defer s.Close()

	got, err := io.ReadAll(s)
	require.ErrorIs(t, err, archive.ErrCorruptArchive)

	var corrupt *archive.CorruptArchiveError
	require.True(t, errors.As(err, &corrupt))
	require.EqualValues(t, len(got), corrupt.DecodedBytes)
	require.EqualValues(t, len(truncated), corrupt.CompressedBytes)
}

func TestStreamBadGzipHeader(t *testing.T) {
	bad := []byte{0x1f, 0x8b, 0xff, 0xff, 0x00}
	_, err := archive.NewStream(io.NopCloser(bytes.NewReader(bad)), "dump.gz")
	require.ErrorIs(t, err, archive.ErrCorruptArchive)
}

func TestOpenLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.xml.gz")
	require.NoError(t, os.WriteFile(path, gzipped(t, payload), 0o644))

	s, err := archive.Open(t.Context(), path, archive.Options{})
	require.NoError(t, err)
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, payload, string(got))
	require.NoError(t, s.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := archive.Open(t.Context(), filepath.Join(t.TempDir(), "nope.bz2"), archive.Options{})
	require.Error(t, err)
	require.False(t, errors.Is(err, archive.ErrCorruptArchive))
}

func TestOpenRejectsMalformedS3URL(t *testing.T) {
	_, err := archive.Open(t.Context(), "s3://bucket-only", archive.Options{})
	require.Error(t, err)
}
