// Package compress wraps transfers in zstd, lz4 or gzip framing.
//
// Writers compress what the CLI uploads and readers decompress what it
// downloads. Framed streams are self-describing, so Sniff can pick the codec
// of a remote file from its first bytes.
package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names a compression format.
type Codec string

const (
	None Codec = "none"
	Zstd Codec = "zstd"
	LZ4  Codec = "lz4"
	Gzip Codec = "gzip"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Parse accepts a codec name, or "" for None.
func Parse(name string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(name))); c {
	case "", None:
		return None, nil
	case Zstd, LZ4, Gzip:
		return c, nil
	case "zst":
		return Zstd, nil
	case "gz":
		return Gzip, nil
	default:
		return None, fmt.Errorf("unknown compression %q (valid: none, zstd, lz4, gzip)", name)
	}
}

// Extension returns the conventional file suffix, including the dot.
func (c Codec) Extension() string {
	switch c {
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	case Gzip:
		return ".gz"
	default:
		return ""
	}
}

// FromPath guesses the codec from a file name suffix.
func FromPath(name string) Codec {
	switch strings.ToLower(path.Ext(name)) {
	case ".zst", ".zstd":
		return Zstd
	case ".lz4":
		return LZ4
	case ".gz", ".gzip":
		return Gzip
	default:
		return None
	}
}

// Sniff peeks at the stream's magic number without consuming it.
func Sniff(r *bufio.Reader) Codec {
	head, _ := r.Peek(len(zstdMagic))
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd
	case bytes.HasPrefix(head, lz4Magic):
		return LZ4
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip
	default:
		return None
	}
}

// NewWriter compresses into w. Close flushes the final frame but leaves w
// open.
func NewWriter(w io.Writer, c Codec) (io.WriteCloser, error) {
	switch c {
	case None, "":
		return nopWriteCloser{w}, nil
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.ChecksumOption(true)); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return zw, nil
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// NewReader decompresses r.
func NewReader(r io.Reader, c Codec) (io.ReadCloser, error) {
	switch c {
	case None, "":
		return io.NopCloser(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// NewAutoReader decompresses r with the codec its magic number names.
func NewAutoReader(r io.Reader) (io.ReadCloser, Codec, error) {
	br := bufio.NewReader(r)
	c := Sniff(br)
	rc, err := NewReader(br, c)
	return rc, c, err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
