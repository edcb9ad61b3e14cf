// Package codec compresses and decompresses archive files.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	herrors "github.com/xtxerr/homehistory/internal/errors"
)

// Compression represents an archive compression algorithm.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
	LZ4
)

// All returns every supported algorithm.
func All() []Compression {
	return []Compression{None, Gzip, Zstd, LZ4}
}

// String returns the algorithm name.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Extension returns the file name suffix appended after ".json".
func (c Compression) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Parse parses an algorithm name. An empty name selects zstd.
func Parse(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst", "":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: unknown compression %q", herrors.ErrInvalidConfig, s)
	}
}

// FromPath returns the algorithm implied by a file name's extension.
func FromPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip
	case strings.HasSuffix(path, ".zst"):
		return Zstd
	case strings.HasSuffix(path, ".lz4"):
		return LZ4
	default:
		return None
	}
}

// Codec compresses with one algorithm and decompresses any of them.
// It is safe for concurrent use.
type Codec struct {
	algo  Compression
	level int

	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error

	ratio Ratio
}

// New creates a codec. level is algorithm specific: gzip 1-9, zstd 1-4
// (fastest to best); 0 selects the algorithm default.
func New(algo Compression, level int) *Codec {
	return &Codec{algo: algo, level: level}
}

// Algorithm returns the compression algorithm used for writes.
func (c *Codec) Algorithm() Compression {
	return c.algo
}

// Ratio returns the running compression ratio tracker.
func (c *Codec) Ratio() *Ratio {
	return &c.ratio
}

func (c *Codec) initZstd() error {
	c.zstdOnce.Do(func() {
		level := zstd.SpeedDefault
		if c.level > 0 {
			level = zstd.EncoderLevel(c.level)
		}
		c.zstdEnc, c.zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if c.zstdErr != nil {
			return
		}
		c.zstdDec, c.zstdErr = zstd.NewReader(nil)
	})
	return c.zstdErr
}

// Compress compresses data with the codec's algorithm.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	out, err := c.compress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", herrors.ErrCompression, c.algo, err)
	}
	c.ratio.Add(int64(len(data)), int64(len(out)))
	return out, nil
}

func (c *Codec) compress(data []byte) ([]byte, error) {
	switch c.algo {
	case None:
		return data, nil

	case Gzip:
		level := gzip.DefaultCompression
		if c.level > 0 {
			level = c.level
		}
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case Zstd:
		if err := c.initZstd(); err != nil {
			return nil, err
		}
		return c.zstdEnc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil

	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported algorithm %d", int(c.algo))
	}
}

// Decompress decompresses data written with algo.
func (c *Codec) Decompress(algo Compression, data []byte) ([]byte, error) {
	out, err := c.decompress(algo, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", herrors.ErrCompression, algo, err)
	}
	return out, nil
}

func (c *Codec) decompress(algo Compression, data []byte) ([]byte, error) {
	switch algo {
	case None:
		return data, nil

	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	case Zstd:
		if err := c.initZstd(); err != nil {
			return nil, err
		}
		return c.zstdDec.DecodeAll(data, nil)

	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	default:
		return nil, fmt.Errorf("unsupported algorithm %d", int(algo))
	}
}

// Close releases zstd resources.
func (c *Codec) Close() {
	if c.zstdEnc != nil {
		c.zstdEnc.Close()
	}
	if c.zstdDec != nil {
		c.zstdDec.Close()
	}
}

// Ratio tracks running uncompressed and compressed byte totals.
type Ratio struct {
	raw        atomic.Int64
	compressed atomic.Int64
}

// Add records one compression.
func (r *Ratio) Add(raw, compressed int64) {
	r.raw.Add(raw)
	r.compressed.Add(compressed)
}

// Totals returns the accumulated raw and compressed byte counts.
func (r *Ratio) Totals() (raw, compressed int64) {
	return r.raw.Load(), r.compressed.Load()
}

// Value returns compressed/raw, or 1 when nothing was compressed yet.
func (r *Ratio) Value() float64 {
	raw, compressed := r.Totals()
	if raw == 0 {
		return 1
	}
	return float64(compressed) / float64(raw)
}
