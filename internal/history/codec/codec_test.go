package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/xtxerr/homehistory/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Compression
		hasError bool
	}{
		{"none", None, false},
		{"gzip", Gzip, false},
		{"zstd", Zstd, false},
		{"", Zstd, false},
		{"LZ4", LZ4, false},
		{"brotli", None, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if tt.hasError {
			assert.True(t, herrors.IsValidation(err), "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.expected, got)
	}
}

func TestExtensionAndFromPath(t *testing.T) {
	for _, c := range All() {
		path := "device_state__2026-01-15.json" + c.Extension()
		assert.Equal(t, c, FromPath(path), "round trip for %s", c)
	}
	assert.Equal(t, "", None.Extension())
	assert.Equal(t, ".zst", Zstd.Extension())
}

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"id":"abc","category":"sensor_reading","value":21.5}`, 200))

	for _, algo := range All() {
		t.Run(algo.String(), func(t *testing.T) {
			c := New(algo, 0)
			defer c.Close()

			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			if algo != None {
				assert.Less(t, len(compressed), len(payload), "repetitive input should shrink")
			}

			out, err := c.Decompress(algo, compressed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, out))
		})
	}
}

func TestLevels(t *testing.T) {
	payload := []byte(strings.Repeat("sensor temp-1 21.5C ", 500))

	for _, level := range []int{1, 4} {
		c := New(Zstd, level)
		out, err := c.Compress(payload)
		require.NoError(t, err)
		back, err := c.Decompress(Zstd, out)
		require.NoError(t, err)
		assert.Equal(t, payload, back)
		c.Close()
	}

	g := New(Gzip, 9)
	out, err := g.Compress(payload)
	require.NoError(t, err)
	back, err := g.Decompress(Gzip, out)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}

func TestDecompressAnyAlgorithm(t *testing.T) {
	payload := []byte("mixed archive")
	writer := New(LZ4, 0)
	reader := New(Zstd, 0)
	defer reader.Close()

	compressed, err := writer.Compress(payload)
	require.NoError(t, err)

	out, err := reader.Decompress(LZ4, compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecompressCorrupt(t *testing.T) {
	c := New(Gzip, 0)
	_, err := c.Decompress(Gzip, []byte("definitely not gzip"))
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.ErrCompression))
	assert.True(t, herrors.IsRetriable(err))
}

func TestRatio(t *testing.T) {
	var r Ratio
	assert.Equal(t, 1.0, r.Value())

	r.Add(1000, 250)
	r.Add(1000, 250)
	assert.Equal(t, 0.25, r.Value())

	raw, compressed := r.Totals()
	assert.Equal(t, int64(2000), raw)
	assert.Equal(t, int64(500), compressed)
}
