package blob_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
)

func TestContentHashHexRoundTrip(t *testing.T) {
	h := blob.Sum([]byte("int main() { return 0; }"))

	hex := h.Hex()
	assert.Len(t, hex, 64)
	assert.Equal(t, strings.ToLower(hex), hex)

	parsed, err := blob.ParseHex(hex)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHexRejectsNonCanonical(t *testing.T) {
	valid := blob.Sum([]byte("x")).Hex()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", valid[:63]},
		{"too long", valid + "0"},
		{"non hex", strings.Repeat("g", 64)},
		{"uppercase", strings.ToUpper(valid)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := blob.ParseHex(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestShard(t *testing.T) {
	h := blob.Sum([]byte("shard me"))
	dir, file := h.Shard()

	assert.Len(t, dir, 2)
	assert.Len(t, file, 62)
	assert.Equal(t, h.Hex(), dir+file)
}
