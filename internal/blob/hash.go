package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ContentHash is the SHA-256 of a blob's bytes: both its identity and the
// key under which it is stored on disk.
type ContentHash [sha256.Size]byte

// Sum hashes data.
func Sum(data []byte) ContentHash {
	return sha256.Sum256(data)
}

// ParseHex decodes the canonical form: exactly 64 lowercase hex chars.
func ParseHex(s string) (ContentHash, error) {
	var h ContentHash
	if len(s) != hex.EncodedLen(sha256.Size) {
		return h, fmt.Errorf("content hash must be %d hex chars, got %d", hex.EncodedLen(sha256.Size), len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid content hash: %w", err)
	}
	copy(h[:], b)
	if h.Hex() != s {
		return ContentHash{}, fmt.Errorf("content hash must be lowercase hex")
	}
	return h, nil
}

// Hex renders the canonical 64-char lowercase form.
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h ContentHash) String() string {
	return h.Hex()
}

// Shard splits the hex form into the on-disk layout parts:
// first two chars as the directory, remaining 62 as the filename.
func (h ContentHash) Shard() (dir, file string) {
	s := h.Hex()
	return s[:2], s[2:]
}
