// Package blob is a content-addressed store for submission artifacts and
// attachments. Blobs are immutable, keyed by SHA-256, deduplicated, and
// laid out on disk as {base}/{hash[0:2]}/{hash[2:]} with temp files under
// {base}/.tmp so a partially written blob is never reachable under its
// final name.
package blob

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
)

// copyBufferSize is the streaming chunk size for hashing and writing.
const copyBufferSize = 64 * 1024

const tmpDirName = ".tmp"

// Store writes and reads blobs under a base directory. maxSize bounds a
// single blob; zero or negative means unlimited.
type Store struct {
	baseDir string
	tmpDir  string
	maxSize int64
}

// New creates the base and temp directories eagerly so the first Put does
// not race directory creation.
func New(baseDir string, maxSize int64) (*Store, error) {
	tmpDir := filepath.Join(baseDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dirs: %w", err)
	}
	return &Store{baseDir: baseDir, tmpDir: tmpDir, maxSize: maxSize}, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) path(h ContentHash) string {
	dir, file := h.Shard()
	return filepath.Join(s.baseDir, dir, file)
}

// Put stores data and returns its hash. Identical bytes yield the same
// hash and exactly one on-disk copy; a collision with an existing blob
// returns without writing.
func (s *Store) Put(data []byte) (ContentHash, error) {
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		metrics.RecordBlobOperation("put", "error")
		return ContentHash{}, fmt.Errorf("%w: %d bytes over %d limit", domain.ErrSizeLimitExceeded, len(data), s.maxSize)
	}

	h := Sum(data)
	if s.Exists(h) {
		metrics.RecordBlobOperation("put", "dedup")
		return h, nil
	}

	got, _, err := s.putStream(bytes.NewReader(data))
	if err != nil {
		return ContentHash{}, err
	}
	return got, nil
}

// PutStream stores bytes from r, hashing while writing through a 64 KiB
// buffer, and returns the hash and size. The size limit is enforced
// mid-stream: on overflow the temp file is deleted and nothing is stored.
func (s *Store) PutStream(r io.Reader) (ContentHash, int64, error) {
	return s.putStream(r)
}

func (s *Store) putStream(r io.Reader) (ContentHash, int64, error) {
	tmp := filepath.Join(s.tmpDir, uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		metrics.RecordBlobOperation("put", "error")
		return ContentHash{}, 0, fmt.Errorf("create temp blob: %w", err)
	}

	abort := func(cause error) (ContentHash, int64, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		metrics.RecordBlobOperation("put", "error")
		return ContentHash{}, 0, cause
	}

	hasher := sha256.New()
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if s.maxSize > 0 && total > s.maxSize {
				return abort(fmt.Errorf("%w: stream exceeds %d bytes", domain.ErrSizeLimitExceeded, s.maxSize))
			}
			hasher.Write(buf[:n])
			if _, werr := f.Write(buf[:n]); werr != nil {
				return abort(fmt.Errorf("write temp blob: %w", werr))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return abort(fmt.Errorf("read blob stream: %w", rerr))
		}
	}

	if err := f.Sync(); err != nil {
		return abort(fmt.Errorf("sync temp blob: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		metrics.RecordBlobOperation("put", "error")
		return ContentHash{}, 0, fmt.Errorf("close temp blob: %w", err)
	}

	var h ContentHash
	copy(h[:], hasher.Sum(nil))

	final := s.path(h)
	if s.Exists(h) {
		// Concurrent identical put already won; ours just vanishes.
		_ = os.Remove(tmp)
		metrics.RecordBlobOperation("put", "dedup")
		return h, total, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		_ = os.Remove(tmp)
		metrics.RecordBlobOperation("put", "error")
		return ContentHash{}, 0, fmt.Errorf("create shard dir: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		metrics.RecordBlobOperation("put", "error")
		return ContentHash{}, 0, fmt.Errorf("finalize blob: %w", err)
	}

	metrics.RecordBlobOperation("put", "ok")
	return h, total, nil
}

// Get reads a whole blob into memory.
func (s *Store) Get(h ContentHash) ([]byte, error) {
	data, err := os.ReadFile(s.path(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.RecordBlobOperation("get", "missing")
			return nil, fmt.Errorf("blob %s: %w", h, domain.ErrNotFound)
		}
		metrics.RecordBlobOperation("get", "error")
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	metrics.RecordBlobOperation("get", "ok")
	return data, nil
}

// GetStream opens a blob for reading; the caller closes it.
func (s *Store) GetStream(h ContentHash) (io.ReadCloser, error) {
	f, err := os.Open(s.path(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.RecordBlobOperation("get", "missing")
			return nil, fmt.Errorf("blob %s: %w", h, domain.ErrNotFound)
		}
		metrics.RecordBlobOperation("get", "error")
		return nil, fmt.Errorf("open blob %s: %w", h, err)
	}
	metrics.RecordBlobOperation("get", "ok")
	return f, nil
}

// Exists reports whether the blob is stored.
func (s *Store) Exists(h ContentHash) bool {
	_, err := os.Stat(s.path(h))
	return err == nil
}

// Size returns the stored byte count.
func (s *Store) Size(h ContentHash) (int64, error) {
	fi, err := os.Stat(s.path(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("blob %s: %w", h, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("stat blob %s: %w", h, err)
	}
	return fi.Size(), nil
}

// Delete removes a blob; true if it was deleted, false if absent.
func (s *Store) Delete(h ContentHash) (bool, error) {
	err := os.Remove(s.path(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		metrics.RecordBlobOperation("delete", "error")
		return false, fmt.Errorf("delete blob %s: %w", h, err)
	}
	metrics.RecordBlobOperation("delete", "ok")
	return true, nil
}
