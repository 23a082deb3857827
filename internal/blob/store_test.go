package blob_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
)

func newStore(t *testing.T, maxSize int64) (*blob.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := blob.New(dir, maxSize)
	require.NoError(t, err)
	return s, dir
}

func tmpEntries(t *testing.T, baseDir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(baseDir, ".tmp"))
	require.NoError(t, err)
	return entries
}

func TestPutGetRoundTrip(t *testing.T) {
	s, dir := newStore(t, 0)
	data := []byte("print('hello judge')")

	h, err := s.Put(data)
	require.NoError(t, err)
	assert.Equal(t, blob.Sum(data), h)

	got, err := s.Get(h)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Sharded layout: {base}/{hex[:2]}/{hex[2:]}
	shardDir, shardFile := h.Shard()
	_, err = os.Stat(filepath.Join(dir, shardDir, shardFile))
	require.NoError(t, err)

	assert.Empty(t, tmpEntries(t, dir), "no temp files after a successful put")
}

func TestPutDeduplicates(t *testing.T) {
	s, dir := newStore(t, 0)
	data := []byte("same bytes")

	h1, err := s.Put(data)
	require.NoError(t, err)
	h2, err := s.Put(data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	shardDir, _ := h1.Shard()
	entries, err := os.ReadDir(filepath.Join(dir, shardDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "identical bytes stored exactly once")
}

func TestConcurrentIdenticalPuts(t *testing.T) {
	s, dir := newStore(t, 0)
	data := bytes.Repeat([]byte("ab"), 4096)
	want := blob.Sum(data)

	var wg sync.WaitGroup
	hashes := make([]blob.ContentHash, 8)
	for i := range hashes {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h, err := s.Put(data)
			assert.NoError(t, err)
			hashes[n] = h
		}(i)
	}
	wg.Wait()

	for _, h := range hashes {
		assert.Equal(t, want, h)
	}

	shardDir, shardFile := want.Shard()
	got, err := os.ReadFile(filepath.Join(dir, shardDir, shardFile))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Empty(t, tmpEntries(t, dir))
}

func TestPutSizeLimit(t *testing.T) {
	const limit = 128
	s, dir := newStore(t, limit)

	_, err := s.Put(make([]byte, limit))
	require.NoError(t, err, "exactly max_size succeeds")

	_, err = s.Put(make([]byte, limit+1))
	require.ErrorIs(t, err, domain.ErrSizeLimitExceeded)
	assert.Empty(t, tmpEntries(t, dir), "rejected put leaves no temp file")
}

func TestPutStream(t *testing.T) {
	s, _ := newStore(t, 0)

	// Larger than the 64 KiB copy buffer to exercise multiple reads.
	data := make([]byte, 200*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	h, size, err := s.PutStream(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, blob.Sum(data), h)

	rc, err := s.GetStream(h)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPutStreamOverflowAbortsMidStream(t *testing.T) {
	const limit = 64 * 1024
	s, dir := newStore(t, limit)

	_, _, err := s.PutStream(bytes.NewReader(make([]byte, limit+1)))
	require.ErrorIs(t, err, domain.ErrSizeLimitExceeded)
	assert.Empty(t, tmpEntries(t, dir), "aborted stream deletes its temp file")
}

func TestGetMissing(t *testing.T) {
	s, _ := newStore(t, 0)

	_, err := s.Get(blob.Sum([]byte("never stored")))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetStream(blob.Sum([]byte("never stored")))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExistsSizeDelete(t *testing.T) {
	s, _ := newStore(t, 0)
	data := []byte("ephemeral")

	h, err := s.Put(data)
	require.NoError(t, err)

	assert.True(t, s.Exists(h))

	size, err := s.Size(h)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	deleted, err := s.Delete(h)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, s.Exists(h))

	deleted, err = s.Delete(h)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete reports absence")

	_, err = s.Size(h)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
