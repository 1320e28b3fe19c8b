package httpserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCacheGetReadsContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	c := NewFileCache(2)
	f, err := c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(f.Data))
	assert.Equal(t, int64(5), f.Size)
}

func TestFileCacheEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	mk := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	a := mk("a.txt", "a")
	b := mk("b.txt", "b")
	cc := mk("c.txt", "c")

	cache := NewFileCache(2)
	_, err := cache.Get(a)
	require.NoError(t, err)
	_, err = cache.Get(b)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	// touch a so b becomes LRU
	_, err = cache.Get(a)
	require.NoError(t, err)

	_, err = cache.Get(cc)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	cache.mu.Lock()
	_, hasB := cache.index[b]
	_, hasA := cache.index[a]
	_, hasC := cache.index[cc]
	cache.mu.Unlock()
	assert.False(t, hasB, "b should have been evicted as LRU")
	assert.True(t, hasA)
	assert.True(t, hasC)
}

func TestFileCacheMissingFileErrors(t *testing.T) {
	cache := NewFileCache(2)
	_, err := cache.Get("/nonexistent/path/does/not/exist.txt")
	assert.Error(t, err)
}
