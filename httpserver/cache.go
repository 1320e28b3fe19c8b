package httpserver

import (
	"container/list"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/acpass/coroio/logging"
)

var cacheLog = logging.For(logging.CategoryHTTP)

// CachedFile is an mmap'd, read-only view of a served file's contents.
// Data is valid only while the entry remains in the cache; callers must
// not retain it past the call that returned it.
type CachedFile struct {
	Data []byte
	Size int64
}

type cacheEntry struct {
	path string
	data []byte
	size int64
}

// FileCache is a bounded LRU of mmap-backed file entries. Capacity is
// fixed at construction. A single mutex guards both the doubly-linked
// list (recency order) and the path→list-element index, per spec.md
// §4.7.
type FileCache struct {
	capacity int

	mu    sync.Mutex
	order *list.List               // front = MRU, back = LRU
	index map[string]*list.Element // path -> element (element.Value is *cacheEntry)
}

// NewFileCache constructs a cache holding at most capacity entries.
func NewFileCache(capacity int) *FileCache {
	if capacity < 1 {
		capacity = 1
	}
	return &FileCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached entry for path, opening and mmap'ing it on a
// miss, and promotes it to most-recently-used.
func (c *FileCache) Get(path string) (*CachedFile, error) {
	c.mu.Lock()
	if el, ok := c.index[path]; ok {
		c.order.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		c.mu.Unlock()
		return &CachedFile{Data: entry.data, Size: entry.size}, nil
	}
	c.mu.Unlock()

	entry, err := c.load(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[path]; ok {
		// lost the race to another loader; keep the existing mapping
		// and unmap the duplicate we just created.
		unmapEntry(entry)
		c.order.MoveToFront(el)
		existing := el.Value.(*cacheEntry)
		return &CachedFile{Data: existing.data, Size: existing.size}, nil
	}

	el := c.order.PushFront(entry)
	c.index[path] = el
	if c.order.Len() > c.capacity {
		c.evictLocked()
	}
	return &CachedFile{Data: entry.data, Size: entry.size}, nil
}

func (c *FileCache) load(path string) (*cacheEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("httpserver: stat %s: %w", path, err)
	}
	size := info.Size()

	var data []byte
	if size > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("httpserver: mmap %s: %w", path, err)
		}
	}
	return &cacheEntry{path: path, data: data, size: size}, nil
}

// evictLocked removes the least-recently-used entry. Caller holds mu.
func (c *FileCache) evictLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*cacheEntry)
	c.order.Remove(back)
	delete(c.index, entry.path)
	unmapEntry(entry)
	cacheLog.Debug().Str("path", entry.path).Log("evicted file cache entry")
}

func unmapEntry(e *cacheEntry) {
	if len(e.data) == 0 {
		return
	}
	if err := unix.Munmap(e.data); err != nil {
		cacheLog.Warn().Str("path", e.path).Str("error", err.Error()).Log("munmap failed")
	}
}

// Len reports the current number of cached entries.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
