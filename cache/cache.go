// Package cache implements the memory-bounded, spill-to-disk object
// cache used while decoding a pack: entries are kept resident up to a
// configured byte budget, after which the coldest ones are serialized
// to per-entry files under a private temp directory and re-inflated
// from disk on demand.
package cache

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/TimePrinciple/mega/pool"
)

// Key identifies a cache entry by both of its lookup paths: the
// absolute pack offset it was parsed at, and its content hash once
// resolved. A zero Hash means the content hash is unknown; such an
// entry is indexed by offset only. Lookups by hash go through
// GetByHash.
type Key struct {
	Offset int64
	Hash   [20]byte
}

func (k Key) hasHash() bool {
	return k.Hash != [20]byte{}
}

// Sized is implemented by values a Cache can hold, so the cache can
// account for them against its memory budget.
type Sized interface {
	HeapSize() int
}

// Releasable is optionally implemented by cached values that hold a
// pooled resource (e.g. a buffer) which should be returned to its
// pool once the cache spills the value to disk; from that point on the
// cache itself no longer refers to the resident copy.
type Releasable interface {
	Release()
}

// Codec marshals and unmarshals cached values for spill storage.
type Codec[T Sized] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// Stats exposes read-only counters for instrumentation.
type Stats struct {
	MemoryUsed    int64
	TotalInserted int64
	TotalSpilled  int64
	ResidentCount int
}

// Cache is a memory-bounded, two-index object cache with disk
// overflow. The zero value is not usable; construct with New.
type Cache[T Sized] struct {
	budget   int64
	spillDir string
	codec    Codec[T]
	spillers *pool.Pool

	mu         sync.Mutex
	byOffset   map[int64]*Handle[T]
	byHash     map[[20]byte]*Handle[T]
	order      *list.List // of *Handle[T], back = oldest
	resident   int64      // bytes currently held in memory
	inserted   int64
	spilled    int64
	cleared    bool
}

// New creates a Cache that spills to spillDir once resident bytes
// would exceed budget (budget <= 0 means unbounded: the cache never
// spills). spillDir is created if it does not already exist. spillers
// is the worker pool used to perform spill I/O off the caller's
// goroutine; pass a pool sized independently of any decode pool, per
// §4.4 of the design.
func New[T Sized](budget int64, spillDir string, codec Codec[T], spillers *pool.Pool) (*Cache[T], error) {
	if spillDir != "" {
		if err := os.MkdirAll(spillDir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create spill dir: %w", err)
		}
	}
	return &Cache[T]{
		budget:   budget,
		spillDir: spillDir,
		codec:    codec,
		spillers: spillers,
		byOffset: make(map[int64]*Handle[T]),
		byHash:   make(map[[20]byte]*Handle[T]),
		order:    list.New(),
	}, nil
}

// Handle is a shared, reference-counted-by-GC reference to one cache
// entry. Many goroutines may hold and read the same Handle
// concurrently; Get re-inflates from disk if the entry has been
// spilled.
type Handle[T Sized] struct {
	c   *Cache[T]
	key Key

	mu       sync.Mutex
	resident T
	have     bool // resident holds a valid value
	spilled  bool
	path     string
	size     int
	elem     *list.Element
}

// Get returns the handle's value, re-inflating it from its spill file
// if necessary.
func (h *Handle[T]) Get() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.have {
		return h.resident, nil
	}

	data, err := os.ReadFile(h.path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("cache: re-inflate spilled entry: %w", err)
	}
	v, err := h.c.codec.Unmarshal(data)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("cache: decode spilled entry: %w", err)
	}
	return v, nil
}

// Insert stores record under both offset and hash (hash may be the
// zero value if unknown) and returns a shared handle to it. Insert is
// idempotent per (offset, hash): a second insert of an already-known
// offset returns the existing handle and does not advance
// TotalInserted.
func (c *Cache[T]) Insert(key Key, record T) *Handle[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byOffset[key.Offset]; ok {
		return existing
	}

	h := &Handle[T]{c: c, key: key, resident: record, have: true, size: record.HeapSize()}
	c.byOffset[key.Offset] = h
	if key.hasHash() {
		c.byHash[key.Hash] = h
	}
	h.elem = c.order.PushFront(h)
	c.resident += int64(h.size)
	c.inserted++

	c.evictLocked()

	return h
}

// GetByOffset looks up a handle by absolute pack offset.
func (c *Cache[T]) GetByOffset(offset int64) (*Handle[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byOffset[offset]
	return h, ok
}

// GetByHash looks up a handle by content hash.
func (c *Cache[T]) GetByHash(hash [20]byte) (*Handle[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byHash[hash]
	return h, ok
}

// MemoryUsed returns the current resident bytes: record payloads plus
// index overhead.
func (c *Cache[T]) MemoryUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}

// TotalInserted returns the number of distinct records ever inserted.
func (c *Cache[T]) TotalInserted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inserted
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		MemoryUsed:    c.resident,
		TotalInserted: c.inserted,
		TotalSpilled:  c.spilled,
		ResidentCount: c.order.Len(),
	}
}

// evictLocked spills the coldest entries to disk until resident bytes
// are back under budget. Must be called with c.mu held.
func (c *Cache[T]) evictLocked() {
	if c.budget <= 0 || c.spillDir == "" {
		return
	}
	for c.resident > c.budget {
		back := c.order.Back()
		if back == nil {
			return
		}
		h := back.Value.(*Handle[T])
		c.order.Remove(back)
		c.spillLocked(h)
	}
}

// spillLocked schedules h to be written to disk and, on completion,
// drops its resident bytes from the budget. Must be called with c.mu
// held; the actual I/O happens on the spill pool, off the caller.
func (c *Cache[T]) spillLocked(h *Handle[T]) {
	h.mu.Lock()
	if !h.have || h.spilled {
		h.mu.Unlock()
		return
	}
	record := h.resident
	size := h.size
	path := filepath.Join(c.spillDir, spillFilename(h.key))
	h.path = path
	h.mu.Unlock()

	submit := func() {
		data, err := c.codec.Marshal(record)
		if err != nil {
			// Best-effort: leave the entry resident if it cannot be
			// serialized, rather than losing data silently.
			return
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return
		}

		h.mu.Lock()
		h.spilled = true
		h.have = false
		var zero T
		h.resident = zero
		h.mu.Unlock()

		if r, ok := any(record).(Releasable); ok {
			r.Release()
		}

		c.mu.Lock()
		c.resident -= int64(size)
		c.spilled++
		c.mu.Unlock()
	}

	if c.spillers != nil {
		_ = c.spillers.Submit(submit)
	} else {
		submit()
	}
}

// Clear drops all entries, waits for any in-flight spill tasks to
// finish, then deletes the spill directory. It is safe to call once
// decode has completed. Clear intentionally waits for the spill pool
// before removing the directory, so a straggling spill task can never
// write into a directory that is already gone.
func (c *Cache[T]) Clear() error {
	if c.spillers != nil {
		c.spillers.Join()
	}

	c.mu.Lock()
	c.byOffset = make(map[int64]*Handle[T])
	c.byHash = make(map[[20]byte]*Handle[T])
	c.order = list.New()
	c.resident = 0
	c.cleared = true
	spillDir := c.spillDir
	c.mu.Unlock()

	if spillDir == "" {
		return nil
	}
	if err := os.RemoveAll(spillDir); err != nil {
		return fmt.Errorf("cache: remove spill dir: %w", err)
	}
	return nil
}

func spillFilename(k Key) string {
	var buf [28]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(k.Offset >> (8 * i))
	}
	copy(buf[8:], k.Hash[:])
	return fmt.Sprintf("%016x.obj", xxhash.Sum64(buf[:]))
}
