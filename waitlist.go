package pack

import (
	"sync"

	"github.com/TimePrinciple/mega/cache"
)

// Waitlist tracks delta records whose base has not yet been resolved,
// indexed both by the base's pack offset (for OffsetDelta) and by its
// content hash (for HashDelta). It also owns the single critical
// section that inserts a newly resolved base into the object cache
// and drains its waiters, so a dependent can never register itself
// after the base it is waiting for has already been drained: Resolve
// and the two InsertBy* methods share one mutex, and InsertBy* always
// re-checks the cache under that same lock before registering,
// closing the lost-wakeup window described in the design notes.
type Waitlist struct {
	mu       sync.Mutex
	byOffset map[int64][]*Record
	byHash   map[Hash][]*Record
}

// NewWaitlist returns an empty Waitlist.
func NewWaitlist() *Waitlist {
	return &Waitlist{
		byOffset: make(map[int64][]*Record),
		byHash:   make(map[Hash][]*Record),
	}
}

// InsertByOffset registers dependent as waiting on the base record at
// baseOffset. If that base has already been resolved and cached, it
// is returned immediately and dependent is not registered.
func (w *Waitlist) InsertByOffset(c *cache.Cache[*Record], baseOffset int64, dependent *Record) (*Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if base, ok := lookupRecord(c.GetByOffset(baseOffset)); ok {
		return base, true
	}
	w.byOffset[baseOffset] = append(w.byOffset[baseOffset], dependent)
	return nil, false
}

// InsertByRef registers dependent as waiting on the base record with
// content hash baseHash. If that base has already been resolved and
// cached, it is returned immediately and dependent is not registered.
func (w *Waitlist) InsertByRef(c *cache.Cache[*Record], baseHash Hash, dependent *Record) (*Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if base, ok := lookupRecord(c.GetByHash(baseHash)); ok {
		return base, true
	}
	w.byHash[baseHash] = append(w.byHash[baseHash], dependent)
	return nil, false
}

// Resolve inserts record into c under the waitlist's own lock, then
// returns every delta record that had been waiting on record, either
// by offset or by hash, removing them from the waitlist. Callers
// reschedule the returned records for delta rebuild.
func (w *Waitlist) Resolve(c *cache.Cache[*Record], record *Record) []*Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	c.Insert(cache.Key{Offset: record.Offset, Hash: [20]byte(record.Hash)}, record)
	// record now belongs to the cache's own memory accounting; it is no
	// longer in-flight worker-task memory.
	record.untrack()

	var deps []*Record
	if waiters, ok := w.byOffset[record.Offset]; ok {
		deps = append(deps, waiters...)
		delete(w.byOffset, record.Offset)
	}
	if !record.Hash.IsZero() {
		if waiters, ok := w.byHash[record.Hash]; ok {
			deps = append(deps, waiters...)
			delete(w.byHash, record.Hash)
		}
	}
	return deps
}

// Pending reports how many delta records are currently waiting on an
// unresolved base, for diagnostics and the final cyclic-graph check.
func (w *Waitlist) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, v := range w.byOffset {
		n += len(v)
	}
	for _, v := range w.byHash {
		n += len(v)
	}
	return n
}

func lookupRecord(h *cache.Handle[*Record], ok bool) (*Record, bool) {
	if !ok {
		return nil, false
	}
	v, err := h.Get()
	if err != nil {
		return nil, false
	}
	return v, true
}
