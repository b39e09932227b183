package pack

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// recordOverhead is the fixed per-record bookkeeping cost charged
// against the memory budget, on top of the backing buffer's capacity:
// two map-entry footprints (by offset, by hash) plus the struct
// itself. It is a rough constant, not an exact accounting, matching
// the spec's documented allocator slack.
const recordOverhead = 96

// memRecorder is the shared atomic "in-flight task bytes" counter
// (cache_objs_mem) the driver's back-pressure gate watches: bytes
// charged here belong to records that exist but have not yet landed
// in the object cache, so a cache that is well under its own budget
// doesn't hide a driver that has queued an unbounded amount of
// in-flight delta work.
type memRecorder struct {
	bytes atomic.Int64
}

func newMemRecorder() *memRecorder { return &memRecorder{} }

func (m *memRecorder) add(n int) { m.bytes.Add(int64(n)) }

// Load returns the current number of in-flight bytes charged against
// the recorder.
func (m *memRecorder) Load() int64 { return m.bytes.Load() }

// Record is the in-memory representation of one pack entry, from the
// moment it is parsed until, for deltas, it has been rebuilt into a
// base-type record ready for the cache.
//
// A Record is immutable after construction except for Hash (set once,
// when a delta is rebuilt into a base type) and the pooled buffer
// backing Data (reallocated once to reserve result-sized capacity).
type Record struct {
	Type   ObjectType
	Offset int64
	Hash   Hash

	// BaseOffset is set only for OffsetDelta records.
	BaseOffset int64
	// BaseRef is set only for HashDelta records.
	BaseRef Hash

	buf  *bytebufferpool.ByteBuffer
	Data []byte

	recorder *memRecorder
	tracked  int
}

// NewBaseRecord builds a resolved, base-type record: content is
// already canonical and hash is computed immediately.
func NewBaseRecord(typ ObjectType, offset int64, content []byte, hasher Hasher) *Record {
	return &Record{
		Type:   typ,
		Offset: offset,
		Data:   content,
		Hash:   objectHash(hasher, typ, content),
	}
}

// NewDeltaRecord builds an unresolved delta record. data is the
// instruction stream, prefixed by the base-size/result-size varints;
// it is rehomed into a pooled buffer sized to resultSize so later
// heap accounting (after rebuild) is stable, per the data model
// invariant capacity(data) >= result_size.
func NewDeltaRecord(typ ObjectType, offset int64, data []byte, resultSize int64) *Record {
	buf := bytebufferpool.Get()
	if cap(buf.B) < int(resultSize) {
		buf.B = make([]byte, 0, resultSize)
	}
	buf.B = append(buf.B[:0], data...)

	return &Record{
		Type:   typ,
		Offset: offset,
		Data:   buf.B,
		buf:    buf,
	}
}

// Track charges r's current heap size against rec (cache_objs_mem),
// marking r as in-flight worker-task memory for the driver's
// back-pressure gate. Call untrack, or insert r into the cache via
// Waitlist.Resolve, once r is no longer purely in-flight; Track is a
// no-op if r is already tracked against a recorder.
func (r *Record) Track(rec *memRecorder) {
	if rec == nil || r.recorder != nil {
		return
	}
	r.recorder = rec
	r.tracked = r.HeapSize()
	rec.add(r.tracked)
}

// untrack releases r's charged bytes back out of its recorder. Safe
// to call more than once or on a record that was never tracked.
func (r *Record) untrack() {
	if r.recorder == nil || r.tracked == 0 {
		return
	}
	r.recorder.add(-r.tracked)
	r.tracked = 0
}

// Release returns the record's pooled backing buffer, if it has one,
// and releases any bytes still charged against a memRecorder. Safe to
// call on records without a pooled buffer (base records built
// directly from a caller-supplied slice via NewBaseRecord never have
// one).
func (r *Record) Release() {
	r.untrack()
	if r.buf != nil {
		bytebufferpool.Put(r.buf)
		r.buf = nil
	}
}

// HeapSize is the number of bytes this record contributes to the
// cache's memory accounting: the backing buffer's capacity plus a
// fixed per-record overhead. Using capacity rather than length means
// a delta reserved for its post-rebuild size is accounted for at that
// size even before the rebuild runs.
func (r *Record) HeapSize() int {
	size := cap(r.Data)
	if r.buf != nil {
		size = cap(r.buf.B)
	}
	return size + recordOverhead
}

// Key returns the two identities a Record can be looked up by: its
// absolute pack offset, and, once resolved to a base type, its
// content hash. HashDelta and OffsetDelta records that have not yet
// been rebuilt have a zero Hash.
func (r *Record) Key() (offset int64, hash Hash) {
	return r.Offset, r.Hash
}
