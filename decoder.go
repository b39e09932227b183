package pack

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TimePrinciple/mega/cache"
	"github.com/TimePrinciple/mega/pool"
)

const packMagic = "PACK"
const packVersion = 2

// backpressureQueueLimit is the pool queue depth past which the driver
// yields before parsing the next entry, per §5's back-pressure gate.
const backpressureQueueLimit = 2000

// cacheMemoryShare is the fraction of the configured memory budget the
// cache is allowed to hold resident before it starts spilling; the
// remaining share is reserved for in-flight worker-task bytes
// (cache_objs_mem), though the back-pressure gate itself compares
// their sum against the full budget, not the cache's 80% share alone.
const cacheMemoryShare = 0.8

// Decoder streams objects out of a Git pack file. A Decoder is
// configured once via New and its Options and may run one decode at a
// time; a second call while one is in flight returns
// ErrConcurrentDecode rather than silently interleaving state.
type Decoder struct {
	cfg *config

	decoding atomic.Bool
}

// New constructs a Decoder. See the With* Options for tunables.
func New(opts ...Option) *Decoder {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Decoder{cfg: cfg}
}

// Decode reads a complete pack from r, calling fn once for every
// resolved object (bases in stream order, deltas as soon as their
// base chain resolves). fn may be called from multiple goroutines as
// independent delta chains resolve in parallel; Decode serializes
// those calls itself, so fn need not be safe for concurrent use on its
// own. Decode blocks until the pack is fully consumed, the
// trailer checksum is verified, and every object has been delivered,
// or until ctx is canceled or fn returns an error.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, fn func(Entry) error) (Result, error) {
	if !d.decoding.CompareAndSwap(false, true) {
		return Result{}, ErrConcurrentDecode
	}
	defer d.decoding.Store(false)

	var mu sync.Mutex
	return d.run(ctx, r, func(e Entry) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(e)
	})
}

// Handle represents an in-flight asynchronous decode started by
// DecodeAsync.
type Handle struct {
	done   chan struct{}
	result Result
	err    error
}

// Wait blocks until the decode finishes and returns its result.
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// DecodeAsync behaves like Decode but runs in its own goroutine,
// delivering each resolved Entry to out instead of a callback. out is
// never closed by DecodeAsync, since the caller may be multiplexing
// several decodes onto one channel; use the returned Handle's Wait to
// learn when the decode finished.
func (d *Decoder) DecodeAsync(ctx context.Context, r io.Reader, out chan<- Entry) *Handle {
	h := &Handle{done: make(chan struct{})}

	go func() {
		defer close(h.done)
		h.result, h.err = d.Decode(ctx, r, func(e Entry) error {
			select {
			case out <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return h
}

func (d *Decoder) run(ctx context.Context, r io.Reader, emit func(Entry) error) (Result, error) {
	if d.cfg.spillDir != "" {
		if err := os.MkdirAll(d.cfg.spillDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("pack: create spill dir: %w", err)
		}
	}
	spillDir, err := os.MkdirTemp(d.cfg.spillDir, "pack-decode-"+uuid.NewString())
	if err != nil {
		return Result{}, fmt.Errorf("pack: create spill dir: %w", err)
	}

	metrics := newMetrics(d.cfg.registerer)

	workers := pool.New(d.cfg.threads)
	defer workers.Stop()

	spillers := pool.New(max(1, d.cfg.threads/2))
	defer spillers.Stop()

	cacheBudget := d.cfg.memoryLimit
	if cacheBudget > 0 {
		cacheBudget = int64(float64(cacheBudget) * cacheMemoryShare)
	}
	objCache, err := cache.New[*Record](cacheBudget, spillDir, recordCodec{}, spillers)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = objCache.Clear()
		_ = os.RemoveAll(spillDir)
	}()

	cacheObjsMem := newMemRecorder()
	var spillsSeen int64
	reportSpills := func() {
		if total := objCache.Stats().TotalSpilled; total > spillsSeen {
			metrics.cacheSpills.Add(float64(total - spillsSeen))
			d.cfg.logger.Debug("cache spill", "total_spills", total)
			spillsSeen = total
		}
	}

	waitlist := NewWaitlist()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var firstErr error
	var errOnce sync.Once
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	hr := NewHashingReader(r, d.cfg.hasher)

	count, err := d.readHeader(hr)
	if err != nil {
		return Result{}, err
	}
	d.cfg.logger.Info("pack header parsed", "objects", count)

	logDecoded := func(rec *Record) {
		d.cfg.logger.Debug("object decoded", "type", rec.Type.String(), "offset", rec.Offset, "hash", rec.Hash.String())
	}

	var submitRebuild func(base, delta *Record)
	submitRebuild = func(base, delta *Record) {
		err := workers.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			rebuilt, err := RebuildDelta(d.cfg.hasher, delta, base)
			if err != nil {
				fail(err)
				return
			}
			rebuilt.Track(cacheObjsMem)
			if err := emit(Entry{Type: rebuilt.Type, Content: rebuilt.Data, Hash: rebuilt.Hash}); err != nil {
				fail(err)
				return
			}
			logDecoded(rebuilt)
			deps := waitlist.Resolve(objCache, rebuilt)
			metrics.cacheBytesUsed.Set(float64(objCache.MemoryUsed()))
			for _, dep := range deps {
				submitRebuild(rebuilt, dep)
			}
		})
		if err != nil {
			fail(err)
		}
	}

	// waitForBackpressure blocks the parse loop, per §5's back-pressure
	// gate, while in-flight record bytes plus resident cache bytes
	// exceed the configured budget, or while the worker pool's queue is
	// too deep. The driver is the only thing that suspends this way;
	// workers themselves never yield mid-task.
	waitForBackpressure := func() {
		for ctx.Err() == nil {
			overBudget := d.cfg.memoryLimit > 0 && cacheObjsMem.Load()+objCache.MemoryUsed() > d.cfg.memoryLimit
			overQueued := workers.Queued() > backpressureQueueLimit
			if !overBudget && !overQueued {
				return
			}
			runtime.Gosched()
		}
	}

	for i := uint32(0); i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		waitForBackpressure()
		reportSpills()

		entryOffset := hr.Offset()
		typ, size, err := readTypeAndSize(hr)
		if err != nil {
			return Result{}, wrapf(ErrInvalidObjectInfo, "entry %d: %v", i, err)
		}

		switch {
		case typ.IsBase():
			content := make([]byte, size)
			if _, err := inflateInto(d.cfg.inflater, hr, int64(size), content); err != nil {
				return Result{}, err
			}
			record := NewBaseRecord(typ, entryOffset, content, d.cfg.hasher)
			record.Track(cacheObjsMem)
			if err := emit(Entry{Type: record.Type, Content: record.Data, Hash: record.Hash}); err != nil {
				return Result{}, err
			}
			logDecoded(record)
			deps := waitlist.Resolve(objCache, record)
			metrics.cacheBytesUsed.Set(float64(objCache.MemoryUsed()))
			for _, dep := range deps {
				submitRebuild(record, dep)
			}

		case typ == OffsetDelta:
			negOffset, err := readOffsetVarint(hr)
			if err != nil {
				return Result{}, wrapf(ErrInvalidObjectInfo, "entry %d: offset delta: %v", i, err)
			}
			baseOffset := entryOffset - negOffset
			if baseOffset < 0 || baseOffset >= entryOffset {
				return Result{}, wrapf(ErrInvalidObjectInfo, "entry %d: base offset %d out of range", i, baseOffset)
			}

			data := make([]byte, size)
			if _, err := inflateInto(d.cfg.inflater, hr, int64(size), data); err != nil {
				return Result{}, err
			}
			delta := NewDeltaRecord(typ, entryOffset, data, int64(size))
			delta.BaseOffset = baseOffset
			delta.Track(cacheObjsMem)

			if base, ok := waitlist.InsertByOffset(objCache, baseOffset, delta); ok {
				submitRebuild(base, delta)
			}

		case typ == HashDelta:
			var baseHash Hash
			if _, err := io.ReadFull(hr, baseHash[:]); err != nil {
				return Result{}, wrapf(ErrInvalidObjectInfo, "entry %d: ref delta hash: %v", i, err)
			}

			data := make([]byte, size)
			if _, err := inflateInto(d.cfg.inflater, hr, int64(size), data); err != nil {
				return Result{}, err
			}
			delta := NewDeltaRecord(typ, entryOffset, data, int64(size))
			delta.BaseRef = baseHash
			delta.Track(cacheObjsMem)

			if base, ok := waitlist.InsertByRef(objCache, baseHash, delta); ok {
				submitRebuild(base, delta)
			}

		default:
			return Result{}, wrapf(ErrInvalidObjectInfo, "entry %d: invalid type %d", i, typ)
		}

		metrics.poolQueueDepth.Set(float64(workers.Queued()))
	}

	if d.cfg.joinTimeoutMS > 0 {
		if !joinWithTimeout(workers, d.cfg.joinTimeoutMS) {
			return Result{}, wrapf(ErrInvalidPackFile, "timed out waiting for %d pending delta(s); likely a cyclic or missing base", waitlist.Pending())
		}
	} else {
		workers.Join()
	}
	d.cfg.logger.Info("pool drained")
	reportSpills()

	if firstErr != nil {
		return Result{}, firstErr
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if pending := waitlist.Pending(); pending > 0 {
		return Result{}, wrapf(ErrInvalidPackFile, "%d delta(s) never resolved a base", pending)
	}
	if inserted := objCache.TotalInserted(); inserted != int64(count) {
		return Result{}, wrapf(ErrInvalidPackFile, "%d of %d objects reached the cache", inserted, count)
	}

	var trailer Hash
	if _, err := io.ReadFull(hr.r, trailer[:]); err != nil {
		return Result{}, wrapf(ErrInvalidPackFile, "reading trailer: %v", err)
	}
	computed := hr.FinalHash()
	if computed != trailer {
		return Result{}, wrapf(ErrInvalidPackFile, "trailer checksum mismatch: got %s, want %s", computed, trailer)
	}

	var extra [1]byte
	if n, err := hr.r.Read(extra[:]); n > 0 || err != io.EOF {
		return Result{}, wrapf(ErrInvalidPackFile, "unexpected data after trailer")
	}

	d.cfg.logger.Info("trailer verified", "checksum", computed.String())

	return Result{ObjectCount: count, Checksum: trailer}, nil
}

func (d *Decoder) readHeader(hr *HashingReader) (uint32, error) {
	var magic [4]byte
	if _, err := io.ReadFull(hr, magic[:]); err != nil {
		return 0, wrapf(ErrInvalidPackHeader, "reading magic: %v", err)
	}
	if string(magic[:]) != packMagic {
		return 0, wrapf(ErrInvalidPackHeader, "bad magic %q", magic)
	}

	var versionBuf [4]byte
	if _, err := io.ReadFull(hr, versionBuf[:]); err != nil {
		return 0, wrapf(ErrInvalidPackHeader, "reading version: %v", err)
	}
	version := binary.BigEndian.Uint32(versionBuf[:])
	if version != packVersion {
		return 0, wrapf(ErrInvalidPackHeader, "unsupported version %d", version)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(hr, countBuf[:]); err != nil {
		return 0, wrapf(ErrInvalidPackHeader, "reading object count: %v", err)
	}
	return binary.BigEndian.Uint32(countBuf[:]), nil
}

func joinWithTimeout(p *pool.Pool, ms int) bool {
	done := make(chan struct{})
	go func() {
		p.Join()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return false
	}
}
