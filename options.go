package pack

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultMemoryLimit is the memory budget used when WithMemoryLimit is
// not supplied: 0, meaning unbounded (the cache never spills).
const defaultMemoryLimit = 0

// Option configures a Decoder. Construct Decoders with New and any
// number of Options; unset options take the defaults documented on
// each With func.
type Option func(*config)

type config struct {
	threads       int
	memoryLimit   int64
	spillDir      string
	logger        Logger
	registerer    prometheus.Registerer
	hasher        Hasher
	inflater      Inflater
	joinTimeoutMS int
}

func defaultConfig() *config {
	return &config{
		threads:     runtime.NumCPU(),
		memoryLimit: defaultMemoryLimit,
		logger:      defaultLogger(),
		hasher:      NewSHA1Hasher(),
		inflater:    NewInflater(),
	}
}

// WithThreads sets the size of the delta-rebuild worker pool. Default
// is runtime.NumCPU().
func WithThreads(n int) Option {
	return func(c *config) { c.threads = n }
}

// WithMemoryLimit sets the total byte budget for cached plus in-flight
// records, per §4.4: the cache spills its oldest entries to disk once
// its resident bytes exceed 80% of the budget, and the parse loop
// yields while the two together exceed the whole budget. 0, the
// default, means unbounded.
func WithMemoryLimit(bytes int64) Option {
	return func(c *config) { c.memoryLimit = bytes }
}

// WithSpillDir sets the directory under which each Decode call creates
// its own uniquely named spill subdirectory, removed again when the
// call ends. If unset, that subdirectory is created under the system
// temporary directory.
func WithSpillDir(dir string) Option {
	return func(c *config) { c.spillDir = dir }
}

// WithLogger installs l as the Decoder's diagnostic logger. Default
// logs to stderr at info level via log/slog.
func WithLogger(l Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetricsRegisterer registers the Decoder's Prometheus collectors
// against r. If unset, collectors are created but registered against
// a private, unexported registry, so metrics calls are always valid.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// WithHasher overrides the object-hashing implementation. Default is
// SHA-1 via github.com/pjbgf/sha1cd.
func WithHasher(h Hasher) Option {
	return func(c *config) { c.hasher = h }
}

// WithInflater overrides the zlib-inflate implementation. Default is
// github.com/klauspost/compress/zlib.
func WithInflater(inf Inflater) Option {
	return func(c *config) { c.inflater = inf }
}

// WithJoinTimeoutMS bounds, in milliseconds, how long Decode waits, after the last byte of
// the pack has been parsed, for the worker pool to drain. A nonzero
// timeout turns an unresolvable delta cycle (a base that can never
// arrive) into a bounded error instead of a hang; 0, the default,
// waits indefinitely.
func WithJoinTimeoutMS(ms int) Option {
	return func(c *config) { c.joinTimeoutMS = ms }
}
