// Package pack implements a streaming decoder for the Git pack file
// format (version 2). It turns a byte stream into a sequence of
// canonical (type, content, hash) triples, rebuilding delta-compressed
// objects whose base may not yet have been seen.
//
// Decoding runs a single parsing goroutine feeding a bounded worker
// pool: the parsing goroutine caches base objects itself, while delta
// rebuild, and the cache insertion and waiter fan-out that follow it,
// happen on the pool, behind a memory-bounded cache that spills cold
// entries to disk once a configured budget is exceeded.
//
// A Decoder is built once via New and is not safe for concurrent
// decodes of two different packs; see Decoder.Decode.
package pack
