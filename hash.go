package pack

import (
	"hash"
	"io"

	"github.com/pjbgf/sha1cd"
)

// Hasher is the narrow collaborator this package uses for hashing.
// It is deliberately not hash.Hash: Sum takes no argument and returns
// a fixed-size digest, so callers can snapshot the running state
// without risking an accidental reset or an unbounded append target.
type Hasher interface {
	io.Writer
	// Sum returns the digest of everything written so far, without
	// mutating the running state.
	Sum() Hash
	// Reset clears the running state, for reuse across decodes.
	Reset()
}

// sha1Hasher adapts a stdlib-shaped hash.Hash to Hasher.
type sha1Hasher struct {
	h hash.Hash
}

// NewSHA1Hasher returns the package's default Hasher: a
// collision-detecting SHA-1 (sha1cd), since pack bytes are untrusted
// input from a remote peer and a crafted collision could otherwise
// smuggle one object's identity for another's.
func NewSHA1Hasher() Hasher {
	return &sha1Hasher{h: sha1cd.New()}
}

func (s *sha1Hasher) Write(p []byte) (int, error) { return s.h.Write(p) }

func (s *sha1Hasher) Sum() Hash {
	var out Hash
	copy(out[:], s.h.Sum(nil))
	return out
}

func (s *sha1Hasher) Reset() { s.h.Reset() }

// objectHash computes the canonical Git object hash:
// SHA1("<type> <len>\0" + content).
func objectHash(h Hasher, typ ObjectType, content []byte) Hash {
	h.Reset()
	h.Write([]byte(typ.String()))
	h.Write([]byte{' '})
	h.Write([]byte(itoa(len(content))))
	h.Write([]byte{0})
	h.Write(content)
	return h.Sum()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// HashingReader wraps a byte source, accumulating a SHA-1 digest over
// every byte that successfully passes through Read, and counting the
// total number of bytes consumed so a caller can track an absolute
// offset cursor without a separate counting reader.
//
// Used to compute the pack's checksum over the header and all object
// bytes; the trailing 20-byte checksum itself must only be read after
// FinalHash has been snapshotted, since reading it would otherwise
// fold it into its own digest.
type HashingReader struct {
	r      io.Reader
	h      Hasher
	offset int64
}

// NewHashingReader wraps r, hashing every byte read with h.
func NewHashingReader(r io.Reader, h Hasher) *HashingReader {
	return &HashingReader{r: r, h: h}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.offset += int64(n)
	}
	return n, err
}

// ReadByte lets HashingReader satisfy io.ByteReader directly, which
// the varint decoders need and which also lets callers hand a
// HashingReader straight to klauspost's zlib reader for byte-exact
// input accounting.
func (hr *HashingReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(hr, b[:])
	return b[0], err
}

// FinalHash returns the digest of every byte read so far, without
// consuming or resetting the running hash state.
func (hr *HashingReader) FinalHash() Hash { return hr.h.Sum() }

// Offset returns the total number of bytes read so far.
func (hr *HashingReader) Offset() int64 { return hr.offset }
