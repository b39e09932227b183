package pack

import (
	"io"

	"github.com/klauspost/compress/zlib"
)

// Inflater is the narrow collaborator this package uses for
// decompression. It exists so the driver never depends on a concrete
// zlib implementation, and so tests can substitute a fake that
// misbehaves on purpose.
type Inflater interface {
	// NewReader wraps r, yielding decompressed bytes.
	NewReader(r io.Reader) (InflateReader, error)
}

// InflateReader is a decompression stream that can report exactly how
// many bytes it has pulled from its underlying source once drained.
type InflateReader interface {
	io.ReadCloser
	// ConsumedInput returns the number of compressed bytes read from
	// the underlying source so far.
	ConsumedInput() int64
}

// klauspostInflater is the package default. It wraps
// klauspost/compress/zlib rather than the standard library's
// compress/zlib for two reasons: it is measurably faster across the
// hundreds of thousands of small objects a large pack contains, and
// its flate reader pulls input through io.ByteReader when the source
// offers one, which keeps the over-read past the end of one entry's
// compressed payload to the bit-buffer's worst case rather than a
// whole internal read buffer.
type klauspostInflater struct{}

// NewInflater returns the package's default Inflater.
func NewInflater() Inflater { return klauspostInflater{} }

func (klauspostInflater) NewReader(r io.Reader) (InflateReader, error) {
	cr := &countingReader{r: r}
	zr, err := zlib.NewReader(cr)
	if err != nil {
		return nil, err
	}
	return &klauspostInflateReader{zr: zr, cr: cr}, nil
}

type klauspostInflateReader struct {
	zr io.ReadCloser
	cr *countingReader
}

func (k *klauspostInflateReader) Read(p []byte) (int, error) { return k.zr.Read(p) }
func (k *klauspostInflateReader) Close() error                { return k.zr.Close() }

func (k *klauspostInflateReader) ConsumedInput() int64 { return k.cr.n }

// countingReader counts every byte handed out, through either Read or
// ReadByte, so a consumer downstream of an arbitrary decompressor can
// recover exactly how much of the compressed stream was consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	if br, ok := c.r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err == nil {
			c.n++
		}
		return b, err
	}
	var b [1]byte
	n, err := c.r.Read(b[:])
	c.n += int64(n)
	if n == 1 {
		return b[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// inflateInto decompresses a full zlib stream read from r into dst
// (which must already be sized to the declared object length),
// returning the number of compressed input bytes consumed. Reading to
// EOF rather than stopping once dst is full ensures the zlib
// checksum trailer is consumed too, so ConsumedInput reflects the
// whole stream and the driver's offset cursor stays exact.
func inflateInto(inflater Inflater, r io.Reader, size int64, dst []byte) (int64, error) {
	if int64(len(dst)) != size {
		return 0, wrapf(ErrInvalidPackFile, "destination buffer size %d does not match declared size %d", len(dst), size)
	}

	zr, err := inflater.NewReader(r)
	if err != nil {
		return 0, wrapf(ErrInvalidPackFile, "zlib: %v", err)
	}
	defer zr.Close()

	read, err := io.ReadFull(zr, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, wrapf(ErrInvalidPackFile, "inflate: %v", err)
	}
	if int64(read) != size {
		return 0, wrapf(ErrInvalidPackFile, "declared size %d does not match decompressed size %d", size, read)
	}

	// One more Read past the declared length confirms EOF and, for a
	// conformant zlib stream, forces the reader to consume and verify
	// the trailing Adler-32 checksum before reporting it.
	var tail [1]byte
	extra, rerr := zr.Read(tail[:])
	switch {
	case extra > 0 || rerr == nil:
		return 0, wrapf(ErrInvalidPackFile, "extra bytes after declared object size %d", size)
	case rerr != io.EOF:
		return 0, wrapf(ErrInvalidPackFile, "verifying trailing checksum: %v", rerr)
	}

	return zr.ConsumedInput(), nil
}
