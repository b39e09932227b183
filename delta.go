package pack

import (
	"bytes"
	"io"

	"github.com/valyala/bytebufferpool"
)

// RebuildDelta applies delta's copy/insert instruction stream against
// base, a resolved base-type record, producing a new base-type
// record. base must already carry canonical content; delta must still
// be an OffsetDelta or HashDelta record.
//
// Per §4.7: the base-size and result-size varints are read first and
// validated against base's actual length; each instruction is either
// a literal insert (MSB 0) or a copy from base (MSB 1); a size-0 copy
// means 0x10000 bytes, and an insert instruction of literal value 0 is
// rejected outright, matching Git's own delta grammar.
func RebuildDelta(hasher Hasher, delta, base *Record) (*Record, error) {
	r := bytes.NewReader(delta.Data)

	baseSize, err := readSizeVarint(r)
	if err != nil {
		return nil, wrapf(ErrDeltaObject, "reading base size: %v", err)
	}
	if int64(baseSize) != int64(len(base.Data)) {
		return nil, wrapf(ErrDeltaObject, "base size %d does not match resolved base length %d", baseSize, len(base.Data))
	}

	resultSize, err := readSizeVarint(r)
	if err != nil {
		return nil, wrapf(ErrDeltaObject, "reading result size: %v", err)
	}

	out := bytebufferpool.Get()
	if cap(out.B) < int(resultSize) {
		out.B = make([]byte, 0, resultSize)
	} else {
		out.B = out.B[:0]
	}

	for {
		cmd, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			bytebufferpool.Put(out)
			return nil, wrapf(ErrDeltaObject, "reading instruction: %v", err)
		}

		if cmd&maskContinue == 0 {
			if cmd == 0 {
				bytebufferpool.Put(out)
				return nil, wrapf(ErrDeltaObject, "insert instruction with zero length")
			}
			start := len(out.B)
			out.B = append(out.B, make([]byte, cmd)...)
			if _, err := io.ReadFull(r, out.B[start:]); err != nil {
				bytebufferpool.Put(out)
				return nil, wrapf(ErrDeltaObject, "short insert: %v", err)
			}
			continue
		}

		offset, err := readCopyOffset(cmd, r)
		if err != nil {
			bytebufferpool.Put(out)
			return nil, wrapf(ErrDeltaObject, "reading copy offset: %v", err)
		}
		size, err := readCopySize(cmd, r)
		if err != nil {
			bytebufferpool.Put(out)
			return nil, wrapf(ErrDeltaObject, "reading copy size: %v", err)
		}

		end := offset + size
		if end < offset || end > uint64(len(base.Data)) {
			bytebufferpool.Put(out)
			return nil, wrapf(ErrDeltaObject, "copy [%d:%d] out of range for base of length %d", offset, end, len(base.Data))
		}

		out.B = append(out.B, base.Data[offset:end]...)
	}

	if uint64(len(out.B)) != resultSize {
		bytebufferpool.Put(out)
		return nil, wrapf(ErrDeltaObject, "rebuilt length %d does not match declared result size %d", len(out.B), resultSize)
	}

	delta.Release()

	result := &Record{
		Type:   base.Type,
		Offset: delta.Offset,
		Data:   out.B,
		Hash:   objectHash(hasher, base.Type, out.B),
	}
	return result, nil
}
