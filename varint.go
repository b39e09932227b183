package pack

import "io"

// maskContinue is the MSB continuation bit shared by every varint
// encoding used in the pack format.
const maskContinue = 0x80

// readTypeAndSize reads the type+size varint that begins every pack
// entry. The first byte holds the 3-bit type code in bits 6..4 and the
// low 4 size bits; the MSB is the continuation bit. Subsequent bytes
// contribute 7 bits each, little-endian, with their own MSB
// continuation bit.
func readTypeAndSize(r io.ByteReader) (ObjectType, uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}

	typ := ObjectType((first >> 4) & 0x07)
	size := uint64(first & 0x0f)

	shift := uint(4)
	for first&maskContinue != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size |= uint64(b&0x7f) << shift
		shift += 7
		first = b
	}

	return typ, size, nil
}

// readOffsetVarint decodes an OffsetDelta base reference: 7-bit
// groups, most significant group first, with MSB continuation, where
// the canonical Git encoding adds a bias of 1<<7k at every
// continuation step so that distinct byte sequences never alias the
// same value.
func readOffsetVarint(r io.ByteReader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	offset := int64(b & 0x7f)
	for b&maskContinue != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		offset++
		offset = (offset << 7) | int64(b&0x7f)
	}

	return offset, nil
}

// readSizeVarint decodes the base-size/result-size varint pair found
// at the start of a delta's instruction stream. It is a plain LEB128:
// 7-bit little-endian groups, MSB continuation, no offset bias.
func readSizeVarint(r io.ByteReader) (uint64, error) {
	var size uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		size |= uint64(b&0x7f) << shift
		if b&maskContinue == 0 {
			return size, nil
		}
		shift += 7
	}
}

var copyOffsetBits = [4]struct {
	mask  byte
	shift uint
}{
	{0x01, 0},
	{0x02, 8},
	{0x04, 16},
	{0x08, 24},
}

var copySizeBits = [3]struct {
	mask  byte
	shift uint
}{
	{0x10, 0},
	{0x20, 8},
	{0x40, 16},
}

// readCopyOffset decodes the offset half of a copy instruction's
// partial-int encoding: cmd's low 4 bits select which of 4 offset
// bytes follow, in order; absent bytes contribute zero.
func readCopyOffset(cmd byte, r io.ByteReader) (uint64, error) {
	var offset uint64
	for _, f := range copyOffsetBits {
		if cmd&f.mask != 0 {
			b, err := r.ReadByte()
			if err != nil {
				return 0, err
			}
			offset |= uint64(b) << f.shift
		}
	}
	return offset, nil
}

// readCopySize decodes the size half of a copy instruction's
// partial-int encoding: bits 4..6 of cmd select which of 3 size bytes
// follow. A decoded size of 0 means 0x10000, per the copy-instruction
// grammar (there is no way to express a literal zero-length copy).
func readCopySize(cmd byte, r io.ByteReader) (uint64, error) {
	var size uint64
	for _, f := range copySizeBits {
		if cmd&f.mask != 0 {
			b, err := r.ReadByte()
			if err != nil {
				return 0, err
			}
			size |= uint64(b) << f.shift
		}
	}
	if size == 0 {
		size = 0x10000
	}
	return size, nil
}
