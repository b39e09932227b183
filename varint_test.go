package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTypeAndSizeSingleByte(t *testing.T) {
	typ, size, err := readTypeAndSize(bytes.NewReader([]byte{0x35}))
	require.NoError(t, err)
	assert.Equal(t, BlobObject, typ)
	assert.EqualValues(t, 5, size)
}

func TestReadTypeAndSizeMultiByte(t *testing.T) {
	data := encodeTypeSize(BlobObject, 1000)
	typ, size, err := readTypeAndSize(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, BlobObject, typ)
	assert.EqualValues(t, 1000, size)
}

func TestReadOffsetVarintRoundTrip(t *testing.T) {
	for _, offset := range []int64{0, 1, 127, 128, 300, 16383, 16384, 1 << 20, 1 << 40} {
		encoded := encodeOffsetDelta(offset)
		got, err := readOffsetVarint(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, offset, got, "offset %d", offset)
	}
}

func TestReadSizeVarintRoundTrip(t *testing.T) {
	for _, size := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 30} {
		encoded := leb128(size)
		got, err := readSizeVarint(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, size, got)
	}
}

func TestReadCopyOffsetAndSize(t *testing.T) {
	// cmd with all four offset bytes and all three size bytes present.
	cmd := byte(0x80 | 0x0f | 0x70)
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	r := bytes.NewReader(data)

	offset, err := readCopyOffset(cmd, r)
	require.NoError(t, err)
	assert.EqualValues(t, 0x04030201, offset)

	size, err := readCopySize(cmd, r)
	require.NoError(t, err)
	assert.EqualValues(t, 0x070605, size)
}

func TestReadCopySizeZeroMeansMaxCopy(t *testing.T) {
	cmd := byte(0x80) // no size bytes present at all
	size, err := readCopySize(cmd, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.EqualValues(t, 0x10000, size)
}
