package pack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseRecordComputesHash(t *testing.T) {
	hasher := NewSHA1Hasher()
	r := NewBaseRecord(BlobObject, 42, []byte("payload"), hasher)

	assert.Equal(t, BlobObject, r.Type)
	assert.EqualValues(t, 42, r.Offset)
	assert.False(t, r.Hash.IsZero())

	off, hash := r.Key()
	assert.EqualValues(t, 42, off)
	assert.Equal(t, r.Hash, hash)
}

func TestNewDeltaRecordCopiesData(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewDeltaRecord(OffsetDelta, 10, data, 100)

	require.Equal(t, data, r.Data)
	assert.GreaterOrEqual(t, r.HeapSize(), 100)

	data[0] = 0xff
	assert.NotEqual(t, data[0], r.Data[0], "NewDeltaRecord must copy, not alias, its input")
}

func TestRecordReleaseIsIdempotent(t *testing.T) {
	r := NewDeltaRecord(OffsetDelta, 0, []byte{1, 2, 3}, 8)
	r.Release()
	assert.NotPanics(t, func() { r.Release() })
}

func TestBaseRecordHeapSizeHasNoPooledBuffer(t *testing.T) {
	r := NewBaseRecord(BlobObject, 0, []byte("abcdefgh"), NewSHA1Hasher())
	assert.Equal(t, 8+recordOverhead, r.HeapSize())
}
