package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimePrinciple/mega/pool"
)

type blob struct {
	data     []byte
	released bool
}

func (b *blob) HeapSize() int { return len(b.data) + 16 }
func (b *blob) Release()      { b.released = true }

type blobCodec struct{}

func (blobCodec) Marshal(b *blob) ([]byte, error) { return append([]byte(nil), b.data...), nil }
func (blobCodec) Unmarshal(data []byte) (*blob, error) {
	return &blob{data: append([]byte(nil), data...)}, nil
}

func TestCacheInsertAndLookup(t *testing.T) {
	c, err := New[*blob](0, "", blobCodec{}, nil)
	require.NoError(t, err)

	hash := [20]byte{1, 2, 3}
	h := c.Insert(Key{Offset: 10, Hash: hash}, &blob{data: []byte("hello")})

	byOffset, ok := c.GetByOffset(10)
	require.True(t, ok)
	assert.Same(t, h, byOffset)

	byHash, ok := c.GetByHash(hash)
	require.True(t, ok)
	assert.Same(t, h, byHash)

	v, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v.data)

	assert.EqualValues(t, 1, c.TotalInserted())
}

func TestCacheInsertIsIdempotentPerOffset(t *testing.T) {
	c, err := New[*blob](0, "", blobCodec{}, nil)
	require.NoError(t, err)

	first := c.Insert(Key{Offset: 1}, &blob{data: []byte("a")})
	second := c.Insert(Key{Offset: 1}, &blob{data: []byte("b")})

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, c.TotalInserted())
}

func TestCacheSpillsWhenOverBudget(t *testing.T) {
	dir := t.TempDir()
	spillers := pool.New(2)
	defer spillers.Stop()

	c, err := New[*blob](32, dir, blobCodec{}, spillers)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Insert(Key{Offset: int64(i)}, &blob{data: []byte(fmt.Sprintf("payload-%02d", i))})
	}

	spillers.Join()

	stats := c.Stats()
	assert.Greater(t, stats.TotalSpilled, int64(0))
	assert.LessOrEqual(t, stats.MemoryUsed, int64(32))

	oldest, ok := c.GetByOffset(0)
	require.True(t, ok)
	v, err := oldest.Get()
	require.NoError(t, err)
	assert.Equal(t, "payload-00", string(v.data))
}

func TestCacheClearRemovesSpillDir(t *testing.T) {
	dir := t.TempDir()
	spillDir := filepath.Join(dir, "spill")
	spillers := pool.New(1)
	defer spillers.Stop()

	c, err := New[*blob](8, spillDir, blobCodec{}, spillers)
	require.NoError(t, err)

	c.Insert(Key{Offset: 1}, &blob{data: []byte("01234567890123456789")})
	spillers.Join()

	require.NoError(t, c.Clear())

	_, err = os.Stat(spillDir)
	assert.True(t, os.IsNotExist(err))
}
