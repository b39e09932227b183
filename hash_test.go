package pack

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectHashMatchesGitCanonicalForm(t *testing.T) {
	content := []byte("hello, world")
	hasher := NewSHA1Hasher()

	got := objectHash(hasher, BlobObject, content)

	want := sha1.Sum(append([]byte(fmt.Sprintf("blob %d\x00", len(content))), content...))
	assert.Equal(t, Hash(want), got)
}

func TestHasherResetAllowsReuse(t *testing.T) {
	h := NewSHA1Hasher()
	h.Write([]byte("abc"))
	first := h.Sum()

	h.Reset()
	h.Write([]byte("abc"))
	second := h.Sum()

	assert.Equal(t, first, second)
}

func TestHashingReaderTracksOffsetAndDigest(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	hr := NewHashingReader(bytes.NewReader(data), NewSHA1Hasher())

	buf := make([]byte, len(data))
	n, err := hr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	assert.EqualValues(t, len(data), hr.Offset())
	assert.Equal(t, Hash(sha1.Sum(data)), hr.FinalHash())
}

func TestHashingReaderReadByteAdvancesOffset(t *testing.T) {
	hr := NewHashingReader(bytes.NewReader([]byte{0x01, 0x02, 0x03}), NewSHA1Hasher())

	b, err := hr.ReadByte()
	require.NoError(t, err)
	assert.EqualValues(t, 0x01, b)
	assert.EqualValues(t, 1, hr.Offset())
}
