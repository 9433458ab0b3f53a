package bitio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/bitio"
)

func TestReadWriteRoundTrip(t *testing.T) {
	w := bitio.NewWriter()
	w.AppendInt1(0xAB)
	w.AppendInt2(0x1234)
	w.AppendInt3(0x123456)
	w.AppendInt4(0x89ABCDEF)
	w.AppendInt8(0x0123456789ABCDEF)
	w.AppendN(0xFF, 3)
	w.AppendCString("hello")
	w.AppendZero(2)

	r := bitio.NewReader(w.Bytes())

	v1, err := r.Read1()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), v1)

	v2, err := r.Read2()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v2)

	v3, err := r.Read3()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123456), v3)

	v4, err := r.Read4()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x89ABCDEF), v4)

	v8, err := r.Read8()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0123456789ABCDEF), v8)

	vn, err := r.ReadN(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFF), vn)

	s, err := r.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	require.NoError(t, r.Skip(2))
	assert.Zero(t, r.Len(), "reader should be fully drained")
}

func TestReadShortFails(t *testing.T) {
	r := bitio.NewReader([]byte{1, 2})
	_, err := r.Read4()
	require.Error(t, err)
	assert.Zero(t, r.Pos(), "pos must not advance on failed read")
}

func TestReadNSignedExtends(t *testing.T) {
	r := bitio.NewReader([]byte{0xFF, 0xFE})
	v, err := r.ReadNSigned(2)
	require.NoError(t, err)
	assert.EqualValues(t, -2, v)
}

func TestSeekBounds(t *testing.T) {
	r := bitio.NewReader(make([]byte, 4))
	assert.NoError(t, r.Seek(4))
	assert.Error(t, r.Seek(5))
	assert.Error(t, r.Seek(-1))
}

func TestUnterminatedCString(t *testing.T) {
	r := bitio.NewReader([]byte{'a', 'b'})
	_, err := r.ReadCString()
	assert.Error(t, err)
}
