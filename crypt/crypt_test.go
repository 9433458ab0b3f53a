package crypt_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/crypt"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestCTRKeystreamContinuity(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)
	plaintext := randBytes(t, 257)

	whole, err := crypt.NewCTR(key, iv)
	require.NoError(t, err)
	wholeOut := make([]byte, len(plaintext))
	whole.Encrypt(wholeOut, plaintext)

	for n := 0; n <= len(plaintext); n++ {
		split, err := crypt.NewCTR(key, iv)
		require.NoError(t, err)
		splitOut := make([]byte, len(plaintext))
		split.Encrypt(splitOut[:n], plaintext[:n])
		split.Encrypt(splitOut[n:], plaintext[n:])
		assert.Equal(t, wholeOut, splitOut, "split at n=%d must match whole encryption", n)
	}
}

func TestCTRRoundTrip(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 8)
	plaintext := randBytes(t, 1000)

	enc, err := crypt.NewCTR(key, iv)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	enc.Encrypt(ciphertext, plaintext)

	dec, err := crypt.NewCTR(key, iv)
	require.NoError(t, err)
	decrypted := make([]byte, len(ciphertext))
	dec.Decrypt(decrypted, ciphertext)

	assert.Equal(t, plaintext, decrypted)
}

func TestCTRUpdateIv8Byte(t *testing.T) {
	key := randBytes(t, 16)
	iv := []byte{0, 0, 0, 0, 0, 0, 0, 1}

	c, err := crypt.NewCTR(key, iv)
	require.NoError(t, err)
	buf := make([]byte, 32)
	c.Encrypt(buf, buf)
	c.UpdateIv()

	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 2}, c.IV())
}

func TestCTRUpdateIv16ByteCarriesOnOverflow(t *testing.T) {
	key := randBytes(t, 16)
	iv := make([]byte, 16)
	// low 64 bits at max value. For a 16-byte IV, UpdateIv advances the
	// nominal IV by the number of blocks the sample used, so encrypting
	// two 16-byte blocks (counters iv+0 and iv+1) must leave the reported
	// IV at old+2: the low 64 bits wrap to 1 and carry once into the high
	// 64 bits.
	for i := 8; i < 16; i++ {
		iv[i] = 0xff
	}

	c, err := crypt.NewCTR(key, iv)
	require.NoError(t, err)
	buf := make([]byte, 16)
	c.Encrypt(buf, buf) // block 0: uses the initial counter, no increment yet
	buf2 := make([]byte, 16)
	c.Encrypt(buf2, buf2) // block 1: derives its counter as iv+1, but does not touch the nominal iv
	c.UpdateIv()          // old_iv + 2, one per block consumed above

	got := c.IV()
	assert.Equal(t, byte(1), got[7], "high 64 bits must carry by one")
	for i := 8; i < 15; i++ {
		assert.Equal(t, byte(0), got[i], "low 64 bits must wrap past zero")
	}
	assert.Equal(t, byte(1), got[15], "low 64 bits must land on block 2 (old+2)")
}

func TestCTRUpdateIvZeroLengthSampleLeavesIvUnchanged(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)

	c, err := crypt.NewCTR(key, iv)
	require.NoError(t, err)
	before := c.IV()
	c.Encrypt(nil, nil)
	c.UpdateIv()

	assert.Equal(t, before, c.IV())
}

func TestCBCRoundTrip(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)

	for _, n := range []int{0, 1, 15, 16, 17, 100} {
		plaintext := randBytes(t, n)
		ciphertext, err := crypt.EncryptCBC(key, iv, plaintext)
		require.NoError(t, err)
		assert.Equal(t, 0, len(ciphertext)%16)

		decrypted, err := crypt.DecryptCBC(key, iv, ciphertext)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, decrypted))
	}
}

func TestCBCRejectsBadPadding(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)

	ciphertext, err := crypt.EncryptCBC(key, iv, randBytes(t, 32))
	require.NoError(t, err)
	// Flip the previous block's last byte so the final plaintext byte (a
	// full block of padding value 16) decrypts to 17: > 16, invalid.
	ciphertext[len(ciphertext)-17] ^= 16 ^ 17

	_, err = crypt.DecryptCBC(key, iv, ciphertext)
	assert.Error(t, err)
}

func TestCBCRejectsShortCiphertext(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)

	_, err := crypt.DecryptCBC(key, iv, make([]byte, 10))
	assert.Error(t, err)
}
