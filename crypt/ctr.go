// Package crypt implements the AES primitives the fragmenter uses for
// Common Encryption: a block-offset-aware AES-CTR cipher with 8- or
// 16-byte IVs, and AES-CBC with PKCS#5 padding. Grounded on crypto/aes +
// crypto/cipher the way every CENC-adjacent repo in the retrieved pack
// implements it (no third-party AES library appears anywhere in the
// corpus) — see DESIGN.md for why stdlib is the correct idiom here.
package crypt

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// CTR is a persistent AES-128-CTR cipher state. iv is the nominal,
// reported counter value at the start of the current sample — the one
// UpdateIv advances between samples — and is never touched by Encrypt.
// block_index is the index, within the current sample, of the keystream
// block held in block; Encrypt derives each block's working counter as
// iv+block_index without mutating iv (§4.D, §8.4, §8.6). block_offset in
// [0,16) survives across Encrypt calls so a sample's payload can be XORed
// piecemeal (e.g. NAL-header-then-body) without re-deriving the keystream
// from scratch each time.
type CTR struct {
	block       [16]byte // cipher.Block-encrypted counter, the "AES_ECB(counter)" in the spec
	iv          [16]byte // nominal counter at the start of the current sample, canonical even when constructed from an 8-byte IV
	ivSize      int      // 8 or 16; governs the carry rule for both the per-block counter and UpdateIv
	blockOffset int
	blockIndex  uint64 // index of the current keystream block since the last UpdateIv
	consumed    bool   // true once Encrypt has processed >=1 byte since the last UpdateIv
	cipher      interface {
		Encrypt(dst, src []byte)
	}
}

// NewCTR constructs a CTR cipher from a 16-byte key and an 8- or 16-byte
// IV. An 8-byte IV is left-padded with zeros to form the initial 16-byte
// counter block (§4.D).
func NewCTR(key, iv []byte) (*CTR, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("crypt: AES-CTR key must be 16 bytes, got %d", len(key))
	}
	if len(iv) != 8 && len(iv) != 16 {
		return nil, fmt.Errorf("crypt: AES-CTR IV must be 8 or 16 bytes, got %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	c := &CTR{ivSize: len(iv), cipher: block, blockOffset: 0}
	if len(iv) == 8 {
		copy(c.iv[8:], iv)
	} else {
		copy(c.iv[:], iv)
	}
	c.regenerateAt(0)
	return c, nil
}

// counterForBlock returns the 16-byte working counter for the blockIndex'th
// block of the current sample, computed fresh from the nominal iv each
// time rather than by mutating iv in place — so deriving it never advances
// the value UpdateIv later reads.
func (c *CTR) counterForBlock(blockIndex uint64) [16]byte {
	counter := c.iv
	low := binary.BigEndian.Uint64(counter[8:])
	sum := low + blockIndex
	binary.BigEndian.PutUint64(counter[8:], sum)
	if sum < low && c.ivSize == 16 {
		high := binary.BigEndian.Uint64(counter[:8])
		high++
		binary.BigEndian.PutUint64(counter[:8], high)
	}
	return counter
}

func (c *CTR) regenerateAt(blockIndex uint64) {
	counter := c.counterForBlock(blockIndex)
	c.cipher.Encrypt(c.block[:], counter[:])
}

// incrementIV advances the nominal IV by one, treated as a big-endian
// unsigned integer over its low 64 bits, carrying into the high 64 bits
// only for a 16-byte IV (an 8-byte IV's zero-padded high bits are never
// touched).
func (c *CTR) incrementIV() {
	low := binary.BigEndian.Uint64(c.iv[8:])
	low++
	binary.BigEndian.PutUint64(c.iv[8:], low)
	if low == 0 && c.ivSize == 16 {
		c.carryHigh()
	}
}

// Encrypt XORs src into dst (len(dst) == len(src) required) against the
// keystream, advancing block_offset and regenerating the keystream block
// every 16 bytes. The nominal IV (iv) is untouched by this — only the
// block_index used to derive each block's counter advances. Decryption is
// the same operation (§4.D).
func (c *CTR) Encrypt(dst, src []byte) {
	if len(src) > 0 {
		c.consumed = true
	}
	for i := range src {
		if c.blockOffset == 16 {
			c.blockIndex++
			c.regenerateAt(c.blockIndex)
			c.blockOffset = 0
		}
		dst[i] = src[i] ^ c.block[c.blockOffset]
		c.blockOffset++
	}
}

// Decrypt is Encrypt under another name: CTR decryption is the same XOR.
func (c *CTR) Decrypt(dst, src []byte) { c.Encrypt(dst, src) }

// IV returns the current IV in its original width (8 or 16 bytes).
func (c *CTR) IV() []byte {
	if c.ivSize == 8 {
		out := make([]byte, 8)
		copy(out, c.iv[8:])
		return out
	}
	out := make([]byte, 16)
	copy(out, c.iv[:])
	return out
}

// UpdateIv advances the IV between samples (§4.D, §8.6). A sample's
// encrypted byte count need not be a multiple of 16 (AVC subsample
// encryption skips NAL headers), so the running counter almost never
// sits on a block boundary when a sample ends; the remaining keystream
// bytes of that partial block are discarded and the next sample starts
// on a fresh block (block_offset 0):
//   - 8-byte IV: new IV = old IV + 1 (64-bit) — the low 64 bits are
//     incremented; the zero-padded high 64 bits are never touched.
//   - 16-byte IV: new IV = the counter after the sample's last keystream
//     block, i.e. old IV + the number of blocks the sample used (a
//     trailing partial block counts as one), with the low 64 bits
//     carrying into the high 64 bits at most once on overflow.
//
// A sample that encrypted zero bytes leaves the IV unchanged (§8.6).
func (c *CTR) UpdateIv() {
	if !c.consumed {
		return
	}
	if c.ivSize == 16 {
		c.iv = c.counterForBlock(c.blockIndex + 1)
	} else {
		c.incrementIV()
	}
	c.blockOffset = 0
	c.blockIndex = 0
	c.consumed = false
	c.regenerateAt(0)
}

// carryHigh advances the nominal IV's high 64 bits by one; called from
// incrementIV when its low-64 addition overflows (counterForBlock carries
// on its own copy of the counter instead).
func (c *CTR) carryHigh() {
	high := binary.BigEndian.Uint64(c.iv[:8])
	high++
	binary.BigEndian.PutUint64(c.iv[:8], high)
}
