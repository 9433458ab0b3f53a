package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// EncryptCBC encrypts plaintext under AES-CBC with PKCS#5 padding
// (1-16 bytes, value == count). Key size must be 16, 24, or 32 bytes;
// IV size must be 16 (§4.D).
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newCBCBlock(key, iv)
	if err != nil {
		return nil, err
	}
	padded := pkcs5Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// DecryptCBC decrypts ciphertext encrypted by EncryptCBC, validating and
// stripping PKCS#5 padding. It rejects ciphertext whose length is not a
// multiple of 16 or whose final padding byte exceeds 16 (§8.5).
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newCBCBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%16 != 0 {
		return nil, fmt.Errorf("crypt: AES-CBC ciphertext length %d not a multiple of 16", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs5Unpad(out)
}

func newCBCBlock(key, iv []byte) (cipher.Block, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("crypt: AES-CBC key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	if len(iv) != 16 {
		return nil, fmt.Errorf("crypt: AES-CBC IV must be 16 bytes, got %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	return block, nil
}

func pkcs5Pad(data []byte) []byte {
	padLen := 16 - len(data)%16
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs5Unpad(data []byte) ([]byte, error) {
	p := data[len(data)-1]
	if p == 0 || int(p) > 16 || int(p) > len(data) {
		return nil, fmt.Errorf("crypt: AES-CBC invalid padding byte %d", p)
	}
	return data[:len(data)-int(p)], nil
}
