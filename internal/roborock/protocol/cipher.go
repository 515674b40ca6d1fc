package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // md5 is mandated by the device key derivation
	"encoding/hex"
	"fmt"
)

// Key derivation constants fixed by device firmware.
const (
	legacySalt = "TXdfu$jyZ#TZHsg4"
	a01Magic   = "726f626f726f636b2d67a6d6da"
	b01Magic   = "5wwh9ikChRjASpMU8cxg7o1d2E"

	// ivLen is the CBC initialisation vector length (16 hex characters).
	ivLen = aes.BlockSize
)

// cipherParams carries the per-frame values a cipher may mix into its key
// or IV. Versions use different subsets.
type cipherParams struct {
	Timestamp    uint32
	Sequence     uint32
	Nonce        uint32
	ConnectNonce uint32
	AckNonce     uint32
}

// payloadCipher encrypts and decrypts frame content for one version.
type payloadCipher interface {
	Encrypt(plain []byte, secretKey string, p cipherParams) ([]byte, error)
	Decrypt(data []byte, secretKey string, p cipherParams) ([]byte, error)
}

// legacyCipher implements version 1.0: AES-128-ECB keyed by
// md5(encodeTimestamp(ts) + secret + salt).
type legacyCipher struct{}

func (legacyCipher) key(secretKey string, ts uint32) []byte {
	sum := md5.Sum([]byte(encodeTimestamp(ts) + secretKey + legacySalt)) //nolint:gosec // protocol requirement
	return sum[:]
}

func (c legacyCipher) Encrypt(plain []byte, secretKey string, p cipherParams) ([]byte, error) {
	block, err := aes.NewCipher(c.key(secretKey, p.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptFailed, err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += aes.BlockSize {
		block.Encrypt(out[off:off+aes.BlockSize], padded[off:off+aes.BlockSize])
	}
	return out, nil
}

func (c legacyCipher) Decrypt(data []byte, secretKey string, p cipherParams) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d",
			ErrDecryptFailed, len(data), aes.BlockSize)
	}
	block, err := aes.NewCipher(c.key(secretKey, p.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += aes.BlockSize {
		block.Decrypt(out[off:off+aes.BlockSize], data[off:off+aes.BlockSize])
	}
	return pkcs7Unpad(out, aes.BlockSize)
}

// cbcCipher implements A01 and B01: AES-128-CBC keyed by the raw secret,
// IV = md5hex(hex8(nonce) + magic)[offset:offset+16].
type cbcCipher struct {
	magic    string
	ivOffset int
}

func (c cbcCipher) iv(nonce uint32) []byte {
	sum := md5.Sum([]byte(fmt.Sprintf("%08x", nonce) + c.magic)) //nolint:gosec // protocol requirement
	digest := hex.EncodeToString(sum[:])
	return []byte(digest[c.ivOffset : c.ivOffset+ivLen])
}

func (c cbcCipher) Encrypt(plain []byte, secretKey string, p cipherParams) ([]byte, error) {
	block, err := aes.NewCipher([]byte(secretKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptFailed, err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv(p.Nonce)).CryptBlocks(out, padded)
	return out, nil
}

func (c cbcCipher) Decrypt(data []byte, secretKey string, p cipherParams) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d",
			ErrDecryptFailed, len(data), aes.BlockSize)
	}
	block, err := aes.NewCipher([]byte(secretKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.iv(p.Nonce)).CryptBlocks(out, data)
	return pkcs7Unpad(out, aes.BlockSize)
}

// encodeTimestamp renders ts as 8 hex digits and permutes them in the order
// the legacy firmware expects.
func encodeTimestamp(ts uint32) string {
	digits := fmt.Sprintf("%08x", ts)
	order := [8]int{5, 6, 3, 7, 1, 2, 0, 4}
	out := make([]byte, len(order))
	for i, idx := range order {
		out[i] = digits[idx]
	}
	return string(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptFailed)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptFailed)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryptFailed)
		}
	}
	return data[:len(data)-n], nil
}
