// Package secrets provides reversible encryption for the small secret
// strings (token secrets, verifiers, session handles) the stores
// persist. The cipher key is derived from an installation-wide master
// key; the stores treat the cipher as an opaque encrypt/decrypt pair.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

// keyLen is the derived AES-256 key length in bytes.
const keyLen = 32

// hkdfInfo domain-separates the store cipher key from any other key
// derived from the same master key.
var hkdfInfo = []byte("oauth1-provider/store-secrets")

// Cipher reversibly encrypts small secret strings for storage at rest.
// Blank input passes through unchanged in both directions so that an
// absent secret is never persisted as a non-empty ciphertext.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AESCipher is an AES-256-GCM Cipher keyed from the installation
// master key via HKDF-SHA256. Ciphertexts are base64([nonce][ct+tag]).
type AESCipher struct {
	gcm cipher.AEAD
}

// NewAESCipher derives the cipher key from the master key. The master
// key is NFKC-normalised first so visually identical passphrases typed
// on different systems derive the same key.
func NewAESCipher(masterKey string) (*AESCipher, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key must not be empty")
	}

	ikm := []byte(norm.NFKC.String(masterKey))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("deriving cipher key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// The cipher retains its own key schedule internally.
	for i := range key {
		key[i] = 0
	}

	return &AESCipher{gcm: gcm}, nil
}

// Encrypt seals the plaintext under a random nonce. Blank input is
// returned unchanged.
func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Blank input is returned unchanged.
func (c *AESCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := c.gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	plain, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	return string(plain), nil
}
