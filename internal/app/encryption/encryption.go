// Package encryption seals credential payloads at rest with AES-256-GCM.
// Ciphertext layout is a 16-byte IV, the ciphertext, then the 16-byte GCM
// tag, so records written by earlier deployments stay readable.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const ivSize = 16

// ErrKeyUnavailable wraps key source failures so callers can distinguish
// them from malformed ciphertext.
var ErrKeyUnavailable = errors.New("encryption key unavailable")

// Cipher seals and opens credential payloads.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESGCM is the production Cipher. The key is fetched from the source per
// operation; sources cache internally.
type AESGCM struct {
	source KeySource
}

var _ Cipher = (*AESGCM)(nil)

func NewAESGCM(source KeySource) (*AESGCM, error) {
	if source == nil {
		return nil, errors.New("key source is required")
	}
	return &AESGCM{source: source}, nil
}

func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	return gcm.Seal(iv, iv, plaintext, nil), nil
}

func (c *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < ivSize+gcm.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	iv, sealed := ciphertext[:ivSize], ciphertext[ivSize:]
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	return plaintext, nil
}

func (c *AESGCM) gcm() (cipher.AEAD, error) {
	key, err := c.source.Key()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes, got %d", ErrKeyUnavailable, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// Noop passes payloads through unchanged. It exists for local development
// only; production wiring always selects AESGCM.
type Noop struct{}

var _ Cipher = Noop{}

func (Noop) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// ParseKey accepts a raw 16/24/32-byte string or a base64/hex encoding of
// one.
func ParseKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("missing encryption key")
	}

	// raw bytes
	if l := len(value); l == 16 || l == 24 || l == 32 {
		return []byte(value), nil
	}

	// base64
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		if l := len(decoded); l == 16 || l == 24 || l == 32 {
			return decoded, nil
		}
	}

	// hex
	if decoded, err := hex.DecodeString(value); err == nil {
		if l := len(decoded); l == 16 || l == 24 || l == 32 {
			return decoded, nil
		}
	}

	return nil, errors.New("must be raw 16/24/32 byte string or base64/hex encoding of that length")
}
