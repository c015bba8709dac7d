// Package fieldcrypt encrypts individual medical record fields at rest with
// AES-256-GCM.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// prefix marks ciphertext written by this package. Values without it are
// returned unchanged by Decrypt, so rows written while encryption was off
// stay readable after it is turned on.
const prefix = "enc:v1:"

var ErrMalformed = errors.New("fieldcrypt: malformed ciphertext")

// Cipher encrypts and decrypts string fields. The zero-key Cipher from
// New("") passes values through untouched.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Cipher from a 64-character hex key. An empty key disables
// encryption and logs a warning.
func New(hexKey string, logger zerolog.Logger) (*Cipher, error) {
	if hexKey == "" {
		logger.Warn().Msg("record field encryption disabled: RECORD_ENCRYPTION_KEY is not set")
		return &Cipher{}, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("RECORD_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	c, err := NewFromKey(key)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("record field encryption enabled")
	return c, nil
}

// NewFromKey builds a Cipher from a raw 32-byte key.
func NewFromKey(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fieldcrypt: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: create GCM: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Enabled reports whether values are actually encrypted.
func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt returns prefix + base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Unprefixed values are returned as-is. A prefixed
// value with encryption disabled is an error, since the key is required to
// read it.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	if !c.Enabled() {
		return "", errors.New("fieldcrypt: encrypted value but no key configured")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrMalformed
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptAll encrypts each value in place.
func (c *Cipher) EncryptAll(values ...*string) error {
	for _, v := range values {
		enc, err := c.Encrypt(*v)
		if err != nil {
			return err
		}
		*v = enc
	}
	return nil
}

// DecryptAll decrypts each value in place.
func (c *Cipher) DecryptAll(values ...*string) error {
	for _, v := range values {
		dec, err := c.Decrypt(*v)
		if err != nil {
			return err
		}
		*v = dec
	}
	return nil
}
