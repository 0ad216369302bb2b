package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens secret values with XChaCha20-Poly1305.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a raw 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKey, chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey decodes a base64 (standard or URL alphabet, padded or not) key as
// supplied through the environment.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrMissingKey
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		key, err := enc.DecodeString(encoded)
		if err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: expected base64 encoded %d byte key", ErrInvalidKey, chacha20poly1305.KeySize)
}

// GenerateKey returns a fresh random key in its base64 URL form.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext under a random nonce and returns nonce || ciphertext.
func (c *Cipher) Seal(plaintext []byte) (Sealed, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyValue
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a sealed value. A wrong key or tampered
// ciphertext yields ErrDecrypt.
func (c *Cipher) Open(sealed Sealed) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrMalformed
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// SealString seals plaintext and returns its textual form.
func (c *Cipher) SealString(plaintext string) (string, error) {
	sealed, err := c.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return sealed.String(), nil
}

// String renders the sealed value as base64url, the form stored in INI files.
func (s Sealed) String() string {
	return base64.URLEncoding.EncodeToString(s)
}

// ParseSealed decodes the textual form produced by Sealed.String.
func ParseSealed(text string) (Sealed, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyValue
	}
	raw, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(text)
	}
	if err != nil {
		return nil, ErrMalformed
	}
	return Sealed(raw), nil
}
