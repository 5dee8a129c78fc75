package adaptive

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// KeySize is the key length both ciphers use.
const KeySize = 32

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// ErrAuthFailed is returned when a sealed message does not authenticate.
var ErrAuthFailed = errors.New("adaptive: message authentication failed")

// Cipher provides authenticated encryption.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Encrypt seals plaintext bound to additionalData. The result is
	// nonce || ciphertext || tag.
	Encrypt(plaintext, additionalData []byte) ([]byte, error)

	// Decrypt opens a message produced by Encrypt with the same
	// additionalData.
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)

	// NonceSize returns the nonce size in bytes.
	NonceSize() int

	// Overhead returns the authentication tag size in bytes.
	Overhead() int
}

// SealedLength returns the size of a sealed message of plaintextLength bytes.
func SealedLength(c Cipher, plaintextLength int) int {
	return c.NonceSize() + plaintextLength + c.Overhead()
}

// ParseCipherType parses an algorithm name. Empty selects Preferred().
func ParseCipherType(s string) (CipherType, error) {
	switch t := CipherType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return Preferred(), nil
	case CipherAESGCM, CipherChaCha20:
		return t, nil
	default:
		return "", fmt.Errorf("adaptive: unknown cipher %q", s)
	}
}

// Preferred returns the faster cipher for this architecture.
func Preferred() CipherType {
	// crypto/aes uses hardware instructions on these.
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// New creates a cipher of the given type. An empty type selects Preferred().
func New(key []byte, t CipherType) (Cipher, error) {
	if t == "" {
		t = Preferred()
	}
	switch t {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher %q", t)
	}
}

type aead struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aead) Type() CipherType { return c.typ }
func (c *aead) NonceSize() int   { return c.aead.NonceSize() }
func (c *aead) Overhead() int    { return c.aead.Overhead() }

func (c *aead) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	out := make([]byte, n, n+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("adaptive: read nonce: %w", err)
	}
	return c.aead.Seal(out, out[:n], plaintext, additionalData), nil
}

func (c *aead) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes is shorter than nonce and tag", ErrAuthFailed, len(ciphertext))
	}
	plain, err := c.aead.Open(nil, ciphertext[:n], ciphertext[n:], additionalData)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

func checkKey(key []byte, t CipherType) error {
	if len(key) != KeySize {
		return fmt.Errorf("adaptive: %s key must be %d bytes, got %d", t, KeySize, len(key))
	}
	return nil
}
