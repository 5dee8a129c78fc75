package adaptive

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewChaCha20 creates a ChaCha20-Poly1305 cipher.
func NewChaCha20(key []byte) (Cipher, error) {
	if err := checkKey(key, CipherChaCha20); err != nil {
		return nil, err
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("adaptive: chacha20-poly1305: %w", err)
	}
	return &aead{typ: CipherChaCha20, aead: c}, nil
}
