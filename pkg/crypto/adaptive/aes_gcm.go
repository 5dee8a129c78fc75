package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// NewAESGCM creates an AES-256-GCM cipher.
func NewAESGCM(key []byte) (Cipher, error) {
	if err := checkKey(key, CipherAESGCM); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("adaptive: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("adaptive: gcm: %w", err)
	}
	return &aead{typ: CipherAESGCM, aead: gcm}, nil
}
