package snapshot

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/pkg/crypto/adaptive"
)

// Key derivation functions recorded in storage.EncryptionInfo.
const (
	KDFArgon2id   = "argon2id"
	KDFHKDFSHA256 = "hkdf-sha256"
)

const (
	// SaltLength is the per-recording salt size.
	SaltLength = 16

	MinKeyLength        = 16
	MinPassphraseLength = 8

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4

	hkdfInfo = "clustersnap snapshot"
)

// EncryptionConfig configures encryption of recordings at rest. Exactly
// one of Key or Passphrase enables it. Each recording derives its own
// key from a fresh salt.
type EncryptionConfig struct {
	Key        []byte
	Passphrase []byte

	// Algorithm is an adaptive.CipherType name. Empty picks the
	// preferred cipher for this machine.
	Algorithm string
}

// Enabled reports whether a key or passphrase is configured.
func (c EncryptionConfig) Enabled() bool {
	return len(c.Key) > 0 || len(c.Passphrase) > 0
}

// Validate checks key material and algorithm.
func (c EncryptionConfig) Validate() error {
	if len(c.Key) > 0 && len(c.Passphrase) > 0 {
		return fmt.Errorf("snapshot: encryption key and passphrase are mutually exclusive")
	}
	if len(c.Key) > 0 && len(c.Key) < MinKeyLength {
		return fmt.Errorf("snapshot: encryption key must be at least %d bytes, got %d", MinKeyLength, len(c.Key))
	}
	if len(c.Passphrase) > 0 && len(c.Passphrase) < MinPassphraseLength {
		return fmt.Errorf("snapshot: encryption passphrase must be at least %d bytes", MinPassphraseLength)
	}
	if _, err := adaptive.ParseCipherType(c.Algorithm); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

func (c EncryptionConfig) kdf() string {
	if len(c.Passphrase) > 0 {
		return KDFArgon2id
	}
	return KDFHKDFSHA256
}

// deriveKey returns a cipher key bound to salt.
func (c EncryptionConfig) deriveKey(kdf string, salt []byte) ([]byte, error) {
	switch kdf {
	case KDFArgon2id:
		if len(c.Passphrase) == 0 {
			return nil, fmt.Errorf("snapshot: recording key was derived from a passphrase, none configured")
		}
		return argon2.IDKey(c.Passphrase, salt, argon2Time, argon2Memory, argon2Threads, adaptive.KeySize), nil
	case KDFHKDFSHA256:
		if len(c.Key) == 0 {
			return nil, fmt.Errorf("snapshot: recording key was derived from a raw key, none configured")
		}
		key := make([]byte, adaptive.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, c.Key, salt, []byte(hkdfInfo)), key); err != nil {
			return nil, fmt.Errorf("snapshot: derive key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown key derivation %q", kdf)
	}
}

// newSealer derives a cipher for a new recording under a fresh salt.
func (c EncryptionConfig) newSealer() (adaptive.Cipher, *storage.EncryptionInfo, error) {
	typ, err := adaptive.ParseCipherType(c.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("snapshot: generate salt: %w", err)
	}
	info := &storage.EncryptionInfo{Algorithm: string(typ), KDF: c.kdf(), Salt: salt}
	cipher, err := c.cipherFor(info)
	if err != nil {
		return nil, nil, err
	}
	return cipher, info, nil
}

// cipherFor re-derives the cipher of a recording. It returns nil for a
// plaintext recording.
func (c EncryptionConfig) cipherFor(info *storage.EncryptionInfo) (adaptive.Cipher, error) {
	if info == nil {
		return nil, nil
	}
	if !c.Enabled() {
		return nil, domain.ErrEncryptionKeyRequired.WithDetailsf("algorithm %s, kdf %s", info.Algorithm, info.KDF)
	}
	key, err := c.deriveKey(info.KDF, info.Salt)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	cipher, err := adaptive.New(key, adaptive.CipherType(info.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return cipher, nil
}

func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
