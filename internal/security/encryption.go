package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
)

const (
	// NonceSize is the 96-bit GCM nonce.
	NonceSize = 12
	// TagSize is the 128-bit GCM authentication tag.
	TagSize = 16
)

// ErrDecrypt is returned for any authentication failure. It deliberately
// carries no detail about which input was wrong.
var ErrDecrypt = errors.New("decryption failed")

// SealedBox is AES-256-GCM output with the tag split out, the layout used by
// the backup envelope.
type SealedBox struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SealDetached encrypts plaintext under key with a fresh nonce and returns
// the tag separately.
func SealDetached(key, plaintext, aad []byte) (*SealedBox, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize

	return &SealedBox{
		Nonce:      nonce,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// OpenDetached reverses SealDetached. Every failure returns ErrDecrypt.
func OpenDetached(key []byte, box *SealedBox, aad []byte) ([]byte, error) {
	if box == nil || len(box.Nonce) != NonceSize || len(box.Tag) != TagSize {
		return nil, ErrDecrypt
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecrypt
	}

	full := make([]byte, 0, len(box.Ciphertext)+TagSize)
	full = append(full, box.Ciphertext...)
	full = append(full, box.Tag...)

	plaintext, err := gcm.Open(nil, box.Nonce, full, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. Every failure returns ErrDecrypt.
func Open(key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrDecrypt
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecrypt
	}
	plaintext, err := gcm.Open(nil, sealed[:NonceSize], sealed[NonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
