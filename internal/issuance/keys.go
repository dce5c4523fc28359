package issuance

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"casevault/internal/files"
)

// KeyPair is a freshly generated signing key.
type KeyPair struct {
	Seed      []byte
	PublicKey ed25519.PublicKey
}

// PublicKeyHex is the value to link into the application build.
func (k *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey)
}

// GenerateKey creates a new Ed25519 key pair.
func GenerateKey() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &KeyPair{Seed: priv.Seed(), PublicKey: pub}, nil
}

// WriteKeyFile stores seed as base64url text with owner-only permissions.
// An existing file is never overwritten.
func WriteKeyFile(path string, seed []byte) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("signing key seed must be %d bytes", ed25519.SeedSize)
	}
	if files.Exists(path) {
		return fmt.Errorf("refusing to overwrite existing key file %s", path)
	}
	return files.WriteAtomic(path, []byte(base64.RawURLEncoding.EncodeToString(seed)+"\n"))
}

// LoadKeyFile reads a private seed written by WriteKeyFile. Standard and URL
// base64, padded or not, are accepted.
func LoadKeyFile(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return ParseSeed(string(raw))
}

// ParseSeed decodes a base64 Ed25519 seed.
func ParseSeed(text string) (ed25519.PrivateKey, error) {
	s := strings.TrimSpace(text)
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	s = strings.TrimRight(s, "=")

	seed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signing key is not base64: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("signing key must decode to 32 bytes")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
