package license

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// PublicKeyHex is the issuer's Ed25519 verification key. Release builds set
// it with
//
//	-ldflags "-X casevault/internal/license.PublicKeyHex=<64 hex chars>"
//
// It is deliberately not read from configuration.
var PublicKeyHex string

// ErrNoPublicKey means the binary was built without a verification key.
var ErrNoPublicKey = errors.New("no license verification key linked into this build")

// EmbeddedPublicKey decodes PublicKeyHex.
func EmbeddedPublicKey() (ed25519.PublicKey, error) {
	if strings.TrimSpace(PublicKeyHex) == "" {
		return nil, ErrNoPublicKey
	}
	return ParsePublicKeyHex(PublicKeyHex)
}

// ParsePublicKeyHex decodes a hex Ed25519 public key.
func ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("public key is not hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
