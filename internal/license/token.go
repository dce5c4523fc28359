package license

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "casevault/internal/errors"
	"casevault/internal/security"
)

const (
	// DefaultProductTag is the token prefix accepted by this build.
	DefaultProductTag = "CVLT"

	// MaxTokenLength bounds input before any decoding.
	MaxTokenLength = 4096

	fingerprintDomain = "casevault-token-v1:"
	nonceSize         = 16
)

var b64 = base64.RawURLEncoding

// Claims is the signed token payload.
type Claims struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt *int64 `json:"exp"`
	KeyID     string `json:"kid"`
	Nonce     string `json:"n"`
}

// Expiry returns the expiry instant, or false for a perpetual token.
func (c Claims) Expiry() (time.Time, bool) {
	if c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*c.ExpiresAt).UTC(), true
}

// ExpiredAt reports whether the claims are no longer valid at now.
func (c Claims) ExpiredAt(now time.Time) bool {
	exp, ok := c.Expiry()
	return ok && !now.Before(exp)
}

// Token is a parsed but not yet verified license token.
type Token struct {
	Raw       string
	Prefix    string
	Payload   string
	Signature []byte
	Claims    Claims
}

// Parse checks the structure of raw. It performs no cryptography; every
// failure is a MALFORMED_INPUT error.
func Parse(raw, productTag string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.NewMalformedInputError("license token is empty", nil)
	}
	if len(raw) > MaxTokenLength {
		return nil, apperrors.NewMalformedInputError("license token is too long", nil)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, apperrors.NewMalformedInputError("license token must have three segments", nil)
	}
	if parts[0] != productTag {
		return nil, apperrors.NewMalformedInputError("license token has the wrong product tag", nil)
	}

	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, apperrors.NewMalformedInputError("license payload is not base64url", err)
	}
	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, apperrors.NewMalformedInputError("license signature is not base64url", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, apperrors.NewMalformedInputError("license signature has the wrong length", nil)
	}

	var claims Claims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&claims); err != nil {
		return nil, apperrors.NewMalformedInputError("license payload is not valid JSON", err)
	}
	if claims.Subject == "" || claims.KeyID == "" || claims.IssuedAt <= 0 {
		return nil, apperrors.NewMalformedInputError("license payload is missing required claims", nil)
	}

	return &Token{
		Raw:       raw,
		Prefix:    parts[0],
		Payload:   parts[1],
		Signature: sig,
		Claims:    claims,
	}, nil
}

// Verifier checks a parsed token's signature.
type Verifier interface {
	Verify(tok *Token) error
}

// Ed25519Verifier verifies the signature over the payload segment text.
type Ed25519Verifier struct {
	key ed25519.PublicKey
}

// NewEd25519Verifier wraps pub.
func NewEd25519Verifier(pub ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length %d", len(pub))
	}
	return &Ed25519Verifier{key: pub}, nil
}

// Verify implements Verifier.
func (v *Ed25519Verifier) Verify(tok *Token) error {
	if tok == nil || !ed25519.Verify(v.key, []byte(tok.Payload), tok.Signature) {
		return apperrors.NewCryptoError("license signature does not match")
	}
	return nil
}

// Mint signs claims and returns the token text. It is used by the issuance
// tool and by tests.
func Mint(priv ed25519.PrivateKey, productTag string, claims Claims) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", errors.New("invalid ed25519 private key")
	}
	if claims.Subject == "" || claims.KeyID == "" {
		return "", errors.New("subject and key id are required")
	}
	if claims.IssuedAt == 0 {
		claims.IssuedAt = time.Now().UnixMilli()
	}
	if claims.Nonce == "" {
		nonce, err := NewNonce()
		if err != nil {
			return "", err
		}
		claims.Nonce = nonce
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	segment := b64.EncodeToString(payload)
	sig := ed25519.Sign(priv, []byte(segment))

	return productTag + "." + segment + "." + b64.EncodeToString(sig), nil
}

// NewNonce returns a random 128-bit hex nonce.
func NewNonce() (string, error) {
	b, err := security.RandomBytes(nonceSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Fingerprint is the stable identifier of a token used by the consumed-token
// registry and the issuance ledger. Surrounding whitespace is ignored.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(fingerprintDomain + strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
