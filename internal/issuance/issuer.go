package issuance

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"casevault/internal/license"
)

// DefaultValidity applies when no expiry option is given.
const DefaultValidity = 365 * 24 * time.Hour

// MaxValidityDays bounds --days.
const MaxValidityDays = 100 * 366

// ExpiryOptions are the mutually exclusive ways to set a token's expiry.
type ExpiryOptions struct {
	Date      string // YYYY-MM-DD, midnight in Location
	Days      int
	Perpetual bool
	Location  *time.Location
}

// ResolveExpiry turns opts into an absolute expiry, nil meaning perpetual.
func ResolveExpiry(now time.Time, opts ExpiryOptions) (*time.Time, error) {
	set := 0
	if opts.Date != "" {
		set++
	}
	if opts.Days != 0 {
		set++
	}
	if opts.Perpetual {
		set++
	}
	if set > 1 {
		return nil, errors.New("use only one of --expires, --days and --perpetual")
	}

	switch {
	case opts.Perpetual:
		return nil, nil
	case opts.Days < 0:
		return nil, errors.New("--days must be positive")
	case opts.Days > MaxValidityDays:
		return nil, fmt.Errorf("--days must be at most %d, use --perpetual for keys that never expire", MaxValidityDays)
	case opts.Days > 0:
		exp := now.AddDate(0, 0, opts.Days)
		if !exp.After(now) {
			return nil, errors.New("expiry is in the past")
		}
		return &exp, nil
	case opts.Date != "":
		loc := opts.Location
		if loc == nil {
			loc = time.Local
		}
		exp, err := time.ParseInLocation("2006-01-02", opts.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("expiry must be YYYY-MM-DD: %w", err)
		}
		if !exp.After(now) {
			return nil, errors.New("expiry is in the past")
		}
		return &exp, nil
	default:
		exp := now.Add(DefaultValidity)
		return &exp, nil
	}
}

// Request describes a token to mint.
type Request struct {
	Client    string
	ID        string
	ExpiresAt *time.Time
}

// Issued is a minted token and its ledger entry.
type Issued struct {
	Token string
	Entry Entry
}

// Issuer mints and self-verifies tokens.
type Issuer struct {
	priv       ed25519.PrivateKey
	verifier   *license.Ed25519Verifier
	productTag string
	now        func() time.Time
}

// NewIssuer wraps the signing key.
func NewIssuer(priv ed25519.PrivateKey, productTag string) (*Issuer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid signing key")
	}
	if productTag == "" {
		productTag = license.DefaultProductTag
	}
	v, err := license.NewEd25519Verifier(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Issuer{priv: priv, verifier: v, productTag: productTag, now: time.Now}, nil
}

// PublicKey returns the verification key.
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.priv.Public().(ed25519.PublicKey)
}

// Issue mints a token for req. A blank id gets a short random one.
func (i *Issuer) Issue(req Request) (*Issued, error) {
	client := strings.TrimSpace(req.Client)
	if client == "" {
		return nil, errors.New("client name is required")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()[:8]
	}

	nonce, err := license.NewNonce()
	if err != nil {
		return nil, err
	}
	now := i.now().UTC()
	claims := license.Claims{
		Subject:  client,
		IssuedAt: now.UnixMilli(),
		KeyID:    id,
		Nonce:    nonce,
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		ms := req.ExpiresAt.UnixMilli()
		claims.ExpiresAt = &ms
		exp := time.UnixMilli(ms).UTC()
		expiresAt = &exp
	}

	token, err := license.Mint(i.priv, i.productTag, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}

	parsed, err := license.Parse(token, i.productTag)
	if err != nil {
		return nil, fmt.Errorf("minted token does not parse: %w", err)
	}
	if err := i.verifier.Verify(parsed); err != nil {
		return nil, fmt.Errorf("minted token does not verify: %w", err)
	}

	return &Issued{
		Token: token,
		Entry: Entry{
			ID:          id,
			Client:      client,
			IssuedAt:    now,
			ExpiresAt:   expiresAt,
			ExpiryMs:    claims.ExpiresAt,
			Fingerprint: license.Fingerprint(token),
			Status:      StatusIssued,
			Nonce:       nonce,
		},
	}, nil
}
