package issuance

import (
	"crypto/ed25519"
	"errors"
	"time"

	apperrors "casevault/internal/errors"
	"casevault/internal/license"
)

// Report is the outcome of inspecting a token offline.
type Report struct {
	Claims license.Claims
	// SignatureChecked is false when no public key was supplied.
	SignatureChecked bool
	SignatureValid   bool
	Expired          bool
	Fingerprint      string
	// Entry is set when the ledger knows the token.
	Entry *Entry
}

// Inspect decodes token and checks whatever it can: the signature when pub
// is given, expiry against now, and the ledger when one is open.
func Inspect(token, productTag string, pub ed25519.PublicKey, ledger *Ledger, now time.Time) (*Report, error) {
	if productTag == "" {
		productTag = license.DefaultProductTag
	}
	tok, err := license.Parse(token, productTag)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Claims:      tok.Claims,
		Expired:     tok.Claims.ExpiredAt(now),
		Fingerprint: license.Fingerprint(tok.Raw),
	}

	if pub != nil {
		v, err := license.NewEd25519Verifier(pub)
		if err != nil {
			return nil, err
		}
		r.SignatureChecked = true
		if err := v.Verify(tok); err == nil {
			r.SignatureValid = true
		} else if !errors.Is(err, apperrors.ErrCryptoVerificationFailed) {
			return nil, err
		}
	}

	if ledger != nil {
		if e, ok := ledger.FindFingerprint(r.Fingerprint); ok {
			r.Entry = &e
		}
	}
	return r, nil
}
