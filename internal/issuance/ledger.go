package issuance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"filippo.io/age"

	"casevault/internal/files"
)

// DefaultLedgerFile is the ledger path used when none is given.
const DefaultLedgerFile = "issued-keys.age"

// MinPassphraseLength applies when a new ledger is created.
const MinPassphraseLength = 8

// maxLedgerSize bounds how much ciphertext Open will read.
const maxLedgerSize = 64 << 20

// Status is the lifecycle state of an issued token.
type Status string

const (
	StatusIssued    Status = "issued"
	StatusActivated Status = "activated"
	StatusRevoked   Status = "revoked"

	// StatusExpired is display-only; it is never stored.
	StatusExpired Status = "expired"
)

var (
	ErrWrongPassphrase   = errors.New("wrong ledger passphrase or corrupted ledger")
	ErrEntryNotFound     = errors.New("ledger entry not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Entry is one issued token. The token itself is not stored.
type Entry struct {
	ID          string     `json:"id"`
	Client      string     `json:"client"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ExpiryMs    *int64     `json:"expiry_ms"`
	Fingerprint string     `json:"fingerprint"`
	Status      Status     `json:"status"`
	Nonce       string     `json:"nonce"`
}

// Expired reports whether the entry's token has passed its expiry.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// DisplayStatus is the status shown to operators: an expired token that was
// not revoked shows as expired.
func (e Entry) DisplayStatus(now time.Time) Status {
	if e.Status != StatusRevoked && e.Expired(now) {
		return StatusExpired
	}
	return e.Status
}

// Ledger is the decrypted, in-memory ledger. Call Save to persist changes.
type Ledger struct {
	path       string
	passphrase string
	workFactor int
	entries    []Entry
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithWorkFactor sets the scrypt work factor (log2 N) used when saving.
func WithWorkFactor(logN int) LedgerOption {
	return func(l *Ledger) { l.workFactor = logN }
}

// OpenLedger decrypts the ledger at path. A missing file yields an empty
// ledger that is created on the first Save.
func OpenLedger(path, passphrase string, opts ...LedgerOption) (*Ledger, error) {
	if passphrase == "" {
		return nil, errors.New("ledger passphrase is required")
	}
	l := &Ledger{path: path, passphrase: passphrase}
	for _, opt := range opts {
		opt(l)
	}

	ciphertext, err := files.ReadLimited(path, maxLedgerSize)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger identity: %w", err)
	}
	if l.workFactor > 22 {
		identity.SetMaxWorkFactor(l.workFactor)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if err := json.Unmarshal(plain, &l.entries); err != nil {
		return nil, fmt.Errorf("ledger contents are not valid: %w", err)
	}
	return l, nil
}

// Exists reports whether a ledger file is present at path.
func Exists(path string) bool {
	return files.Exists(path)
}

// Path is the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Entries returns a copy of all entries in issue order.
func (l *Ledger) Entries() []Entry {
	return slices.Clone(l.entries)
}

// Len is the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// HasID reports whether an entry with id exists.
func (l *Ledger) HasID(id string) bool {
	_, ok := l.index(id)
	return ok
}

// Find returns the most recent entry with id.
func (l *Ledger) Find(id string) (Entry, error) {
	i, ok := l.index(id)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return l.entries[i], nil
}

// FindFingerprint returns the entry whose token has fingerprint fp.
func (l *Ledger) FindFingerprint(fp string) (Entry, bool) {
	for _, e := range l.entries {
		if e.Fingerprint == fp {
			return e, true
		}
	}
	return Entry{}, false
}

// Append adds e. Duplicate ids are allowed; callers confirm them first.
func (l *Ledger) Append(e Entry) {
	l.entries = append(l.entries, e)
}

// SetStatus moves the most recent entry with id to status. Revoked is
// terminal and only an issued token can become activated.
func (l *Ledger) SetStatus(id string, status Status) (Entry, error) {
	i, ok := l.index(id)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	cur := l.entries[i].Status
	switch {
	case cur == status:
	case cur == StatusRevoked:
		return Entry{}, fmt.Errorf("%w: %s is revoked", ErrInvalidTransition, id)
	case status == StatusActivated && cur != StatusIssued:
		return Entry{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, status)
	case status != StatusActivated && status != StatusRevoked:
		return Entry{}, fmt.Errorf("%w: cannot set %s", ErrInvalidTransition, status)
	}
	l.entries[i].Status = status
	return l.entries[i], nil
}

// Save encrypts the ledger and replaces the file atomically.
func (l *Ledger) Save() error {
	plain, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if l.entries == nil {
		plain = []byte("[]")
	}

	recipient, err := age.NewScryptRecipient(l.passphrase)
	if err != nil {
		return fmt.Errorf("failed to build ledger recipient: %w", err)
	}
	if l.workFactor > 0 {
		recipient.SetWorkFactor(l.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("failed to encrypt ledger: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("failed to encrypt ledger: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to encrypt ledger: %w", err)
	}

	if err := files.WriteAtomic(l.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

func (l *Ledger) index(id string) (int, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			return i, true
		}
	}
	return 0, false
}
