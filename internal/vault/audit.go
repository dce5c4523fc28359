package vault

import (
	"encoding/json"
	"errors"
	"io/fs"
	"time"

	"casevault/internal/files"
	"casevault/internal/security"
)

// MaxAuditEntries caps the audit log; the oldest entries are dropped first.
const MaxAuditEntries = 10000

const maxAuditFileSize = 8 << 20

// Audit events written by the manager.
const (
	AuditVaultCreated     = "vault created"
	AuditUnlocked         = "vault unlocked"
	AuditUnlockedBio      = "vault unlocked (biometric)"
	AuditPasswordChanged  = "password changed"
	AuditBiometricEnabled = "biometric unlock enabled"
	AuditBiometricCleared = "biometric unlock disabled"
	AuditRestored         = "vault restored from backup"
	AuditTamperDetected   = "AUDIT_LOG_TAMPERING_DETECTED"
)

// AuditEntry is one audit log line.
type AuditEntry struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
}

// auditLog reads and appends to the encrypted audit file.
type auditLog struct {
	path string
	now  func() time.Time
}

// read returns the entries, or nil when no log exists. A log the key cannot
// open returns security.ErrDecrypt.
func (a *auditLog) read(key []byte) ([]AuditEntry, error) {
	sealed, err := files.ReadLimited(a.path, maxAuditFileSize)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plain, err := security.Open(key, sealed, []byte(auditLabel))
	if err != nil {
		return nil, err
	}
	defer security.Zero(plain)

	var entries []AuditEntry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, security.ErrDecrypt
	}
	return entries, nil
}

// append adds event. An unreadable log is kept as <path>.corrupt and a new
// log is started with a tamper entry. It reports whether that happened.
func (a *auditLog) append(key []byte, event string) (bool, error) {
	entries, err := a.read(key)
	tampered := false
	if err != nil {
		if cerr := files.CopyFile(a.path, a.path+".corrupt"); cerr != nil {
			return false, cerr
		}
		tampered = true
		entries = []AuditEntry{{Event: AuditTamperDetected, Time: a.now().UTC()}}
	}

	entries = append(entries, AuditEntry{Event: event, Time: a.now().UTC()})
	if over := len(entries) - MaxAuditEntries; over > 0 {
		entries = entries[over:]
	}
	return tampered, a.write(key, entries)
}

func (a *auditLog) write(key []byte, entries []AuditEntry) error {
	sealed, err := a.seal(key, entries)
	if err != nil {
		return err
	}
	return files.WriteAtomic(a.path, sealed)
}

func (a *auditLog) seal(key []byte, entries []AuditEntry) ([]byte, error) {
	plain, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	defer security.Zero(plain)
	return security.Seal(key, plain, []byte(auditLabel))
}
