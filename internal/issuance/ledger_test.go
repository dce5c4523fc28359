package issuance_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/issuance"
)

// testWorkFactor keeps scrypt fast in tests.
const testWorkFactor = 10

func openLedger(t *testing.T, path, pass string) *issuance.Ledger {
	t.Helper()
	l, err := issuance.OpenLedger(path, pass, issuance.WithWorkFactor(testWorkFactor))
	require.NoError(t, err)
	return l
}

func sampleEntry(id, client string, issued time.Time, exp *time.Time) issuance.Entry {
	e := issuance.Entry{
		ID:          id,
		Client:      client,
		IssuedAt:    issued,
		ExpiresAt:   exp,
		Fingerprint: "fp-" + id,
		Status:      issuance.StatusIssued,
		Nonce:       "00112233445566778899aabbccddeeff",
	}
	if exp != nil {
		ms := exp.UnixMilli()
		e.ExpiryMs = &ms
	}
	return e
}

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), issuance.DefaultLedgerFile)
	assert.False(t, issuance.Exists(path))

	l := openLedger(t, path, "ledger-pass")
	assert.Zero(t, l.Len())

	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exp := issued.AddDate(1, 0, 0)
	l.Append(sampleEntry("a1", "Studio Bianchi", issued, &exp))
	l.Append(sampleEntry("b2", "Studio Verdi", issued, nil))
	require.NoError(t, l.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Bianchi")
	assert.Contains(t, string(raw), "age-encryption.org/v1")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := openLedger(t, path, "ledger-pass")
	entries := reopened.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Studio Bianchi", entries[0].Client)
	assert.True(t, entries[0].ExpiresAt.Equal(exp))
	assert.Nil(t, entries[1].ExpiresAt)

	e, ok := reopened.FindFingerprint("fp-b2")
	require.True(t, ok)
	assert.Equal(t, "b2", e.ID)
}

func TestLedgerWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.age")
	l := openLedger(t, path, "right-pass")
	require.NoError(t, l.Save())

	_, err := issuance.OpenLedger(path, "wrong-pass")
	assert.ErrorIs(t, err, issuance.ErrWrongPassphrase)

	_, err = issuance.OpenLedger(path, "")
	assert.Error(t, err)
}

func TestLedgerStatusTransitions(t *testing.T) {
	l := openLedger(t, filepath.Join(t.TempDir(), "ledger.age"), "pass-1234")
	now := time.Now()
	l.Append(sampleEntry("k1", "A", now, nil))
	l.Append(sampleEntry("k2", "B", now, nil))

	tests := []struct {
		name    string
		id      string
		status  issuance.Status
		wantErr error
	}{
		{"activate issued", "k1", issuance.StatusActivated, nil},
		{"activate twice is a no-op", "k1", issuance.StatusActivated, nil},
		{"revoke activated", "k1", issuance.StatusRevoked, nil},
		{"revoked is terminal", "k1", issuance.StatusActivated, issuance.ErrInvalidTransition},
		{"current status is a no-op", "k2", issuance.StatusIssued, nil},
		{"cannot set expired", "k2", issuance.StatusExpired, issuance.ErrInvalidTransition},
		{"unknown id", "zz", issuance.StatusRevoked, issuance.ErrEntryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := l.SetStatus(tt.id, tt.status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, e.Status)
		})
	}
}

func TestLedgerDuplicateIDsResolveToLatest(t *testing.T) {
	l := openLedger(t, filepath.Join(t.TempDir(), "ledger.age"), "pass-1234")
	now := time.Now()
	first := sampleEntry("dup", "Old Client", now, nil)
	second := sampleEntry("dup", "New Client", now, nil)
	second.Fingerprint = "fp-dup-2"
	l.Append(first)
	l.Append(second)

	assert.True(t, l.HasID("dup"))
	e, err := l.Find("dup")
	require.NoError(t, err)
	assert.Equal(t, "New Client", e.Client)

	_, err = l.SetStatus("dup", issuance.StatusRevoked)
	require.NoError(t, err)
	assert.Equal(t, issuance.StatusIssued, l.Entries()[0].Status)
}

func TestDisplayStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	expired := sampleEntry("e", "C", past, &past)
	assert.Equal(t, issuance.StatusExpired, expired.DisplayStatus(now))

	expired.Status = issuance.StatusRevoked
	assert.Equal(t, issuance.StatusRevoked, expired.DisplayStatus(now))

	perpetual := sampleEntry("p", "C", past, nil)
	assert.Equal(t, issuance.StatusIssued, perpetual.DisplayStatus(now))
}
