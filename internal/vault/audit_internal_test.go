package vault

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/files"
	"casevault/internal/security"
)

func TestAuditLogIsCapped(t *testing.T) {
	key, err := security.RandomBytes(security.KeySize)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log := &auditLog{path: filepath.Join(t.TempDir(), "vault.audit"), now: func() time.Time { return now }}

	entries := make([]AuditEntry, MaxAuditEntries)
	for i := range entries {
		entries[i] = AuditEntry{Event: "old", Time: now}
	}
	entries[0].Event = "oldest"
	require.NoError(t, log.write(key, entries))

	tampered, err := log.append(key, "newest")
	require.NoError(t, err)
	assert.False(t, tampered)

	got, err := log.read(key)
	require.NoError(t, err)
	require.Len(t, got, MaxAuditEntries)
	assert.Equal(t, "old", got[0].Event)
	assert.Equal(t, "newest", got[len(got)-1].Event)
}

func TestAuditLogWrongKey(t *testing.T) {
	key, _ := security.RandomBytes(security.KeySize)
	other, _ := security.RandomBytes(security.KeySize)
	log := &auditLog{path: filepath.Join(t.TempDir(), "vault.audit"), now: time.Now}

	_, err := log.append(key, "first")
	require.NoError(t, err)

	_, err = log.read(other)
	assert.ErrorIs(t, err, security.ErrDecrypt)
}

func TestCheckBlockCarriesParams(t *testing.T) {
	key, _ := security.RandomBytes(security.KeySize)
	other, _ := security.RandomBytes(security.KeySize)
	params := security.Argon2Params{MemoryKiB: 64, Iterations: 2, Parallelism: 1}

	raw, err := newCheckBlock(key, params)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"alg":"argon2id"`)

	path := filepath.Join(t.TempDir(), "vault.check")
	require.NoError(t, files.WriteAtomic(path, raw))

	cb, err := loadCheckBlock(path)
	require.NoError(t, err)
	assert.Equal(t, params, cb.params())
	assert.True(t, cb.opens(key))
	assert.False(t, cb.opens(other))
}
