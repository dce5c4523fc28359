package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommit(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "vault.dat")
	salt := filepath.Join(dir, "vault.salt")
	check := filepath.Join(dir, "vault.check")

	require.NoError(t, os.WriteFile(data, []byte("old-data"), 0o600))
	require.NoError(t, os.WriteFile(salt, []byte("old-salt"), 0o600))

	var tx Transaction
	require.NoError(t, tx.Stage(data, []byte("new-data")))
	require.NoError(t, tx.Stage(salt, []byte("new-salt")))
	require.NoError(t, tx.Stage(check, []byte("new-check")))

	// nothing visible before commit
	got, err := os.ReadFile(data)
	require.NoError(t, err)
	assert.Equal(t, "old-data", string(got))
	assert.False(t, Exists(check))

	require.NoError(t, tx.Commit())

	for path, want := range map[string]string{data: "new-data", salt: "new-salt", check: "new-check"} {
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
		assert.False(t, Exists(path+".tmp"))
		assert.False(t, Exists(path+".bak"))
	}

	assert.Error(t, tx.Commit(), "a transaction commits once")
}

func TestTransactionCommitRollsBack(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	require.NoError(t, os.WriteFile(first, []byte("original"), 0o600))

	var tx Transaction
	require.NoError(t, tx.Stage(first, []byte("replacement")))
	second := filepath.Join(dir, "second")
	require.NoError(t, tx.Stage(second, []byte("two")))

	// break the second rename by removing its staged file
	require.NoError(t, os.Remove(second+".tmp"))

	err := tx.Commit()
	require.Error(t, err)

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
	assert.False(t, Exists(second))
	assert.False(t, Exists(first+".tmp"))
}

func TestTransactionAbort(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")

	var tx Transaction
	require.NoError(t, tx.Stage(target, []byte("x")))
	tx.Abort()

	assert.False(t, Exists(target))
	assert.False(t, Exists(target+".tmp"))
	assert.Error(t, tx.Stage(target, []byte("y")))
}
