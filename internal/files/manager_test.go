package files

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, WriteAtomic(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, PrivatePerm, info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReadLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))

	data, err := ReadLimited(path, 100)
	require.NoError(t, err)
	assert.Len(t, data, 100)

	_, err = ReadLimited(path, 99)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = ReadLimited(filepath.Join(t.TempDir(), "missing"), 10)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWipe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.dat")
	require.NoError(t, os.WriteFile(path, []byte("sensitive contents"), 0o600))

	require.NoError(t, Wipe(path))
	assert.False(t, Exists(path))

	// missing file is fine
	require.NoError(t, Wipe(path))
}

func TestCopyFileAndRemove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	require.NoError(t, CopyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	require.NoError(t, Remove(dst))
	require.NoError(t, Remove(dst))
	assert.False(t, Exists(dst))
	assert.True(t, Exists(src))
}
