package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaths(t *testing.T) {
	root := t.TempDir()

	paths, err := GetPaths(root)
	require.NoError(t, err)

	assert.Equal(t, root, paths.Root)
	assert.Equal(t, filepath.Join(root, "vault"), paths.DataDir)
	assert.Equal(t, filepath.Join(root, "security"), paths.SecurityDir)
	assert.Equal(t, filepath.Join(paths.SecurityDir, "lockout.json"), paths.LockoutFile)
	assert.Equal(t, filepath.Join(paths.DataDir, "vault.salt"), paths.VaultSaltFile)
	assert.Equal(t, filepath.Join(paths.SecurityDir, ".license-sentinel"), paths.SentinelFile)
}

func TestGetPathsDefaultRoot(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("HOME", base)

	paths, err := GetPaths("")
	require.NoError(t, err)
	assert.Equal(t, AppDirName, filepath.Base(paths.Root))
}

func TestEnsureDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	paths, err := GetPaths(root)
	require.NoError(t, err)

	require.NoError(t, paths.EnsureDirectories())

	for _, dir := range []string{paths.Root, paths.DataDir, paths.SecurityDir, paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}

	// idempotent
	require.NoError(t, paths.EnsureDirectories())
	assert.True(t, FileExists(paths.DataDir))
	assert.False(t, FileExists(paths.VaultSaltFile))
}
