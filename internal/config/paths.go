package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// AppDirName is the directory created under the per-user configuration root.
const AppDirName = "casevault"

// Paths contains all the application paths.
// This is the single source of truth for every file the trust boundary owns.
type Paths struct {
	Root        string
	DataDir     string
	SecurityDir string
	LogsDir     string

	// Vault files
	VaultSaltFile   string
	VaultCheckFile  string
	VaultDataFile   string
	VaultAuditFile  string
	BiometricMarker string

	// License files
	LicenseRecordFile string
	SentinelFile      string
	BurnedKeysFile    string
	MachineIDFile     string

	// Lockout state shared by activation and vault unlock
	LockoutFile string

	LogFile string
}

// GetPaths resolves every application path under root. An empty root means
// <user config dir>/casevault.
func GetPaths(root string) (*Paths, error) {
	if root == "" {
		var err error
		root, err = defaultRoot()
		if err != nil {
			return nil, err
		}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	dataDir := filepath.Join(root, "vault")
	securityDir := filepath.Join(root, "security")
	logsDir := filepath.Join(root, "logs")

	return &Paths{
		Root:        root,
		DataDir:     dataDir,
		SecurityDir: securityDir,
		LogsDir:     logsDir,

		VaultSaltFile:   filepath.Join(dataDir, "vault.salt"),
		VaultCheckFile:  filepath.Join(dataDir, "vault.check"),
		VaultDataFile:   filepath.Join(dataDir, "vault.dat"),
		VaultAuditFile:  filepath.Join(dataDir, "vault.audit"),
		BiometricMarker: filepath.Join(dataDir, ".bio-enabled"),

		LicenseRecordFile: filepath.Join(securityDir, "license.rec"),
		SentinelFile:      filepath.Join(securityDir, ".license-sentinel"),
		BurnedKeysFile:    filepath.Join(securityDir, ".burned-keys"),
		MachineIDFile:     filepath.Join(securityDir, ".machine-id"),

		LockoutFile: filepath.Join(securityDir, "lockout.json"),

		LogFile: filepath.Join(logsDir, "casevault.log"),
	}, nil
}

// defaultRoot returns <user config dir>/casevault.
func defaultRoot() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// EnsureDirectories creates all required directories if they don't exist.
// Directories are private to the current user.
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.Root,
		p.DataDir,
		p.SecurityDir,
		p.LogsDir,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LogPathResolution logs the resolved directories for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Path resolution",
		slog.String("root", p.Root),
		slog.String("data_dir", p.DataDir),
		slog.String("security_dir", p.SecurityDir),
		slog.String("logs_dir", p.LogsDir))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
