package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearAltEnv unsets the bare names envconfig also consults (HOST, PORT, ...)
// so a developer shell cannot leak into Load.
func clearAltEnv(t *testing.T) {
	t.Helper()
	names := []string{
		"HOST", "PORT", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "MAX_HEADER_BYTES",
		"SHUTDOWN_TIMEOUT", "RATE_LIMIT", "ENABLED", "RPS", "BURST", "LEVEL", "FORMAT", "OUTPUT",
		"FILE_PATH", "DEVELOPMENT", "ROOT", "THRESHOLD", "BASE_DELAY", "MAX_DELAY", "MEMORY_KIB",
		"ITERATIONS", "PARALLELISM", "PRODUCT_TAG", "SERVICE", "TIMEOUT", "MAX_FAILURES",
		"AUTOLOCK_MINUTES", "WARNING_LEAD", "CHECK_INTERVAL", "MAX_IMPORT_BYTES",
		"READ_BUFFER_SIZE", "WRITE_BUFFER_SIZE", "PING_PERIOD", "PONG_WAIT", "ENABLE_METRICS",
		"ENABLE_TRACING", "TRACE_EXPORTER", "SAMPLE_RATIO", "ENVIRONMENT",
	}
	for _, name := range names {
		if old, ok := os.LookupEnv(name); ok {
			require.NoError(t, os.Unsetenv(name))
			t.Cleanup(func() { os.Setenv(name, old) })
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, uint32(5), cfg.Lockout.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Lockout.BaseDelay)
	assert.Equal(t, uint32(16*1024), cfg.KDF.MemoryKiB)
	assert.Equal(t, uint32(3), cfg.KDF.Iterations)
	assert.Equal(t, uint8(1), cfg.KDF.Parallelism)
	assert.Equal(t, "CVLT", cfg.License.ProductTag)
	assert.Equal(t, 5, cfg.Session.AutolockMinutes)
	assert.Equal(t, int64(500<<20), cfg.Backup.MaxImportBytes)
}

func TestLoadFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ConfigFileName)
	yamlContent := `
server:
  port: 9001
lockout:
  threshold: 7
  base_delay: 2m
biometric:
  max_failures: 4
`
	require.NoError(t, os.WriteFile(file, []byte(yamlContent), 0o600))

	tests := []struct {
		name     string
		env      map[string]string
		validate func(*testing.T, *Config)
	}{
		{
			name: "file overrides defaults",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9001, cfg.Server.Port)
				assert.Equal(t, uint32(7), cfg.Lockout.Threshold)
				assert.Equal(t, 2*time.Minute, cfg.Lockout.BaseDelay)
				assert.Equal(t, 4, cfg.Biometric.MaxFailures)
				// untouched keys keep defaults
				assert.Equal(t, time.Hour, cfg.Lockout.MaxDelay)
				assert.Equal(t, "CVLT", cfg.License.ProductTag)
			},
		},
		{
			name: "env overrides file",
			env: map[string]string{
				"CASEVAULT_SERVER_PORT":         "9100",
				"CASEVAULT_LOCKOUT_BASE_DELAY":  "90s",
				"CASEVAULT_LICENSE_PRODUCT_TAG": "TEST",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9100, cfg.Server.Port)
				assert.Equal(t, 90*time.Second, cfg.Lockout.BaseDelay)
				assert.Equal(t, uint32(7), cfg.Lockout.Threshold)
				assert.Equal(t, "TEST", cfg.License.ProductTag)
			},
		},
	}

	clearAltEnv(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadFile(file)
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadUsesExplicitConfigEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("session:\n  autolock_minutes: 12\n"), 0o600))
	clearAltEnv(t)
	t.Setenv("CASEVAULT_CONFIG", file)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Session.AutolockMinutes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "non loopback host",
			mutate:  func(c *Config) { c.Server.Host = "0.0.0.0" },
			wantErr: "loopback",
		},
		{
			name:   "localhost accepted",
			mutate: func(c *Config) { c.Server.Host = "localhost" },
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Lockout.Threshold = 0 },
			wantErr: "threshold",
		},
		{
			name:    "max below base",
			mutate:  func(c *Config) { c.Lockout.MaxDelay = time.Second },
			wantErr: "lockout delays",
		},
		{
			name:    "missing biometric timeout",
			mutate:  func(c *Config) { c.Biometric.Timeout = 0 },
			wantErr: "biometric timeout",
		},
		{
			name:   "biometric disabled needs no timeout",
			mutate: func(c *Config) { c.Biometric.Enabled = false; c.Biometric.Timeout = 0 },
		},
		{
			name:    "empty product tag",
			mutate:  func(c *Config) { c.License.ProductTag = "" },
			wantErr: "product tag",
		},
		{
			name:    "bad kdf",
			mutate:  func(c *Config) { c.KDF.Iterations = 0 },
			wantErr: "kdf",
		},
		{
			name: "unknown log output falls back to both",
			mutate: func(c *Config) {
				c.Logging.Output = "syslog"
				c.Logging.Format = "text"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "json", cfg.Logging.Format)
			assert.Contains(t, []string{"stdout", "file", "both"}, cfg.Logging.Output)
		})
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 7420}
	assert.Equal(t, "127.0.0.1:7420", s.Addr())
}
