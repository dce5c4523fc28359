package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the namespace for every environment variable read by Load.
const EnvPrefix = "CASEVAULT"

// ConfigFileName is the optional YAML file merged over the defaults.
const ConfigFileName = "casevault.yaml"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Security      SecurityConfig      `yaml:"security" envconfig:"SECURITY"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Paths         PathsConfig         `yaml:"paths" envconfig:"PATHS"`
	Lockout       LockoutConfig       `yaml:"lockout" envconfig:"LOCKOUT"`
	KDF           KDFConfig           `yaml:"kdf" envconfig:"KDF"`
	License       LicenseConfig       `yaml:"license" envconfig:"LICENSE"`
	Biometric     BiometricConfig     `yaml:"biometric" envconfig:"BIOMETRIC"`
	Session       SessionConfig       `yaml:"session" envconfig:"SESSION"`
	Backup        BackupConfig        `yaml:"backup" envconfig:"BACKUP"`
	WebSocket     WebSocketConfig     `yaml:"websocket" envconfig:"WEBSOCKET"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// ServerConfig contains HTTP server configuration. The server only ever binds
// a loopback address.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration. An empty Root means
// the per-user configuration directory.
type PathsConfig struct {
	Root string `yaml:"root" envconfig:"ROOT"`
}

// LockoutConfig controls the brute-force lockout shared by license activation
// and vault unlock.
type LockoutConfig struct {
	Threshold uint32        `yaml:"threshold" envconfig:"THRESHOLD"`
	BaseDelay time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay  time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
}

// KDFConfig holds the Argon2id cost parameters used for the vault key.
type KDFConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib" envconfig:"MEMORY_KIB"`
	Iterations  uint32 `yaml:"iterations" envconfig:"ITERATIONS"`
	Parallelism uint8  `yaml:"parallelism" envconfig:"PARALLELISM"`
}

// LicenseConfig contains license token settings. The verification key itself
// is linked into the binary and is not configurable.
type LicenseConfig struct {
	ProductTag string `yaml:"product_tag" envconfig:"PRODUCT_TAG"`
}

// BiometricConfig controls the optional biometric unlock path.
type BiometricConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"ENABLED"`
	Service     string        `yaml:"service" envconfig:"SERVICE"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxFailures int           `yaml:"max_failures" envconfig:"MAX_FAILURES"`
}

// SessionConfig controls idle auto-lock.
type SessionConfig struct {
	AutolockMinutes int           `yaml:"autolock_minutes" envconfig:"AUTOLOCK_MINUTES"`
	WarningLead     time.Duration `yaml:"warning_lead" envconfig:"WARNING_LEAD"`
	CheckInterval   time.Duration `yaml:"check_interval" envconfig:"CHECK_INTERVAL"`
}

// BackupConfig contains backup import limits.
type BackupConfig struct {
	MaxImportBytes int64 `yaml:"max_import_bytes" envconfig:"MAX_IMPORT_BYTES"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// ObservabilityConfig toggles OpenTelemetry providers.
type ObservabilityConfig struct {
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// Load builds the configuration from defaults, then the YAML file if one is
// found, then environment variables. Later sources win.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile is Load with an explicit YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile merges a YAML file into cfg. Keys absent from the file keep
// their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if ip := net.ParseIP(c.Server.Host); c.Server.Host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("server host must be a loopback address, got %q", c.Server.Host)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Lockout.Threshold == 0 {
		return fmt.Errorf("lockout threshold must be at least 1")
	}

	if c.Lockout.BaseDelay <= 0 || c.Lockout.MaxDelay < c.Lockout.BaseDelay {
		return fmt.Errorf("lockout delays invalid: base=%s max=%s", c.Lockout.BaseDelay, c.Lockout.MaxDelay)
	}

	if c.KDF.MemoryKiB < 8*uint32(c.KDF.Parallelism) || c.KDF.Iterations == 0 || c.KDF.Parallelism == 0 {
		return fmt.Errorf("kdf parameters invalid: m=%d t=%d p=%d", c.KDF.MemoryKiB, c.KDF.Iterations, c.KDF.Parallelism)
	}

	if c.License.ProductTag == "" {
		return fmt.Errorf("license product tag must not be empty")
	}

	if c.Biometric.Enabled && c.Biometric.Timeout <= 0 {
		return fmt.Errorf("biometric timeout is mandatory when biometric unlock is enabled")
	}

	if c.Session.AutolockMinutes < 0 {
		return fmt.Errorf("autolock minutes must not be negative")
	}

	if c.Backup.MaxImportBytes <= 0 {
		return fmt.Errorf("backup max import bytes must be positive")
	}

	// Logs are always JSON.
	c.Logging.Format = "json"

	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "both"
	}

	return nil
}

// getConfigFilePath returns the path to the config file, or "" when none exists.
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		ConfigFileName,
		filepath.Join("configs", ConfigFileName),
	}
	if root, err := defaultRoot(); err == nil {
		locations = append(locations, filepath.Join(root, ConfigFileName))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7420,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "both",
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			BaseDelay: 5 * time.Minute,
			MaxDelay:  time.Hour,
		},
		KDF: KDFConfig{
			MemoryKiB:   16 * 1024,
			Iterations:  3,
			Parallelism: 1,
		},
		License: LicenseConfig{
			ProductTag: "CVLT",
		},
		Biometric: BiometricConfig{
			Enabled:     true,
			Service:     "casevault-biometric",
			Timeout:     60 * time.Second,
			MaxFailures: 3,
		},
		Session: SessionConfig{
			AutolockMinutes: 5,
			WarningLead:     30 * time.Second,
			CheckInterval:   5 * time.Second,
		},
		Backup: BackupConfig{
			MaxImportBytes: 500 << 20,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "none",
			SampleRatio:   1.0,
			Environment:   "production",
		},
	}
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}
