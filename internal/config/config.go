package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values applied when a field is left unset.
const (
	DefaultBulkThreshold  = 1000
	DefaultAcquireTimeout = time.Second
	DefaultCacheTTL       = 5 * time.Minute
	DefaultPostgresPort   = 5432
	DefaultMetricsNS      = "crepo"
)

// Environment variables consulted when the postgres settings source is "multiuser".
const (
	EnvPGHost     = "CREPO_PG_HOST"
	EnvPGPort     = "CREPO_PG_PORT"
	EnvPGUser     = "CREPO_PG_USER"
	EnvPGPassword = "CREPO_PG_PASSWORD"
)

// Config represents the main configuration for crepo.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Backup   BackupConfig   `toml:"backup"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// Duration is a time.Duration that decodes from strings such as "1s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DatabaseConfig represents configuration for the central repository database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type"` // "sqlite", "postgres" or "memory"

	// SQLite-specific fields (only used when Type == "sqlite")
	Path string `toml:"path,omitempty"`

	// PostgreSQL-specific fields (only used when Type == "postgres")
	Host           string `toml:"host,omitempty"`
	Port           int    `toml:"port,omitempty"`
	Name           string `toml:"name,omitempty"`
	User           string `toml:"user,omitempty"`
	Password       string `toml:"password,omitempty"`
	SettingsSource string `toml:"settings_source,omitempty"` // "custom" (default) or "multiuser"

	BulkThreshold  int      `toml:"bulk_threshold,omitempty"`
	AcquireTimeout Duration `toml:"acquire_timeout,omitempty"`
}

// CacheConfig controls the in-process cache layer.
type CacheConfig struct {
	TTL Duration `toml:"ttl,omitempty"`
}

// BackupConfig controls repository snapshots.
type BackupConfig struct {
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// ArchiveConfig represents configuration for a snapshot archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// MetricsConfig controls prometheus metric registration.
type MetricsConfig struct {
	Namespace string `toml:"namespace,omitempty"`
	Listen    string `toml:"listen,omitempty"` // e.g. ":9464"; empty disables the listener
}

// NewConfig creates a new Config rooted at baseDir with a sqlite repository and default key paths.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:           "sqlite",
			Path:           filepath.Join(baseDir, "central_repository.db"),
			BulkThreshold:  DefaultBulkThreshold,
			AcquireTimeout: Duration{DefaultAcquireTimeout},
		},
		Cache: CacheConfig{TTL: Duration{DefaultCacheTTL}},
		Backup: BackupConfig{
			Archive: ArchiveConfig{Type: "filesystem", Root: filepath.Join(baseDir, "backups")},
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "crepo.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "crepo.key"),
			},
		},
		Metrics: MetricsConfig{Namespace: DefaultMetricsNS},
	}
}

// Validate checks the tagged unions and fills unset tunables with their defaults.
func (c *Config) Validate() error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if c.Cache.TTL.Duration <= 0 {
		c.Cache.TTL.Duration = DefaultCacheTTL
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNS
	}
	switch c.Backup.Archive.Type {
	case "", "memory":
	case "filesystem":
		if c.Backup.Archive.Root == "" {
			return fmt.Errorf("backup.archive.root required for filesystem archive")
		}
	case "s3":
		if c.Backup.Archive.S3Bucket == "" {
			return fmt.Errorf("backup.archive.s3_bucket required for s3 archive")
		}
	default:
		return fmt.Errorf("unknown archive type: %s", c.Backup.Archive.Type)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if d.BulkThreshold <= 0 {
		d.BulkThreshold = DefaultBulkThreshold
	}
	if d.AcquireTimeout.Duration <= 0 {
		d.AcquireTimeout.Duration = DefaultAcquireTimeout
	}
	switch d.Type {
	case "memory":
		return nil
	case "sqlite":
		if d.Path == "" {
			return fmt.Errorf("database.path required for sqlite database")
		}
		return nil
	case "postgres":
		switch d.SettingsSource {
		case "", "custom":
		case "multiuser":
			if err := d.applyMultiUserEnv(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown settings source: %s", d.SettingsSource)
		}
		if d.Host == "" {
			return fmt.Errorf("database.host required for postgres database")
		}
		if d.Name == "" {
			return fmt.Errorf("database.name required for postgres database")
		}
		if d.User == "" {
			return fmt.Errorf("database.user required for postgres database")
		}
		if d.Port == 0 {
			d.Port = DefaultPostgresPort
		}
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("database.port %d out of range", d.Port)
		}
		return nil
	}
	return fmt.Errorf("unknown database type: %s", d.Type)
}

func (d *DatabaseConfig) applyMultiUserEnv() error {
	if v := os.Getenv(EnvPGHost); v != "" {
		d.Host = v
	}
	if v := os.Getenv(EnvPGPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvPGPort, err)
		}
		d.Port = port
	}
	if v := os.Getenv(EnvPGUser); v != "" {
		d.User = v
	}
	if v := os.Getenv(EnvPGPassword); v != "" {
		d.Password = v
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and validates it.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry a database password.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
