package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddr = "127.0.0.1:7878"
	DefaultDBFileName = "vrac.db"

	DefaultMaxUploadBytes     int64 = 1024 * 1024 * 1024
	DefaultTokenMaxValidHours       = 24 * 7
	DefaultCleanupInterval          = time.Hour

	configPathEnvKey = "VRAC_CONFIG"

	listenAddrEnvKey      = "VRAC_ADDR"
	dbPathEnvKey          = "VRAC_DB"
	storageRootEnvKey     = "VRAC_STORAGE_ROOT"
	s3AccessKeyEnvKey     = "VRAC_S3_ACCESS_KEY_ID"
	s3SecretKeyEnvKey     = "VRAC_S3_SECRET_ACCESS_KEY"
	cleanupIntervalEnvKey = "VRAC_CLEANUP_INTERVAL"
)

// LocalStorageConfig configures the filesystem blob backend.
type LocalStorageConfig struct {
	Enabled bool   `toml:"enabled"`
	Root    string `toml:"root"`
}

// S3StorageConfig configures an S3-compatible blob backend. Credentials
// normally come from the environment rather than the file.
type S3StorageConfig struct {
	Enabled         bool   `toml:"enabled"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// StorageConfig selects and configures the blob backends.
type StorageConfig struct {
	// Default is the backend_type stamped on new tokens.
	Default string             `toml:"default"`
	Local   LocalStorageConfig `toml:"local"`
	S3      S3StorageConfig    `toml:"s3"`
}

// UploadConfig bounds what uploaders may send.
type UploadConfig struct {
	MaxUploadBytes     int64 `toml:"max_upload_bytes"`
	TokenMaxValidHours int   `toml:"token_max_valid_hours"`
}

// CleanupConfig configures the retention sweeper.
type CleanupConfig struct {
	Interval time.Duration `toml:"-"`
	// IntervalRaw is parsed with time.ParseDuration, e.g. "30m".
	IntervalRaw string `toml:"interval"`
}

// Config defines runtime configuration for vrac.
type Config struct {
	ListenAddr string        `toml:"listen_addr"`
	DBPath     string        `toml:"db_path"`
	Storage    StorageConfig `toml:"storage"`
	Uploads    UploadConfig  `toml:"uploads"`
	Cleanup    CleanupConfig `toml:"cleanup"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		DBPath:     DefaultDBFileName,
		Storage: StorageConfig{
			Default: "local_fs",
			Local:   LocalStorageConfig{Enabled: true, Root: "blobs"},
		},
		Uploads: UploadConfig{
			MaxUploadBytes:     DefaultMaxUploadBytes,
			TokenMaxValidHours: DefaultTokenMaxValidHours,
		},
		Cleanup: CleanupConfig{Interval: DefaultCleanupInterval},
	}
}

// Load reads config from path, falling back to $VRAC_CONFIG, and applies
// env overrides. An empty path with no env var yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(configPathEnvKey))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config %s is a directory", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv(listenAddrEnvKey); addr != "" {
		cfg.ListenAddr = addr
	}
	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if root := os.Getenv(storageRootEnvKey); root != "" {
		cfg.Storage.Local.Root = root
	}
	if key := os.Getenv(s3AccessKeyEnvKey); key != "" {
		cfg.Storage.S3.AccessKeyID = key
	}
	if secret := os.Getenv(s3SecretKeyEnvKey); secret != "" {
		cfg.Storage.S3.SecretAccessKey = secret
	}
	if raw := strings.TrimSpace(os.Getenv(cleanupIntervalEnvKey)); raw != "" {
		cfg.Cleanup.IntervalRaw = raw
	}
}

func (c *Config) normalize() error {
	if c.Cleanup.IntervalRaw != "" {
		interval, err := time.ParseDuration(c.Cleanup.IntervalRaw)
		if err != nil {
			return fmt.Errorf("invalid cleanup interval %q: %w", c.Cleanup.IntervalRaw, err)
		}
		if interval <= 0 {
			return fmt.Errorf("cleanup interval must be positive")
		}
		c.Cleanup.Interval = interval
	}
	if c.Cleanup.Interval <= 0 {
		c.Cleanup.Interval = DefaultCleanupInterval
	}

	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Uploads.TokenMaxValidHours <= 0 {
		c.Uploads.TokenMaxValidHours = DefaultTokenMaxValidHours
	}

	switch c.Storage.Default {
	case "local_fs":
		if !c.Storage.Local.Enabled {
			return fmt.Errorf("default backend local_fs is not enabled")
		}
	case "s3":
		if !c.Storage.S3.Enabled {
			return fmt.Errorf("default backend s3 is not enabled")
		}
	default:
		return fmt.Errorf("unknown default backend %q", c.Storage.Default)
	}

	if c.Storage.Local.Enabled && c.Storage.Local.Root == "" {
		return fmt.Errorf("storage.local.root is required")
	}
	if c.Storage.S3.Enabled {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
		if c.Storage.S3.AccessKeyID == "" || c.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3 credentials are required")
		}
	}
	return nil
}

// MaxUploadBytesFor returns the effective byte limit for one request given
// the token's own cap in MiB, zero meaning uncapped by the token.
func (c *Config) MaxUploadBytesFor(tokenMaxMiB int64) int64 {
	limit := c.Uploads.MaxUploadBytes
	if tokenMaxMiB > 0 {
		tokenLimit := tokenMaxMiB * 1024 * 1024
		if tokenLimit < limit {
			limit = tokenLimit
		}
	}
	return limit
}

// FormatInterval renders the sweep interval for logs and the cleanup CLI.
func (c *Config) FormatInterval() string {
	if c.Cleanup.IntervalRaw != "" {
		return c.Cleanup.IntervalRaw
	}
	return c.Cleanup.Interval.String()
}
