package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Knowledge base backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Knowledge       KnowledgeConfig       `yaml:"knowledge"`
	Probe           ProbeConfig           `yaml:"probe"`
	Discovery       DiscoveryConfig       `yaml:"discovery"`
	Log             LogConfig             `yaml:"log"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
}

// KnowledgeConfig selects where the pattern knowledge base persists.
type KnowledgeConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Name identifies this knowledge base in remote snapshot storage.
	Name string `yaml:"name"`
	// Catalog is an optional archetype catalog replacing the built-in one.
	Catalog string `yaml:"catalog"`
}

// ProbeConfig contains settings for writes against a live host.
type ProbeConfig struct {
	// WritesPerSecond paces probe writes; zero disables pacing.
	WritesPerSecond float64 `yaml:"writes_per_second"`
	RestoreAttempts int     `yaml:"restore_attempts"`
	Bracketing      bool    `yaml:"bracketing"`
}

// DiscoveryConfig contains session settings.
type DiscoveryConfig struct {
	Parallelism        int     `yaml:"parallelism"`
	SignatureThreshold float64 `yaml:"signature_threshold"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SnapshotStorageConfig contains S3-compatible storage settings for
// publishing knowledge base snapshots. An empty bucket disables publishing.
type SnapshotStorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	// PublishInterval is how often `kb publish --watch` republishes.
	PublishInterval Duration `yaml:"publish_interval"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("PARAMLORE_CONFIG_PATH", "config/paramlore.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Knowledge: KnowledgeConfig{
			Backend: BackendFile,
			Path:    "data/knowledge.json",
			Name:    "default",
		},
		Probe: ProbeConfig{
			WritesPerSecond: 0,
			RestoreAttempts: 3,
			Bracketing:      true,
		},
		Discovery: DiscoveryConfig{
			Parallelism:        4,
			SignatureThreshold: 0.70,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		SnapshotStorage: SnapshotStorageConfig{
			Region:          "us-east-1",
			UseSSL:          &useSSL,
			URLExpiry:       Duration(15 * time.Minute),
			PublishInterval: Duration(1 * time.Hour),
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Knowledge
	if v := os.Getenv("PARAMLORE_KB_BACKEND"); v != "" {
		cfg.Knowledge.Backend = v
	}
	if v := os.Getenv("PARAMLORE_KB_PATH"); v != "" {
		cfg.Knowledge.Path = v
	}
	if v := os.Getenv("PARAMLORE_KB_NAME"); v != "" {
		cfg.Knowledge.Name = v
	}
	if v := os.Getenv("PARAMLORE_KB_CATALOG"); v != "" {
		cfg.Knowledge.Catalog = v
	}

	// Probe
	if v := os.Getenv("PARAMLORE_WRITES_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Probe.WritesPerSecond = f
		}
	}
	if v := os.Getenv("PARAMLORE_RESTORE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Probe.RestoreAttempts = n
		}
	}
	if v := os.Getenv("PARAMLORE_BRACKETING"); v != "" {
		cfg.Probe.Bracketing = v == "true" || v == "1"
	}

	// Discovery
	if v := os.Getenv("PARAMLORE_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Parallelism = n
		}
	}
	if v := os.Getenv("PARAMLORE_SIGNATURE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Discovery.SignatureThreshold = f
		}
	}

	// Log
	if v := os.Getenv("PARAMLORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PARAMLORE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Snapshot storage
	if v := os.Getenv("PARAMLORE_SNAPSHOT_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("PARAMLORE_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("PARAMLORE_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("PARAMLORE_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("PARAMLORE_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("PARAMLORE_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &b
	}
	if v := os.Getenv("PARAMLORE_S3_URL_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SnapshotStorage.URLExpiry = Duration(d)
		}
	}
	if v := os.Getenv("PARAMLORE_PUBLISH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SnapshotStorage.PublishInterval = Duration(d)
		}
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	switch c.Knowledge.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("knowledge.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Knowledge.Backend)
	}
	if c.Knowledge.Path == "" {
		return errors.New("knowledge.path is required")
	}
	if c.Probe.WritesPerSecond < 0 {
		return errors.New("probe.writes_per_second must not be negative")
	}
	if c.Probe.RestoreAttempts < 1 {
		return errors.New("probe.restore_attempts must be at least 1")
	}
	if c.Discovery.Parallelism < 1 {
		return errors.New("discovery.parallelism must be at least 1")
	}
	if t := c.Discovery.SignatureThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("discovery.signature_threshold must be in (0, 1], got %v", t)
	}
	if c.SnapshotStorage.Bucket != "" && c.SnapshotStorage.Endpoint == "" {
		return errors.New("snapshot_storage.endpoint is required when a bucket is set")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
