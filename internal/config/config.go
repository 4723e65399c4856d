package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Local   LocalConfig   `yaml:"local"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig contains the hosted backend connection settings
type BackendConfig struct {
	URL     string `yaml:"url"`      // project base URL, e.g. https://xyz.supabase.co
	AnonKey string `yaml:"anon_key"` // public API key sent with every request
}

// StorageConfig contains object-store settings
type StorageConfig struct {
	CarsBucket  string `yaml:"cars_bucket"`  // bucket holding listing images
	SlipsBucket string `yaml:"slips_bucket"` // bucket holding payment receipts
	CacheDir    string `yaml:"cache_dir"`    // scratch directory for remote-image downloads
}

// LocalConfig contains device persistence settings
type LocalConfig struct {
	DataDir string `yaml:"data_dir"` // directory for the local key/value store
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("SUPABASE_URL"); val != "" {
		c.Backend.URL = val
	}
	if val := os.Getenv("SUPABASE_ANON_KEY"); val != "" {
		c.Backend.AnonKey = val
	}
	if val := os.Getenv("STORAGE_CARS_BUCKET"); val != "" {
		c.Storage.CarsBucket = val
	}
	if val := os.Getenv("STORAGE_SLIPS_BUCKET"); val != "" {
		c.Storage.SlipsBucket = val
	}
	if val := os.Getenv("STORAGE_CACHE_DIR"); val != "" {
		c.Storage.CacheDir = val
	}
	if val := os.Getenv("LOCAL_DATA_DIR"); val != "" {
		c.Local.DataDir = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend url is not a valid absolute URL: %q", c.Backend.URL)
	}
	if c.Backend.AnonKey == "" {
		return fmt.Errorf("backend anon key is required")
	}

	// Storage defaults mirror the hosted project's bucket layout
	if c.Storage.CarsBucket == "" {
		c.Storage.CarsBucket = "cars"
	}
	if c.Storage.SlipsBucket == "" {
		c.Storage.SlipsBucket = "slips"
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = os.TempDir()
	}

	if c.Local.DataDir == "" {
		return fmt.Errorf("local data directory is required")
	}

	return nil
}
