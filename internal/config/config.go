// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (NEYROPLAN_ prefix; GEMINI_API_KEY is
//     honored as a fallback for the API key)
//  2. Config file (~/.neyroplan/config.yaml)
//  3. Defaults
//
// Sensitive values (the API key) are never logged; use errors.Is with
// the sentinel errors to check validation failures.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrMissingAPIKey indicates no Gemini API key was provided.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidStorageBackend indicates an unknown storage backend name.
	ErrInvalidStorageBackend = errors.New("invalid storage backend")

	// ErrInvalidPollInterval indicates a non-positive video poll interval.
	ErrInvalidPollInterval = errors.New("invalid video poll interval")
)

// Storage backend identifiers used in Config.StorageBackend.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Defaults.
const (
	DefaultAddr             = "127.0.0.1:8090"
	DefaultStorageBackend   = StorageFile
	DefaultVideoPollSeconds = 8
	DefaultLogLevel         = "info"
	defaultConfigDirName    = ".neyroplan"
	defaultSessionsFileName = "sessions.json"
	defaultSessionsDBName   = "sessions.db"
)

// Config stores application configuration.
type Config struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string `mapstructure:"api_key"`

	// Model selection. Empty values fall back to the gemini package
	// defaults.
	ChatModel  string `mapstructure:"chat_model"`
	ImageModel string `mapstructure:"image_model"`
	VideoModel string `mapstructure:"video_model"`

	// Addr is the HTTP listen address.
	Addr string `mapstructure:"addr"`

	// StorageBackend selects the persister: "file" or "sqlite".
	StorageBackend string `mapstructure:"storage_backend"`

	// StoragePath overrides the default location under ~/.neyroplan.
	StoragePath string `mapstructure:"storage_path"`

	// VideoPollSeconds is the cadence for polling pending video
	// operations.
	VideoPollSeconds int `mapstructure:"video_poll_seconds"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogJSON switches log output to JSON.
	LogJSON bool `mapstructure:"log_json"`
}

// Load reads configuration from defaults, the optional config file and
// the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("storage_backend", DefaultStorageBackend)
	v.SetDefault("video_poll_seconds", DefaultVideoPollSeconds)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix("NEYROPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// The original deployment reads the key from GEMINI_API_KEY; honor
	// it when the prefixed variable is unset.
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return &cfg, nil
}

// Validate checks the configuration for a serve run.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: set NEYROPLAN_API_KEY or GEMINI_API_KEY", ErrMissingAPIKey)
	}
	switch c.StorageBackend {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)",
			ErrInvalidStorageBackend, c.StorageBackend, StorageFile, StorageSQLite)
	}
	if c.VideoPollSeconds <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPollInterval, c.VideoPollSeconds)
	}
	return nil
}

// VideoPollInterval returns the poll cadence as a duration.
func (c *Config) VideoPollInterval() time.Duration {
	return time.Duration(c.VideoPollSeconds) * time.Second
}

// ResolvedStoragePath returns the configured storage path, or the
// backend's default location under ~/.neyroplan.
func (c *Config) ResolvedStoragePath() (string, error) {
	if c.StoragePath != "" {
		return c.StoragePath, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	name := defaultSessionsFileName
	if c.StorageBackend == StorageSQLite {
		name = defaultSessionsDBName
	}
	return filepath.Join(dir, name), nil
}

// configDir returns ~/.neyroplan.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigDirName), nil
}
