package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir()) // no config file
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("NEYROPLAN_API_KEY", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, DefaultAddr, cfg.Addr)
		assert.Equal(t, StorageFile, cfg.StorageBackend)
		assert.Equal(t, DefaultVideoPollSeconds, cfg.VideoPollSeconds)
		assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
		assert.Empty(t, cfg.APIKey)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Setenv("NEYROPLAN_API_KEY", "key-from-env")
		t.Setenv("NEYROPLAN_ADDR", "0.0.0.0:9000")
		t.Setenv("NEYROPLAN_STORAGE_BACKEND", "sqlite")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "key-from-env", cfg.APIKey)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
		assert.Equal(t, StorageSQLite, cfg.StorageBackend)
	})

	t.Run("GEMINI_API_KEY fallback", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Setenv("NEYROPLAN_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "legacy-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "legacy-key", cfg.APIKey)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		APIKey:           "k",
		StorageBackend:   StorageFile,
		VideoPollSeconds: 8,
	}

	t.Run("valid", func(t *testing.T) {
		cfg := valid
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := valid
		cfg.APIKey = ""
		assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := valid
		cfg.StorageBackend = "redis"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidStorageBackend)
	})

	t.Run("non-positive poll interval", func(t *testing.T) {
		cfg := valid
		cfg.VideoPollSeconds = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidPollInterval)
	})
}

func TestConfig_ResolvedStoragePath(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		cfg := Config{StorageBackend: StorageFile, StoragePath: "/tmp/custom.json"}
		path, err := cfg.ResolvedStoragePath()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/custom.json", path)
	})

	t.Run("file default", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		cfg := Config{StorageBackend: StorageFile}
		path, err := cfg.ResolvedStoragePath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".neyroplan", "sessions.json"), path)
	})

	t.Run("sqlite default", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		cfg := Config{StorageBackend: StorageSQLite}
		path, err := cfg.ResolvedStoragePath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".neyroplan", "sessions.db"), path)
	})
}

func TestConfig_VideoPollInterval(t *testing.T) {
	cfg := Config{VideoPollSeconds: 3}
	assert.Equal(t, 3*time.Second, cfg.VideoPollInterval())
}
