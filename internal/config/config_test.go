package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: "https://proj.example.co"
  anon_key: "anon-key"
local:
  data_dir: "/tmp/xevivu-data"
log:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://proj.example.co", cfg.Backend.URL)
	assert.Equal(t, "anon-key", cfg.Backend.AnonKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Storage buckets default to the hosted project's layout.
	assert.Equal(t, "cars", cfg.Storage.CarsBucket)
	assert.Equal(t, "slips", cfg.Storage.SlipsBucket)
	assert.Equal(t, os.TempDir(), cfg.Storage.CacheDir)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://other.example.co")
	t.Setenv("STORAGE_CARS_BUCKET", "vehicles")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfig(t, `
backend:
  url: "https://proj.example.co"
  anon_key: "anon-key"
local:
  data_dir: "/tmp/xevivu-data"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.co", cfg.Backend.URL)
	assert.Equal(t, "vehicles", cfg.Storage.CarsBucket)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing backend url",
			"backend:\n  anon_key: \"k\"\nlocal:\n  data_dir: \"/tmp/d\"\n",
		},
		{
			"relative backend url",
			"backend:\n  url: \"proj.example.co\"\n  anon_key: \"k\"\nlocal:\n  data_dir: \"/tmp/d\"\n",
		},
		{
			"missing anon key",
			"backend:\n  url: \"https://proj.example.co\"\nlocal:\n  data_dir: \"/tmp/d\"\n",
		},
		{
			"missing data dir",
			"backend:\n  url: \"https://proj.example.co\"\n  anon_key: \"k\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
