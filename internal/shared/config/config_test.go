package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "cosplay_", cfg.Store.KeyPrefix)
	assert.Equal(t, 3, cfg.Quota.FreeLimit)
	assert.Equal(t, 100, cfg.Quota.PremiumLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Quota.SubscriptionPeriod)
	assert.Equal(t, 20, cfg.History.MaxItems)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxBytes)
	assert.Equal(t, "none", cfg.Archive.Driver)
	assert.Empty(t, cfg.Gemini.APIKey)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COSPLAY_QUOTA_FREE_LIMIT", "5")
	t.Setenv("COSPLAY_STORE_DRIVER", "sqlite")
	t.Setenv("COSPLAY_AUTH_JWT_SECRET", "from-env")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Quota.FreeLimit)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "gemini-key", cfg.Gemini.APIKey)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("API_KEY", "")

	yaml := []byte("gemini:\n  api_key: file-key\nhistory:\n  max_items: 7\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.Gemini.APIKey)
	assert.Equal(t, 7, cfg.History.MaxItems)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "cosplay", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=cosplay sslmode=disable", cfg.DSN())
}
