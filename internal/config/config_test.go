package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(16*1024*1024), cfg.Server.MaxContentLength)
	assert.Equal(t, int64(50*1024*1024), cfg.Storage.MaxFileSize)
	assert.Equal(t, 300*time.Second, cfg.Storage.CacheTTL)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, int64(42), cfg.ML.DefaultRandomState)
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("WORKERS", "2")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FLASK_ENV", "development")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WORKERS", "0")
	_, err := load(viper.New())
	assert.Error(t, err)
}

func TestLoad_AuthRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	_, err := load(viper.New())
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidate_RateLimit(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	for _, rate := range []string{"", "fast", "10-Q"} {
		cfg.Server.RateLimit = rate
		assert.ErrorContains(t, cfg.Validate(), "RATE_LIMIT", rate)
	}
	cfg.Server.RateLimit = "1000-H"
	assert.NoError(t, cfg.Validate())

	t.Setenv("RATE_LIMIT", "never")
	_, err = load(viper.New())
	assert.ErrorContains(t, err, "RATE_LIMIT")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PORT: 9090\nRATE_LIMIT: 50-S\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "50-S", cfg.Server.RateLimit)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err = load(viper.New())
	assert.ErrorContains(t, err, "absent.yaml")
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg, err := load(viper.New())
	require.NoError(t, err)
	cfg.Storage.LogDir = filepath.Join(root, "logs")
	cfg.Storage.UploadDir = filepath.Join(root, "uploads")
	cfg.Storage.ReportDir = filepath.Join(root, "reports")

	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, cfg.Storage.UploadDir)
	assert.DirExists(t, cfg.Storage.ReportDir)
}
