package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio123")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "stories.db", cfg.Sync.DBPath)
	assert.Equal(t, "stories.db", cfg.Sync.RemoteKey)
	assert.Equal(t, 3, cfg.Sync.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Sync.Backoff)
	assert.False(t, cfg.Sync.CheckRevision)
	assert.Equal(t, 4000, cfg.OpenAI.MaxTokens)
	assert.InDelta(t, 0.7, cfg.OpenAI.Temperature, 0.0001)
	assert.Equal(t, "256x256", cfg.OpenAI.ImageSize)
	assert.Equal(t, "images", cfg.Images.Dir)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	setRequiredEnv(t)
	t.Setenv("SYNC_ATTEMPTS", "5")
	t.Setenv("SYNC_BACKOFF", "250ms")
	t.Setenv("SYNC_CHECK_REVISION", "true")
	t.Setenv("SMTP_HOST", "smtp.gmail.com")
	t.Setenv("SMTP_FROM", "contes@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sync.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Backoff)
	assert.True(t, cfg.Sync.CheckRevision)
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, "smtp.gmail.com:587", cfg.SMTP.Address())
}

func TestLoad_MissingSecrets(t *testing.T) {
	chdir(t, t.TempDir())
	setRequiredEnv(t)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api key")
}
