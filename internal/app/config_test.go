package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "/v1/transaction-batch", cfg.Unit4BatchPath)
	assert.Equal(t, 60*time.Second, cfg.Unit4Timeout)
	assert.Equal(t, 5.0, cfg.Unit4RateLimit)
	assert.Equal(t, 1, cfg.Unit4RateBurst)
	assert.Equal(t, "SEK", cfg.Unit4DefaultCurrency)
	assert.Equal(t, 30*time.Minute, cfg.RunLockTTL)
	assert.True(t, cfg.BlobUseSSL)
	assert.False(t, cfg.BlobEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("UNIT4_DEFAULT_CURRENCY", " nok ")
	t.Setenv("UNIT4_TIMEOUT", "5s")
	t.Setenv("BLOB_ENDPOINT", "http://minio:9000")
	t.Setenv("BLOB_BUCKET", "exports")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "NOK", cfg.Unit4DefaultCurrency)
	assert.Equal(t, 5*time.Second, cfg.Unit4Timeout)
	assert.True(t, cfg.BlobEnabled())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("currency", func(t *testing.T) {
		t.Setenv("UNIT4_DEFAULT_CURRENCY", "KRONA")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("production without trigger hash", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("RUN_LOCK_TTL", "soon")
		_, err := LoadConfig()
		require.Error(t, err)
	})
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(TestModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "no")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
