package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"HTTP_ADDR", "SECRET_KEY", "ALGORITHM", "ACCESS_TOKEN_EXPIRE_MINUTES", "REFRESH_TOKEN_EXPIRE_DAYS",
		"PASSWORD_RESET_EXPIRE_MINUTES", "SWEEP_SCHEDULE", "KAFKA_BROKERS", "CORS_ORIGINS", "DATABASE_URL",
	} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, DefaultSecretKey, string(cfg.SecretKey))
	assert.True(t, cfg.UsesDefaultSecret())
	assert.Equal(t, "HS256", cfg.Algorithm)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.ResetTTL)
	assert.Equal(t, "@every 24h", cfg.SweepSchedule)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)

	assert.Error(t, cfg.Validate(), "database url is required")
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/stats")
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("ALGORITHM", "hs512")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")
	t.Setenv("REFRESH_TOKEN_EXPIRE_DAYS", "-3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesDefaultSecret())
	assert.Equal(t, "HS512", cfg.Algorithm)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestValidate_RejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	cfg := Config{DatabaseURL: "postgres://x", Algorithm: "RS256", LoginRateLimit: 10, LoginRateWindow: time.Minute}
	assert.Error(t, cfg.Validate())
}

func TestFromEnv_NonPositiveRateWindow(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/stats")
	for _, v := range []string{"0s", "-5m", "soon"} {
		t.Setenv("LOGIN_RATE_WINDOW", v)
		cfg := FromEnv()
		assert.Equal(t, time.Minute, cfg.LoginRateWindow, v)
		require.NoError(t, cfg.Validate(), v)
	}

	cfg := Config{DatabaseURL: "postgres://x", Algorithm: "HS256", LoginRateLimit: 10}
	assert.Error(t, cfg.Validate(), "a zero window would expire the redis counter immediately")
}
