package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ESPALIER_PORT", "9090")
	t.Setenv("ESPALIER_WORKERS", "16")
	t.Setenv("ESPALIER_LOCK_TIMEOUT", "2s")
	t.Setenv("ESPALIER_WATCH_TEMPLATES", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.True(t, cfg.WatchTemplates)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("ESPALIER_PORT", "not-a-port")
	_, err := Load()
	assert.ErrorContains(t, err, "ESPALIER_PORT")
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	t.Setenv("ESPALIER_PORT", "70000")
	_, err := Load()
	assert.ErrorContains(t, err, "out of range")

	t.Setenv("ESPALIER_PORT", "8080")
	t.Setenv("ESPALIER_WORKERS", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "ESPALIER_WORKERS")
}
