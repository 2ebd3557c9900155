package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("TOPOPROC_DB", "")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Empty(t, s.DB)
	assert.Equal(t, 256, s.QueueCapacity)
	assert.Equal(t, 100, s.MaxBatch)
}

func TestLoadSettings_FromEnv(t *testing.T) {
	t.Setenv("TOPOPROC_DB", "/var/lib/topoproc/store.db")
	t.Setenv("TOPOPROC_QUEUE_CAPACITY", "8")
	t.Setenv("TOPOPROC_MAX_BATCH", "0")
	t.Setenv("TOPOPROC_LOG_LEVEL", "debug")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/topoproc/store.db", s.DB)
	assert.Equal(t, 8, s.QueueCapacity)
	assert.Equal(t, 100, s.MaxBatch, "non-positive batch size falls back to the default")

	logger, err := s.Logger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLoadSettings_BadNumber(t *testing.T) {
	t.Setenv("TOPOPROC_QUEUE_CAPACITY", "lots")

	_, err := LoadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestSettings_BadLogLevel(t *testing.T) {
	_, err := Settings{LogLevel: "chatty"}.Logger()
	assert.Error(t, err)
}
