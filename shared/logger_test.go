package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerFromEnv(t *testing.T) {
	t.Run("Production", func(t *testing.T) {
		t.Setenv("DEVELOPMENT", "")
		t.Setenv("LOG_QUIET", "")
		logger, err := NewLoggerFromEnv("test")
		require.NoError(t, err)
		require.True(t, logger.Core().Enabled(zap.InfoLevel))
		require.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("Development", func(t *testing.T) {
		t.Setenv("DEVELOPMENT", "true")
		t.Setenv("LOG_QUIET", "")
		logger, err := NewLoggerFromEnv("test")
		require.NoError(t, err)
		require.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("Quiet", func(t *testing.T) {
		t.Setenv("DEVELOPMENT", "true")
		t.Setenv("LOG_QUIET", "true")
		logger, err := NewLoggerFromEnv("test")
		require.NoError(t, err)
		require.False(t, logger.Core().Enabled(zap.InfoLevel))
		require.True(t, logger.Core().Enabled(zap.ErrorLevel))
	})
}
