package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "")
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "")
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "warn")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(false, "chatty")
	require.Error(t, err)
}
