package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/fstx/pkg/fstx/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.History.MaxHistorySize)
}

func TestLoad(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "")

	t.Run("empty path gives defaults", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fstx.yaml")
		content := `
log:
  level: debug
retry:
  max_attempts: 5
  initial_delay: 250ms
  max_delay: 10s
  backoff_multiplier: 1.5
history:
  max_history_size: 20
  persist: true
batch:
  allow_partial_failure: true
  processors: 4
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
		assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
		assert.Equal(t, 1.5, cfg.Retry.BackoffMultiplier)
		assert.True(t, cfg.Retry.Jitter, "unset fields keep defaults")
		assert.Equal(t, 20, cfg.History.MaxHistorySize)
		assert.True(t, cfg.History.Persist)
		assert.True(t, cfg.Batch.AllowPartialFailure)
		assert.Equal(t, 4, cfg.Batch.Processors)
		assert.Equal(t, 16, cfg.Batch.QueueSize)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fstx.yaml")
		require.NoError(t, os.WriteFile(path, []byte("bogus: 1\n"), 0644))
		_, err := config.Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestEnvOverride(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "INFO")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "log:\n  level: loud\n"},
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"max below initial delay", "retry:\n  initial_delay: 5s\n  max_delay: 1s\n"},
		{"shrinking multiplier", "retry:\n  backoff_multiplier: 0.5\n"},
		{"zero history size", "history:\n  max_history_size: 0\n"},
		{"too many processors", "batch:\n  processors: 100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}
