package recovery_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
	"github.com/arthur-debert/fstx/pkg/fstx/recovery"
)

func TestClassify(t *testing.T) {
	fsErr := func(kind filesystem.ErrorKind) error {
		return filesystem.NewError(kind, "op", "/p", nil)
	}

	tests := []struct {
		name     string
		err      error
		severity recovery.Severity
		strategy recovery.Strategy
	}{
		{"transient", core.NewError(core.KindTransient, "", nil), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"network", core.NewError(core.KindNetwork, "", nil), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"timeout", core.NewError(core.KindTimeout, "", nil), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"deadline", context.DeadlineExceeded, recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"engine permission", core.NewError(core.KindPermissionDenied, "", nil), recovery.SeverityHigh, recovery.ManualIntervention},
		{"space", core.NewError(core.KindInsufficientSpace, "", nil), recovery.SeverityCritical, recovery.ManualIntervention},
		{"cancelled", core.NewCancelledError("stop"), recovery.SeverityLow, recovery.Abort},
		{"context cancelled", context.Canceled, recovery.SeverityLow, recovery.Abort},
		{"validation", core.NewValidationError("c", "bad", nil), recovery.SeverityLow, recovery.Skip},
		{"batch validation", core.NewBatchValidationError("b", nil), recovery.SeverityMedium, recovery.RetryWithModification},
		{"already executed", core.NewAlreadyExecutedError("c"), recovery.SeverityLow, recovery.Skip},
		{"undo without cause", core.NewUndoError("c", "x", nil), recovery.SeverityHigh, recovery.ManualIntervention},
		{"rollback", &core.RollbackError{OriginalErr: errors.New("x")}, recovery.SeverityCritical, recovery.ManualIntervention},
		{"recovery failed", core.NewRecoveryFailedError(3, "x", nil), recovery.SeverityHigh, recovery.Abort},
		{"batch failed", core.NewBatchError("b", "x", nil), recovery.SeverityHigh, recovery.Abort},
		{"no undo", core.NewError(core.KindNoUndoAvailable, "", nil), recovery.SeverityLow, recovery.Skip},
		{"serialization", core.NewSerializationError("x", nil), recovery.SeverityMedium, recovery.Skip},
		{"fs not found", fsErr(filesystem.KindPathNotFound), recovery.SeverityMedium, recovery.Skip},
		{"fs permission", fsErr(filesystem.KindPermissionDenied), recovery.SeverityHigh, recovery.ManualIntervention},
		{"fs exists", fsErr(filesystem.KindFileAlreadyExists), recovery.SeverityLow, recovery.RetryWithModification},
		{"fs io", fsErr(filesystem.KindIo), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"fs disk full", fsErr(filesystem.KindDiskFull), recovery.SeverityCritical, recovery.ManualIntervention},
		{"fs symlink loop", fsErr(filesystem.KindSymlinkLoop), recovery.SeverityHigh, recovery.Skip},
		{"fs too large", fsErr(filesystem.KindFileTooLarge), recovery.SeverityHigh, recovery.Skip},
		{"fs generic", fsErr(filesystem.KindFileSystem), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"execution wrapping fs", core.NewExecutionError("c", "x", fsErr(filesystem.KindDiskFull)), recovery.SeverityCritical, recovery.ManualIntervention},
		{"undo wrapping fs", core.NewUndoError("c", "x", fsErr(filesystem.KindIo)), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"validation wrapping cancel", core.NewValidationError("c", "x", fsErr(filesystem.KindCancelled)), recovery.SeverityLow, recovery.Abort},
		{"wrapped with fmt", fmt.Errorf("outer: %w", fsErr(filesystem.KindIo)), recovery.SeverityMedium, recovery.RetryWithBackoff},
		{"unrecognized", errors.New("boom"), recovery.SeverityMedium, recovery.RetryWithBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, strategy := recovery.Classify(tt.err)
			assert.Equal(t, tt.severity, sev, "severity")
			assert.Equal(t, tt.strategy, strategy, "strategy")

			// classification is deterministic
			sev2, strategy2 := recovery.Classify(tt.err)
			assert.Equal(t, sev, sev2)
			assert.Equal(t, strategy, strategy2)
		})
	}
}

func TestSuggest(t *testing.T) {
	s := recovery.Suggest(filesystem.NewError(filesystem.KindIo, "copy", "/a", nil))
	assert.True(t, s.CanRetry)
	assert.Equal(t, recovery.DefaultRetryConfig().InitialDelay, s.RetryDelay)
	assert.NotEmpty(t, s.Description)
	assert.NotEmpty(t, s.Suggestion)

	s = recovery.Suggest(filesystem.NewError(filesystem.KindDiskFull, "copy", "/a", nil))
	assert.False(t, s.CanRetry)
	assert.Zero(t, s.RetryDelay)

	s = recovery.Suggest(filesystem.NewError(filesystem.KindFileAlreadyExists, "copy", "/a", nil))
	assert.False(t, s.CanRetry)
}

func TestDelayForAttempt(t *testing.T) {
	cfg := recovery.RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.DelayForAttempt(0, nil))
	assert.Equal(t, 200*time.Millisecond, cfg.DelayForAttempt(1, nil))
	assert.Equal(t, 400*time.Millisecond, cfg.DelayForAttempt(2, nil))
	assert.Equal(t, time.Second, cfg.DelayForAttempt(4, nil))
	assert.Equal(t, time.Second, cfg.DelayForAttempt(10000, nil))

	cfg.Jitter = true
	assert.Equal(t, 75*time.Millisecond, cfg.DelayForAttempt(0, func() float64 { return 0 }))
	assert.Equal(t, 100*time.Millisecond, cfg.DelayForAttempt(0, func() float64 { return 0.5 }))

	t.Run("never exceeds max delay", func(t *testing.T) {
		extremes := []func() float64{
			func() float64 { return 0 },
			func() float64 { return 0.5 },
			func() float64 { return 0.999999 },
		}
		for n := 0; n < 200; n++ {
			for _, rnd := range extremes {
				d := cfg.DelayForAttempt(n, rnd)
				assert.LessOrEqual(t, d, cfg.MaxDelay, "attempt %d", n)
				assert.GreaterOrEqual(t, d, time.Duration(0), "attempt %d", n)
			}
		}
	})
}

func fastConfig(attempts int) recovery.RetryConfig {
	return recovery.RetryConfig{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestExecuteWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		m := recovery.NewManager(recovery.WithRetryConfig(fastConfig(3)))
		calls := 0
		err := m.ExecuteWithRetry(ctx, "flaky", func(context.Context) error {
			calls++
			if calls < 3 {
				return core.NewError(core.KindTransient, "try again", nil)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, m.Statistics(time.Time{}).Total)
	})

	t.Run("exhaustion yields RecoveryFailed", func(t *testing.T) {
		m := recovery.NewManager(recovery.WithRetryConfig(fastConfig(2)))
		cause := filesystem.NewError(filesystem.KindIo, "write", "/x", nil)
		calls := 0
		err := m.ExecuteWithRetry(ctx, "always", func(context.Context) error {
			calls++
			return cause
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.True(t, errors.Is(err, core.ErrRecoveryFailed))
		assert.True(t, errors.Is(err, filesystem.ErrIo))

		var engErr *core.Error
		require.True(t, errors.As(err, &engErr))
		assert.Equal(t, 2, engErr.Attempts)
	})

	t.Run("non-recoverable stops at once", func(t *testing.T) {
		m := recovery.NewManager(recovery.WithRetryConfig(fastConfig(5)))
		calls := 0
		err := m.ExecuteWithRetry(ctx, "full", func(context.Context) error {
			calls++
			return filesystem.NewError(filesystem.KindDiskFull, "write", "/x", nil)
		})
		assert.True(t, errors.Is(err, filesystem.ErrDiskFull))
		assert.Equal(t, 1, calls)

		stats := m.Statistics(time.Time{})
		assert.Equal(t, 1, stats.NonRecoverable)
		assert.Equal(t, 1, stats.BySeverity[recovery.SeverityCritical])
	})

	t.Run("context cancellation interrupts backoff", func(t *testing.T) {
		cfg := fastConfig(3)
		cfg.InitialDelay = time.Hour
		cfg.MaxDelay = time.Hour
		m := recovery.NewManager(recovery.WithRetryConfig(cfg))

		cctx, cancel := context.WithCancel(ctx)
		err := m.ExecuteWithRetry(cctx, "slow", func(context.Context) error {
			cancel()
			return core.NewError(core.KindTransient, "", nil)
		})
		assert.True(t, errors.Is(err, core.ErrCancelled))
	})
}

func TestRecordRingBuffer(t *testing.T) {
	m := recovery.NewManager()
	for i := 0; i < 150; i++ {
		m.Record(errors.New("boom"), fmt.Sprintf("op-%d", i), 0)
	}
	assert.Equal(t, 100, m.Statistics(time.Time{}).Total)

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "op-148", recent[0].Operation)
	assert.Equal(t, "op-149", recent[1].Operation)
	assert.Equal(t, "unknown", recent[1].Kind)

	assert.Len(t, m.Recent(1000), 100)
	assert.Nil(t, m.Recent(0))
	assert.Equal(t, 0, m.Statistics(time.Now().Add(time.Hour)).Total)
}
