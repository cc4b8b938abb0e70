package recovery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
	"github.com/arthur-debert/fstx/pkg/fstx/telemetry"
)

// historyCapacity is the number of error records kept by a Manager.
const historyCapacity = 100

// ErrorRecord is one classified failure.
type ErrorRecord struct {
	Operation string    `json:"operation"`
	Attempt   int       `json:"attempt"`
	Kind      string    `json:"kind"`
	Severity  Severity  `json:"severity"`
	Strategy  Strategy  `json:"strategy"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Statistics summarizes recorded errors.
type Statistics struct {
	Total          int
	BySeverity     map[Severity]int
	Recoverable    int
	NonRecoverable int
}

// Manager retries operations according to the classification of their
// errors and keeps a bounded log of what went wrong. It is safe for
// concurrent use.
type Manager struct {
	config  RetryConfig
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	rnd     func() float64

	mu      sync.Mutex
	records []ErrorRecord
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(m *Manager) { m.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRand sets the jitter source. It must return values in [0,1).
func WithRand(rnd func() float64) Option {
	return func(m *Manager) { m.rnd = rnd }
}

// NewManager creates a recovery manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		config:  DefaultRetryConfig(),
		logger:  zerolog.Nop(),
		rnd:     rand.Float64,
		records: make([]ErrorRecord, 0, historyCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.config.MaxAttempts < 1 {
		m.config.MaxAttempts = 1
	}
	return m
}

// Config returns the retry configuration in use.
func (m *Manager) Config() RetryConfig {
	return m.config
}

// Delay returns the jittered backoff before retry number attempt.
func (m *Manager) Delay(attempt int) time.Duration {
	return m.config.DelayForAttempt(attempt, m.rnd)
}

// Suggest builds a Suggestion using the manager's retry configuration.
func (m *Manager) Suggest(err error) Suggestion {
	return SuggestWith(err, m.config)
}

// Record classifies err, stores it and returns the stored record.
func (m *Manager) Record(err error, operation string, attempt int) ErrorRecord {
	sev, strategy := Classify(err)
	rec := ErrorRecord{
		Operation: operation,
		Attempt:   attempt,
		Kind:      kindName(err),
		Severity:  sev,
		Strategy:  strategy,
		Timestamp: time.Now(),
	}
	if err != nil {
		rec.Message = err.Error()
	}

	m.mu.Lock()
	if len(m.records) == historyCapacity {
		copy(m.records, m.records[1:])
		m.records = m.records[:historyCapacity-1]
	}
	m.records = append(m.records, rec)
	m.mu.Unlock()

	m.metrics.RecordError(sev.String(), strategy.String())
	m.logger.Debug().
		Str("operation", operation).
		Int("attempt", attempt).
		Str("kind", rec.Kind).
		Str("severity", sev.String()).
		Str("strategy", strategy.String()).
		Err(err).
		Msg("error recorded")
	return rec
}

// ExecuteWithRetry runs fn up to MaxAttempts times. Errors classified as
// Abort or ManualIntervention are returned at once. When every attempt fails
// the result is a RecoveryFailed error wrapping the last failure.
func (m *Manager) ExecuteWithRetry(ctx context.Context, name string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < m.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			m.metrics.RecordRetry()
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				m.logger.Info().Str("operation", name).Int("attempts", attempt+1).Msg("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		rec := m.Record(err, name, attempt)
		if !rec.Strategy.Recoverable() {
			return err
		}
		if attempt == m.config.MaxAttempts-1 {
			break
		}

		var delay time.Duration
		if rec.Strategy != RetryImmediate {
			delay = m.Delay(attempt)
		}
		m.logger.Warn().
			Str("operation", name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("operation failed, retrying")
		if err := Sleep(ctx, delay); err != nil {
			return core.NewCancelledError("retry of " + name + " interrupted")
		}
	}
	return core.NewRecoveryFailedError(m.config.MaxAttempts, name+" did not succeed", lastErr)
}

// Statistics summarizes the records taken at or after since. A zero since
// includes every record.
func (m *Manager) Statistics(since time.Time) Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{BySeverity: make(map[Severity]int)}
	for _, rec := range m.records {
		if rec.Timestamp.Before(since) {
			continue
		}
		stats.Total++
		stats.BySeverity[rec.Severity]++
		if rec.Strategy.Recoverable() {
			stats.Recoverable++
		} else {
			stats.NonRecoverable++
		}
	}
	return stats
}

// Recent returns up to n of the latest records, oldest first.
func (m *Manager) Recent(n int) []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(m.records) {
		n = len(m.records)
	}
	out := make([]ErrorRecord, n)
	copy(out, m.records[len(m.records)-n:])
	return out
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func kindName(err error) string {
	var rbErr *core.RollbackError
	if errors.As(err, &rbErr) {
		return core.KindRollbackFailed.String()
	}
	var fsErr *filesystem.Error
	if errors.As(err, &fsErr) {
		return fsErr.Kind.String()
	}
	var engErr *core.Error
	if errors.As(err, &engErr) {
		return engErr.Kind.String()
	}
	return "unknown"
}
