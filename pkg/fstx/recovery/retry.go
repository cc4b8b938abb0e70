package recovery

import (
	"math"
	"time"
)

// jitterFraction is the maximum relative jitter applied to a delay (±25%).
const jitterFraction = 0.25

// RetryConfig controls retry attempts and exponential backoff.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts" validate:"gte=1"`
	InitialDelay      time.Duration `yaml:"initial_delay" json:"initial_delay" validate:"gte=0"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay" validate:"gtefield=InitialDelay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier" validate:"gte=1"`
	Jitter            bool          `yaml:"jitter" json:"jitter"`
}

// DefaultRetryConfig returns 3 attempts starting at 100ms, doubling up to 30s,
// with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// DelayForAttempt returns the backoff before retry number attempt (0-based):
// InitialDelay * BackoffMultiplier^attempt capped at MaxDelay. With Jitter the
// delay is perturbed by up to ±25% using rnd, which must return values in
// [0,1). A nil rnd disables jitter. The result is always in [0, MaxDelay].
func (c RetryConfig) DelayForAttempt(attempt int, rnd func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	maxDelay := float64(c.MaxDelay)
	if maxDelay < 0 {
		maxDelay = 0
	}

	delay := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	if c.Jitter && rnd != nil {
		delay += delay * jitterFraction * (2*rnd() - 1)
	}

	switch {
	case delay > maxDelay:
		delay = maxDelay
	case delay < 0:
		delay = 0
	}
	return time.Duration(delay)
}
