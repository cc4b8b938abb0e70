// Package batch runs ordered groups of commands as a unit: all commands are
// validated before any executes, and a failure rolls back what already ran.
package batch

import (
	"sync/atomic"
	"time"

	"github.com/arthur-debert/fstx/pkg/fstx/commands"
	"github.com/arthur-debert/fstx/pkg/fstx/core"
)

// minAttempts is the lowest number of execution attempts a command gets.
const minAttempts = 3

// Status is the lifecycle state of a batch.
type Status int

const (
	StatusPending Status = iota
	StatusValidating
	StatusExecuting
	StatusCompleted
	StatusRollingBack
	StatusFailed
	StatusCancelled
)

// String returns the string representation of the Status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusValidating:
		return "validating"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusRollingBack:
		return "rolling_back"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CancellationToken is a cooperative cancellation flag. It is observed
// between commands and around backoff sleeps, never mid-command.
type CancellationToken struct {
	cancelled atomic.Bool
}

// Cancel requests cancellation. It is idempotent.
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether cancellation was requested.
func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}

// Progress is a snapshot of a batch's execution.
type Progress struct {
	BatchID   core.BatchID `json:"batch_id"`
	Status    Status       `json:"status"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Current   string       `json:"current,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Percent returns the share of commands that have finished, in [0,100].
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed+p.Failed) / float64(p.Total) * 100
}

// Operation is an ordered group of commands executed together.
type Operation struct {
	ID          core.BatchID
	Description string
	CreatedAt   time.Time

	// AllowPartialFailure tolerates commands whose failure is classified
	// as Skip instead of rolling the batch back.
	AllowPartialFailure bool
	// MaxRetries is the number of attempts per command; values below 3 are
	// raised to 3.
	MaxRetries int

	commands  []commands.Command
	executed  []int
	token     *CancellationToken
	submitted atomic.Bool
}

// NewOperation creates a batch of cmds in execution order.
func NewOperation(description string, cmds ...commands.Command) *Operation {
	return &Operation{
		ID:          core.NewBatchID(),
		Description: description,
		CreatedAt:   time.Now(),
		MaxRetries:  minAttempts,
		commands:    append([]commands.Command(nil), cmds...),
		token:       &CancellationToken{},
	}
}

// Add appends a command to the batch.
func (o *Operation) Add(cmd commands.Command) *Operation {
	o.commands = append(o.commands, cmd)
	return o
}

// WithPartialFailure sets AllowPartialFailure.
func (o *Operation) WithPartialFailure(allow bool) *Operation {
	o.AllowPartialFailure = allow
	return o
}

// WithMaxRetries sets MaxRetries.
func (o *Operation) WithMaxRetries(n int) *Operation {
	o.MaxRetries = n
	return o
}

// Commands returns the commands in execution order.
func (o *Operation) Commands() []commands.Command {
	return append([]commands.Command(nil), o.commands...)
}

// Len returns the number of commands.
func (o *Operation) Len() int {
	return len(o.commands)
}

// Token returns the batch's cancellation token.
func (o *Operation) Token() *CancellationToken {
	return o.token
}

// attempts returns the effective number of attempts per command.
func (o *Operation) attempts() int {
	if o.MaxRetries < minAttempts {
		return minAttempts
	}
	return o.MaxRetries
}
