package core

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies engine errors. Recovery policy is chosen per kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindFileSystem
	KindValidationFailed
	KindExecutionFailed
	KindUndoFailed
	KindAlreadyExecuted
	KindNotExecuted
	KindSerialization
	KindBatchFailed
	KindBatchValidationFailed
	KindCancelled
	KindRollbackFailed
	KindHistory
	KindNoUndoAvailable
	KindNoRedoAvailable
	KindHistoryLimitExceeded
	KindTransient
	KindNetwork
	KindResourceUnavailable
	KindPermissionDenied
	KindInsufficientSpace
	KindTimeout
	KindRecoveryFailed
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown error",
	KindFileSystem:            "filesystem error",
	KindValidationFailed:      "validation failed",
	KindExecutionFailed:       "execution failed",
	KindUndoFailed:            "undo failed",
	KindAlreadyExecuted:       "command already executed",
	KindNotExecuted:           "command not executed",
	KindSerialization:         "serialization error",
	KindBatchFailed:           "batch failed",
	KindBatchValidationFailed: "batch validation failed",
	KindCancelled:             "operation cancelled",
	KindRollbackFailed:        "rollback failed",
	KindHistory:               "history error",
	KindNoUndoAvailable:       "no operation to undo",
	KindNoRedoAvailable:       "no operation to redo",
	KindHistoryLimitExceeded:  "history limit exceeded",
	KindTransient:             "transient error",
	KindNetwork:               "network error",
	KindResourceUnavailable:   "resource unavailable",
	KindPermissionDenied:      "permission denied",
	KindInsufficientSpace:     "insufficient space",
	KindTimeout:               "timeout",
	KindRecoveryFailed:        "recovery failed",
}

// String returns the string representation of the Kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is the engine's error type. The wrapped Err keeps the underlying
// cause (often a *filesystem.Error) available to errors.As.
type Error struct {
	Kind      Kind
	Reason    string
	CommandID CommandID
	BatchID   BatchID
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Kind == KindRecoveryFailed && e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	switch {
	case e.CommandID != "":
		fmt.Fprintf(&b, " (command: %s)", e.CommandID)
	case e.BatchID != "":
		fmt.Fprintf(&b, " (batch: %s)", e.BatchID)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, which makes the package sentinels
// usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrFileSystem            = &Error{Kind: KindFileSystem}
	ErrValidationFailed      = &Error{Kind: KindValidationFailed}
	ErrExecutionFailed       = &Error{Kind: KindExecutionFailed}
	ErrUndoFailed            = &Error{Kind: KindUndoFailed}
	ErrAlreadyExecuted       = &Error{Kind: KindAlreadyExecuted}
	ErrNotExecuted           = &Error{Kind: KindNotExecuted}
	ErrSerialization         = &Error{Kind: KindSerialization}
	ErrBatchFailed           = &Error{Kind: KindBatchFailed}
	ErrBatchValidationFailed = &Error{Kind: KindBatchValidationFailed}
	ErrCancelled             = &Error{Kind: KindCancelled}
	ErrRollbackFailed        = &Error{Kind: KindRollbackFailed}
	ErrHistory               = &Error{Kind: KindHistory}
	ErrNoUndoAvailable       = &Error{Kind: KindNoUndoAvailable}
	ErrNoRedoAvailable       = &Error{Kind: KindNoRedoAvailable}
	ErrHistoryLimitExceeded  = &Error{Kind: KindHistoryLimitExceeded}
	ErrTransient             = &Error{Kind: KindTransient}
	ErrNetwork               = &Error{Kind: KindNetwork}
	ErrResourceUnavailable   = &Error{Kind: KindResourceUnavailable}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrInsufficientSpace     = &Error{Kind: KindInsufficientSpace}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrRecoveryFailed        = &Error{Kind: KindRecoveryFailed}
)

// NewError creates an error of the given kind.
func NewError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// NewValidationError reports a failed precondition of a command.
func NewValidationError(id CommandID, reason string, cause error) *Error {
	return &Error{Kind: KindValidationFailed, CommandID: id, Reason: reason, Err: cause}
}

// NewExecutionError reports a failed Execute.
func NewExecutionError(id CommandID, reason string, cause error) *Error {
	return &Error{Kind: KindExecutionFailed, CommandID: id, Reason: reason, Err: cause}
}

// NewUndoError reports a failed Undo.
func NewUndoError(id CommandID, reason string, cause error) *Error {
	return &Error{Kind: KindUndoFailed, CommandID: id, Reason: reason, Err: cause}
}

// NewAlreadyExecutedError is returned by Execute on an executed command.
func NewAlreadyExecutedError(id CommandID) *Error {
	return &Error{Kind: KindAlreadyExecuted, CommandID: id}
}

// NewNotExecutedError is returned by Undo on a command that is not executed.
func NewNotExecutedError(id CommandID) *Error {
	return &Error{Kind: KindNotExecuted, CommandID: id}
}

// NewCancelledError reports an observed cancellation.
func NewCancelledError(reason string) *Error {
	return &Error{Kind: KindCancelled, Reason: reason}
}

// NewRecoveryFailedError reports exhausted retries.
func NewRecoveryFailedError(attempts int, message string, cause error) *Error {
	return &Error{Kind: KindRecoveryFailed, Attempts: attempts, Reason: message, Err: cause}
}

// NewBatchValidationError reports a batch whose admission check failed.
func NewBatchValidationError(id BatchID, cause error) *Error {
	return &Error{Kind: KindBatchValidationFailed, BatchID: id, Err: cause}
}

// NewBatchError reports a batch that failed during execution.
func NewBatchError(id BatchID, reason string, cause error) *Error {
	return &Error{Kind: KindBatchFailed, BatchID: id, Reason: reason, Err: cause}
}

// NewHistoryError reports misuse of the history.
func NewHistoryError(reason string) *Error {
	return &Error{Kind: KindHistory, Reason: reason}
}

// NewSerializationError reports failures encoding or decoding persisted state.
func NewSerializationError(reason string, cause error) *Error {
	return &Error{Kind: KindSerialization, Reason: reason, Err: cause}
}

// RollbackError represents an error that occurs during a rollback,
// wrapping the original execution error. It is terminal: nothing retries it.
type RollbackError struct {
	BatchID      BatchID
	OriginalErr  error
	RollbackErrs map[CommandID]error
}

func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("Operation failed: %v", e.OriginalErr)

	if len(e.RollbackErrs) > 0 {
		ids := make([]string, 0, len(e.RollbackErrs))
		for id := range e.RollbackErrs {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)

		msg += "\n\nRollback also failed:"
		for _, id := range ids {
			msg += fmt.Sprintf("\n  - %s: %v", id, e.RollbackErrs[CommandID(id)])
		}
	}

	return msg
}

func (e *RollbackError) Unwrap() error {
	return e.OriginalErr
}

// Is makes errors.Is(err, ErrRollbackFailed) hold for rollback errors.
func (e *RollbackError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindRollbackFailed
}
