// Package recovery classifies engine errors and decides how to react to
// them: retry at once, retry with exponential backoff, skip, abort or ask a
// human.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

// Severity ranks how serious an error is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the Severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Strategy is the reaction chosen for a classified error.
type Strategy int

const (
	RetryImmediate Strategy = iota
	RetryWithBackoff
	RetryWithModification
	Skip
	Abort
	ManualIntervention
)

// String returns the string representation of the Strategy
func (s Strategy) String() string {
	switch s {
	case RetryImmediate:
		return "retry_immediate"
	case RetryWithBackoff:
		return "retry_with_backoff"
	case RetryWithModification:
		return "retry_with_modification"
	case Skip:
		return "skip"
	case Abort:
		return "abort"
	case ManualIntervention:
		return "manual_intervention"
	default:
		return "unknown"
	}
}

// Retryable reports whether the strategy allows an unchanged retry.
func (s Strategy) Retryable() bool {
	return s == RetryImmediate || s == RetryWithBackoff
}

// Recoverable reports whether the error may be handled without stopping.
// Abort and ManualIntervention are not.
func (s Strategy) Recoverable() bool {
	return s != Abort && s != ManualIntervention
}

// Suggestion is a human-facing description of an error and what to do next.
type Suggestion struct {
	Description string        `json:"description"`
	Suggestion  string        `json:"suggestion"`
	CanRetry    bool          `json:"can_retry"`
	RetryDelay  time.Duration `json:"retry_delay"`
}

type class struct {
	severity Severity
	strategy Strategy
}

var engineClasses = map[core.Kind]class{
	core.KindTransient:             {SeverityMedium, RetryWithBackoff},
	core.KindNetwork:               {SeverityMedium, RetryWithBackoff},
	core.KindResourceUnavailable:   {SeverityMedium, RetryWithBackoff},
	core.KindTimeout:               {SeverityMedium, RetryWithBackoff},
	core.KindPermissionDenied:      {SeverityHigh, ManualIntervention},
	core.KindInsufficientSpace:     {SeverityCritical, ManualIntervention},
	core.KindCancelled:             {SeverityLow, Abort},
	core.KindValidationFailed:      {SeverityLow, Skip},
	core.KindBatchValidationFailed: {SeverityMedium, RetryWithModification},
	core.KindAlreadyExecuted:       {SeverityLow, Skip},
	core.KindNotExecuted:           {SeverityLow, Skip},
	core.KindUndoFailed:            {SeverityHigh, ManualIntervention},
	core.KindRollbackFailed:        {SeverityCritical, ManualIntervention},
	core.KindRecoveryFailed:        {SeverityHigh, Abort},
	core.KindBatchFailed:           {SeverityHigh, Abort},
	core.KindHistory:               {SeverityLow, Skip},
	core.KindNoUndoAvailable:       {SeverityLow, Skip},
	core.KindNoRedoAvailable:       {SeverityLow, Skip},
	core.KindHistoryLimitExceeded:  {SeverityLow, Skip},
	core.KindSerialization:         {SeverityMedium, Skip},
}

var fsClasses = map[filesystem.ErrorKind]class{
	filesystem.KindPathNotFound:      {SeverityMedium, Skip},
	filesystem.KindPermissionDenied:  {SeverityHigh, ManualIntervention},
	filesystem.KindFileAlreadyExists: {SeverityLow, RetryWithModification},
	filesystem.KindInvalidPath:       {SeverityMedium, Skip},
	filesystem.KindIo:                {SeverityMedium, RetryWithBackoff},
	filesystem.KindDiskFull:          {SeverityCritical, ManualIntervention},
	filesystem.KindCancelled:         {SeverityLow, Abort},
	filesystem.KindSymlinkLoop:       {SeverityHigh, Skip},
	filesystem.KindDirectoryNotEmpty: {SeverityMedium, Skip},
	filesystem.KindFileTooLarge:      {SeverityHigh, Skip},
	filesystem.KindNotSupported:      {SeverityMedium, Skip},
	filesystem.KindFileSystem:        {SeverityMedium, RetryWithBackoff},
}

var defaultClass = class{SeverityMedium, RetryWithBackoff}

// Classify maps an error to its severity and recovery strategy. The result
// depends only on the error value.
func Classify(err error) (Severity, Strategy) {
	c := classify(err)
	return c.severity, c.strategy
}

func classify(err error) class {
	if err == nil {
		return class{SeverityLow, Skip}
	}

	var rbErr *core.RollbackError
	if errors.As(err, &rbErr) {
		return engineClasses[core.KindRollbackFailed]
	}
	// a cancellation anywhere in the chain wins over the wrapper kind
	if isCancellation(err) {
		return engineClasses[core.KindCancelled]
	}

	var engErr *core.Error
	if errors.As(err, &engErr) {
		switch engErr.Kind {
		case core.KindExecutionFailed, core.KindUndoFailed, core.KindFileSystem:
			var fsErr *filesystem.Error
			if errors.As(engErr, &fsErr) {
				return fsClasses[fsErr.Kind]
			}
			if engErr.Kind == core.KindUndoFailed {
				return engineClasses[core.KindUndoFailed]
			}
			return defaultClass
		}
		if c, ok := engineClasses[engErr.Kind]; ok {
			return c
		}
		return defaultClass
	}

	var fsErr *filesystem.Error
	if errors.As(err, &fsErr) {
		return fsClasses[fsErr.Kind]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return engineClasses[core.KindTimeout]
	}
	return defaultClass
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, core.ErrCancelled) ||
		errors.Is(err, filesystem.ErrCancelled)
}

// IsCancellation reports whether err stems from a cancellation.
func IsCancellation(err error) bool {
	var rbErr *core.RollbackError
	if errors.As(err, &rbErr) {
		return false
	}
	return err != nil && isCancellation(err)
}

var strategyAdvice = map[Strategy]string{
	RetryImmediate:        "Retry the operation",
	RetryWithBackoff:      "Wait and retry; the condition is likely temporary",
	RetryWithModification: "Change the operation (for example choose another destination or allow overwrite) and retry",
	Skip:                  "Skip this operation and continue",
	Abort:                 "Stop; the operation cannot continue",
	ManualIntervention:    "Fix the underlying problem manually before retrying",
}

// Suggest builds a Suggestion for err using the default retry configuration.
func Suggest(err error) Suggestion {
	return SuggestWith(err, DefaultRetryConfig())
}

// SuggestWith builds a Suggestion for err. Backoff strategies suggest
// cfg.InitialDelay as the first delay.
func SuggestWith(err error, cfg RetryConfig) Suggestion {
	sev, strategy := Classify(err)
	s := Suggestion{
		Suggestion: strategyAdvice[strategy],
		CanRetry:   strategy.Retryable(),
	}
	if err != nil {
		s.Description = sev.String() + " severity: " + err.Error()
	}
	if strategy == RetryWithBackoff {
		s.RetryDelay = cfg.InitialDelay
	}
	return s
}
