package core

import (
	"github.com/google/uuid"
)

// CommandID uniquely identifies a command instance.
type CommandID string

// BatchID uniquely identifies a batch operation.
type BatchID string

// NewCommandID returns a fresh random command ID.
func NewCommandID() CommandID {
	return CommandID(uuid.NewString())
}

// NewBatchID returns a fresh random batch ID.
func NewBatchID() BatchID {
	return BatchID(uuid.NewString())
}

// Status is the lifecycle state of a command.
type Status string

const (
	// StatusPending is the state of a command that has not run yet
	StatusPending Status = "PENDING"
	// StatusExecuted indicates the last Execute succeeded
	StatusExecuted Status = "EXECUTED"
	// StatusFailed indicates the last Execute failed
	StatusFailed Status = "FAILED"
	// StatusUndone indicates the command was executed and then undone
	StatusUndone Status = "UNDONE"
)
