// Package commands implements reversible filesystem commands.
//
// A command is validated, executed (capturing whatever it needs to undo
// itself at that moment) and may then be undone and re-executed any number
// of times. All physical I/O goes through a filesystem.Service.
package commands

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

// commandOverhead approximates the fixed memory cost of a command object.
const commandOverhead = 256

// Command is a reversible unit of filesystem mutation.
type Command interface {
	// Validate checks preconditions without mutating anything.
	Validate(ctx context.Context) error
	// Execute performs the mutation and captures undo state.
	Execute(ctx context.Context) error
	// Undo reverts a successful Execute.
	Undo(ctx context.Context) error

	Description() string
	Metadata() Metadata
	CanUndo() bool
	Type() string
	// ApproxSize estimates the bytes held by the command, backups included.
	ApproxSize() int64
}

// Metadata tracks the lifecycle of a command.
type Metadata struct {
	ID           core.CommandID `json:"id"`
	Status       core.Status    `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	UndoneAt     *time.Time     `json:"undone_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// base holds the state shared by all commands.
type base struct {
	meta Metadata
	fsys filesystem.Service
}

func newBase(fsys filesystem.Service) base {
	return base{
		meta: Metadata{
			ID:        core.NewCommandID(),
			Status:    core.StatusPending,
			CreatedAt: time.Now(),
		},
		fsys: fsys,
	}
}

// Metadata returns a copy of the command metadata.
func (b *base) Metadata() Metadata {
	return b.meta
}

// CanUndo reports whether the command is currently executed.
func (b *base) CanUndo() bool {
	return b.meta.Status == core.StatusExecuted
}

func (b *base) id() core.CommandID {
	return b.meta.ID
}

func (b *base) beginExecute() error {
	if b.meta.Status == core.StatusExecuted {
		return core.NewAlreadyExecutedError(b.meta.ID)
	}
	return nil
}

func (b *base) beginUndo() error {
	if b.meta.Status != core.StatusExecuted {
		return core.NewNotExecutedError(b.meta.ID)
	}
	return nil
}

func (b *base) markExecuted() {
	now := time.Now()
	b.meta.Status = core.StatusExecuted
	b.meta.ExecutedAt = &now
	b.meta.ErrorMessage = ""
}

// markFailed records a failed Execute and returns err unchanged.
func (b *base) markFailed(err error) error {
	b.meta.Status = core.StatusFailed
	b.meta.ErrorMessage = err.Error()
	return err
}

func (b *base) markUndone() {
	now := time.Now()
	b.meta.Status = core.StatusUndone
	b.meta.UndoneAt = &now
	b.meta.ErrorMessage = ""
}

// recordUndoFailure keeps the command executed so it can be undone again.
func (b *base) recordUndoFailure(err error) error {
	b.meta.ErrorMessage = err.Error()
	return err
}

// backup is a snapshot of a path taken right before it is overwritten.
type backup struct {
	existed bool
	content []byte
}

func (b backup) size() int64 {
	return int64(len(b.content))
}

// captureBackup snapshots path. A missing path yields an empty backup.
func captureBackup(ctx context.Context, fsys filesystem.Service, path string) (backup, error) {
	info, err := fsys.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, filesystem.ErrPathNotFound) {
			return backup{}, nil
		}
		return backup{}, err
	}
	if info.IsDir() {
		return backup{}, filesystem.NewError(filesystem.KindNotSupported, "backup", path, errors.New("cannot back up a directory"))
	}
	content, err := fsys.ReadFile(ctx, path)
	if err != nil {
		return backup{}, err
	}
	return backup{existed: true, content: content}, nil
}

// requireFile fails validation unless path exists and is a regular file.
func requireFile(ctx context.Context, fsys filesystem.Service, id core.CommandID, path, role string) error {
	info, err := fsys.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, filesystem.ErrPathNotFound) {
			return core.NewValidationError(id, role+" does not exist: "+path, err)
		}
		return core.NewValidationError(id, "cannot inspect "+role+": "+path, err)
	}
	if info.IsDir() {
		return core.NewValidationError(id, role+" is a directory: "+path, nil)
	}
	return nil
}

// checkTarget fails validation when target exists and may not be replaced.
func checkTarget(ctx context.Context, fsys filesystem.Service, id core.CommandID, target string, overwrite bool) error {
	info, err := fsys.Stat(ctx, target)
	if err != nil {
		if errors.Is(err, filesystem.ErrPathNotFound) {
			return nil
		}
		return core.NewValidationError(id, "cannot inspect destination: "+target, err)
	}
	if info.IsDir() {
		return core.NewValidationError(id, "destination is a directory: "+target, nil)
	}
	if !overwrite {
		return core.NewValidationError(id, "destination already exists: "+target, filesystem.ErrFileAlreadyExists)
	}
	return nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
