package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

// CopyCommand copies a file. When it overwrites an existing destination the
// previous content is kept so Undo can put it back.
type CopyCommand struct {
	base
	src       string
	dst       string
	overwrite bool
	dstBackup backup
}

// NewCopyCommand creates a new copy command.
func NewCopyCommand(fsys filesystem.Service, src, dst string, overwrite bool) *CopyCommand {
	return &CopyCommand{
		base:      newBase(fsys),
		src:       src,
		dst:       dst,
		overwrite: overwrite,
	}
}

func (c *CopyCommand) Type() string { return "copy" }

// Source returns the source path.
func (c *CopyCommand) Source() string { return c.src }

// Destination returns the destination path.
func (c *CopyCommand) Destination() string { return c.dst }

func (c *CopyCommand) Description() string {
	return fmt.Sprintf("Copy %s to %s", c.src, c.dst)
}

func (c *CopyCommand) ApproxSize() int64 {
	return commandOverhead + int64(len(c.src)+len(c.dst)) + c.dstBackup.size()
}

// Validate checks that the source is a readable file and that the
// destination is free or may be overwritten.
func (c *CopyCommand) Validate(ctx context.Context) error {
	if c.src == "" || c.dst == "" {
		return core.NewValidationError(c.id(), "copy requires both source and destination paths", nil)
	}
	if samePath(c.src, c.dst) {
		return core.NewValidationError(c.id(), "source and destination are the same path", nil)
	}
	if err := requireFile(ctx, c.fsys, c.id(), c.src, "source"); err != nil {
		return err
	}
	if err := c.fsys.CheckReadPermission(ctx, c.src); err != nil {
		return core.NewValidationError(c.id(), "source is not readable: "+c.src, err)
	}
	return checkTarget(ctx, c.fsys, c.id(), c.dst, c.overwrite)
}

// Execute performs the copy.
func (c *CopyCommand) Execute(ctx context.Context) error {
	if err := c.beginExecute(); err != nil {
		return err
	}
	if err := c.Validate(ctx); err != nil {
		return c.markFailed(err)
	}

	c.dstBackup = backup{}
	if c.overwrite {
		b, err := captureBackup(ctx, c.fsys, c.dst)
		if err != nil {
			return c.markFailed(core.NewExecutionError(c.id(), "failed to back up destination", err))
		}
		c.dstBackup = b
	}

	req := filesystem.CopyRequest{Src: c.src, Dst: c.dst, Overwrite: c.overwrite}
	if err := c.fsys.CopyFile(ctx, req); err != nil {
		c.dstBackup = backup{}
		return c.markFailed(core.NewExecutionError(c.id(), "copy failed", err))
	}

	c.markExecuted()
	return nil
}

// Undo removes the copy, or restores the content it replaced.
func (c *CopyCommand) Undo(ctx context.Context) error {
	if err := c.beginUndo(); err != nil {
		return err
	}

	var err error
	if c.dstBackup.existed {
		err = c.fsys.WriteFile(ctx, c.dst, c.dstBackup.content)
	} else {
		err = c.fsys.DeleteFile(ctx, c.dst)
	}
	if err != nil {
		return c.recordUndoFailure(core.NewUndoError(c.id(), "failed to revert copy destination", err))
	}

	c.dstBackup = backup{}
	c.markUndone()
	return nil
}

// MoveCommand moves a file. An overwritten destination is backed up.
type MoveCommand struct {
	base
	src       string
	dst       string
	overwrite bool
	dstBackup backup
	// movedBack is set once Undo has moved the file back, so a retried
	// Undo only restores the overwritten destination.
	movedBack bool
}

// NewMoveCommand creates a new move command.
func NewMoveCommand(fsys filesystem.Service, src, dst string, overwrite bool) *MoveCommand {
	return &MoveCommand{
		base:      newBase(fsys),
		src:       src,
		dst:       dst,
		overwrite: overwrite,
	}
}

func (c *MoveCommand) Type() string { return "move" }

// Source returns the source path.
func (c *MoveCommand) Source() string { return c.src }

// Destination returns the destination path.
func (c *MoveCommand) Destination() string { return c.dst }

func (c *MoveCommand) Description() string {
	return fmt.Sprintf("Move %s to %s", c.src, c.dst)
}

func (c *MoveCommand) ApproxSize() int64 {
	return commandOverhead + int64(len(c.src)+len(c.dst)) + c.dstBackup.size()
}

// Validate checks the source file, the destination and that the source
// directory is writable.
func (c *MoveCommand) Validate(ctx context.Context) error {
	if c.src == "" || c.dst == "" {
		return core.NewValidationError(c.id(), "move requires both source and destination paths", nil)
	}
	if samePath(c.src, c.dst) {
		return core.NewValidationError(c.id(), "source and destination are the same path", nil)
	}
	if err := requireFile(ctx, c.fsys, c.id(), c.src, "source"); err != nil {
		return err
	}
	if err := c.fsys.CheckWritePermission(ctx, filepath.Dir(c.src)); err != nil {
		return core.NewValidationError(c.id(), "source directory is not writable", err)
	}
	return checkTarget(ctx, c.fsys, c.id(), c.dst, c.overwrite)
}

// Execute performs the move.
func (c *MoveCommand) Execute(ctx context.Context) error {
	if err := c.beginExecute(); err != nil {
		return err
	}
	if err := c.Validate(ctx); err != nil {
		return c.markFailed(err)
	}

	c.dstBackup = backup{}
	c.movedBack = false
	if c.overwrite {
		b, err := captureBackup(ctx, c.fsys, c.dst)
		if err != nil {
			return c.markFailed(core.NewExecutionError(c.id(), "failed to back up destination", err))
		}
		c.dstBackup = b
	}

	req := filesystem.MoveRequest{Src: c.src, Dst: c.dst, Overwrite: c.overwrite}
	if err := c.fsys.MoveFile(ctx, req); err != nil {
		c.dstBackup = backup{}
		return c.markFailed(core.NewExecutionError(c.id(), "move failed", err))
	}

	c.markExecuted()
	return nil
}

// Undo moves the file back and restores any overwritten destination.
func (c *MoveCommand) Undo(ctx context.Context) error {
	if err := c.beginUndo(); err != nil {
		return err
	}

	if !c.movedBack {
		back := filesystem.MoveRequest{Src: c.dst, Dst: c.src}
		if err := c.fsys.MoveFile(ctx, back); err != nil {
			return c.recordUndoFailure(core.NewUndoError(c.id(), "failed to move file back", err))
		}
		c.movedBack = true
	}
	if c.dstBackup.existed {
		if err := c.fsys.WriteFile(ctx, c.dst, c.dstBackup.content); err != nil {
			return c.recordUndoFailure(core.NewUndoError(c.id(), "failed to restore overwritten destination", err))
		}
	}

	c.dstBackup = backup{}
	c.movedBack = false
	c.markUndone()
	return nil
}

var (
	_ Command = (*CopyCommand)(nil)
	_ Command = (*MoveCommand)(nil)
)
