package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

// DeleteCommand removes a file after reading its full content into memory.
// Undo rewrites the content; permissions and timestamps of the original are
// not restored.
type DeleteCommand struct {
	base
	path    string
	content backup
}

// NewDeleteCommand creates a new delete command.
func NewDeleteCommand(fsys filesystem.Service, path string) *DeleteCommand {
	return &DeleteCommand{
		base: newBase(fsys),
		path: path,
	}
}

func (c *DeleteCommand) Type() string { return "delete" }

// Path returns the path being deleted.
func (c *DeleteCommand) Path() string { return c.path }

func (c *DeleteCommand) Description() string {
	return fmt.Sprintf("Delete %s", c.path)
}

func (c *DeleteCommand) ApproxSize() int64 {
	return commandOverhead + int64(len(c.path)) + c.content.size()
}

// Validate checks that path is a readable file in a writable directory.
func (c *DeleteCommand) Validate(ctx context.Context) error {
	if c.path == "" {
		return core.NewValidationError(c.id(), "delete requires a path", nil)
	}
	if err := requireFile(ctx, c.fsys, c.id(), c.path, "file"); err != nil {
		return err
	}
	if err := c.fsys.CheckReadPermission(ctx, c.path); err != nil {
		return core.NewValidationError(c.id(), "file is not readable: "+c.path, err)
	}
	if err := c.fsys.CheckWritePermission(ctx, filepath.Dir(c.path)); err != nil {
		return core.NewValidationError(c.id(), "parent directory is not writable", err)
	}
	return nil
}

// Execute backs the file up and deletes it.
func (c *DeleteCommand) Execute(ctx context.Context) error {
	if err := c.beginExecute(); err != nil {
		return err
	}
	if err := c.Validate(ctx); err != nil {
		return c.markFailed(err)
	}

	b, err := captureBackup(ctx, c.fsys, c.path)
	if err != nil {
		return c.markFailed(core.NewExecutionError(c.id(), "failed to back up file", err))
	}
	if err := c.fsys.DeleteFile(ctx, c.path); err != nil {
		return c.markFailed(core.NewExecutionError(c.id(), "delete failed", err))
	}

	c.content = b
	c.markExecuted()
	return nil
}

// Undo recreates the file from the backup. It refuses to clobber a file
// that was created at the same path in the meantime.
func (c *DeleteCommand) Undo(ctx context.Context) error {
	if err := c.beginUndo(); err != nil {
		return err
	}

	exists, err := filesystem.Exists(ctx, c.fsys, c.path)
	if err != nil {
		return c.recordUndoFailure(core.NewUndoError(c.id(), "cannot inspect deleted path", err))
	}
	if exists {
		return c.recordUndoFailure(core.NewUndoError(c.id(), "path was recreated since deletion: "+c.path, filesystem.ErrFileAlreadyExists))
	}
	if err := c.fsys.WriteFile(ctx, c.path, c.content.content); err != nil {
		return c.recordUndoFailure(core.NewUndoError(c.id(), "failed to restore deleted file", err))
	}

	c.content = backup{}
	c.markUndone()
	return nil
}

// RenameCommand renames a file within its directory. A file already present
// under the new name is backed up and replaced.
type RenameCommand struct {
	base
	oldPath      string
	newName      string
	newPath      string
	targetBackup backup
	renamedBack  bool
}

// NewRenameCommand creates a new rename command.
func NewRenameCommand(fsys filesystem.Service, path, newName string) *RenameCommand {
	return &RenameCommand{
		base:    newBase(fsys),
		oldPath: path,
		newName: newName,
		newPath: filepath.Join(filepath.Dir(path), newName),
	}
}

func (c *RenameCommand) Type() string { return "rename" }

// OldPath returns the original path.
func (c *RenameCommand) OldPath() string { return c.oldPath }

// NewPath returns the path after renaming.
func (c *RenameCommand) NewPath() string { return c.newPath }

func (c *RenameCommand) Description() string {
	return fmt.Sprintf("Rename %s to %s", c.oldPath, c.newName)
}

func (c *RenameCommand) ApproxSize() int64 {
	return commandOverhead + int64(len(c.oldPath)+len(c.newPath)) + c.targetBackup.size()
}

// Validate checks the new name, the source and the target.
func (c *RenameCommand) Validate(ctx context.Context) error {
	if c.oldPath == "" {
		return core.NewValidationError(c.id(), "rename requires a path", nil)
	}
	if err := filesystem.ValidateName(c.newName); err != nil {
		return core.NewValidationError(c.id(), "invalid new name", err)
	}
	if samePath(c.oldPath, c.newPath) {
		return core.NewValidationError(c.id(), "new name equals the current name", nil)
	}
	if _, err := c.fsys.Stat(ctx, c.oldPath); err != nil {
		return core.NewValidationError(c.id(), "path does not exist: "+c.oldPath, err)
	}
	if err := c.fsys.CheckWritePermission(ctx, filepath.Dir(c.oldPath)); err != nil {
		return core.NewValidationError(c.id(), "parent directory is not writable", err)
	}
	return checkTarget(ctx, c.fsys, c.id(), c.newPath, true)
}

// Execute performs the rename.
func (c *RenameCommand) Execute(ctx context.Context) error {
	if err := c.beginExecute(); err != nil {
		return err
	}
	if err := c.Validate(ctx); err != nil {
		return c.markFailed(err)
	}

	b, err := captureBackup(ctx, c.fsys, c.newPath)
	if err != nil {
		return c.markFailed(core.NewExecutionError(c.id(), "failed to back up rename target", err))
	}
	if err := c.fsys.RenameFile(ctx, c.oldPath, c.newName); err != nil {
		return c.markFailed(core.NewExecutionError(c.id(), "rename failed", err))
	}

	c.targetBackup = b
	c.renamedBack = false
	c.markExecuted()
	return nil
}

// Undo renames back and restores a replaced target.
func (c *RenameCommand) Undo(ctx context.Context) error {
	if err := c.beginUndo(); err != nil {
		return err
	}

	if !c.renamedBack {
		if err := c.fsys.RenameFile(ctx, c.newPath, filepath.Base(c.oldPath)); err != nil {
			return c.recordUndoFailure(core.NewUndoError(c.id(), "failed to rename back", err))
		}
		c.renamedBack = true
	}
	if c.targetBackup.existed {
		if err := c.fsys.WriteFile(ctx, c.newPath, c.targetBackup.content); err != nil {
			return c.recordUndoFailure(core.NewUndoError(c.id(), "failed to restore replaced file", err))
		}
	}

	c.targetBackup = backup{}
	c.renamedBack = false
	c.markUndone()
	return nil
}

var (
	_ Command = (*DeleteCommand)(nil)
	_ Command = (*RenameCommand)(nil)
)
