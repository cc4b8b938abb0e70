package filesystem

import (
	"context"
	"errors"
	"io/fs"
)

// CopyRequest describes a single file copy.
type CopyRequest struct {
	Src       string
	Dst       string
	Overwrite bool
}

// MoveRequest describes a single file move.
type MoveRequest struct {
	Src       string
	Dst       string
	Overwrite bool
}

// Service is the collaborator that performs all physical file I/O.
// Implementations must be safe for concurrent use; the engine calls them
// without additional locking. Every method returns nil or an *Error.
type Service interface {
	CopyFile(ctx context.Context, req CopyRequest) error
	MoveFile(ctx context.Context, req MoveRequest) error
	DeleteFile(ctx context.Context, path string) error
	// RenameFile renames path to newName inside the same parent directory,
	// replacing any existing entry with that name.
	RenameFile(ctx context.Context, path, newName string) error
	CheckReadPermission(ctx context.Context, path string) error
	CheckWritePermission(ctx context.Context, path string) error

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
}

// Exists reports whether path exists. Errors other than "not found" are returned.
func Exists(ctx context.Context, svc Service, path string) (bool, error) {
	_, err := svc.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrPathNotFound) {
		return false, nil
	}
	return false, err
}
