package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ErrorKind identifies the class of a filesystem failure.
type ErrorKind int

const (
	// KindFileSystem is a failure that fits no narrower kind.
	KindFileSystem ErrorKind = iota
	KindPathNotFound
	KindPermissionDenied
	KindFileAlreadyExists
	KindInvalidPath
	KindIo
	KindDiskFull
	KindCancelled
	KindSymlinkLoop
	KindDirectoryNotEmpty
	KindFileTooLarge
	KindNotSupported
)

// String returns the string representation of the ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindPathNotFound:
		return "path_not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindFileAlreadyExists:
		return "file_already_exists"
	case KindInvalidPath:
		return "invalid_path"
	case KindIo:
		return "io"
	case KindDiskFull:
		return "disk_full"
	case KindCancelled:
		return "cancelled"
	case KindSymlinkLoop:
		return "symlink_loop"
	case KindDirectoryNotEmpty:
		return "directory_not_empty"
	case KindFileTooLarge:
		return "file_too_large"
	case KindNotSupported:
		return "not_supported"
	default:
		return "filesystem"
	}
}

// Error is returned by every Service method.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s", e.Op, msg)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s '%s'", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Sentinels like
// ErrPathNotFound carry no path and match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Path == "" || t.Path == e.Path)
}

// Sentinels for errors.Is checks.
var (
	ErrPathNotFound      = &Error{Kind: KindPathNotFound}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrFileAlreadyExists = &Error{Kind: KindFileAlreadyExists}
	ErrInvalidPath       = &Error{Kind: KindInvalidPath}
	ErrIo                = &Error{Kind: KindIo}
	ErrDiskFull          = &Error{Kind: KindDiskFull}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrSymlinkLoop       = &Error{Kind: KindSymlinkLoop}
	ErrDirectoryNotEmpty = &Error{Kind: KindDirectoryNotEmpty}
	ErrFileTooLarge      = &Error{Kind: KindFileTooLarge}
	ErrNotSupported      = &Error{Kind: KindNotSupported}
)

// NewError creates a filesystem error of the given kind.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// FromOSError translates an error from the os package into an *Error.
// Errors that already are *Error are returned unchanged.
func FromOSError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return err
	}
	return &Error{Kind: kindOf(err), Op: op, Path: path, Err: err}
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, fs.ErrNotExist):
		return KindPathNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return KindFileAlreadyExists
	case errors.Is(err, fs.ErrInvalid):
		return KindInvalidPath
	case errors.Is(err, syscall.ENOSPC):
		return KindDiskFull
	case errors.Is(err, syscall.ELOOP):
		return KindSymlinkLoop
	case errors.Is(err, syscall.ENOTEMPTY):
		return KindDirectoryNotEmpty
	case errors.Is(err, syscall.EFBIG):
		return KindFileTooLarge
	case errors.Is(err, syscall.EISDIR), errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.ENAMETOOLONG):
		return KindInvalidPath
	case errors.Is(err, errors.ErrUnsupported), errors.Is(err, syscall.ENOTSUP):
		return KindNotSupported
	}

	var pathErr *fs.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		return KindIo
	}
	return KindFileSystem
}
