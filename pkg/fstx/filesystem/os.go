package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// OSFileSystem implements Service on top of the os package.
// With a non-empty root every path is interpreted relative to root and must
// be a valid io/fs path; with an empty root paths are used as given.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem creates a new OS-based filesystem rooted at the given path
func NewOSFileSystem(root string) *OSFileSystem {
	return &OSFileSystem{root: root}
}

// Root returns the directory paths are resolved against.
func (osfs *OSFileSystem) Root() string {
	return osfs.root
}

func (osfs *OSFileSystem) resolve(op, name string) (string, error) {
	if name == "" {
		return "", NewError(KindInvalidPath, op, name, fs.ErrInvalid)
	}
	if osfs.root == "" {
		return filepath.Clean(name), nil
	}
	slashed := strings.TrimPrefix(filepath.ToSlash(name), "/")
	if !fs.ValidPath(slashed) {
		return "", NewError(KindInvalidPath, op, name, fs.ErrInvalid)
	}
	return filepath.Join(osfs.root, filepath.FromSlash(slashed)), nil
}

func checkContext(ctx context.Context, op, path string) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindCancelled, op, path, err)
	}
	return nil
}

// CopyFile copies a regular file. The destination is written to a temporary
// file in the target directory and renamed into place.
func (osfs *OSFileSystem) CopyFile(ctx context.Context, req CopyRequest) error {
	const op = "copy"
	if err := checkContext(ctx, op, req.Src); err != nil {
		return err
	}
	src, err := osfs.resolve(op, req.Src)
	if err != nil {
		return err
	}
	dst, err := osfs.resolve(op, req.Dst)
	if err != nil {
		return err
	}
	return copyFile(op, src, dst, req.Overwrite)
}

func copyFile(op, src, dst string, overwrite bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return FromOSError(op, src, err)
	}
	if !info.Mode().IsRegular() {
		return NewError(KindNotSupported, op, src, errors.New("only regular files can be copied"))
	}
	if !overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return NewError(KindFileAlreadyExists, op, dst, fs.ErrExist)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return FromOSError(op, src, err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fstx-*")
	if err != nil {
		return FromOSError(op, dst, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return FromOSError(op, dst, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return FromOSError(op, dst, err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		cleanup()
		return FromOSError(op, dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return FromOSError(op, dst, err)
	}
	return nil
}

// MoveFile renames src to dst, falling back to copy and delete across devices.
func (osfs *OSFileSystem) MoveFile(ctx context.Context, req MoveRequest) error {
	const op = "move"
	if err := checkContext(ctx, op, req.Src); err != nil {
		return err
	}
	src, err := osfs.resolve(op, req.Src)
	if err != nil {
		return err
	}
	dst, err := osfs.resolve(op, req.Dst)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return FromOSError(op, src, err)
	}
	if !req.Overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return NewError(KindFileAlreadyExists, op, dst, fs.ErrExist)
		}
	}

	err = os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return FromOSError(op, src, err)
	}
	if err := copyFile(op, src, dst, true); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return FromOSError(op, src, err)
	}
	return nil
}

// DeleteFile removes a file or an empty directory.
func (osfs *OSFileSystem) DeleteFile(ctx context.Context, path string) error {
	const op = "delete"
	if err := checkContext(ctx, op, path); err != nil {
		return err
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return err
	}
	return FromOSError(op, path, os.Remove(full))
}

// RenameFile renames path to newName within its parent directory.
func (osfs *OSFileSystem) RenameFile(ctx context.Context, path, newName string) error {
	const op = "rename"
	if err := checkContext(ctx, op, path); err != nil {
		return err
	}
	if err := ValidateName(newName); err != nil {
		return NewError(KindInvalidPath, op, newName, err)
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return err
	}
	target := filepath.Join(filepath.Dir(full), newName)
	return FromOSError(op, path, os.Rename(full, target))
}

// CheckReadPermission verifies that path can be opened for reading.
func (osfs *OSFileSystem) CheckReadPermission(ctx context.Context, path string) error {
	const op = "check_read"
	if err := checkContext(ctx, op, path); err != nil {
		return err
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		return FromOSError(op, path, err)
	}
	return FromOSError(op, path, f.Close())
}

// CheckWritePermission verifies that path can be written. For a directory
// this means a file can be created inside it.
func (osfs *OSFileSystem) CheckWritePermission(ctx context.Context, path string) error {
	const op = "check_write"
	if err := checkContext(ctx, op, path); err != nil {
		return err
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return FromOSError(op, path, err)
	}
	if info.IsDir() {
		probe, err := os.CreateTemp(full, ".fstx-probe-*")
		if err != nil {
			return FromOSError(op, path, err)
		}
		name := probe.Name()
		_ = probe.Close()
		return FromOSError(op, path, os.Remove(name))
	}
	f, err := os.OpenFile(full, os.O_WRONLY, 0)
	if err != nil {
		return FromOSError(op, path, err)
	}
	return FromOSError(op, path, f.Close())
}

// ReadFile returns the full content of path.
func (osfs *OSFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	const op = "read"
	if err := checkContext(ctx, op, path); err != nil {
		return nil, err
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, FromOSError(op, path, err)
	}
	return data, nil
}

// WriteFile creates or truncates path with data. New files get mode 0644.
func (osfs *OSFileSystem) WriteFile(ctx context.Context, path string, data []byte) error {
	const op = "write"
	if err := checkContext(ctx, op, path); err != nil {
		return err
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return err
	}
	return FromOSError(op, path, os.WriteFile(full, data, 0o644))
}

// Stat returns file information for path.
func (osfs *OSFileSystem) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	const op = "stat"
	if err := checkContext(ctx, op, path); err != nil {
		return nil, err
	}
	full, err := osfs.resolve(op, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, FromOSError(op, path, err)
	}
	return info, nil
}

// ValidateName checks that name is a single path element.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("name cannot be empty")
	case name == "." || name == "..":
		return errors.New("name cannot be '.' or '..'")
	case strings.ContainsAny(name, `/\`):
		return errors.New("name cannot contain path separators")
	}
	return nil
}

var _ Service = (*OSFileSystem)(nil)
