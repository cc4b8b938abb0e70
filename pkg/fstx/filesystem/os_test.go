package filesystem_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", name, err)
	}
}

func TestOSFileSystem(t *testing.T) {
	ctx := context.Background()

	t.Run("CopyFile copies content and refuses to clobber", func(t *testing.T) {
		root := t.TempDir()
		osfs := filesystem.NewOSFileSystem(root)
		writeFixture(t, root, "a.txt", "alpha")

		if err := osfs.CopyFile(ctx, filesystem.CopyRequest{Src: "a.txt", Dst: "b.txt"}); err != nil {
			t.Fatalf("CopyFile failed: %v", err)
		}
		data, err := osfs.ReadFile(ctx, "b.txt")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "alpha" {
			t.Errorf("Expected 'alpha', got %q", data)
		}

		err = osfs.CopyFile(ctx, filesystem.CopyRequest{Src: "a.txt", Dst: "b.txt"})
		if !errors.Is(err, filesystem.ErrFileAlreadyExists) {
			t.Errorf("Expected FileAlreadyExists, got %v", err)
		}

		writeFixture(t, root, "a.txt", "beta")
		if err := osfs.CopyFile(ctx, filesystem.CopyRequest{Src: "a.txt", Dst: "b.txt", Overwrite: true}); err != nil {
			t.Fatalf("CopyFile with overwrite failed: %v", err)
		}
		data, _ = osfs.ReadFile(ctx, "b.txt")
		if string(data) != "beta" {
			t.Errorf("Expected 'beta' after overwrite, got %q", data)
		}
	})

	t.Run("CopyFile into a missing directory reports PathNotFound", func(t *testing.T) {
		root := t.TempDir()
		osfs := filesystem.NewOSFileSystem(root)
		writeFixture(t, root, "a.txt", "alpha")

		err := osfs.CopyFile(ctx, filesystem.CopyRequest{Src: "a.txt", Dst: "missing/c.txt"})
		if !errors.Is(err, filesystem.ErrPathNotFound) {
			t.Errorf("Expected PathNotFound, got %v", err)
		}
	})

	t.Run("MoveFile and RenameFile", func(t *testing.T) {
		root := t.TempDir()
		osfs := filesystem.NewOSFileSystem(root)
		writeFixture(t, root, "a.txt", "alpha")

		if err := osfs.MoveFile(ctx, filesystem.MoveRequest{Src: "a.txt", Dst: "moved.txt"}); err != nil {
			t.Fatalf("MoveFile failed: %v", err)
		}
		if ok, _ := filesystem.Exists(ctx, osfs, "a.txt"); ok {
			t.Error("Source should not exist after move")
		}

		if err := osfs.RenameFile(ctx, "moved.txt", "renamed.txt"); err != nil {
			t.Fatalf("RenameFile failed: %v", err)
		}
		if ok, _ := filesystem.Exists(ctx, osfs, "renamed.txt"); !ok {
			t.Error("Renamed file should exist")
		}

		err := osfs.RenameFile(ctx, "renamed.txt", "sub/evil.txt")
		if !errors.Is(err, filesystem.ErrInvalidPath) {
			t.Errorf("Expected InvalidPath for separator in name, got %v", err)
		}
	})

	t.Run("DeleteFile on a non-empty directory", func(t *testing.T) {
		root := t.TempDir()
		osfs := filesystem.NewOSFileSystem(root)
		if err := os.Mkdir(filepath.Join(root, "dir"), 0o755); err != nil {
			t.Fatal(err)
		}
		writeFixture(t, root, "dir/f.txt", "x")

		err := osfs.DeleteFile(ctx, "dir")
		if !errors.Is(err, filesystem.ErrDirectoryNotEmpty) {
			t.Errorf("Expected DirectoryNotEmpty, got %v", err)
		}
	})

	t.Run("Permission checks", func(t *testing.T) {
		root := t.TempDir()
		osfs := filesystem.NewOSFileSystem(root)
		writeFixture(t, root, "a.txt", "alpha")

		if err := osfs.CheckReadPermission(ctx, "a.txt"); err != nil {
			t.Errorf("CheckReadPermission failed: %v", err)
		}
		if err := osfs.CheckWritePermission(ctx, "."); err != nil {
			t.Errorf("CheckWritePermission on root failed: %v", err)
		}
		err := osfs.CheckReadPermission(ctx, "nope.txt")
		if !errors.Is(err, filesystem.ErrPathNotFound) {
			t.Errorf("Expected PathNotFound, got %v", err)
		}
	})

	t.Run("Paths escaping the root are rejected", func(t *testing.T) {
		osfs := filesystem.NewOSFileSystem(t.TempDir())
		_, err := osfs.ReadFile(ctx, "../outside.txt")
		if !errors.Is(err, filesystem.ErrInvalidPath) {
			t.Errorf("Expected InvalidPath, got %v", err)
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		osfs := filesystem.NewOSFileSystem(t.TempDir())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := osfs.DeleteFile(cctx, "a.txt")
		if !errors.Is(err, filesystem.ErrCancelled) {
			t.Errorf("Expected Cancelled, got %v", err)
		}
	})
}

func TestFromOSError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not exist", os.ErrNotExist, filesystem.ErrPathNotFound},
		{"permission", os.ErrPermission, filesystem.ErrPermissionDenied},
		{"exists", os.ErrExist, filesystem.ErrFileAlreadyExists},
		{"cancelled", context.Canceled, filesystem.ErrCancelled},
		{"path error", &os.PathError{Op: "open", Path: "x", Err: errors.New("boom")}, filesystem.ErrIo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filesystem.FromOSError("op", "x", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("FromOSError(%v) = %v, want kind of %v", tt.err, got, tt.want)
			}
		})
	}

	if filesystem.FromOSError("op", "x", nil) != nil {
		t.Error("Expected nil for nil error")
	}
}
