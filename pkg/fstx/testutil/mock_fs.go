package testutil

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

// Fault makes a MockFS operation fail with a given kind.
type Fault struct {
	Op   string // "copy", "move", "delete", "rename", "read", "write", "stat", "check_read", "check_write"
	Path string // matches any path involved in the call; empty matches all
	Kind filesystem.ErrorKind
	// Times is the number of calls that fail before the fault clears.
	// Zero or negative means the fault never clears.
	Times int
}

// MockFS is an in-memory filesystem.Service for testing.
// It is intended for use in tests and is not performance-optimized.
type MockFS struct {
	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]bool
	denyWrite map[string]bool
	faults    []*Fault
	calls     map[string]int
}

// NewMockFS creates a new mock filesystem containing only the roots "." and "/".
func NewMockFS() *MockFS {
	return &MockFS{
		files:     make(map[string][]byte),
		dirs:      map[string]bool{".": true, "/": true},
		denyWrite: make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func clean(p string) string {
	return path.Clean(p)
}

// AddFile creates a file and any missing parent directories.
func (m *MockFS) AddFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	m.mkdirAll(path.Dir(p))
	m.files[p] = append([]byte(nil), content...)
}

// AddDir creates a directory and its parents.
func (m *MockFS) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(clean(p))
}

func (m *MockFS) mkdirAll(p string) {
	for p != "." && p != "/" {
		m.dirs[p] = true
		p = path.Dir(p)
	}
}

// DenyWrite makes CheckWritePermission fail for p.
func (m *MockFS) DenyWrite(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyWrite[clean(p)] = true
}

// InjectFault registers a fault. Faults are consulted in registration order.
func (m *MockFS) InjectFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Path != "" {
		f.Path = clean(f.Path)
	}
	m.faults = append(m.faults, &f)
}

// ClearFaults removes all registered faults.
func (m *MockFS) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
}

// Calls returns how many times op was invoked.
func (m *MockFS) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Exists reports whether p is a file or directory.
func (m *MockFS) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	_, isFile := m.files[p]
	return isFile || m.dirs[p]
}

// Content returns the content of file p.
func (m *MockFS) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(p)]
	return append([]byte(nil), data...), ok
}

// Files returns all file paths in sorted order.
func (m *MockFS) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// enter counts the call and returns an injected or context error if any.
// Callers must hold m.mu.
func (m *MockFS) enter(ctx context.Context, op string, paths ...string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return filesystem.NewError(filesystem.KindCancelled, op, first(paths), err)
	}
	for i, f := range m.faults {
		if f.Op != op || !matches(f.Path, paths) {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				m.faults = append(m.faults[:i:i], m.faults[i+1:]...)
			}
		}
		return filesystem.NewError(f.Kind, op, first(paths), errors.New("injected fault"))
	}
	return nil
}

func first(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func matches(want string, paths []string) bool {
	if want == "" {
		return true
	}
	for _, p := range paths {
		if clean(p) == want {
			return true
		}
	}
	return false
}

func (m *MockFS) isDir(p string) bool {
	return m.dirs[p]
}

func (m *MockFS) hasChildren(dir string) bool {
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for p := range m.dirs {
		if p != dir && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// placeFile writes data to p after checking its parent directory.
func (m *MockFS) placeFile(op, p string, data []byte) error {
	if m.isDir(p) {
		return filesystem.NewError(filesystem.KindInvalidPath, op, p, errors.New("is a directory"))
	}
	if !m.isDir(path.Dir(p)) {
		return filesystem.NewError(filesystem.KindPathNotFound, op, path.Dir(p), fs.ErrNotExist)
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *MockFS) CopyFile(ctx context.Context, req filesystem.CopyRequest) error {
	const op = "copy"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, req.Src, req.Dst); err != nil {
		return err
	}
	src, dst := clean(req.Src), clean(req.Dst)
	data, ok := m.files[src]
	if !ok {
		if m.isDir(src) {
			return filesystem.NewError(filesystem.KindNotSupported, op, src, errors.New("only regular files can be copied"))
		}
		return filesystem.NewError(filesystem.KindPathNotFound, op, src, fs.ErrNotExist)
	}
	if _, exists := m.files[dst]; exists && !req.Overwrite {
		return filesystem.NewError(filesystem.KindFileAlreadyExists, op, dst, fs.ErrExist)
	}
	return m.placeFile(op, dst, data)
}

func (m *MockFS) MoveFile(ctx context.Context, req filesystem.MoveRequest) error {
	const op = "move"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, req.Src, req.Dst); err != nil {
		return err
	}
	src, dst := clean(req.Src), clean(req.Dst)
	data, ok := m.files[src]
	if !ok {
		return filesystem.NewError(filesystem.KindPathNotFound, op, src, fs.ErrNotExist)
	}
	if _, exists := m.files[dst]; exists && !req.Overwrite {
		return filesystem.NewError(filesystem.KindFileAlreadyExists, op, dst, fs.ErrExist)
	}
	if err := m.placeFile(op, dst, data); err != nil {
		return err
	}
	delete(m.files, src)
	return nil
}

func (m *MockFS) DeleteFile(ctx context.Context, p string) error {
	const op = "delete"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return err
	}
	p = clean(p)
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if m.isDir(p) {
		if m.hasChildren(p) {
			return filesystem.NewError(filesystem.KindDirectoryNotEmpty, op, p, nil)
		}
		delete(m.dirs, p)
		return nil
	}
	return filesystem.NewError(filesystem.KindPathNotFound, op, p, fs.ErrNotExist)
}

func (m *MockFS) RenameFile(ctx context.Context, p, newName string) error {
	const op = "rename"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return err
	}
	if err := filesystem.ValidateName(newName); err != nil {
		return filesystem.NewError(filesystem.KindInvalidPath, op, newName, err)
	}
	p = clean(p)
	data, ok := m.files[p]
	if !ok {
		if m.isDir(p) {
			return filesystem.NewError(filesystem.KindNotSupported, op, p, errors.New("directory rename not supported"))
		}
		return filesystem.NewError(filesystem.KindPathNotFound, op, p, fs.ErrNotExist)
	}
	target := path.Join(path.Dir(p), newName)
	if err := m.placeFile(op, target, data); err != nil {
		return err
	}
	delete(m.files, p)
	return nil
}

func (m *MockFS) CheckReadPermission(ctx context.Context, p string) error {
	const op = "check_read"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return err
	}
	p = clean(p)
	if _, ok := m.files[p]; ok || m.isDir(p) {
		return nil
	}
	return filesystem.NewError(filesystem.KindPathNotFound, op, p, fs.ErrNotExist)
}

func (m *MockFS) CheckWritePermission(ctx context.Context, p string) error {
	const op = "check_write"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return err
	}
	p = clean(p)
	if _, ok := m.files[p]; !ok && !m.isDir(p) {
		return filesystem.NewError(filesystem.KindPathNotFound, op, p, fs.ErrNotExist)
	}
	if m.denyWrite[p] {
		return filesystem.NewError(filesystem.KindPermissionDenied, op, p, fs.ErrPermission)
	}
	return nil
}

func (m *MockFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	const op = "read"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return nil, err
	}
	data, ok := m.files[clean(p)]
	if !ok {
		return nil, filesystem.NewError(filesystem.KindPathNotFound, op, p, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *MockFS) WriteFile(ctx context.Context, p string, data []byte) error {
	const op = "write"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return err
	}
	return m.placeFile(op, clean(p), data)
}

func (m *MockFS) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	const op = "stat"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, op, p); err != nil {
		return nil, err
	}
	p = clean(p)
	if data, ok := m.files[p]; ok {
		return &mockFileInfo{name: path.Base(p), size: int64(len(data)), mode: 0o644}, nil
	}
	if m.isDir(p) {
		return &mockFileInfo{name: path.Base(p), mode: fs.ModeDir | 0o755}, nil
	}
	return nil, filesystem.NewError(filesystem.KindPathNotFound, op, p, fs.ErrNotExist)
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (fi *mockFileInfo) Name() string       { return fi.name }
func (fi *mockFileInfo) Size() int64        { return fi.size }
func (fi *mockFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *mockFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *mockFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *mockFileInfo) Sys() interface{}   { return nil }

var _ filesystem.Service = (*MockFS)(nil)
