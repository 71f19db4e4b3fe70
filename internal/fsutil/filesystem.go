// Package fsutil abstracts the filesystem operations the batch driver
// needs, so directory sweeps can be tested against an in-memory tree.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSystem is the surface used by the batch driver: read a file,
// create a file (with parents), stat a path and walk a directory.
type FileSystem interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// OSFileSystem implements FileSystem against the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (OSFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

var _ FileSystem = OSFileSystem{}

// MemoryFileSystem is an in-memory FileSystem for tests. Directories
// are implicit: a path is a directory when some file lives below it.
type MemoryFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemoryFileSystem returns an empty in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string][]byte)}
}

// WriteFile stores data at name, replacing any existing content.
func (m *MemoryFileSystem) WriteFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Clean(name)] = append([]byte(nil), data...)
}

// ReadFile returns a copy of the content stored at name.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryFileSystem) Open(name string) (io.ReadCloser, error) {
	data, err := m.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// memWriter buffers writes and commits them to the filesystem on Close.
type memWriter struct {
	buf  bytes.Buffer
	name string
	mfs  *MemoryFileSystem
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.mfs.WriteFile(w.name, w.buf.Bytes())
	return nil
}

func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	return &memWriter{name: filepath.Clean(name), mfs: m}, nil
}

func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if data, ok := m.files[name]; ok {
		return memInfo{name: filepath.Base(name), size: int64(len(data))}, nil
	}
	if m.isDirLocked(name) {
		return memInfo{name: filepath.Base(name), dir: true}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

func (m *MemoryFileSystem) isDirLocked(name string) bool {
	if name == "." {
		return len(m.files) > 0
	}
	prefix := name + string(filepath.Separator)
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// MkdirAll is a no-op: directories exist implicitly.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return nil
}

// WalkDir visits root and every file stored below it in lexical order.
// Intermediate directories are not synthesized as separate entries.
func (m *MemoryFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	root = filepath.Clean(root)

	m.mu.Lock()
	var paths []string
	prefix := root + string(filepath.Separator)
	for p := range m.files {
		if p == root || root == "." || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	rootIsDir := m.isDirLocked(root)
	m.mu.Unlock()

	if len(paths) == 0 && !rootIsDir {
		return fn(root, nil, &fs.PathError{Op: "lstat", Path: root, Err: fs.ErrNotExist})
	}
	sort.Strings(paths)

	if rootIsDir {
		entry := memInfo{name: filepath.Base(root), dir: true}
		if err := fn(root, entry, nil); err != nil {
			if err == fs.SkipDir {
				return nil
			}
			return err
		}
	}
	for _, p := range paths {
		info, err := m.Stat(p)
		if err != nil {
			return err
		}
		if err := fn(p, info.(memInfo), nil); err != nil && err != fs.SkipDir {
			return err
		}
	}
	return nil
}

var _ FileSystem = (*MemoryFileSystem)(nil)

// memInfo implements both fs.FileInfo and fs.DirEntry.
type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (i memInfo) ModTime() time.Time         { return time.Time{} }
func (i memInfo) IsDir() bool                { return i.dir }
func (i memInfo) Sys() any                   { return nil }
func (i memInfo) Type() fs.FileMode          { return i.Mode().Type() }
func (i memInfo) Info() (fs.FileInfo, error) { return i, nil }
func (i memInfo) String() string             { return fmt.Sprintf("mem:%s", i.name) }
