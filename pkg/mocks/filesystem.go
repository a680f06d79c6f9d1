package mocks

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/user/vidcompress/pkg/ports"
)

// FileSystem is an in-memory ports.FileSystem with the write semantics of
// osfilesystem: WriteFile creates missing parent directories and replaces a
// file as a whole, so a failed write leaves the previous content in place.
type FileSystem struct {
	mu     sync.RWMutex
	files  map[string][]byte
	dirs   map[string]bool
	writes []string

	// FailWrite, when it returns an error for a path, aborts that write
	// before anything changes.
	FailWrite func(path string) error
}

// NewFileSystem creates an empty FileSystem.
func NewFileSystem() *FileSystem {
	return &FileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

func (m *FileSystem) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("open %s: file does not exist", path)
	}
	return append([]byte(nil), data...), nil
}

func (m *FileSystem) WriteFile(path string, data []byte) error {
	if m.FailWrite != nil {
		if err := m.FailWrite(path); err != nil {
			return err
		}
	}
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[path] {
		return fmt.Errorf("write %s: is a directory", path)
	}
	m.mkdirLocked(filepath.Dir(path))
	m.files[path] = append([]byte(nil), data...)
	m.writes = append(m.writes, path)
	return nil
}

func (m *FileSystem) MkdirAll(path string) error {
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		return fmt.Errorf("mkdir %s: file exists", path)
	}
	m.mkdirLocked(path)
	return nil
}

func (m *FileSystem) mkdirLocked(path string) {
	for path != "." && path != string(filepath.Separator) && !m.dirs[path] {
		m.dirs[path] = true
		path = filepath.Dir(path)
	}
}

func (m *FileSystem) Exists(path string) (bool, error) {
	path = filepath.Clean(path)

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[path]
	return isFile || m.dirs[path], nil
}

// GetFile returns the current contents of a file.
func (m *FileSystem) GetFile(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[filepath.Clean(path)]
	return data, ok
}

// HasDir reports whether path exists as a directory.
func (m *FileSystem) HasDir(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[filepath.Clean(path)]
}

// Writes returns the paths of successful writes in order.
func (m *FileSystem) Writes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.writes...)
}

var _ ports.FileSystem = (*FileSystem)(nil)
