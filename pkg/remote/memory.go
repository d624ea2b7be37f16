package remote

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/api"
)

// MemoryFilesystem is an in-process Filesystem, used as the remote side in
// tests and by the explain command.
type MemoryFilesystem struct {
	mu        sync.RWMutex
	totalSize atomic.Int64
	sizeLimit int64
	files     map[string]*memFile
	dirs      map[string]bool
	version   string
}

type memFile struct {
	mu   sync.RWMutex
	fs   *MemoryFilesystem
	data []byte
	mode os.FileMode
}

type MemoryOption func(*MemoryFilesystem)

// WithSizeLimit caps the bytes stored; growth past it fails with ENOSPC.
func WithSizeLimit(limit int64) MemoryOption {
	return func(m *MemoryFilesystem) { m.sizeLimit = limit }
}

// WithProtocolVersion sets the version reported to version-gated hooks.
func WithProtocolVersion(v string) MemoryOption {
	return func(m *MemoryFilesystem) { m.version = v }
}

func NewMemoryFilesystem(opts ...MemoryOption) *MemoryFilesystem {
	m := &MemoryFilesystem{
		sizeLimit: api.DefaultMemoryFilesystemSizeByte,
		files:     make(map[string]*memFile),
		dirs:      map[string]bool{"/": true},
		version:   api.DefaultRemoteProtocolVersion,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryFilesystem) ProtocolVersion() string { return m.version }

func normPath(path string) string {
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (m *MemoryFilesystem) Open(ctx context.Context, path string, flags int, mode os.FileMode) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = normPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dirs[path] {
		if flags&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, unix.EISDIR
		}
		return &memHandle{file: &memFile{fs: m, mode: os.ModeDir | 0o755}, flags: flags}, nil
	}

	f, exists := m.files[path]
	switch {
	case exists && flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		return nil, unix.EEXIST
	case !exists && flags&os.O_CREATE == 0:
		return nil, unix.ENOENT
	case !exists:
		if !m.dirs[filepath.Dir(path)] {
			return nil, unix.ENOENT
		}
		if err := m.grow(int64(len(path))); err != nil {
			return nil, err
		}
		f = &memFile{fs: m, mode: mode}
		m.files[path] = f
	}

	if flags&os.O_TRUNC != 0 && flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		f.mu.Lock()
		m.totalSize.Add(-int64(len(f.data)))
		f.data = nil
		f.mu.Unlock()
	}
	return &memHandle{file: f, flags: flags}, nil
}

func (m *MemoryFilesystem) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	path = normPath(path)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dirs[path] {
		return FileInfo{Name: filepath.Base(path), Mode: os.ModeDir | 0o755, IsDir: true}, nil
	}
	f, ok := m.files[path]
	if !ok {
		return FileInfo{}, unix.ENOENT
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FileInfo{Name: filepath.Base(path), Size: int64(len(f.data)), Mode: f.mode}, nil
}

func (m *MemoryFilesystem) Unlink(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = normPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dirs[path] {
		return unix.EISDIR
	}
	f, ok := m.files[path]
	if !ok {
		return unix.ENOENT
	}
	m.totalSize.Add(-int64(len(path)) - int64(len(f.data)))
	delete(m.files, path)
	return nil
}

// WriteFile seeds a file, creating parent directories.
func (m *MemoryFilesystem) WriteFile(path string, data []byte, mode os.FileMode) error {
	path = normPath(path)
	if err := m.MkdirAll(filepath.Dir(path)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.grow(int64(len(path)) + int64(len(data))); err != nil {
		return err
	}
	m.files[path] = &memFile{fs: m, data: bytes.Clone(data), mode: mode}
	return nil
}

// ReadFile returns a copy of a file's contents.
func (m *MemoryFilesystem) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	f, ok := m.files[normPath(path)]
	m.mu.RUnlock()
	if !ok {
		return nil, unix.ENOENT
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return bytes.Clone(f.data), nil
}

func (m *MemoryFilesystem) MkdirAll(path string) error {
	path = normPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	current := ""
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		if _, isFile := m.files[current]; isFile {
			return unix.ENOTDIR
		}
		if !m.dirs[current] {
			if err := m.grow(int64(len(current))); err != nil {
				return err
			}
			m.dirs[current] = true
		}
	}
	return nil
}

func (m *MemoryFilesystem) grow(n int64) error {
	if m.totalSize.Load()+n > m.sizeLimit {
		return unix.ENOSPC
	}
	m.totalSize.Add(n)
	return nil
}

type memHandle struct {
	file   *memFile
	flags  int
	closed atomic.Bool
}

func (h *memHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	if h.flags&os.O_WRONLY != 0 {
		return 0, unix.EBADF
	}
	if h.file.mode.IsDir() {
		return 0, unix.EISDIR
	}
	h.file.mu.RLock()
	defer h.file.mu.RUnlock()
	if off >= int64(len(h.file.data)) {
		return 0, nil
	}
	return copy(p, h.file.data[off:]), nil
}

func (h *memHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	if h.flags&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, unix.EBADF
	}
	h.file.mu.Lock()
	defer h.file.mu.Unlock()

	if h.flags&os.O_APPEND != 0 {
		off = int64(len(h.file.data))
	}
	end := off + int64(len(p))
	if end > int64(len(h.file.data)) {
		if err := h.file.fs.grow(end - int64(len(h.file.data))); err != nil {
			return 0, err
		}
		grown := make([]byte, end)
		copy(grown, h.file.data)
		h.file.data = grown
	}
	return copy(h.file.data[off:], p), nil
}

func (h *memHandle) Size(ctx context.Context) (int64, error) {
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	h.file.mu.RLock()
	defer h.file.mu.RUnlock()
	return int64(len(h.file.data)), nil
}

func (h *memHandle) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return unix.EBADF
	}
	return nil
}

func (h *memHandle) check(ctx context.Context) error {
	if h.closed.Load() {
		return unix.EBADF
	}
	return ctx.Err()
}
