package file

import (
	"sync"

	"github.com/jingkaihe/layerhook/pkg/remote"
)

// RemoteFile is a file opened on the remote side. The host process holds a
// placeholder descriptor for it; every operation on that descriptor is
// served from Handle.
type RemoteFile struct {
	Path   string
	Flags  int
	Handle remote.Handle

	mu     sync.Mutex
	offset int64
}

func (f *RemoteFile) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// OpenFiles maps placeholder descriptors to remote files.
type OpenFiles struct {
	mu    sync.RWMutex
	files map[int]*RemoteFile
}

func NewOpenFiles() *OpenFiles {
	return &OpenFiles{files: make(map[int]*RemoteFile)}
}

func (o *OpenFiles) Insert(fd int, f *RemoteFile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[fd] = f
}

func (o *OpenFiles) Get(fd int) (*RemoteFile, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f, ok := o.files[fd]
	return f, ok
}

func (o *OpenFiles) Remove(fd int) (*RemoteFile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[fd]
	if ok {
		delete(o.files, fd)
	}
	return f, ok
}

func (o *OpenFiles) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.files)
}
