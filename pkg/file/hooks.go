// Package file intercepts file syscalls and serves them from a remote
// filesystem when the layer configuration asks for it.
package file

import (
	"context"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/remote"
)

// Native signatures of the hooked symbols. CloseFunc is an alias so the
// file and socket packages name the same type as the one close entry point.
type (
	OpenFunc   func(path string, flags int, mode uint32) (int, unix.Errno)
	ReadFunc   func(fd int, p []byte) (int, unix.Errno)
	WriteFunc  func(fd int, p []byte) (int, unix.Errno)
	LseekFunc  func(fd int, offset int64, whence int) (int64, unix.Errno)
	CloseFunc  = func(fd int) (int, unix.Errno)
	UnlinkFunc func(path string) (int, unix.Errno)
	StatxFunc  func(dirfd int, path string, flags int, mask uint32, st *Statx) (int, unix.Errno)
)

// Hooked symbol names.
const (
	SymbolOpen   = "open"
	SymbolRead   = "read"
	SymbolWrite  = "write"
	SymbolLseek  = "lseek"
	SymbolClose  = "close"
	SymbolUnlink = "unlink"
	SymbolStatx  = "statx"
)

// Hooks holds the file hook entry points. Each entry point runs its
// handler through the dispatcher, so the host process only ever sees a
// return value and an errno.
type Hooks struct {
	d      *detour.Dispatcher
	cfg    *api.LayerConfig
	fs     remote.Filesystem
	files  *OpenFiles
	logger *slog.Logger

	open   *detour.Hook[OpenFunc]
	read   *detour.Hook[ReadFunc]
	write  *detour.Hook[WriteFunc]
	lseek  *detour.Hook[LseekFunc]
	close  *detour.Hook[CloseFunc]
	unlink *detour.Hook[UnlinkFunc]
	statx  *detour.Hook[StatxFunc]
}

func NewHooks(d *detour.Dispatcher, cfg *api.LayerConfig, fs remote.Filesystem) *Hooks {
	if cfg == nil {
		cfg = api.DefaultLayerConfig()
	}
	return &Hooks{
		d:      d,
		cfg:    cfg,
		fs:     fs,
		files:  NewOpenFiles(),
		logger: d.Logger().With("component", "file"),
		open:   detour.NewHook[OpenFunc](SymbolOpen),
		read:   detour.NewHook[ReadFunc](SymbolRead),
		write:  detour.NewHook[WriteFunc](SymbolWrite),
		lseek:  detour.NewHook[LseekFunc](SymbolLseek),
		close:  detour.NewHook[CloseFunc](SymbolClose),
		unlink: detour.NewHook[UnlinkFunc](SymbolUnlink),
		statx:  detour.NewHook[StatxFunc](SymbolStatx),
	}
}

// Files exposes the descriptor registry.
func (h *Hooks) Files() *OpenFiles { return h.files }

func (h *Hooks) Open(path string, flags int, mode uint32) (int, unix.Errno) {
	return detour.Run(h.d, h.open, -1,
		func(orig OpenFunc) (int, unix.Errno) { return orig(path, flags, mode) },
		func() detour.Outcome[int] { return h.OpenDetour(path, flags, mode) })
}

func (h *Hooks) Read(fd int, p []byte) (int, unix.Errno) {
	return detour.Run(h.d, h.read, -1,
		func(orig ReadFunc) (int, unix.Errno) { return orig(fd, p) },
		func() detour.Outcome[int] { return h.ReadDetour(fd, p) })
}

func (h *Hooks) Write(fd int, p []byte) (int, unix.Errno) {
	return detour.Run(h.d, h.write, -1,
		func(orig WriteFunc) (int, unix.Errno) { return orig(fd, p) },
		func() detour.Outcome[int] { return h.WriteDetour(fd, p) })
}

func (h *Hooks) Lseek(fd int, offset int64, whence int) (int64, unix.Errno) {
	return detour.Run(h.d, h.lseek, -1,
		func(orig LseekFunc) (int64, unix.Errno) { return orig(fd, offset, whence) },
		func() detour.Outcome[int64] { return h.LseekDetour(fd, offset, whence) })
}

// closeLocal runs the native close. Handler logic reaches it after the
// descriptor has been released; the close entry point itself lives in
// package layer.
func (h *Hooks) closeLocal(fd int) detour.Outcome[int] {
	return detour.AndThen(detour.Original(h.d, h.close), func(orig CloseFunc) detour.Outcome[int] {
		ret, errno := orig(fd)
		if errno != 0 {
			return detour.Failed[int](errno)
		}
		return detour.Success(ret)
	})
}

func (h *Hooks) Unlink(path string) (int, unix.Errno) {
	return detour.Run(h.d, h.unlink, -1,
		func(orig UnlinkFunc) (int, unix.Errno) { return orig(path) },
		func() detour.Outcome[int] { return h.UnlinkDetour(path) })
}

func (h *Hooks) Statx(dirfd int, path string, flags int, mask uint32, st *Statx) (int, unix.Errno) {
	return detour.Run(h.d, h.statx, -1,
		func(orig StatxFunc) (int, unix.Errno) { return orig(dirfd, path, flags, mask, st) },
		func() detour.Outcome[int] { return h.StatxDetour(dirfd, path, flags, mask, st) })
}

// requestContext bounds one remote round trip.
func (h *Hooks) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.cfg.InternalProxy.GetSocketTimeout())
}
