// Package layer assembles the file and socket hooks into the entry points
// installed in the host process.
package layer

import (
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/file"
	"github.com/jingkaihe/layerhook/pkg/remote"
	"github.com/jingkaihe/layerhook/pkg/socket"
)

// SymbolClose is shared by files and sockets, so it has one entry point here.
const SymbolClose = "close"

type Layer struct {
	d       *detour.Dispatcher
	files   *file.Hooks
	sockets *socket.Hooks
	close   *detour.Hook[file.CloseFunc]
}

func New(d *detour.Dispatcher, cfg *api.LayerConfig, fs remote.Filesystem, network remote.Network) *Layer {
	return &Layer{
		d:       d,
		files:   file.NewHooks(d, cfg, fs),
		sockets: socket.NewHooks(d, cfg, network),
		close:   detour.NewHook[file.CloseFunc](SymbolClose),
	}
}

func (l *Layer) Files() *file.Hooks     { return l.files }
func (l *Layer) Sockets() *socket.Hooks { return l.sockets }

// Close releases whatever the layer holds for fd, socket first, then remote
// file. Descriptors neither side manages go to the native close.
func (l *Layer) Close(fd int) (int, unix.Errno) {
	return detour.Run(l.d, l.close, -1,
		func(orig file.CloseFunc) (int, unix.Errno) { return orig(fd) },
		func() detour.Outcome[int] { return l.CloseDetour(fd) })
}

func (l *Layer) CloseDetour(fd int) detour.Outcome[int] {
	return l.sockets.CloseDetour(fd).OrBypass(func(detour.Bypass) detour.Outcome[int] {
		return l.files.CloseDetour(fd)
	})
}

// Entries maps every hooked symbol to its entry point, typed with the
// symbol's native signature.
func (l *Layer) Entries() map[string]any {
	f, s := l.files, l.sockets
	return map[string]any{
		file.SymbolOpen:   file.OpenFunc(f.Open),
		file.SymbolRead:   file.ReadFunc(f.Read),
		file.SymbolWrite:  file.WriteFunc(f.Write),
		file.SymbolLseek:  file.LseekFunc(f.Lseek),
		file.SymbolUnlink: file.UnlinkFunc(f.Unlink),
		file.SymbolStatx:  file.StatxFunc(f.Statx),
		SymbolClose:       l.Close,

		socket.SymbolSocket:      socket.SocketFunc(s.Socket),
		socket.SymbolBind:        socket.BindFunc(s.Bind),
		socket.SymbolListen:      socket.ListenFunc(s.Listen),
		socket.SymbolConnect:     socket.ConnectFunc(s.Connect),
		socket.SymbolGetaddrinfo: socket.GetaddrinfoFunc(s.Getaddrinfo),
	}
}
