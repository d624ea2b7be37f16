// Package socket intercepts socket syscalls and name resolution, routing
// them to the remote network when the layer configuration asks for it.
package socket

import (
	"context"
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/remote"
)

type (
	SocketFunc      func(domain, typ, protocol int) (int, unix.Errno)
	BindFunc        func(fd int, addr unix.Sockaddr) (int, unix.Errno)
	ListenFunc      func(fd, backlog int) (int, unix.Errno)
	ConnectFunc     func(fd int, addr unix.Sockaddr) (int, unix.Errno)
	CloseFunc       = func(fd int) (int, unix.Errno)
	GetaddrinfoFunc func(node *string, service string) ([]netip.Addr, unix.Errno)
)

const (
	SymbolSocket      = "socket"
	SymbolBind        = "bind"
	SymbolListen      = "listen"
	SymbolConnect     = "connect"
	SymbolClose       = "close"
	SymbolGetaddrinfo = "getaddrinfo"
)

type Hooks struct {
	d       *detour.Dispatcher
	cfg     *api.LayerConfig
	net     remote.Network
	sockets *Sockets
	logger  *slog.Logger

	socket      *detour.Hook[SocketFunc]
	bind        *detour.Hook[BindFunc]
	listen      *detour.Hook[ListenFunc]
	connect     *detour.Hook[ConnectFunc]
	close       *detour.Hook[CloseFunc]
	getaddrinfo *detour.Hook[GetaddrinfoFunc]
}

func NewHooks(d *detour.Dispatcher, cfg *api.LayerConfig, network remote.Network) *Hooks {
	if cfg == nil {
		cfg = api.DefaultLayerConfig()
	}
	return &Hooks{
		d:           d,
		cfg:         cfg,
		net:         network,
		sockets:     NewSockets(),
		logger:      d.Logger().With("component", "socket"),
		socket:      detour.NewHook[SocketFunc](SymbolSocket),
		bind:        detour.NewHook[BindFunc](SymbolBind),
		listen:      detour.NewHook[ListenFunc](SymbolListen),
		connect:     detour.NewHook[ConnectFunc](SymbolConnect),
		close:       detour.NewHook[CloseFunc](SymbolClose),
		getaddrinfo: detour.NewHook[GetaddrinfoFunc](SymbolGetaddrinfo),
	}
}

func (h *Hooks) Sockets() *Sockets { return h.sockets }

func (h *Hooks) Socket(domain, typ, protocol int) (int, unix.Errno) {
	return detour.Run(h.d, h.socket, -1,
		func(orig SocketFunc) (int, unix.Errno) { return orig(domain, typ, protocol) },
		func() detour.Outcome[int] { return h.SocketDetour(domain, typ, protocol) })
}

func (h *Hooks) Bind(fd int, addr unix.Sockaddr) (int, unix.Errno) {
	return detour.Run(h.d, h.bind, -1,
		func(orig BindFunc) (int, unix.Errno) { return orig(fd, addr) },
		func() detour.Outcome[int] { return h.BindDetour(fd, addr) })
}

func (h *Hooks) Listen(fd, backlog int) (int, unix.Errno) {
	return detour.Run(h.d, h.listen, -1,
		func(orig ListenFunc) (int, unix.Errno) { return orig(fd, backlog) },
		func() detour.Outcome[int] { return h.ListenDetour(fd, backlog) })
}

func (h *Hooks) Connect(fd int, addr unix.Sockaddr) (int, unix.Errno) {
	return detour.Run(h.d, h.connect, -1,
		func(orig ConnectFunc) (int, unix.Errno) { return orig(fd, addr) },
		func() detour.Outcome[int] { return h.ConnectDetour(fd, addr) })
}

// closeLocal runs the native close once the socket has been released.
func (h *Hooks) closeLocal(fd int) detour.Outcome[int] {
	return detour.AndThen(detour.Original(h.d, h.close), func(orig CloseFunc) detour.Outcome[int] {
		ret, errno := orig(fd)
		if errno != 0 {
			return detour.Failed[int](errno)
		}
		return detour.Success(ret)
	})
}

// Getaddrinfo resolves node. The node pointer mirrors the native API, where
// a null node asks for a wildcard address.
func (h *Hooks) Getaddrinfo(node *string, service string) ([]netip.Addr, unix.Errno) {
	return detour.Run(h.d, h.getaddrinfo, nil,
		func(orig GetaddrinfoFunc) ([]netip.Addr, unix.Errno) { return orig(node, service) },
		func() detour.Outcome[[]netip.Addr] { return h.GetaddrinfoDetour(node, service) })
}

func (h *Hooks) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.cfg.InternalProxy.GetSocketTimeout())
}
