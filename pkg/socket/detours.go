package socket

import (
	"errors"
	"net/netip"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/remote"
)

// SocketDetour creates the local socket and starts managing it when its
// domain and type can be served remotely.
func (h *Hooks) SocketDetour(domain, typ, protocol int) detour.Outcome[int] {
	switch domain {
	case unix.AF_INET, unix.AF_INET6, unix.AF_UNIX:
	default:
		return detour.Bypassed[int](detour.Domain(domain))
	}

	base := typ &^ typeFlags
	switch {
	case base == unix.SOCK_STREAM:
	case base == unix.SOCK_DGRAM && domain != unix.AF_UNIX:
	default:
		return detour.Bypassed[int](detour.SocketType(typ))
	}

	fd, errno := h.Socket(domain, typ, protocol)
	if errno != 0 {
		return detour.Failed[int](errno)
	}
	h.sockets.Insert(fd, &Socket{Domain: domain, Type: base})
	return detour.Success(fd)
}

func (h *Hooks) lookup(fd int) detour.Outcome[Socket] {
	sock, ok := h.sockets.Get(fd)
	return detour.FromOptionOr(sock, ok, detour.LocalFdNotFound(fd))
}

// BindDetour records the requested address and binds the local socket to
// an ephemeral port; the requested port is claimed remotely on listen.
func (h *Hooks) BindDetour(fd int, sa unix.Sockaddr) detour.Outcome[int] {
	managed := h.lookup(fd)
	sock, ok := managed.Get()
	if !ok {
		return detour.Residual[int](managed)
	}
	if sock.State != StateInitialized {
		return detour.Bypassed[int](detour.InvalidState(fd))
	}
	if u, isUnix := sa.(*unix.SockaddrUnix); isUnix {
		return detour.Bypassed[int](unixBypass(u.Name))
	}

	requested, ok := toAddrPort(sa)
	if !ok {
		return detour.Bypassed[int](detour.AddressConversion)
	}
	if h.cfg.Targetless {
		return detour.Bypassed[int](detour.BindWhenTargetless)
	}
	incoming := h.cfg.Network.Incoming
	if slices.Contains(incoming.IgnorePorts, requested.Port()) {
		return detour.Bypassed[int](detour.Port(requested.Port()))
	}
	if incoming.Mode == api.IncomingOff {
		return detour.Bypassed[int](detour.DisabledIncoming)
	}

	if _, errno := h.Bind(fd, withPort(sa, 0)); errno != 0 {
		return detour.Failed[int](errno)
	}
	h.sockets.Update(fd, func(s *Socket) {
		s.State = StateBound
		s.Requested = requested
	})
	return detour.Success(0)
}

// ListenDetour claims the requested port on the remote side, then listens
// locally.
func (h *Hooks) ListenDetour(fd, backlog int) detour.Outcome[int] {
	return detour.AndThen(h.lookup(fd), func(sock Socket) detour.Outcome[int] {
		if sock.State != StateBound {
			return detour.Bypassed[int](detour.InvalidState(fd))
		}
		if h.cfg.Network.Incoming.Mode == api.IncomingOff {
			return detour.Bypassed[int](detour.DisabledIncoming)
		}

		ctx, cancel := h.requestContext()
		defer cancel()
		conn, err := h.net.Listen(ctx, sock.Requested.Port())
		if err != nil {
			return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
		}

		ret, errno := h.Listen(fd, backlog)
		if errno != 0 {
			_ = h.net.Close(ctx, conn.ID)
			return detour.Failed[int](errno)
		}
		h.sockets.Update(fd, func(s *Socket) {
			s.State = StateListening
			s.Remote = conn
		})
		h.logger.Debug("listening remotely", "fd", fd, "port", sock.Requested.Port(), "mode", h.cfg.Network.Incoming.Mode)
		return detour.Success(ret)
	})
}

// ConnectDetour connects through the remote network.
func (h *Hooks) ConnectDetour(fd int, sa unix.Sockaddr) detour.Outcome[int] {
	managed := h.lookup(fd)
	sock, ok := managed.Get()
	if !ok {
		return detour.Residual[int](managed)
	}
	if sock.State == StateListening || sock.State == StateConnected {
		return detour.Bypassed[int](detour.InvalidState(fd))
	}
	if u, isUnix := sa.(*unix.SockaddrUnix); isUnix {
		return h.connectUnix(fd, u.Name)
	}

	addr, ok := toAddrPort(sa)
	if !ok {
		return detour.Bypassed[int](detour.AddressConversion)
	}
	outgoing := h.cfg.Network.Outgoing
	port := addr.Port()
	if addr.Addr().IsLoopback() && outgoing.IgnoreLocalhost {
		return detour.Bypassed[int](detour.IgnoreLocalhost(port))
	}
	if slices.Contains(outgoing.IgnorePorts, port) {
		return detour.Bypassed[int](detour.Port(port))
	}
	if (sock.Type == unix.SOCK_STREAM && !outgoing.TCP) || (sock.Type == unix.SOCK_DGRAM && !outgoing.UDP) {
		return detour.Bypassed[int](detour.DisabledOutgoing)
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	conn, err := h.net.Connect(ctx, addr)
	if err != nil {
		return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
	}
	h.sockets.Update(fd, func(s *Socket) {
		s.State = StateConnected
		s.Remote = conn
	})
	return detour.Success(0)
}

func (h *Hooks) connectUnix(fd int, path string) detour.Outcome[int] {
	if path == "" {
		return detour.Bypassed[int](detour.UnixSocket(nil))
	}
	if _, ok := api.MatchAny(h.cfg.Network.Outgoing.UnixStreams, path); !ok {
		return detour.Bypassed[int](detour.UnixSocket(&path))
	}
	if !remote.Supports(h.net.ProtocolVersion(), remote.FeatureUnixStream) {
		return detour.Bypassed[int](detour.NotImplemented)
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	conn, err := h.net.ConnectUnix(ctx, path)
	if err != nil {
		return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
	}
	h.sockets.Update(fd, func(s *Socket) {
		s.State = StateConnected
		s.UnixPath = path
		s.Remote = conn
	})
	return detour.Success(0)
}

// CloseDetour releases remote resources held for fd, then closes it locally.
func (h *Hooks) CloseDetour(fd int) detour.Outcome[int] {
	sock, ok := h.sockets.Remove(fd)
	if !ok {
		return detour.Bypassed[int](detour.LocalFdNotFound(fd))
	}
	if sock.Remote.ID != "" {
		ctx, cancel := h.requestContext()
		defer cancel()
		if err := h.net.Close(ctx, sock.Remote.ID); err != nil {
			h.logger.Warn("remote release failed", "fd", fd, "id", sock.Remote.ID, "error", err)
		}
	}

	return h.closeLocal(fd)
}

// GetaddrinfoDetour resolves node through the remote side.
func (h *Hooks) GetaddrinfoDetour(node *string, service string) detour.Outcome[[]netip.Addr] {
	if node == nil {
		return detour.Bypassed[[]netip.Addr](detour.NullNode)
	}
	if !h.cfg.Network.DNS {
		return detour.Bypassed[[]netip.Addr](detour.LocalDNS)
	}
	if h.cfg.Network.IsLocalHostname(*node) {
		return detour.Bypassed[[]netip.Addr](detour.LocalHostname)
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	addrs, err := h.net.Lookup(ctx, *node)
	switch {
	case errors.Is(err, remote.ErrUnknownHost):
		return detour.Failed[[]netip.Addr](errx.Wrap(detour.ErrRemoteNotFound, err))
	case err != nil:
		return detour.Failed[[]netip.Addr](errx.Wrap(detour.ErrRemoteRequest, err))
	}
	return detour.Success(addrs)
}

func unixBypass(path string) detour.Bypass {
	if path == "" {
		return detour.UnixSocket(nil)
	}
	return detour.UnixSocket(&path)
}

func toAddrPort(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}

func withPort(sa unix.Sockaddr, port int) unix.Sockaddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		c := *a
		c.Port = port
		return &c
	case *unix.SockaddrInet6:
		c := *a
		c.Port = port
		return &c
	default:
		return sa
	}
}
