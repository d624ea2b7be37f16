package socket

import (
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/remote"
)

type native struct {
	mu        sync.Mutex
	nextFd    int
	created   int
	bound     []unix.Sockaddr
	listened  []int
	connected []int
	closed    []int
	resolved  []string
}

func (n *native) symbols() detour.SymbolTable {
	return detour.SymbolTable{
		SymbolSocket: SocketFunc(func(domain, typ, protocol int) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.created++
			fd := n.nextFd
			n.nextFd++
			return fd, 0
		}),
		SymbolBind: BindFunc(func(fd int, addr unix.Sockaddr) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.bound = append(n.bound, addr)
			return 0, 0
		}),
		SymbolListen: ListenFunc(func(fd, backlog int) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.listened = append(n.listened, fd)
			return 0, 0
		}),
		SymbolConnect: ConnectFunc(func(fd int, addr unix.Sockaddr) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.connected = append(n.connected, fd)
			return 0, 0
		}),
		SymbolClose: CloseFunc(func(fd int) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.closed = append(n.closed, fd)
			return 0, 0
		}),
		SymbolGetaddrinfo: GetaddrinfoFunc(func(node *string, service string) ([]netip.Addr, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if node != nil {
				n.resolved = append(n.resolved, *node)
			}
			return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, 0
		}),
	}
}

type fixture struct {
	hooks  *Hooks
	native *native
	net    *remote.StaticNetwork
}

func newFixture(t *testing.T, mutate func(*api.LayerConfig)) *fixture {
	t.Helper()
	cfg := api.DefaultLayerConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	n := &native{nextFd: 10}
	network := remote.NewStaticNetwork()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := detour.NewDispatcher(n.symbols(), logger, nil)
	return &fixture{hooks: NewHooks(d, cfg, network), native: n, net: network}
}

func inet4(addr string) *unix.SockaddrInet4 {
	ap := netip.MustParseAddrPort(addr)
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func TestHooks_SocketBypass(t *testing.T) {
	tests := []struct {
		name   string
		domain int
		typ    int
		want   detour.Bypass
	}{
		{"unsupported domain", 250, unix.SOCK_STREAM, detour.Domain(250)},
		{"raw inet", unix.AF_INET, unix.SOCK_RAW, detour.SocketType(unix.SOCK_RAW)},
		{"unix datagram", unix.AF_UNIX, unix.SOCK_DGRAM, detour.SocketType(unix.SOCK_DGRAM)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			reason, ok := f.hooks.SocketDetour(tt.domain, tt.typ, 0).Bypass()
			require.True(t, ok)
			assert.Equal(t, tt.want, reason)

			fd, errno := f.hooks.Socket(tt.domain, tt.typ, 0)
			require.Zero(t, errno)
			assert.Equal(t, 10, fd)
			assert.Zero(t, f.hooks.Sockets().Len())
		})
	}
}

func TestHooks_ListenFlow(t *testing.T) {
	f := newFixture(t, nil)

	fd, errno := f.hooks.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.Zero(t, errno)
	sock, ok := f.hooks.Sockets().Get(fd)
	require.True(t, ok)
	assert.Equal(t, StateInitialized, sock.State)

	_, errno = f.hooks.Listen(fd, 16)
	require.Zero(t, errno)
	assert.Equal(t, []int{fd}, f.native.listened, "listen before bind goes to the original")
	f.native.listened = nil

	_, errno = f.hooks.Bind(fd, inet4("0.0.0.0:8080"))
	require.Zero(t, errno)
	require.Len(t, f.native.bound, 1)
	assert.Equal(t, 0, f.native.bound[0].(*unix.SockaddrInet4).Port)

	_, errno = f.hooks.Listen(fd, 16)
	require.Zero(t, errno)
	sock, _ = f.hooks.Sockets().Get(fd)
	assert.Equal(t, StateListening, sock.State)
	assert.Equal(t, uint16(8080), sock.Remote.Local.Port())
	assert.Equal(t, 1, f.net.Active())

	reason, ok := f.hooks.ListenDetour(fd, 16).Bypass()
	require.True(t, ok)
	assert.Equal(t, detour.InvalidState(fd), reason)

	require.True(t, f.hooks.CloseDetour(fd).IsSuccess())
	assert.Equal(t, []int{fd}, f.native.closed)
	assert.Zero(t, f.net.Active())
}

func TestHooks_ListenPortTaken(t *testing.T) {
	f := newFixture(t, nil)
	network := f.net

	fd, _ := f.hooks.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	_, errno := f.hooks.Bind(fd, inet4("0.0.0.0:9000"))
	require.Zero(t, errno)

	_, err := network.Listen(t.Context(), 9000)
	require.NoError(t, err)

	ret, errno := f.hooks.Listen(fd, 1)
	assert.Equal(t, -1, ret)
	assert.Equal(t, unix.EADDRINUSE, errno)
	assert.Empty(t, f.native.listened)
}

func TestHooks_BindBypass(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*api.LayerConfig)
		addr   unix.Sockaddr
		want   detour.Bypass
	}{
		{"targetless", func(c *api.LayerConfig) { c.Targetless = true }, inet4("0.0.0.0:80"), detour.BindWhenTargetless},
		{"ignored port", func(c *api.LayerConfig) { c.Network.Incoming.IgnorePorts = []uint16{80} }, inet4("0.0.0.0:80"), detour.Port(80)},
		{"incoming off", func(c *api.LayerConfig) { c.Network.Incoming.Mode = api.IncomingOff }, inet4("0.0.0.0:80"), detour.DisabledIncoming},
		{"nil address", nil, nil, detour.AddressConversion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			fd, errno := f.hooks.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
			require.Zero(t, errno)

			reason, ok := f.hooks.BindDetour(fd, tt.addr).Bypass()
			require.True(t, ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestHooks_BindUnixAndUnknown(t *testing.T) {
	f := newFixture(t, nil)
	fd, _ := f.hooks.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)

	reason, ok := f.hooks.BindDetour(fd, &unix.SockaddrUnix{Name: "/tmp/app.sock"}).Bypass()
	require.True(t, ok)
	assert.Equal(t, `unix_socket("/tmp/app.sock")`, reason.String())

	reason, ok = f.hooks.BindDetour(99, inet4("0.0.0.0:80")).Bypass()
	require.True(t, ok)
	assert.Equal(t, detour.LocalFdNotFound(99), reason)
}

func TestHooks_Connect(t *testing.T) {
	peer := "192.168.1.10:5432"

	t.Run("remote", func(t *testing.T) {
		f := newFixture(t, nil)
		f.net.AddPeer(netip.MustParseAddrPort(peer))
		fd, _ := f.hooks.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)

		_, errno := f.hooks.Connect(fd, inet4(peer))
		require.Zero(t, errno)
		assert.Empty(t, f.native.connected)

		sock, _ := f.hooks.Sockets().Get(fd)
		assert.Equal(t, StateConnected, sock.State)
		assert.Equal(t, peer, sock.Remote.Remote.String())

		reason, ok := f.hooks.ConnectDetour(fd, inet4(peer)).Bypass()
		require.True(t, ok)
		assert.Equal(t, detour.InvalidState(fd), reason)
	})

	t.Run("refused", func(t *testing.T) {
		f := newFixture(t, nil)
		fd, _ := f.hooks.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		_, errno := f.hooks.Connect(fd, inet4(peer))
		assert.Equal(t, unix.ECONNREFUSED, errno)
	})

	tests := []struct {
		name   string
		mutate func(*api.LayerConfig)
		typ    int
		addr   string
		want   detour.Bypass
	}{
		{"localhost ignored", func(c *api.LayerConfig) { c.Network.Outgoing.IgnoreLocalhost = true }, unix.SOCK_STREAM, "127.0.0.1:6379", detour.IgnoreLocalhost(6379)},
		{"port ignored", func(c *api.LayerConfig) { c.Network.Outgoing.IgnorePorts = []uint16{5432} }, unix.SOCK_STREAM, peer, detour.Port(5432)},
		{"tcp disabled", func(c *api.LayerConfig) { c.Network.Outgoing.TCP = false }, unix.SOCK_STREAM, peer, detour.DisabledOutgoing},
		{"udp disabled", func(c *api.LayerConfig) { c.Network.Outgoing.UDP = false }, unix.SOCK_DGRAM, peer, detour.DisabledOutgoing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			fd, _ := f.hooks.Socket(unix.AF_INET, tt.typ, 0)

			reason, ok := f.hooks.ConnectDetour(fd, inet4(tt.addr)).Bypass()
			require.True(t, ok)
			assert.Equal(t, tt.want, reason)

			_, errno := f.hooks.Connect(fd, inet4(tt.addr))
			require.Zero(t, errno)
			assert.Equal(t, []int{fd}, f.native.connected)
		})
	}
}

func TestHooks_ConnectUnix(t *testing.T) {
	f := newFixture(t, func(c *api.LayerConfig) {
		c.Network.Outgoing.UnixStreams = []string{"/var/run/remote/*.sock"}
	})
	f.net.AddUnixPeer("/var/run/remote/db.sock")

	fd, _ := f.hooks.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)

	reason, ok := f.hooks.ConnectDetour(fd, &unix.SockaddrUnix{Name: "/tmp/local.sock"}).Bypass()
	require.True(t, ok)
	path := "/tmp/local.sock"
	assert.Equal(t, detour.UnixSocket(&path), reason)

	reason, ok = f.hooks.ConnectDetour(fd, &unix.SockaddrUnix{}).Bypass()
	require.True(t, ok)
	assert.Equal(t, detour.UnixSocket(nil), reason)

	_, errno := f.hooks.Connect(fd, &unix.SockaddrUnix{Name: "/var/run/remote/db.sock"})
	require.Zero(t, errno)
	sock, _ := f.hooks.Sockets().Get(fd)
	assert.Equal(t, "/var/run/remote/db.sock", sock.UnixPath)

	f.net.SetProtocolVersion("v1.4.0")
	fd2, _ := f.hooks.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	reason, ok = f.hooks.ConnectDetour(fd2, &unix.SockaddrUnix{Name: "/var/run/remote/db.sock"}).Bypass()
	require.True(t, ok)
	assert.Equal(t, detour.NotImplemented, reason)
}

func TestHooks_Getaddrinfo(t *testing.T) {
	host := "db.internal"

	t.Run("remote", func(t *testing.T) {
		f := newFixture(t, nil)
		f.net.AddHost(host, netip.MustParseAddr("10.1.2.3"))
		addrs, errno := f.hooks.Getaddrinfo(&host, "5432")
		require.Zero(t, errno)
		assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.1.2.3")}, addrs)
		assert.Empty(t, f.native.resolved)
	})

	t.Run("unknown host", func(t *testing.T) {
		f := newFixture(t, nil)
		addrs, errno := f.hooks.Getaddrinfo(&host, "")
		assert.Nil(t, addrs)
		assert.Equal(t, unix.ENOENT, errno)
	})

	tests := []struct {
		name   string
		mutate func(*api.LayerConfig)
		node   *string
		want   detour.Bypass
	}{
		{"null node", nil, nil, detour.NullNode},
		{"dns off", func(c *api.LayerConfig) { c.Network.DNS = false }, &host, detour.LocalDNS},
		{"local hostname", func(c *api.LayerConfig) { c.Network.LocalHostnames = []string{"DB.internal"} }, &host, detour.LocalHostname},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			reason, ok := f.hooks.GetaddrinfoDetour(tt.node, "").Bypass()
			require.True(t, ok)
			assert.Equal(t, tt.want, reason)

			addrs, errno := f.hooks.Getaddrinfo(tt.node, "")
			require.Zero(t, errno)
			assert.Len(t, addrs, 1)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "unknown", State(42).String())
}
