package layer

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
	"github.com/jingkaihe/layerhook/pkg/file"
	"github.com/jingkaihe/layerhook/pkg/remote"
	"github.com/jingkaihe/layerhook/pkg/socket"
)

// native hands out descriptors from one counter, like the kernel does for
// files and sockets alike.
type native struct {
	mu        sync.Mutex
	nextFd    int
	closed    []int
	connected []int
}

func (n *native) fd() (int, unix.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fd := n.nextFd
	n.nextFd++
	return fd, 0
}

func (n *native) symbols() detour.SymbolTable {
	return detour.SymbolTable{
		file.SymbolOpen:     file.OpenFunc(func(string, int, uint32) (int, unix.Errno) { return n.fd() }),
		socket.SymbolSocket: socket.SocketFunc(func(int, int, int) (int, unix.Errno) { return n.fd() }),
		socket.SymbolConnect: socket.ConnectFunc(func(fd int, _ unix.Sockaddr) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.connected = append(n.connected, fd)
			return 0, 0
		}),
		SymbolClose: func(fd int) (int, unix.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.closed = append(n.closed, fd)
			return 0, 0
		},
	}
}

type fixture struct {
	layer  *Layer
	native *native
	net    *remote.StaticNetwork
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := remote.NewMemoryFilesystem()
	require.NoError(t, fs.WriteFile("/srv/app/config.json", []byte(`{}`), 0o644))

	network := remote.NewStaticNetwork()
	network.AddPeer(netip.MustParseAddrPort("10.1.2.3:443"))

	n := &native{nextFd: 7}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := detour.NewDispatcher(n.symbols(), logger, nil)
	return &fixture{layer: New(d, api.DefaultLayerConfig(), fs, network), native: n, net: network}
}

var peer = &unix.SockaddrInet4{Port: 443, Addr: [4]byte{10, 1, 2, 3}}

func TestLayer_CloseManagedSocket(t *testing.T) {
	f := newFixture(t)
	sockets := f.layer.Sockets()

	fd, errno := sockets.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.Zero(t, errno)
	_, errno = sockets.Connect(fd, peer)
	require.Zero(t, errno)
	require.Equal(t, 1, sockets.Sockets().Len())
	require.Equal(t, 1, f.net.Active())

	_, errno = f.layer.Close(fd)
	require.Zero(t, errno)
	assert.Zero(t, sockets.Sockets().Len(), "closed fd %d is still a managed socket", fd)
	assert.Zero(t, f.net.Active())
	assert.Equal(t, []int{fd}, f.native.closed)

	// The kernel hands the number out again; the new socket is not ours yet.
	_, errno = sockets.Connect(fd, peer)
	require.Zero(t, errno)
	assert.Equal(t, []int{fd}, f.native.connected)
}

func TestLayer_CloseManagedFile(t *testing.T) {
	f := newFixture(t)
	files := f.layer.Files()

	fd, errno := files.Open("/srv/app/config.json", unix.O_RDONLY, 0)
	require.Zero(t, errno)
	require.Equal(t, 1, files.Files().Len())

	_, errno = f.layer.Close(fd)
	require.Zero(t, errno)
	assert.Zero(t, files.Files().Len())
	assert.Equal(t, []int{fd}, f.native.closed)
}

func TestLayer_CloseUnmanaged(t *testing.T) {
	f := newFixture(t)

	reason, ok := f.layer.CloseDetour(3).Bypass()
	require.True(t, ok)
	assert.Equal(t, detour.LocalFdNotFound(3), reason)

	_, errno := f.layer.Close(3)
	require.Zero(t, errno)
	assert.Equal(t, []int{3}, f.native.closed)
}

func TestLayer_Entries(t *testing.T) {
	entries := newFixture(t).layer.Entries()

	assert.Len(t, entries, 12)
	assert.IsType(t, file.OpenFunc(nil), entries[file.SymbolOpen])
	assert.IsType(t, socket.GetaddrinfoFunc(nil), entries[socket.SymbolGetaddrinfo])

	closeFn, ok := entries[SymbolClose].(file.CloseFunc)
	require.True(t, ok)
	_, ok = entries[SymbolClose].(socket.CloseFunc)
	require.True(t, ok, "files and sockets share one close")
	_, errno := closeFn(42)
	assert.Zero(t, errno)
}
