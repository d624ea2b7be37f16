package remote

import (
	"context"
	"net/netip"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/api"
)

// StaticNetwork is an in-process Network with a fixed host table. Connects
// succeed only to addresses something listens on or that were added with
// AddPeer.
type StaticNetwork struct {
	mu        sync.Mutex
	hosts     map[string][]netip.Addr
	peers     map[netip.AddrPort]bool
	unixPeers map[string]bool
	listeners map[uint16]Conn
	conns     map[string]Conn
	local     netip.Addr
	nextPort  uint16
	version   string
}

func NewStaticNetwork() *StaticNetwork {
	return &StaticNetwork{
		hosts:     make(map[string][]netip.Addr),
		peers:     make(map[netip.AddrPort]bool),
		unixPeers: make(map[string]bool),
		listeners: make(map[uint16]Conn),
		conns:     make(map[string]Conn),
		local:     netip.MustParseAddr("10.0.0.2"),
		nextPort:  49152,
		version:   api.DefaultRemoteProtocolVersion,
	}
}

func (n *StaticNetwork) SetProtocolVersion(v string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.version = v
}

func (n *StaticNetwork) ProtocolVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

// AddHost registers addresses host resolves to.
func (n *StaticNetwork) AddHost(host string, addrs ...netip.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := hostKey(host)
	n.hosts[key] = append(n.hosts[key], addrs...)
}

// AddPeer makes addr accept connections.
func (n *StaticNetwork) AddPeer(addr netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[addr] = true
}

// AddUnixPeer makes the unix stream socket at path accept connections.
func (n *StaticNetwork) AddUnixPeer(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unixPeers[path] = true
}

func (n *StaticNetwork) Connect(ctx context.Context, addr netip.AddrPort) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return Conn{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	_, listening := n.listeners[addr.Port()]
	if !n.peers[addr] && !(listening && addr.Addr() == n.local) {
		return Conn{}, unix.ECONNREFUSED
	}
	return n.track(Conn{Remote: addr}), nil
}

func (n *StaticNetwork) ConnectUnix(ctx context.Context, path string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return Conn{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.unixPeers[path] {
		return Conn{}, unix.ECONNREFUSED
	}
	return n.track(Conn{}), nil
}

func (n *StaticNetwork) Listen(ctx context.Context, port uint16) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return Conn{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.listeners[port]; taken {
		return Conn{}, unix.EADDRINUSE
	}
	c := Conn{ID: uuid.NewString(), Local: netip.AddrPortFrom(n.local, port)}
	n.listeners[port] = c
	return c, nil
}

func (n *StaticNetwork) Close(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.conns[id]; ok {
		delete(n.conns, id)
		return nil
	}
	for port, c := range n.listeners {
		if c.ID == id {
			delete(n.listeners, port)
			return nil
		}
	}
	return ErrNotConnected
}

func (n *StaticNetwork) Lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	addrs, ok := n.hosts[hostKey(host)]
	if !ok {
		return nil, ErrUnknownHost
	}
	return append([]netip.Addr(nil), addrs...), nil
}

// Active returns the number of open connections and listeners.
func (n *StaticNetwork) Active() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns) + len(n.listeners)
}

func (n *StaticNetwork) track(c Conn) Conn {
	c.ID = uuid.NewString()
	c.Local = netip.AddrPortFrom(n.local, n.nextPort)
	n.nextPort++
	if n.nextPort == 0 {
		n.nextPort = 49152
	}
	n.conns[c.ID] = c
	return c
}

func hostKey(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
