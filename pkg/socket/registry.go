package socket

import (
	"net/netip"
	"sync"

	"github.com/jingkaihe/layerhook/pkg/remote"
)

type State uint8

const (
	StateInitialized State = iota
	StateBound
	StateListening
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Socket is a socket the hooks manage. Domain and Type are the socket(2)
// arguments with type modifier flags removed.
type Socket struct {
	Domain int
	Type   int
	State  State

	// Requested is the address the process asked to bind.
	Requested netip.AddrPort
	// UnixPath is set for unix stream sockets connected remotely.
	UnixPath string
	Remote   remote.Conn
}

// Sockets maps local descriptors to managed sockets.
type Sockets struct {
	mu      sync.Mutex
	sockets map[int]*Socket
}

func NewSockets() *Sockets {
	return &Sockets{sockets: make(map[int]*Socket)}
}

func (s *Sockets) Insert(fd int, sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[fd] = sock
}

// Get returns a copy of the socket registered for fd.
func (s *Sockets) Get(fd int) (Socket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.sockets[fd]
	if !ok {
		return Socket{}, false
	}
	return *sock, true
}

// Update applies fn to the socket registered for fd.
func (s *Sockets) Update(fd int, fn func(*Socket)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.sockets[fd]
	if ok {
		fn(sock)
	}
	return ok
}

func (s *Sockets) Remove(fd int) (Socket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.sockets[fd]
	if !ok {
		return Socket{}, false
	}
	delete(s.sockets, fd)
	return *sock, true
}

func (s *Sockets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}
