// Package remote describes the execution context hooked calls are sent to.
// The hooks only see these interfaces; the transport behind them is not
// their concern.
package remote

import (
	"context"
	"net/netip"
	"os"

	"golang.org/x/mod/semver"
)

// Handle is an open remote file.
type Handle interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// FileInfo is the subset of stat results the hooks hand back.
type FileInfo struct {
	Name  string
	Size  int64
	Mode  os.FileMode
	IsDir bool
}

// Filesystem is the remote side of file interception. Errors carry a
// unix.Errno when the remote call itself failed.
type Filesystem interface {
	Open(ctx context.Context, path string, flags int, mode os.FileMode) (Handle, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Unlink(ctx context.Context, path string) error
	ProtocolVersion() string
}

// Conn identifies a connection or listener held on the remote side.
type Conn struct {
	ID     string
	Local  netip.AddrPort
	Remote netip.AddrPort
}

// Network is the remote side of socket and DNS interception.
type Network interface {
	Connect(ctx context.Context, addr netip.AddrPort) (Conn, error)
	// ConnectUnix connects to a unix stream socket on the remote side.
	ConnectUnix(ctx context.Context, path string) (Conn, error)
	Listen(ctx context.Context, port uint16) (Conn, error)
	Lookup(ctx context.Context, host string) ([]netip.Addr, error)
	// Close releases a connection or listener by its ID.
	Close(ctx context.Context, id string) error
	ProtocolVersion() string
}

// Feature is a remote capability gated on protocol version.
type Feature string

const (
	FeatureStatx      Feature = "statx"
	FeatureUnlink     Feature = "unlink"
	FeatureUnixStream Feature = "unix_stream"
)

var minVersions = map[Feature]string{
	FeatureStatx:      "v1.13.0",
	FeatureUnlink:     "v1.8.0",
	FeatureUnixStream: "v1.5.0",
}

// Supports reports whether a peer speaking version has feature. Unknown
// features and unparseable versions are unsupported.
func Supports(version string, feature Feature) bool {
	min, ok := minVersions[feature]
	if !ok {
		return false
	}
	if len(version) > 0 && version[0] != 'v' {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return false
	}
	return semver.Compare(version, min) >= 0
}
