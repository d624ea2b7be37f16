package api

import (
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jingkaihe/layerhook/internal/errx"
)

// FsMode controls which file operations go to the remote side.
type FsMode string

const (
	// FsModeLocal keeps every file operation local.
	FsModeLocal FsMode = "local"
	// FsModeRead sends reads remote and keeps writes local.
	FsModeRead FsMode = "read"
	// FsModeWrite sends reads and writes remote.
	FsModeWrite FsMode = "write"
)

// IncomingMode controls how listening sockets are handled.
type IncomingMode string

const (
	IncomingOff    IncomingMode = "off"
	IncomingMirror IncomingMode = "mirror"
	IncomingSteal  IncomingMode = "steal"
)

const (
	DefaultFsMode                   = FsModeRead
	DefaultIncomingMode             = IncomingMirror
	DefaultStartIdleTimeout         = 60 * time.Second
	DefaultIdleTimeout              = 5 * time.Second
	DefaultSocketTimeout            = 31536000 * time.Second
	DefaultLogLevel                 = "info"
	DefaultRemoteProtocolVersion    = "v1.13.0"
	DefaultMemoryFilesystemSizeByte = 32_000_000
)

// LayerConfig holds every toggle the hooks read. The hooks never hold
// configuration of their own.
type LayerConfig struct {
	// Targetless is set when the session has no remote target to mirror.
	Targetless    bool                `json:"targetless,omitempty" mapstructure:"targetless" yaml:"targetless"`
	Fs            FsConfig            `json:"fs" mapstructure:"fs" yaml:"fs"`
	Network       NetworkConfig       `json:"network" mapstructure:"network" yaml:"network"`
	InternalProxy InternalProxyConfig `json:"internal_proxy" mapstructure:"internal_proxy" yaml:"internal_proxy"`
	Log           LogConfig           `json:"log" mapstructure:"log" yaml:"log"`
}

// FsConfig configures file interception. Path lists are doublestar globs
// matched against absolute paths.
type FsConfig struct {
	Mode FsMode `json:"mode,omitempty" mapstructure:"mode" yaml:"mode"`
	// Ignore paths always stay local.
	Ignore []string `json:"ignore,omitempty" mapstructure:"ignore" yaml:"ignore,omitempty"`
	// ReadOnly paths go remote for reads but writes stay local.
	ReadOnly []string `json:"read_only,omitempty" mapstructure:"read_only" yaml:"read_only,omitempty"`
	// Local paths are forced local by operator policy.
	Local []string `json:"local,omitempty" mapstructure:"local" yaml:"local,omitempty"`
}

// NetworkConfig configures socket and DNS interception.
type NetworkConfig struct {
	Incoming IncomingConfig `json:"incoming" mapstructure:"incoming" yaml:"incoming"`
	Outgoing OutgoingConfig `json:"outgoing" mapstructure:"outgoing" yaml:"outgoing"`
	// DNS resolves names through the remote side when true.
	DNS bool `json:"dns" mapstructure:"dns" yaml:"dns"`
	// LocalHostnames are always resolved locally.
	LocalHostnames []string `json:"local_hostnames,omitempty" mapstructure:"local_hostnames" yaml:"local_hostnames,omitempty"`
}

type IncomingConfig struct {
	Mode        IncomingMode `json:"mode,omitempty" mapstructure:"mode" yaml:"mode"`
	IgnorePorts []uint16     `json:"ignore_ports,omitempty" mapstructure:"ignore_ports" yaml:"ignore_ports,omitempty"`
}

type OutgoingConfig struct {
	TCP             bool     `json:"tcp" mapstructure:"tcp" yaml:"tcp"`
	UDP             bool     `json:"udp" mapstructure:"udp" yaml:"udp"`
	IgnoreLocalhost bool     `json:"ignore_localhost,omitempty" mapstructure:"ignore_localhost" yaml:"ignore_localhost"`
	IgnorePorts     []uint16 `json:"ignore_ports,omitempty" mapstructure:"ignore_ports" yaml:"ignore_ports,omitempty"`
	// UnixStreams lists unix socket path globs that connect remotely.
	UnixStreams []string `json:"unix_streams,omitempty" mapstructure:"unix_streams" yaml:"unix_streams,omitempty"`
}

// InternalProxyConfig configures the local proxy sitting between the hooks
// and the remote side.
type InternalProxyConfig struct {
	StartIdleTimeout time.Duration `json:"start_idle_timeout" mapstructure:"start_idle_timeout" yaml:"start_idle_timeout"`
	IdleTimeout      time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// SocketTimeout bounds a single remote round trip.
	SocketTimeout time.Duration `json:"socket_timeout" mapstructure:"socket_timeout" yaml:"socket_timeout"`
}

type LogConfig struct {
	Level string `json:"level,omitempty" mapstructure:"level" yaml:"level"`
	// Destination is the log file. Empty picks a random file in the temp dir.
	Destination string `json:"destination,omitempty" mapstructure:"destination" yaml:"destination,omitempty"`
	JSON        bool   `json:"json" mapstructure:"json" yaml:"json"`
	// EventsPath receives hook events as JSON-L when set.
	EventsPath string `json:"events_path,omitempty" mapstructure:"events_path" yaml:"events_path,omitempty"`
	// EventsDB receives hook events in a SQLite database when set.
	EventsDB string `json:"events_db,omitempty" mapstructure:"events_db" yaml:"events_db,omitempty"`
}

// DefaultLayerConfig returns the configuration used when nothing is set.
func DefaultLayerConfig() *LayerConfig {
	return &LayerConfig{
		Fs: FsConfig{Mode: DefaultFsMode},
		Network: NetworkConfig{
			Incoming: IncomingConfig{Mode: DefaultIncomingMode},
			Outgoing: OutgoingConfig{TCP: true, UDP: true},
			DNS:      true,
		},
		InternalProxy: InternalProxyConfig{
			StartIdleTimeout: DefaultStartIdleTimeout,
			IdleTimeout:      DefaultIdleTimeout,
			SocketTimeout:    DefaultSocketTimeout,
		},
		Log: LogConfig{Level: DefaultLogLevel, JSON: true},
	}
}

// GetSocketTimeout returns the remote round trip timeout or the default.
func (c *InternalProxyConfig) GetSocketTimeout() time.Duration {
	if c != nil && c.SocketTimeout > 0 {
		return c.SocketTimeout
	}
	return DefaultSocketTimeout
}

// Validate checks config invariants.
func (c *LayerConfig) Validate() error {
	switch c.Fs.Mode {
	case FsModeLocal, FsModeRead, FsModeWrite:
	default:
		return errx.With(ErrInvalidConfig, ": fs.mode must be one of local, read, write")
	}
	switch c.Network.Incoming.Mode {
	case IncomingOff, IncomingMirror, IncomingSteal:
	default:
		return errx.With(ErrInvalidConfig, ": network.incoming.mode must be one of off, mirror, steal")
	}
	for _, group := range [][]string{c.Fs.Ignore, c.Fs.ReadOnly, c.Fs.Local, c.Network.Outgoing.UnixStreams} {
		for _, pattern := range group {
			if !doublestar.ValidatePattern(pattern) {
				return errx.With(ErrInvalidPattern, ": %q", pattern)
			}
		}
	}
	if c.InternalProxy.SocketTimeout < 0 || c.InternalProxy.IdleTimeout < 0 || c.InternalProxy.StartIdleTimeout < 0 {
		return errx.With(ErrInvalidConfig, ": internal_proxy timeouts must not be negative")
	}
	return nil
}

// MatchAny reports whether path matches one of the doublestar patterns.
// Patterns were checked by Validate, so match errors count as no match.
func MatchAny(patterns []string, path string) (string, bool) {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return pattern, true
		}
	}
	return "", false
}

// IsLocalHostname reports whether host must be resolved locally.
func (n *NetworkConfig) IsLocalHostname(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, h := range n.LocalHostnames {
		if strings.TrimSuffix(strings.ToLower(h), ".") == host {
			return true
		}
	}
	return false
}
