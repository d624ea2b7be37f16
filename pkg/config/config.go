// Package config loads the layer configuration from a file, LAYERHOOK_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/api"
)

const EnvPrefix = "LAYERHOOK"

// New returns a viper instance with every layer key defaulted and bound to
// its environment variable, e.g. fs.mode to LAYERHOOK_FS_MODE.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, api.DefaultLayerConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *api.LayerConfig) {
	v.SetDefault("targetless", d.Targetless)

	v.SetDefault("fs.mode", string(d.Fs.Mode))
	v.SetDefault("fs.ignore", d.Fs.Ignore)
	v.SetDefault("fs.read_only", d.Fs.ReadOnly)
	v.SetDefault("fs.local", d.Fs.Local)

	v.SetDefault("network.incoming.mode", string(d.Network.Incoming.Mode))
	v.SetDefault("network.incoming.ignore_ports", d.Network.Incoming.IgnorePorts)
	v.SetDefault("network.outgoing.tcp", d.Network.Outgoing.TCP)
	v.SetDefault("network.outgoing.udp", d.Network.Outgoing.UDP)
	v.SetDefault("network.outgoing.ignore_localhost", d.Network.Outgoing.IgnoreLocalhost)
	v.SetDefault("network.outgoing.ignore_ports", d.Network.Outgoing.IgnorePorts)
	v.SetDefault("network.outgoing.unix_streams", d.Network.Outgoing.UnixStreams)
	v.SetDefault("network.dns", d.Network.DNS)
	v.SetDefault("network.local_hostnames", d.Network.LocalHostnames)

	v.SetDefault("internal_proxy.start_idle_timeout", d.InternalProxy.StartIdleTimeout)
	v.SetDefault("internal_proxy.idle_timeout", d.InternalProxy.IdleTimeout)
	v.SetDefault("internal_proxy.socket_timeout", d.InternalProxy.SocketTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.destination", d.Log.Destination)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.events_path", d.Log.EventsPath)
	v.SetDefault("log.events_db", d.Log.EventsDB)
}

// Load reads path (if non-empty) into v and returns the validated
// configuration. A nil v uses New.
func Load(v *viper.Viper, path string) (*api.LayerConfig, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errx.Wrap(ErrReadConfig, err)
		}
	}

	cfg := &api.LayerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errx.Wrap(ErrDecodeConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
