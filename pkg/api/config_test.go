package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayerConfig_Valid(t *testing.T) {
	cfg := DefaultLayerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, FsModeRead, cfg.Fs.Mode)
	assert.Equal(t, IncomingMirror, cfg.Network.Incoming.Mode)
	assert.True(t, cfg.Network.Outgoing.TCP)
	assert.Equal(t, DefaultSocketTimeout, cfg.InternalProxy.SocketTimeout)
}

func TestLayerConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LayerConfig)
		want   error
	}{
		{"fs mode", func(c *LayerConfig) { c.Fs.Mode = "rw" }, ErrInvalidConfig},
		{"incoming mode", func(c *LayerConfig) { c.Network.Incoming.Mode = "" }, ErrInvalidConfig},
		{"bad glob", func(c *LayerConfig) { c.Fs.Ignore = []string{"/tmp/[a"} }, ErrInvalidPattern},
		{"bad unix glob", func(c *LayerConfig) { c.Network.Outgoing.UnixStreams = []string{"{"} }, ErrInvalidPattern},
		{"negative timeout", func(c *LayerConfig) { c.InternalProxy.IdleTimeout = -1 }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLayerConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"/proc/**", "/etc/*.conf"}

	tests := []struct {
		path    string
		matched bool
	}{
		{"/proc/self/maps", true},
		{"/etc/resolv.conf", true},
		{"/etc/ssl/openssl.conf", false},
		{"/home/user/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, ok := MatchAny(patterns, tt.path)
			assert.Equal(t, tt.matched, ok)
		})
	}
}

func TestGetSocketTimeout(t *testing.T) {
	var c *InternalProxyConfig
	assert.Equal(t, DefaultSocketTimeout, c.GetSocketTimeout())
	assert.Equal(t, DefaultSocketTimeout, (&InternalProxyConfig{}).GetSocketTimeout())
	assert.Equal(t, int64(3), int64((&InternalProxyConfig{SocketTimeout: 3}).GetSocketTimeout()))
}

func TestIsLocalHostname(t *testing.T) {
	n := &NetworkConfig{LocalHostnames: []string{"Build.Local."}}
	assert.True(t, n.IsLocalHostname("build.local"))
	assert.False(t, n.IsLocalHostname("api.example.com"))
}
