package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/leafroute/pkg/fabric"
)

func validConfig() *Config {
	cfg := &Config{
		Leaves:   []string{"leaf1", "leaf2"},
		Spines:   []string{"spine1"},
		Protocol: fabric.ProtocolEBGP,
	}
	cfg.Default()
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Default()

	assert.Equal(t, uint32(65000), cfg.BGP.ASBase)
	assert.Equal(t, 16, cfg.BGP.MaxPaths)
	assert.Equal(t, "connected", cfg.BGP.Redistribute)
	assert.Equal(t, "75.75.75.0/24", cfg.InternalLink.Pool)
	assert.Equal(t, 4040, cfg.InternalLink.VLAN)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, "netvisor", cfg.Driver.Kind)
	assert.Equal(t, uint32(0), cfg.OSPF.AreaBase)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
leaves: [leaf1, leaf2, leaf3]
spines: [spine1]
protocol: ospf
ospf:
  areaBase: 10
  bfd: true
internalLink:
  pool: 172.168.0.0/24
  vlan: 4000
retry:
  attempts: 5
  delay: 100ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"leaf1", "leaf2", "leaf3"}, cfg.Leaves)
	assert.Equal(t, fabric.ProtocolOSPF, cfg.Protocol)
	assert.Equal(t, uint32(10), cfg.OSPF.AreaBase)
	assert.True(t, cfg.BFD())
	assert.Equal(t, "172.168.0.0/24", cfg.InternalLink.Pool)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, 16, cfg.BGP.MaxPaths, "defaults still applied")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no leaves", func(c *Config) { c.Leaves = nil }},
		{"duplicate leaf", func(c *Config) { c.Leaves = []string{"leaf1", "leaf1"} }},
		{"leaf is spine", func(c *Config) { c.Spines = []string{"leaf2"} }},
		{"no protocol", func(c *Config) { c.Protocol = "" }},
		{"bad protocol", func(c *Config) { c.Protocol = "isis" }},
		{"bad redistribute", func(c *Config) { c.BGP.Redistribute = "kernel" }},
		{"bad pool", func(c *Config) { c.InternalLink.Pool = "75.75.75.0" }},
		{"ipv6 pool", func(c *Config) { c.InternalLink.Pool = "fd00::/64" }},
		{"pool too small", func(c *Config) { c.InternalLink.Pool = "75.75.75.0/31" }},
		{"bad vlan", func(c *Config) { c.InternalLink.VLAN = 4095 }},
		{"zero max paths", func(c *Config) { c.BGP.MaxPaths = -1 }},
		{"unknown driver", func(c *Config) { c.Driver.Kind = "snmp" }},
		{"simulated without file", func(c *Config) { c.Driver.Kind = "simulated" }},
	}

	require.NoError(t, validConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var pe *fabric.PreconditionError
			assert.True(t, errors.As(err, &pe), "expected PreconditionError, got %T", err)
		})
	}
}
