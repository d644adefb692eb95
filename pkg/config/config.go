package config

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// DefaultPath is used when neither --config nor LEAFROUTE_CONFIG is set.
const DefaultPath = "/etc/leafroute/config.yaml"

// Config is the leafroute configuration.
type Config struct {
	// Inventory, in the order clusters and identifiers are derived.
	Leaves []string `yaml:"leaves"`
	Spines []string `yaml:"spines"`

	Protocol fabric.Protocol `yaml:"protocol"` // "ebgp" or "ospf"

	BGP          BGPConfig          `yaml:"bgp"`
	OSPF         OSPFConfig         `yaml:"ospf"`
	InternalLink InternalLinkConfig `yaml:"internalLink"`
	Cluster      ClusterConfig      `yaml:"cluster"`
	Retry        RetryConfig        `yaml:"retry"`
	Driver       DriverConfig       `yaml:"driver"`
	Report       ReportConfig       `yaml:"report"`
	Serve        ServeConfig        `yaml:"serve"`

	// Parallelism bounds how many switches are configured at once.
	Parallelism int `yaml:"parallelism"`
}

// BGPConfig holds the eBGP settings. ASBase is the spine-side AS; leaves
// are numbered from ASBase+1.
type BGPConfig struct {
	ASBase       uint32 `yaml:"asBase"`
	MaxPaths     int    `yaml:"maxPaths"`
	Redistribute string `yaml:"redistribute"` // none, static, connected, rip, ospf
	BFD          bool   `yaml:"bfd"`
}

// OSPFConfig holds the OSPF settings.
type OSPFConfig struct {
	AreaBase uint32 `yaml:"areaBase"`
	BFD      bool   `yaml:"bfd"`
}

// InternalLinkConfig describes the point-to-point links created between
// cluster members.
type InternalLinkConfig struct {
	Pool string `yaml:"pool"` // IPv4 CIDR carved into /30 subnets
	VLAN int    `yaml:"vlan"`
}

// ClusterConfig controls cluster naming.
type ClusterConfig struct {
	NameLimit int `yaml:"nameLimit"`
}

// RetryConfig is the per-call retry policy.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// DriverConfig selects how switches are reached.
type DriverConfig struct {
	// Kind is "netvisor" (default) or "simulated".
	Kind string `yaml:"kind"`

	// Netvisor CLI access. When Host is empty the CLI binary is run locally.
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	CLIPath  string        `yaml:"cliPath"`
	Timeout  time.Duration `yaml:"timeout"`

	// KnownHosts verifies the SSH host key when set.
	KnownHosts string `yaml:"knownHosts"`

	// Simulation is a YAML topology file for the simulated driver.
	Simulation string `yaml:"simulation"`
}

// ReportConfig controls where the run report is persisted.
type ReportConfig struct {
	Path string `yaml:"path"`
}

// ServeConfig configures the long-running mode.
type ServeConfig struct {
	ListenAddr string        `yaml:"listenAddr"`
	Interval   time.Duration `yaml:"interval"`
}

var redistributeValues = []string{"none", "static", "connected", "rip", "ospf"}

// Load reads and parses the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Default()
	return cfg, nil
}

// Default fills unset fields with the Netvisor playbook defaults.
func (c *Config) Default() {
	if c.BGP.ASBase == 0 {
		c.BGP.ASBase = 65000
	}
	if c.BGP.MaxPaths == 0 {
		c.BGP.MaxPaths = 16
	}
	if c.BGP.Redistribute == "" {
		c.BGP.Redistribute = "connected"
	}
	if c.InternalLink.Pool == "" {
		c.InternalLink.Pool = "75.75.75.0/24"
	}
	if c.InternalLink.VLAN == 0 {
		c.InternalLink.VLAN = 4040
	}
	if c.Cluster.NameLimit == 0 {
		c.Cluster.NameLimit = 59
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = 2 * time.Second
	}
	if c.Driver.Kind == "" {
		c.Driver.Kind = "netvisor"
	}
	if c.Driver.Port == 0 {
		c.Driver.Port = 22
	}
	if c.Driver.CLIPath == "" {
		c.Driver.CLIPath = "/usr/bin/cli"
	}
	if c.Driver.Timeout == 0 {
		c.Driver.Timeout = 30 * time.Second
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = ":9470"
	}
	if c.Serve.Interval == 0 {
		c.Serve.Interval = 10 * time.Minute
	}
	if c.Parallelism == 0 {
		c.Parallelism = 8
	}
}

// Validate checks the inventory and settings. All failures are
// *fabric.PreconditionError.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return &fabric.PreconditionError{Reason: fmt.Sprintf(format, args...)}
	}

	if len(c.Leaves) == 0 {
		return fail("at least one leaf switch is required")
	}
	seen := make(map[string]bool, len(c.Leaves))
	for _, leaf := range c.Leaves {
		if leaf == "" {
			return fail("empty leaf name")
		}
		if seen[leaf] {
			return fail("leaf %q listed twice", leaf)
		}
		seen[leaf] = true
		if slices.Contains(c.Spines, leaf) {
			return fail("%q listed as both leaf and spine", leaf)
		}
	}

	switch c.Protocol {
	case fabric.ProtocolEBGP, fabric.ProtocolOSPF:
	case "":
		return fail("routing protocol not set (ebgp or ospf)")
	default:
		return fail("unknown routing protocol %q", c.Protocol)
	}

	if c.Protocol == fabric.ProtocolEBGP && c.BGP.ASBase == math.MaxUint32 {
		return fail("bgp asBase %d leaves no AS numbers for the leaves", c.BGP.ASBase)
	}
	if c.BGP.MaxPaths < 1 {
		return fail("bgp maxPaths must be positive, got %d", c.BGP.MaxPaths)
	}
	if !slices.Contains(redistributeValues, c.BGP.Redistribute) {
		return fail("bgp redistribute %q not one of %v", c.BGP.Redistribute, redistributeValues)
	}

	pool, err := netip.ParsePrefix(c.InternalLink.Pool)
	if err != nil {
		return fail("internal link pool %q: %v", c.InternalLink.Pool, err)
	}
	if !pool.Addr().Is4() {
		return fail("internal link pool %s must be IPv4", pool)
	}
	if pool.Bits() > 30 {
		return fail("internal link pool %s is smaller than a /30", pool)
	}
	if c.InternalLink.VLAN < 1 || c.InternalLink.VLAN > 4094 {
		return fail("internal link vlan %d outside 1-4094", c.InternalLink.VLAN)
	}

	if c.Cluster.NameLimit < 16 {
		return fail("cluster nameLimit %d too small", c.Cluster.NameLimit)
	}
	if c.Retry.Attempts < 1 {
		return fail("retry attempts must be at least 1")
	}
	if c.Parallelism < 1 {
		return fail("parallelism must be at least 1")
	}

	switch c.Driver.Kind {
	case "netvisor":
	case "simulated":
		if c.Driver.Simulation == "" {
			return fail("simulated driver needs driver.simulation")
		}
	default:
		return fail("unknown driver kind %q", c.Driver.Kind)
	}

	return nil
}

// BFD reports whether failure detection is requested for the selected
// protocol.
func (c *Config) BFD() bool {
	if c.Protocol == fabric.ProtocolOSPF {
		return c.OSPF.BFD
	}
	return c.BGP.BFD
}
