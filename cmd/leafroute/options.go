package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/glennswest/leafroute/pkg/config"
	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/driver"
	"github.com/glennswest/leafroute/pkg/fabric/engine"
	"github.com/glennswest/leafroute/pkg/fabric/sim"
)

// configEnv names the config file when --config is not given.
const configEnv = "LEAFROUTE_CONFIG"

// options holds the flags shared by every subcommand. Set flags override
// the config file.
type options struct {
	configPath string
	protocol   string
	leaves     []string
	spines     []string
	bfd        bool
	simulate   string
	output     string
	parallel   int
	verbose    bool

	flags *pflag.FlagSet
}

func (o *options) addFlags(set *pflag.FlagSet) {
	o.flags = set
	set.StringVarP(&o.configPath, "config", "c", "", "config file (default $"+configEnv+" or "+config.DefaultPath+")")
	set.StringVar(&o.protocol, "protocol", "", "routing protocol: ebgp or ospf")
	set.StringSliceVar(&o.leaves, "leaf", nil, "leaf switch, in inventory order (repeatable)")
	set.StringSliceVar(&o.spines, "spine", nil, "spine switch (repeatable)")
	set.BoolVar(&o.bfd, "bfd", false, "enable BFD on the protocol sessions")
	set.StringVar(&o.simulate, "simulate", "", "run against a simulated fabric described by this topology file")
	set.StringVarP(&o.output, "output", "o", engine.FormatText, "output format: text, yaml or json")
	set.IntVar(&o.parallel, "parallel", 0, "switches configured at once")
	set.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
}

func (o *options) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

// loadConfig reads the config file and applies flag overrides. A missing
// file is only an error when it was named explicitly.
func (o *options) loadConfig() (*config.Config, error) {
	path, explicit := o.configPath, o.configPath != ""
	if !explicit {
		if v := os.Getenv(configEnv); v != "" {
			path, explicit = v, true
		} else {
			path = config.DefaultPath
		}
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = &config.Config{}
	default:
		return nil, err
	}

	if o.changed("protocol") {
		cfg.Protocol = fabric.Protocol(o.protocol)
	}
	if o.changed("leaf") {
		cfg.Leaves = o.leaves
	}
	if o.changed("spine") {
		cfg.Spines = o.spines
	}
	if o.changed("bfd") {
		cfg.BGP.BFD = o.bfd
		cfg.OSPF.BFD = o.bfd
	}
	if o.changed("simulate") {
		cfg.Driver.Kind = "simulated"
		cfg.Driver.Simulation = o.simulate
	}
	if o.changed("parallel") {
		cfg.Parallelism = o.parallel
	}
	cfg.Default()
	return cfg, nil
}

// newDriver builds the driver cfg selects. The returned func releases its
// connection.
func newDriver(cfg *config.Config, log *zap.SugaredLogger) (fabric.Driver, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Driver.Kind {
	case "simulated":
		f, err := sim.LoadFile(cfg.Driver.Simulation)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("using simulated fabric", "topology", cfg.Driver.Simulation)
		return f, nop, nil

	case "netvisor":
		dc := cfg.Driver
		if dc.Host == "" {
			seed, _ := os.Hostname()
			r := &driver.LocalRunner{Path: dc.CLIPath, Username: dc.Username, Password: dc.Password}
			return driver.NewNetvisor(r, seed, log), nop, nil
		}
		r := driver.NewSSHRunner(driver.SSHOpts{
			Host:       dc.Host,
			Port:       dc.Port,
			Username:   dc.Username,
			Password:   dc.Password,
			CLIPath:    dc.CLIPath,
			Timeout:    dc.Timeout,
			KnownHosts: dc.KnownHosts,
		}, log)
		return driver.NewNetvisor(r, dc.Host, log), r.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver kind %q", cfg.Driver.Kind)
}

// env is what every subcommand needs before it can talk to the fabric.
type env struct {
	cfg    *config.Config
	driver fabric.Driver
	log    *zap.SugaredLogger
	close  func() error
}

func (o *options) setup() (*env, error) {
	log, err := newLogger(o.verbose)
	if err != nil {
		return nil, err
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, closeDriver, err := newDriver(cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		driver: d,
		log:    log,
		close: func() error {
			_ = log.Sync()
			return closeDriver()
		},
	}, nil
}
