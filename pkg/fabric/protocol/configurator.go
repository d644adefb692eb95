// Package protocol drives the vrouter, interface and neighbor calls that
// bring eBGP or OSPF up on the leaves.
package protocol

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/glennswest/leafroute/pkg/config"
	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/cluster"
	"github.com/glennswest/leafroute/pkg/fabric/ipam"
	"github.com/glennswest/leafroute/pkg/fabric/peerlink"
)

const (
	// clusteredWeight is the local preference given to spine sessions of
	// clustered leaves; both members share an AS.
	clusteredWeight = 100

	ospfRedistribute = "static,connected"
)

// Options are the protocol settings of one run.
type Options struct {
	Protocol     fabric.Protocol
	ASBase       uint32 // spine-side AS
	MaxPaths     int
	Redistribute string
	AreaBase     uint32
	BFD          bool
	VLAN         int // internal cluster link VLAN
	NameLimit    int
}

// OptionsFromConfig extracts the protocol settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Protocol:     cfg.Protocol,
		ASBase:       cfg.BGP.ASBase,
		MaxPaths:     cfg.BGP.MaxPaths,
		Redistribute: cfg.BGP.Redistribute,
		AreaBase:     cfg.OSPF.AreaBase,
		BFD:          cfg.BFD(),
		VLAN:         cfg.InternalLink.VLAN,
		NameLimit:    cfg.Cluster.NameLimit,
	}
}

// FirstIdentifier is the first AS number or area handed to a leaf.
func FirstIdentifier(opts Options) uint32 {
	if opts.Protocol == fabric.ProtocolEBGP {
		return opts.ASBase + 1
	}
	return opts.AreaBase
}

// Configurator applies a Plan to the switches. Steps run through the
// Invoker and their outcome goes to the Recorder; a failed step never
// stops the steps of other switches.
type Configurator struct {
	opts     Options
	driver   fabric.Driver
	inv      fabric.Invoker
	rec      fabric.Recorder
	resolver *peerlink.Resolver
	pool     *ipam.Pool
	ids      *cluster.IdentifierAllocator
	log      *zap.SugaredLogger

	mu       sync.Mutex
	vrouters map[string]fabric.Vrouter // switch -> vrouter seen this run
	formed   map[string]error          // cluster name -> CreateCluster outcome
}

// New returns a Configurator. pool and ids are owned by the Configurator
// for the run and must not be shared with another one.
func New(opts Options, d fabric.Driver, inv fabric.Invoker, rec fabric.Recorder,
	pool *ipam.Pool, ids *cluster.IdentifierAllocator, log *zap.SugaredLogger) *Configurator {
	return &Configurator{
		opts:     opts,
		driver:   d,
		inv:      inv,
		rec:      rec,
		resolver: peerlink.NewResolver(d, inv, log),
		pool:     pool,
		ids:      ids,
		log:      log.Named("protocol"),
		vrouters: make(map[string]fabric.Vrouter),
		formed:   make(map[string]error),
	}
}

// ConfigureLeaf runs the per-leaf steps: router-id, the protocol's vrouter
// attributes and one neighbor per resolved spine link.
func (c *Configurator) ConfigureLeaf(ctx context.Context, plan *Plan, sw string) {
	id, ok := plan.Identifiers.Of(sw)
	if !ok {
		c.rec.Failed(sw, "identifier", plan.identifierErr())
		return
	}

	vr, err := c.vrouter(ctx, sw)
	if err != nil {
		c.skip(sw, string(c.opts.Protocol), "vrouter-show")
		return
	}

	_ = c.setRouterID(ctx, sw, vr)

	switch c.opts.Protocol {
	case fabric.ProtocolEBGP:
		c.configureBGPLeaf(ctx, plan, sw, vr, id)
	case fabric.ProtocolOSPF:
		c.configureOSPFLeaf(ctx, sw, vr, id)
	}
}

// FormCluster creates a new cluster on the switches. A pair the plan left
// without an internal link or identifier is not created; ConfigureCluster
// reports it.
func (c *Configurator) FormCluster(ctx context.Context, plan *Plan, pair fabric.ClusterPair) error {
	if pair.Existing {
		return nil
	}
	if _, ok := plan.Links[pair.Name]; !ok {
		return plan.linkErr()
	}
	if _, ok := plan.Identifiers.Of(pair.A); !ok {
		return plan.identifierErr()
	}
	return c.formCluster(ctx, pair)
}

// formCluster runs CreateCluster once per pair and remembers the outcome.
func (c *Configurator) formCluster(ctx context.Context, pair fabric.ClusterPair) error {
	c.mu.Lock()
	err, done := c.formed[pair.Name]
	c.mu.Unlock()
	if done {
		return err
	}

	err = c.CreateCluster(ctx, pair)
	c.mu.Lock()
	c.formed[pair.Name] = err
	c.mu.Unlock()
	return err
}

// ConfigureCluster brings up the internal link between the members of a
// cluster and the session across it, creating the cluster first unless
// FormCluster already did.
func (c *Configurator) ConfigureCluster(ctx context.Context, plan *Plan, pair fabric.ClusterPair) {
	peerStep := "vrouter-bgp-add"
	if c.opts.Protocol == fabric.ProtocolOSPF {
		peerStep = "vrouter-ospf-add"
	}

	link, ok := plan.Links[pair.Name]
	if !ok {
		for _, m := range pair.Members() {
			c.rec.Failed(m, "internal-link", plan.linkErr())
		}
		return
	}
	id, ok := plan.Identifiers.Of(pair.A)
	if !ok {
		for _, m := range pair.Members() {
			c.rec.Failed(m, "identifier", plan.identifierErr())
		}
		return
	}

	if !pair.Existing {
		if err := c.formCluster(ctx, pair); err != nil {
			for _, m := range pair.Members() {
				c.skip(m, "internal-link", "cluster-create")
			}
			return
		}
	}

	addrs := map[string]netip.Prefix{pair.A: link.A, pair.B: link.B}
	vrs := make(map[string]string, 2)
	nics := make(map[string]string, 2)
	ready := true
	for _, m := range pair.Members() {
		vr, nic, err := c.clusterInterface(ctx, m, addrs[m])
		if err != nil {
			ready = false
			continue
		}
		vrs[m], nics[m] = vr, nic
	}
	if !ready {
		for _, m := range pair.Members() {
			c.skip(m, peerStep, "internal-link")
		}
		return
	}

	for _, m := range pair.Members() {
		switch c.opts.Protocol {
		case fabric.ProtocolEBGP:
			c.configureBGPClusterMember(ctx, m, vrs[m], addrs[pair.Peer(m)].Addr(), id)
		case fabric.ProtocolOSPF:
			c.configureOSPFClusterMember(ctx, m, vrs[m], nics[m], link.Network, id)
		}
	}
	c.log.Infow("cluster configured", "cluster", pair.Name, "id", id, "link", link.Network)
}

// call runs one switch call and records its failure.
func (c *Configurator) call(ctx context.Context, sw, step string, fn func(context.Context) error) error {
	if err := c.inv.Invoke(ctx, sw, step, fn); err != nil {
		c.rec.Failed(sw, step, err)
		return err
	}
	return nil
}

// apply runs one modifying call. Once an attempt has failed, the next one
// first asks present whether the switch applied the change anyway: a lost
// reply must not turn into a duplicate rejected by the switch.
func (c *Configurator) apply(ctx context.Context, sw, step string,
	present func(context.Context) (bool, error), fn func(context.Context) error) error {
	attempted := false
	return c.call(ctx, sw, step, func(ctx context.Context) error {
		if attempted {
			ok, err := present(ctx)
			if err != nil {
				return err
			}
			if ok {
				c.log.Infow("change found applied after a failed attempt", "switch", sw, "step", step)
				return nil
			}
		}
		attempted = true
		return fn(ctx)
	})
}

// skip records a step left out because upstream failed.
func (c *Configurator) skip(sw, step, upstream string) {
	c.rec.Failed(sw, step, fmt.Errorf("%w: %s failed", fabric.ErrSkipped, upstream))
}
