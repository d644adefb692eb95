package protocol

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/samber/lo"

	"github.com/glennswest/leafroute/pkg/fabric"
)

func (c *Configurator) configureBGPLeaf(ctx context.Context, plan *Plan, sw string, vr fabric.Vrouter, as uint32) {
	asErr := modify(ctx, c, sw, vr.Name, "bgp-as", vr.BGPAS, as, fabric.VrouterChange{BGPAS: as})
	_ = modify(ctx, c, sw, vr.Name, "bgp-max-path", vr.BGPMaxPaths, c.opts.MaxPaths,
		fabric.VrouterChange{BGPMaxPaths: c.opts.MaxPaths})
	_ = modify(ctx, c, sw, vr.Name, "bgp-redistribute", vr.BGPRedistribute, c.opts.Redistribute,
		fabric.VrouterChange{BGPRedistribute: c.opts.Redistribute})

	if asErr != nil {
		c.skip(sw, "vrouter-bgp-add", "bgp-as")
		return
	}

	links, err := c.resolve(ctx, sw, vr.Name)
	if err != nil {
		c.skip(sw, "vrouter-bgp-add", "vrouter-interface-show")
		return
	}
	existing, err := c.bgpNeighbors(ctx, sw, vr.Name)
	if err != nil {
		c.skip(sw, "vrouter-bgp-add", "vrouter-bgp-show")
		return
	}

	_, clustered := plan.ClusterOf(sw)
	for _, l := range links {
		n := fabric.BGPNeighbor{Address: l.Peer, RemoteAS: c.opts.ASBase, BFD: c.opts.BFD}
		if clustered {
			n.Weight = clusteredWeight
			n.AllowASIn = true
		}
		_ = c.addBGPNeighbor(ctx, sw, vr.Name, existing, n)
	}
}

func (c *Configurator) configureBGPClusterMember(ctx context.Context, sw, vr string, peer netip.Addr, as uint32) {
	existing, err := c.bgpNeighbors(ctx, sw, vr)
	if err != nil {
		c.skip(sw, "vrouter-bgp-add", "vrouter-bgp-show")
		return
	}
	_ = c.addBGPNeighbor(ctx, sw, vr, existing, fabric.BGPNeighbor{
		Address:     peer,
		RemoteAS:    as,
		BFD:         c.opts.BFD,
		NextHopSelf: true,
	})
}

func (c *Configurator) bgpNeighbors(ctx context.Context, sw, vr string) ([]fabric.BGPNeighbor, error) {
	var out []fabric.BGPNeighbor
	err := c.call(ctx, sw, "vrouter-bgp-show", func(ctx context.Context) error {
		var err error
		out, err = c.driver.BGPNeighbors(ctx, vr)
		return err
	})
	return out, err
}

func (c *Configurator) addBGPNeighbor(ctx context.Context, sw, vr string, existing []fabric.BGPNeighbor, n fabric.BGPNeighbor) error {
	if hasNeighbor(existing, n.Address) {
		c.rec.Unchanged(sw, fmt.Sprintf("bgp neighbor %s already present", n.Address))
		return nil
	}

	if err := c.apply(ctx, sw, "vrouter-bgp-add", func(ctx context.Context) (bool, error) {
		current, err := c.driver.BGPNeighbors(ctx, vr)
		return hasNeighbor(current, n.Address), err
	}, func(ctx context.Context) error {
		return c.driver.AddBGPNeighbor(ctx, vr, n)
	}); err != nil {
		return err
	}
	c.rec.Changed(sw, fmt.Sprintf("bgp neighbor %s remote-as %d added", n.Address, n.RemoteAS))
	c.log.Debugw("bgp neighbor added", "switch", sw, "neighbor", n.Address, "remoteAS", n.RemoteAS,
		"weight", n.Weight, "allowasIn", n.AllowASIn, "nextHopSelf", n.NextHopSelf, "bfd", n.BFD)
	return nil
}

func hasNeighbor(ns []fabric.BGPNeighbor, addr netip.Addr) bool {
	return lo.ContainsBy(ns, func(e fabric.BGPNeighbor) bool { return e.Address == addr })
}
