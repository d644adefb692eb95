package protocol

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/samber/lo"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// configureOSPFLeaf sets the static+connected redistribution and adds the
// network of every spine link to the leaf's area.
func (c *Configurator) configureOSPFLeaf(ctx context.Context, sw string, vr fabric.Vrouter, area uint32) {
	_ = modify(ctx, c, sw, vr.Name, "ospf-redistribute", vr.OSPFRedistribute, ospfRedistribute,
		fabric.VrouterChange{OSPFRedistribute: ospfRedistribute})

	links, err := c.resolve(ctx, sw, vr.Name)
	if err != nil {
		c.skip(sw, "vrouter-ospf-add", "vrouter-interface-show")
		return
	}
	existing, err := c.ospfNetworks(ctx, sw, vr.Name)
	if err != nil {
		c.skip(sw, "vrouter-ospf-add", "vrouter-ospf-show")
		return
	}

	for _, l := range links {
		if c.opts.BFD {
			_ = c.ensureBFD(ctx, sw, vr.Name, l.NIC)
		}
		_ = c.addOSPFNetwork(ctx, sw, vr.Name, existing, fabric.OSPFNetwork{Network: l.Network, Area: area})
	}
}

func (c *Configurator) configureOSPFClusterMember(ctx context.Context, sw, vr, nic string, network netip.Prefix, area uint32) {
	if c.opts.BFD {
		_ = c.ensureBFD(ctx, sw, vr, nic)
	}
	existing, err := c.ospfNetworks(ctx, sw, vr)
	if err != nil {
		c.skip(sw, "vrouter-ospf-add", "vrouter-ospf-show")
		return
	}
	_ = c.addOSPFNetwork(ctx, sw, vr, existing, fabric.OSPFNetwork{Network: network, Area: area})
}

func (c *Configurator) ospfNetworks(ctx context.Context, sw, vr string) ([]fabric.OSPFNetwork, error) {
	var out []fabric.OSPFNetwork
	err := c.call(ctx, sw, "vrouter-ospf-show", func(ctx context.Context) error {
		var err error
		out, err = c.driver.OSPFNetworks(ctx, vr)
		return err
	})
	return out, err
}

func (c *Configurator) addOSPFNetwork(ctx context.Context, sw, vr string, existing []fabric.OSPFNetwork, n fabric.OSPFNetwork) error {
	if hasNetwork(existing, n.Network) {
		c.rec.Unchanged(sw, fmt.Sprintf("ospf network %s already present", n.Network))
		return nil
	}

	if err := c.apply(ctx, sw, "vrouter-ospf-add", func(ctx context.Context) (bool, error) {
		current, err := c.driver.OSPFNetworks(ctx, vr)
		return hasNetwork(current, n.Network), err
	}, func(ctx context.Context) error {
		return c.driver.AddOSPFNetwork(ctx, vr, n)
	}); err != nil {
		return err
	}
	c.rec.Changed(sw, fmt.Sprintf("ospf network %s area %d added", n.Network, n.Area))
	return nil
}

func hasNetwork(ns []fabric.OSPFNetwork, network netip.Prefix) bool {
	return lo.ContainsBy(ns, func(e fabric.OSPFNetwork) bool { return e.Network == network })
}
