package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"github.com/samber/lo"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// vrouter returns the switch's vrouter, querying it once per run.
func (c *Configurator) vrouter(ctx context.Context, sw string) (fabric.Vrouter, error) {
	c.mu.Lock()
	vr, ok := c.vrouters[sw]
	c.mu.Unlock()
	if ok {
		return vr, nil
	}

	err := c.call(ctx, sw, "vrouter-show", func(ctx context.Context) error {
		var err error
		vr, err = c.driver.Vrouter(ctx, sw)
		return err
	})
	if err != nil {
		return fabric.Vrouter{}, err
	}

	c.mu.Lock()
	c.vrouters[sw] = vr
	c.mu.Unlock()
	return vr, nil
}

// modify sets one vrouter attribute unless it already has the wanted
// value.
func modify[T comparable](ctx context.Context, c *Configurator, sw, vr, attr string, current, want T, change fabric.VrouterChange) error {
	if current == want {
		c.rec.Unchanged(sw, fmt.Sprintf("%s %v already set", attr, want))
		return nil
	}

	err := c.call(ctx, sw, "vrouter-modify "+attr, func(ctx context.Context) error {
		return c.driver.ModifyVrouter(ctx, vr, change)
	})
	if err != nil {
		return err
	}
	c.rec.Changed(sw, fmt.Sprintf("%s set to %v", attr, want))
	c.log.Infow("vrouter modified", "switch", sw, "vrouter", vr, attr, want)
	return nil
}

func (c *Configurator) setRouterID(ctx context.Context, sw string, vr fabric.Vrouter) error {
	if vr.Loopback == "" {
		err := errors.New("vrouter has no loopback address")
		c.rec.Failed(sw, "vrouter-modify router-id", err)
		return err
	}
	return modify(ctx, c, sw, vr.Name, "router-id", vr.RouterID, vr.Loopback,
		fabric.VrouterChange{RouterID: vr.Loopback})
}

// CreateCluster creates pair on the switches unless a cluster of that name
// already exists. The existence check runs on the first member and the
// create on the second.
func (c *Configurator) CreateCluster(ctx context.Context, pair fabric.ClusterPair) error {
	var existing []fabric.ClusterInfo
	err := c.call(ctx, pair.A, "cluster-show", func(ctx context.Context) error {
		var err error
		existing, err = c.driver.Clusters(ctx)
		return err
	})
	if err != nil {
		c.rec.Failed(pair.B, "cluster-show", err)
		return err
	}

	if lo.ContainsBy(existing, func(ci fabric.ClusterInfo) bool { return ci.Name == pair.Name }) {
		for _, m := range pair.Members() {
			c.rec.Unchanged(m, fmt.Sprintf("cluster %s already exists", pair.Name))
		}
		return nil
	}

	err = c.apply(ctx, pair.B, "cluster-create", func(ctx context.Context) (bool, error) {
		clusters, err := c.driver.Clusters(ctx)
		return lo.ContainsBy(clusters, func(ci fabric.ClusterInfo) bool { return ci.Name == pair.Name }), err
	}, func(ctx context.Context) error {
		return c.driver.CreateCluster(ctx, pair.B, pair)
	})
	if err != nil {
		c.rec.Failed(pair.A, "cluster-create", err)
		return err
	}

	for _, m := range pair.Members() {
		c.rec.Changed(m, fmt.Sprintf("cluster %s created with %s", pair.Name, pair.Peer(m)))
	}
	c.log.Infow("cluster created", "cluster", pair.Name, "a", pair.A, "b", pair.B)
	return nil
}

func (c *Configurator) ensureVLAN(ctx context.Context, sw string, vlan int) error {
	var vlans []int
	err := c.call(ctx, sw, "vlan-show", func(ctx context.Context) error {
		var err error
		vlans, err = c.driver.VLANs(ctx, sw)
		return err
	})
	if err != nil {
		return err
	}
	if slices.Contains(vlans, vlan) {
		c.rec.Unchanged(sw, fmt.Sprintf("vlan %d already exists", vlan))
		return nil
	}

	if err := c.apply(ctx, sw, "vlan-create", func(ctx context.Context) (bool, error) {
		vlans, err := c.driver.VLANs(ctx, sw)
		return slices.Contains(vlans, vlan), err
	}, func(ctx context.Context) error {
		return c.driver.CreateVLAN(ctx, sw, vlan)
	}); err != nil {
		return err
	}
	c.rec.Changed(sw, fmt.Sprintf("vlan %d created", vlan))
	return nil
}

// ensureInterface adds a VLAN interface with addr unless the vrouter already
// has that address, and returns the interface's NIC.
func (c *Configurator) ensureInterface(ctx context.Context, sw, vr string, addr netip.Prefix, vlan int) (string, error) {
	lookup := func(ctx context.Context) (fabric.Interface, bool, error) {
		ifs, err := c.driver.Interfaces(ctx, vr)
		if err != nil {
			return fabric.Interface{}, false, err
		}
		i, ok := lo.Find(ifs, func(i fabric.Interface) bool { return i.Address.Addr() == addr.Addr() })
		return i, ok, nil
	}
	find := func() (fabric.Interface, bool, error) {
		var (
			i  fabric.Interface
			ok bool
		)
		err := c.call(ctx, sw, "vrouter-interface-show", func(ctx context.Context) error {
			var err error
			i, ok, err = lookup(ctx)
			return err
		})
		return i, ok, err
	}

	existing, ok, err := find()
	if err != nil {
		return "", err
	}
	if ok {
		c.rec.Unchanged(sw, fmt.Sprintf("interface %s already present", addr))
		return existing.NIC, nil
	}

	if err := c.apply(ctx, sw, "vrouter-interface-add", func(ctx context.Context) (bool, error) {
		_, ok, err := lookup(ctx)
		return ok, err
	}, func(ctx context.Context) error {
		return c.driver.AddInterface(ctx, vr, addr, vlan)
	}); err != nil {
		return "", err
	}
	c.rec.Changed(sw, fmt.Sprintf("interface %s vlan %d added", addr, vlan))

	added, ok, err := find()
	if err != nil {
		return "", err
	}
	if !ok {
		err := fmt.Errorf("interface %s not listed after add", addr)
		c.rec.Failed(sw, "vrouter-interface-show", err)
		return "", err
	}
	return added.NIC, nil
}

// clusterInterface prepares one member's end of the internal link and
// returns its vrouter and NIC.
func (c *Configurator) clusterInterface(ctx context.Context, sw string, addr netip.Prefix) (string, string, error) {
	vr, err := c.vrouter(ctx, sw)
	if err != nil {
		return "", "", err
	}
	if err := c.ensureVLAN(ctx, sw, c.opts.VLAN); err != nil {
		c.skip(sw, "vrouter-interface-add", "vlan-create")
		return "", "", err
	}
	nic, err := c.ensureInterface(ctx, sw, vr.Name, addr, c.opts.VLAN)
	if err != nil {
		return "", "", err
	}
	return vr.Name, nic, nil
}

// resolve lists the spine-facing links of a leaf and records a failure.
func (c *Configurator) resolve(ctx context.Context, sw, vr string) ([]fabric.InterfaceLink, error) {
	links, err := c.resolver.Resolve(ctx, sw, vr)
	if err != nil {
		c.rec.Failed(sw, "vrouter-interface-show", err)
		return nil, err
	}
	return links, nil
}
