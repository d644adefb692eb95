// Package peerlink derives the address of the device on the far side of
// each routed port of a leaf vrouter.
package peerlink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/ipam"
)

// Resolver lists vrouter interfaces and resolves their peers.
type Resolver struct {
	driver fabric.Driver
	inv    fabric.Invoker
	log    *zap.SugaredLogger
}

// NewResolver returns a Resolver that queries d through inv.
func NewResolver(d fabric.Driver, inv fabric.Invoker, log *zap.SugaredLogger) *Resolver {
	return &Resolver{driver: d, inv: inv, log: log.Named("peerlink")}
}

// Resolve returns one link per addressed routed port of vrouter vr on
// switch sw. VLAN interfaces (cluster links created by this tool) are not
// spine-facing and are left out. Ports whose address does not fit the
// numbering convention are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, sw, vr string) ([]fabric.InterfaceLink, error) {
	var ifs []fabric.Interface
	err := r.inv.Invoke(ctx, sw, "vrouter-interface-show", func(ctx context.Context) error {
		var err error
		ifs, err = r.driver.Interfaces(ctx, vr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing interfaces of %s: %w", vr, err)
	}

	links, skipped := Links(vr, ifs)
	for _, s := range skipped {
		r.log.Warnw("cannot resolve peer address", "switch", sw, "vrouter", vr, "nic", s.NIC, "error", s.Err)
	}
	for _, l := range links {
		if !ipam.IsPointToPoint(l.Network) {
			r.log.Warnw("routed port is not a point-to-point subnet, peer assumed by /30 convention",
				"switch", sw, "nic", l.NIC, "network", l.Network, "peer", l.Peer)
		}
	}
	r.log.Debugw("peer links resolved", "switch", sw, "vrouter", vr, "links", len(links), "skipped", len(skipped))
	return links, nil
}

// Skipped is a port whose peer could not be derived.
type Skipped struct {
	NIC string
	Err error
}

// Links applies the peer convention to a vrouter's interfaces.
func Links(vr string, ifs []fabric.Interface) ([]fabric.InterfaceLink, []Skipped) {
	var (
		links   []fabric.InterfaceLink
		skipped []Skipped
	)
	for _, i := range ifs {
		if i.VLAN != 0 || !i.Address.IsValid() {
			continue
		}
		peer, err := ipam.PeerAddress(i.Address)
		if err != nil {
			skipped = append(skipped, Skipped{NIC: i.NIC, Err: err})
			continue
		}
		links = append(links, fabric.InterfaceLink{
			Vrouter: vr,
			NIC:     i.NIC,
			Local:   i.Address.Addr(),
			Peer:    peer,
			Network: ipam.LinkNetwork(i.Address),
		})
	}
	return links, skipped
}
