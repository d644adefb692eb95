package sim

import (
	"context"
	"fmt"
	"net/netip"
	"slices"

	"github.com/glennswest/leafroute/pkg/fabric"
)

var _ fabric.Driver = (*Fabric)(nil)

func (f *Fabric) FabricNodes(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.seed("fabric-node-show"); err != nil {
		return nil, err
	}
	return slices.Clone(f.order), nil
}

func (f *Fabric) Clusters(_ context.Context) ([]fabric.ClusterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.seed("cluster-show"); err != nil {
		return nil, err
	}
	return slices.Clone(f.clusters), nil
}

func (f *Fabric) Neighbors(_ context.Context, sw string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.switchFor("lldp-show", sw)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.neighbors), nil
}

func (f *Fabric) CreateCluster(_ context.Context, sw string, pair fabric.ClusterPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.switchFor("cluster-create", sw); err != nil {
		return err
	}
	for _, c := range f.clusters {
		if c.Name == pair.Name {
			return fmt.Errorf("cluster %s already exists", pair.Name)
		}
		for _, member := range pair.Members() {
			if c.Node1 == member || c.Node2 == member {
				return fmt.Errorf("%s is already a member of cluster %s", member, c.Name)
			}
		}
	}
	f.clusters = append(f.clusters, fabric.ClusterInfo{Name: pair.Name, Node1: pair.A, Node2: pair.B})
	return nil
}

func (f *Fabric) VLANs(_ context.Context, sw string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.switchFor("vlan-show", sw)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.vlans), nil
}

func (f *Fabric) CreateVLAN(_ context.Context, sw string, vlan int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.switchFor("vlan-create", sw)
	if err != nil {
		return err
	}
	if slices.Contains(st.vlans, vlan) {
		return fmt.Errorf("vlan %d already exists on %s", vlan, sw)
	}
	st.vlans = append(st.vlans, vlan)
	return nil
}

func (f *Fabric) Vrouter(_ context.Context, sw string) (fabric.Vrouter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.switchFor("vrouter-show", sw)
	if err != nil {
		return fabric.Vrouter{}, err
	}
	return st.vrouter, nil
}

func (f *Fabric) ModifyVrouter(_ context.Context, vr string, change fabric.VrouterChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-modify", vr)
	if err != nil {
		return err
	}
	if change.RouterID != "" {
		st.vrouter.RouterID = change.RouterID
	}
	if change.BGPAS != 0 {
		st.vrouter.BGPAS = change.BGPAS
	}
	if change.BGPMaxPaths != 0 {
		st.vrouter.BGPMaxPaths = change.BGPMaxPaths
	}
	if change.BGPRedistribute != "" {
		st.vrouter.BGPRedistribute = change.BGPRedistribute
	}
	if change.OSPFRedistribute != "" {
		st.vrouter.OSPFRedistribute = change.OSPFRedistribute
	}
	return nil
}

func (f *Fabric) Interfaces(_ context.Context, vr string) ([]fabric.Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-interface-show", vr)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.interfaces), nil
}

func (f *Fabric) AddInterface(_ context.Context, vr string, addr netip.Prefix, vlan int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-interface-add", vr)
	if err != nil {
		return err
	}
	if !slices.Contains(st.vlans, vlan) {
		return fmt.Errorf("vlan %d does not exist on %s", vlan, st.name)
	}
	for _, i := range st.interfaces {
		if i.Address.Addr() == addr.Addr() {
			return fmt.Errorf("address %s already in use on %s", addr, vr)
		}
	}
	st.interfaces = append(st.interfaces, fabric.Interface{
		NIC:     fmt.Sprintf("eth%d.%d", len(st.interfaces), vlan),
		Address: addr,
		VLAN:    vlan,
	})
	return nil
}

func (f *Fabric) InterfaceBFD(_ context.Context, vr, nic string) (fabric.BFDState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-interface-config-show", vr)
	if err != nil {
		return fabric.BFDAbsent, err
	}
	enabled, ok := st.bfd[nic]
	switch {
	case !ok:
		return fabric.BFDAbsent, nil
	case enabled:
		return fabric.BFDEnabled, nil
	default:
		return fabric.BFDDisabled, nil
	}
}

func (f *Fabric) AddInterfaceBFD(_ context.Context, vr, nic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-interface-config-add", vr)
	if err != nil {
		return err
	}
	if _, ok := st.bfd[nic]; ok {
		return fmt.Errorf("interface config for %s already exists on %s", nic, vr)
	}
	st.bfd[nic] = true
	return nil
}

func (f *Fabric) ModifyInterfaceBFD(_ context.Context, vr, nic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-interface-config-modify", vr)
	if err != nil {
		return err
	}
	if _, ok := st.bfd[nic]; !ok {
		return fmt.Errorf("no interface config for %s on %s", nic, vr)
	}
	st.bfd[nic] = true
	return nil
}

// DisableBFD seeds an interface config with failure detection turned off.
func (f *Fabric) DisableBFD(vr, nic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.vrouters[vr]; ok {
		st.bfd[nic] = false
	}
}

func (f *Fabric) BGPNeighbors(_ context.Context, vr string) ([]fabric.BGPNeighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-bgp-show", vr)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.bgp), nil
}

func (f *Fabric) AddBGPNeighbor(_ context.Context, vr string, n fabric.BGPNeighbor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-bgp-add", vr)
	if err != nil {
		return err
	}
	for _, existing := range st.bgp {
		if existing.Address == n.Address {
			return fmt.Errorf("neighbor %s already exists on %s", n.Address, vr)
		}
	}
	st.bgp = append(st.bgp, n)
	return nil
}

func (f *Fabric) OSPFNetworks(_ context.Context, vr string) ([]fabric.OSPFNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-ospf-show", vr)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.ospf), nil
}

func (f *Fabric) AddOSPFNetwork(_ context.Context, vr string, n fabric.OSPFNetwork) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.vrouterFor("vrouter-ospf-add", vr)
	if err != nil {
		return err
	}
	for _, existing := range st.ospf {
		if existing.Network == n.Network {
			return fmt.Errorf("network %s already exists on %s", n.Network, vr)
		}
	}
	st.ospf = append(st.ospf, n)
	return nil
}
