package fabric

import (
	"fmt"
	"net/netip"
)

// Protocol selects the routing protocol brought up on the leaf vrouters.
type Protocol string

const (
	ProtocolEBGP Protocol = "ebgp"
	ProtocolOSPF Protocol = "ospf"
)

// Role is a switch's position in the fabric. Spines are third-party
// equipment and are never configured.
type Role string

const (
	RoleLeaf  Role = "leaf"
	RoleSpine Role = "spine"
)

// SwitchNode is a leaf as seen at topology-load time. It is read-only for
// the rest of the run.
type SwitchNode struct {
	Name      string   `json:"name" yaml:"name"`
	Role      Role     `json:"role" yaml:"role"`
	Index     int      `json:"index" yaml:"index"` // position in the leaf list
	Reachable bool     `json:"reachable" yaml:"reachable"`
	Neighbors []string `json:"neighbors,omitempty" yaml:"neighbors,omitempty"` // fabric-known LLDP neighbors only
}

// ClusterPair is an unordered pair of directly connected leaves.
type ClusterPair struct {
	Name     string `json:"name" yaml:"name"`
	A        string `json:"a" yaml:"a"`
	B        string `json:"b" yaml:"b"`
	Existing bool   `json:"existing,omitempty" yaml:"existing,omitempty"` // formed by a prior run or stage
}

// Members returns both member names, A first.
func (c ClusterPair) Members() []string {
	return []string{c.A, c.B}
}

// Has reports whether name is a member of the pair.
func (c ClusterPair) Has(name string) bool {
	return c.A == name || c.B == name
}

// Peer returns the other member of the pair, or "" if name is not a member.
func (c ClusterPair) Peer(name string) string {
	switch name {
	case c.A:
		return c.B
	case c.B:
		return c.A
	}
	return ""
}

func (c ClusterPair) String() string {
	return fmt.Sprintf("%s(%s,%s)", c.Name, c.A, c.B)
}

// ClusterInfo is a cluster as reported by the switches.
type ClusterInfo struct {
	Name  string `json:"name" yaml:"name"`
	Node1 string `json:"node1" yaml:"node1"`
	Node2 string `json:"node2" yaml:"node2"`
}

// Vrouter is the per-switch routing instance. It is created by the
// bootstrap stage; this module only modifies it.
type Vrouter struct {
	Name             string `json:"name" yaml:"name"`
	Switch           string `json:"switch" yaml:"switch"`
	RouterID         string `json:"routerID,omitempty" yaml:"routerID,omitempty"`
	Loopback         string `json:"loopback,omitempty" yaml:"loopback,omitempty"`
	BGPAS            uint32 `json:"bgpAS,omitempty" yaml:"bgpAS,omitempty"`
	BGPMaxPaths      int    `json:"bgpMaxPaths,omitempty" yaml:"bgpMaxPaths,omitempty"`
	BGPRedistribute  string `json:"bgpRedistribute,omitempty" yaml:"bgpRedistribute,omitempty"`
	OSPFRedistribute string `json:"ospfRedistribute,omitempty" yaml:"ospfRedistribute,omitempty"`
}

// VrouterChange is a single vrouter-modify call. Zero fields are left
// untouched.
type VrouterChange struct {
	RouterID         string
	BGPAS            uint32
	BGPMaxPaths      int
	BGPRedistribute  string
	OSPFRedistribute string
}

// Interface is a layer-3 vrouter interface. L3Port is empty for VLAN
// interfaces.
type Interface struct {
	NIC     string       `json:"nic" yaml:"nic"`
	L3Port  string       `json:"l3Port,omitempty" yaml:"l3Port,omitempty"`
	Address netip.Prefix `json:"address" yaml:"address"`
	VLAN    int          `json:"vlan,omitempty" yaml:"vlan,omitempty"`
}

// InterfaceLink pairs a local interface with the derived address of the
// directly attached peer.
type InterfaceLink struct {
	Vrouter string       `json:"vrouter" yaml:"vrouter"`
	NIC     string       `json:"nic" yaml:"nic"`
	Local   netip.Addr   `json:"local" yaml:"local"`
	Peer    netip.Addr   `json:"peer" yaml:"peer"`
	Network netip.Prefix `json:"network" yaml:"network"`
	VLAN    int          `json:"vlan,omitempty" yaml:"vlan,omitempty"`
}

// BFDState is the failure-detection status of one vrouter interface.
type BFDState int

const (
	BFDAbsent BFDState = iota
	BFDDisabled
	BFDEnabled
)

func (s BFDState) String() string {
	switch s {
	case BFDAbsent:
		return "absent"
	case BFDDisabled:
		return "disabled"
	case BFDEnabled:
		return "enabled"
	}
	return fmt.Sprintf("BFDState(%d)", int(s))
}

// BGPNeighbor is a vrouter BGP session.
type BGPNeighbor struct {
	Address     netip.Addr `json:"address" yaml:"address"`
	RemoteAS    uint32     `json:"remoteAS" yaml:"remoteAS"`
	BFD         bool       `json:"bfd,omitempty" yaml:"bfd,omitempty"`
	Weight      int        `json:"weight,omitempty" yaml:"weight,omitempty"`
	AllowASIn   bool       `json:"allowASIn,omitempty" yaml:"allowASIn,omitempty"`
	NextHopSelf bool       `json:"nextHopSelf,omitempty" yaml:"nextHopSelf,omitempty"`
}

// OSPFNetwork is a network statement on a vrouter.
type OSPFNetwork struct {
	Network netip.Prefix `json:"network" yaml:"network"`
	Area    uint32       `json:"area" yaml:"area"`
}
