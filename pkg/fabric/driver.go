package fabric

import (
	"context"
	"net/netip"
)

// Driver abstracts the switch command interface. Every call is synchronous
// and must be safe to repeat: the engine retries failed calls.
//
// Switch-scoped calls take the switch name; vrouter-scoped calls take the
// vrouter name returned by Vrouter.
type Driver interface {
	// Fabric-wide queries
	FabricNodes(ctx context.Context) ([]string, error)
	Clusters(ctx context.Context) ([]ClusterInfo, error)

	// Switch queries and operations
	Neighbors(ctx context.Context, sw string) ([]string, error)
	CreateCluster(ctx context.Context, sw string, pair ClusterPair) error
	VLANs(ctx context.Context, sw string) ([]int, error)
	CreateVLAN(ctx context.Context, sw string, vlan int) error
	Vrouter(ctx context.Context, sw string) (Vrouter, error)

	// Vrouter operations
	ModifyVrouter(ctx context.Context, vrouter string, change VrouterChange) error
	Interfaces(ctx context.Context, vrouter string) ([]Interface, error)
	AddInterface(ctx context.Context, vrouter string, addr netip.Prefix, vlan int) error
	InterfaceBFD(ctx context.Context, vrouter, nic string) (BFDState, error)
	AddInterfaceBFD(ctx context.Context, vrouter, nic string) error
	ModifyInterfaceBFD(ctx context.Context, vrouter, nic string) error
	BGPNeighbors(ctx context.Context, vrouter string) ([]BGPNeighbor, error)
	AddBGPNeighbor(ctx context.Context, vrouter string, n BGPNeighbor) error
	OSPFNetworks(ctx context.Context, vrouter string) ([]OSPFNetwork, error)
	AddOSPFNetwork(ctx context.Context, vrouter string, n OSPFNetwork) error
}
