package sim

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/leafroute/pkg/fabric"
)

const fabricYAML = `
switches:
  - name: leaf1
    neighbors: [leaf2, spine1, host-a]
    vlans: [1]
    vrouter:
      loopback: 10.0.0.1
      interfaces:
        - l3Port: "49"
          address: 172.168.0.1/30
  - name: leaf2
    neighbors: [leaf1, spine1]
    vrouter:
      name: custom-vr
      loopback: 10.0.0.2
  - name: leaf3
    unreachable: true
clusters:
  - name: old-cluster
    node1: leaf4
    node2: leaf5
`

func loadTestFabric(t *testing.T) *Fabric {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fabric.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fabricYAML), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	return f
}

func TestLoadFile(t *testing.T) {
	f := loadTestFabric(t)
	ctx := context.Background()

	nodes, err := f.FabricNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"leaf1", "leaf2", "leaf3"}, nodes)

	clusters, err := f.Clusters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []fabric.ClusterInfo{{Name: "old-cluster", Node1: "leaf4", Node2: "leaf5"}}, clusters)

	vr, err := f.Vrouter(ctx, "leaf1")
	require.NoError(t, err)
	assert.Equal(t, "leaf1-vrouter", vr.Name)
	assert.Equal(t, "10.0.0.1", vr.Loopback)

	vr2, err := f.Vrouter(ctx, "leaf2")
	require.NoError(t, err)
	assert.Equal(t, "custom-vr", vr2.Name)

	ifs, err := f.Interfaces(ctx, "leaf1-vrouter")
	require.NoError(t, err)
	require.Len(t, ifs, 1)
	assert.Equal(t, "eth0.0", ifs[0].NIC)
	assert.Equal(t, netip.MustParsePrefix("172.168.0.1/30"), ifs[0].Address)
}

func TestNewRejectsBadTopology(t *testing.T) {
	_, err := New(Topology{Switches: []Switch{{Name: "a"}, {Name: "a"}}})
	assert.Error(t, err)

	_, err = New(Topology{Switches: []Switch{{
		Name:    "a",
		Vrouter: VrouterSpec{Interfaces: []InterfaceSpec{{Address: "not-an-address"}}},
	}}})
	assert.Error(t, err)
}

func TestUnreachable(t *testing.T) {
	f := loadTestFabric(t)
	ctx := context.Background()

	_, err := f.Neighbors(ctx, "leaf3")
	assert.True(t, fabric.IsUnreachable(err))

	_, err = f.Neighbors(ctx, "nope")
	assert.True(t, fabric.IsUnreachable(err))

	f.SetUnreachable("leaf3", false)
	_, err = f.Neighbors(ctx, "leaf3")
	assert.NoError(t, err)
}

func TestDuplicateAddsFail(t *testing.T) {
	f := loadTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.CreateVLAN(ctx, "leaf1", 4040))
	assert.Error(t, f.CreateVLAN(ctx, "leaf1", 4040))

	addr := netip.MustParsePrefix("75.75.75.1/30")
	assert.Error(t, f.AddInterface(ctx, "leaf1-vrouter", addr, 999), "vlan must exist")
	require.NoError(t, f.AddInterface(ctx, "leaf1-vrouter", addr, 4040))
	assert.Error(t, f.AddInterface(ctx, "leaf1-vrouter", addr, 4040))

	n := fabric.BGPNeighbor{Address: netip.MustParseAddr("172.168.0.2"), RemoteAS: 65000}
	require.NoError(t, f.AddBGPNeighbor(ctx, "leaf1-vrouter", n))
	assert.Error(t, f.AddBGPNeighbor(ctx, "leaf1-vrouter", n))

	net := fabric.OSPFNetwork{Network: netip.MustParsePrefix("172.168.0.0/30")}
	require.NoError(t, f.AddOSPFNetwork(ctx, "leaf1-vrouter", net))
	assert.Error(t, f.AddOSPFNetwork(ctx, "leaf1-vrouter", net))

	pair := fabric.ClusterPair{Name: "leaf1-to-leaf2-cluster", A: "leaf1", B: "leaf2"}
	require.NoError(t, f.CreateCluster(ctx, "leaf1", pair))
	assert.Error(t, f.CreateCluster(ctx, "leaf1", pair))
	assert.Error(t, f.CreateCluster(ctx, "leaf1", fabric.ClusterPair{Name: "other", A: "leaf2", B: "leaf3"}))
}

func TestBFDStates(t *testing.T) {
	f := loadTestFabric(t)
	ctx := context.Background()

	state, err := f.InterfaceBFD(ctx, "leaf1-vrouter", "eth0.0")
	require.NoError(t, err)
	assert.Equal(t, fabric.BFDAbsent, state)
	assert.Error(t, f.ModifyInterfaceBFD(ctx, "leaf1-vrouter", "eth0.0"))

	f.DisableBFD("leaf1-vrouter", "eth0.0")
	state, _ = f.InterfaceBFD(ctx, "leaf1-vrouter", "eth0.0")
	assert.Equal(t, fabric.BFDDisabled, state)
	assert.Error(t, f.AddInterfaceBFD(ctx, "leaf1-vrouter", "eth0.0"))

	require.NoError(t, f.ModifyInterfaceBFD(ctx, "leaf1-vrouter", "eth0.0"))
	state, _ = f.InterfaceBFD(ctx, "leaf1-vrouter", "eth0.0")
	assert.Equal(t, fabric.BFDEnabled, state)
	assert.Equal(t, "enabled", state.String())
}

func TestFailureInjection(t *testing.T) {
	f := loadTestFabric(t)
	ctx := context.Background()

	f.FailNext("vlan-create", "leaf1", 2)
	assert.ErrorIs(t, f.CreateVLAN(ctx, "leaf1", 10), errSimulated)
	assert.ErrorIs(t, f.CreateVLAN(ctx, "leaf1", 10), errSimulated)
	assert.NoError(t, f.CreateVLAN(ctx, "leaf1", 10))
	assert.Equal(t, 3, f.CallCount("vlan-create", "leaf1"))

	f.ResetCalls()
	assert.Empty(t, f.Calls(""))

	f.RejectCredentials()
	_, err := f.FabricNodes(ctx)
	assert.True(t, fabric.IsAuthentication(err))
	var ae *fabric.AuthenticationError
	assert.True(t, errors.As(err, &ae))
}

func TestVrouterModifyKeepsUnsetFields(t *testing.T) {
	f := loadTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.ModifyVrouter(ctx, "leaf1-vrouter", fabric.VrouterChange{BGPAS: 65001, BGPMaxPaths: 16}))
	require.NoError(t, f.ModifyVrouter(ctx, "leaf1-vrouter", fabric.VrouterChange{RouterID: "10.0.0.1"}))

	vr, err := f.Vrouter(ctx, "leaf1")
	require.NoError(t, err)
	assert.Equal(t, uint32(65001), vr.BGPAS)
	assert.Equal(t, 16, vr.BGPMaxPaths)
	assert.Equal(t, "10.0.0.1", vr.RouterID)
}
