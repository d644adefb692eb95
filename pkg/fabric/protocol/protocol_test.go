package protocol

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/cluster"
	"github.com/glennswest/leafroute/pkg/fabric/ipam"
	"github.com/glennswest/leafroute/pkg/fabric/sim"
	"github.com/glennswest/leafroute/pkg/fabric/topology"
)

type entry struct {
	sw   string
	kind string
	text string
	err  error
}

type recorder struct {
	mu      sync.Mutex
	entries []entry
}

func (r *recorder) add(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) Changed(sw, s string)   { r.add(entry{sw: sw, kind: "changed", text: s}) }
func (r *recorder) Unchanged(sw, s string) { r.add(entry{sw: sw, kind: "unchanged", text: s}) }
func (r *recorder) Failed(sw, step string, err error) {
	r.add(entry{sw: sw, kind: "failed", text: step, err: err})
}
func (r *recorder) Unreachable(sw string, err error) {
	r.add(entry{sw: sw, kind: "unreachable", err: err})
}

func (r *recorder) filter(sw, kind string) []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entry
	for _, e := range r.entries {
		if (sw == "" || e.sw == sw) && e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var ebgpOpts = Options{
	Protocol:     fabric.ProtocolEBGP,
	ASBase:       65000,
	MaxPaths:     16,
	Redistribute: "connected",
	VLAN:         4040,
	NameLimit:    59,
}

var ospfOpts = Options{
	Protocol:  fabric.ProtocolOSPF,
	AreaBase:  0,
	VLAN:      4040,
	NameLimit: 59,
}

func leafSwitch(name, peer, spineAddr, loopback string) sim.Switch {
	neighbors := []string{"spine1"}
	if peer != "" {
		neighbors = append([]string{peer}, neighbors...)
	}
	return sim.Switch{
		Name:      name,
		Neighbors: neighbors,
		VLANs:     []int{1},
		Vrouter: sim.VrouterSpec{
			Loopback:   loopback,
			Interfaces: []sim.InterfaceSpec{{L3Port: "49", Address: spineAddr}},
		},
	}
}

func fourLeaves(t *testing.T) *sim.Fabric {
	t.Helper()
	f, err := sim.New(sim.Topology{Switches: []sim.Switch{
		leafSwitch("L1", "L2", "10.10.0.1/30", "10.0.0.1"),
		leafSwitch("L2", "L1", "10.10.0.5/30", "10.0.0.2"),
		leafSwitch("L3", "L4", "10.10.0.9/30", "10.0.0.3"),
		leafSwitch("L4", "L3", "10.10.0.13/30", "10.0.0.4"),
	}})
	require.NoError(t, err)
	return f
}

func newConfigurator(t *testing.T, f *sim.Fabric, opts Options, pool string, rec fabric.Recorder) *Configurator {
	t.Helper()
	p, err := ipam.NewPool(pool)
	require.NoError(t, err)
	return New(opts, f, fabric.Direct{}, rec, p, cluster.NewIdentifierAllocator(FirstIdentifier(opts)), zap.NewNop().Sugar())
}

func runOnce(t *testing.T, f *sim.Fabric, opts Options, pool string, leaves []string) (*Plan, *recorder) {
	t.Helper()
	return runWith(t, f, fabric.Direct{}, opts, pool, leaves)
}

// runWith runs the three configuration phases in order, one item at a time.
func runWith(t *testing.T, d fabric.Driver, inv fabric.Invoker, opts Options, pool string, leaves []string) (*Plan, *recorder) {
	t.Helper()
	ctx := context.Background()

	repo, err := topology.Load(ctx, d, inv, leaves, []string{"spine1"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	p, err := ipam.NewPool(pool)
	require.NoError(t, err)
	rec := &recorder{}
	c := New(opts, d, inv, rec, p, cluster.NewIdentifierAllocator(FirstIdentifier(opts)), zap.NewNop().Sugar())

	plan := c.Plan(repo)
	for _, pair := range plan.NewClusters() {
		_ = c.FormCluster(ctx, plan, pair)
	}
	for _, l := range plan.Leaves {
		if !slices.Contains(plan.Unreachable, l) {
			c.ConfigureLeaf(ctx, plan, l)
		}
	}
	for _, pair := range plan.Clusters {
		c.ConfigureCluster(ctx, plan, pair)
	}
	return plan, rec
}

func neighborByAddr(t *testing.T, f *sim.Fabric, vr, addr string) fabric.BGPNeighbor {
	t.Helper()
	ns, err := f.BGPNeighbors(context.Background(), vr)
	require.NoError(t, err)
	for _, n := range ns {
		if n.Address == netip.MustParseAddr(addr) {
			return n
		}
	}
	t.Fatalf("%s has no neighbor %s: %+v", vr, addr, ns)
	return fabric.BGPNeighbor{}
}

func TestEBGPFourLeaves(t *testing.T) {
	f := fourLeaves(t)
	leaves := []string{"L1", "L2", "L3", "L4"}

	plan, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/24", leaves)
	require.Empty(t, rec.filter("", "failed"))

	require.Len(t, plan.Clusters, 2)
	assert.Equal(t, "L1-to-L2-cluster", plan.Clusters[0].Name)
	assert.Equal(t, "L3-to-L4-cluster", plan.Clusters[1].Name)
	assert.Equal(t, map[string]uint32{"L1": 65001, "L2": 65001, "L3": 65002, "L4": 65002}, plan.Identifiers.ByLeaf)

	clusters, err := f.Clusters(context.Background())
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
	assert.Equal(t, 1, f.CallCount("cluster-create", "L2"), "created on the second member")

	vr, err := f.Vrouter(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, uint32(65001), vr.BGPAS)
	assert.Equal(t, 16, vr.BGPMaxPaths)
	assert.Equal(t, "connected", vr.BGPRedistribute)
	assert.Equal(t, "10.0.0.1", vr.RouterID)

	spine := neighborByAddr(t, f, "L1-vrouter", "10.10.0.2")
	assert.Equal(t, uint32(65000), spine.RemoteAS, "spine sessions use the base AS")
	assert.Equal(t, 100, spine.Weight)
	assert.True(t, spine.AllowASIn)

	ibgp := neighborByAddr(t, f, "L1-vrouter", "75.75.75.2")
	assert.Equal(t, uint32(65001), ibgp.RemoteAS)
	assert.True(t, ibgp.NextHopSelf)

	ibgp = neighborByAddr(t, f, "L2-vrouter", "75.75.75.1")
	assert.Equal(t, uint32(65001), ibgp.RemoteAS)

	ibgp = neighborByAddr(t, f, "L3-vrouter", "75.75.75.6")
	assert.Equal(t, uint32(65002), ibgp.RemoteAS)
}

func TestEBGPRerunChangesNothing(t *testing.T) {
	f := fourLeaves(t)
	leaves := []string{"L1", "L2", "L3", "L4"}

	first, _ := runOnce(t, f, ebgpOpts, "75.75.75.0/24", leaves)
	second, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/24", leaves)

	assert.Empty(t, rec.filter("", "failed"))
	assert.Empty(t, rec.filter("", "changed"))
	assert.Empty(t, second.NewClusters())
	assert.Equal(t, first.Identifiers.ByLeaf, second.Identifiers.ByLeaf)
	assert.Equal(t, first.Links, second.Links)
}

func TestEBGPSingleLeafSessions(t *testing.T) {
	f, err := sim.New(sim.Topology{Switches: []sim.Switch{
		leafSwitch("L1", "", "10.10.0.1/30", "10.0.0.1"),
	}})
	require.NoError(t, err)

	plan, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/24", []string{"L1"})
	require.Empty(t, rec.filter("", "failed"))
	assert.Empty(t, plan.Clusters)
	assert.Equal(t, []string{"L1"}, plan.Singletons)

	n := neighborByAddr(t, f, "L1-vrouter", "10.10.0.2")
	assert.Zero(t, n.Weight, "only clustered leaves get a weight")
	assert.False(t, n.AllowASIn)
}

func TestOSPFClusterLink(t *testing.T) {
	f, err := sim.New(sim.Topology{Switches: []sim.Switch{
		leafSwitch("A", "B", "10.10.0.1/30", "10.0.0.1"),
		leafSwitch("B", "A", "10.10.0.5/30", "10.0.0.2"),
		leafSwitch("C", "", "10.10.0.9/30", "10.0.0.3"),
	}})
	require.NoError(t, err)

	plan, rec := runOnce(t, f, ospfOpts, "172.168.0.0/24", []string{"A", "B", "C"})
	require.Empty(t, rec.filter("", "failed"))

	link := plan.Links["A-to-B-cluster"]
	assert.Equal(t, netip.MustParsePrefix("172.168.0.0/30"), link.Network)
	assert.Equal(t, netip.MustParsePrefix("172.168.0.1/30"), link.A)
	assert.Equal(t, netip.MustParsePrefix("172.168.0.2/30"), link.B)

	assert.Equal(t, map[string]uint32{"A": 0, "B": 0, "C": 1}, plan.Identifiers.ByLeaf)

	for _, vr := range []string{"A-vrouter", "B-vrouter"} {
		nets, err := f.OSPFNetworks(context.Background(), vr)
		require.NoError(t, err)
		assert.Contains(t, nets, fabric.OSPFNetwork{Network: netip.MustParsePrefix("172.168.0.0/30"), Area: 0})
	}

	nets, err := f.OSPFNetworks(context.Background(), "C-vrouter")
	require.NoError(t, err)
	assert.Equal(t, []fabric.OSPFNetwork{{Network: netip.MustParsePrefix("10.10.0.8/30"), Area: 1}}, nets)

	vr, err := f.Vrouter(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, "static,connected", vr.OSPFRedistribute)
}

func TestOSPFWithBFD(t *testing.T) {
	f := fourLeaves(t)
	opts := ospfOpts
	opts.BFD = true

	_, rec := runOnce(t, f, opts, "172.168.0.0/24", []string{"L1", "L2"})
	require.Empty(t, rec.filter("", "failed"))

	// spine port plus cluster link
	assert.Equal(t, 2, f.CallCount("vrouter-interface-config-add", "L1-vrouter"))

	f.ResetCalls()
	_, rec = runOnce(t, f, opts, "172.168.0.0/24", []string{"L1", "L2"})
	assert.Empty(t, rec.filter("", "changed"))
	assert.Zero(t, f.CallCount("vrouter-interface-config-add", "L1-vrouter"))
	assert.Zero(t, f.CallCount("vrouter-interface-config-modify", "L1-vrouter"))
}

func TestEnsureBFD(t *testing.T) {
	f := fourLeaves(t)
	ctx := context.Background()
	rec := &recorder{}
	c := newConfigurator(t, f, ospfOpts, "172.168.0.0/24", rec)

	require.NoError(t, c.ensureBFD(ctx, "L1", "L1-vrouter", "eth0.0"))
	require.NoError(t, c.ensureBFD(ctx, "L1", "L1-vrouter", "eth0.0"))
	assert.Equal(t, 1, f.CallCount("vrouter-interface-config-add", "L1-vrouter"))
	assert.Len(t, rec.filter("L1", "changed"), 1)
	assert.Len(t, rec.filter("L1", "unchanged"), 1)

	f.DisableBFD("L2-vrouter", "eth0.0")
	require.NoError(t, c.ensureBFD(ctx, "L2", "L2-vrouter", "eth0.0"))
	assert.Zero(t, f.CallCount("vrouter-interface-config-add", "L2-vrouter"))
	assert.Equal(t, 1, f.CallCount("vrouter-interface-config-modify", "L2-vrouter"))

	state, err := f.InterfaceBFD(ctx, "L2-vrouter", "eth0.0")
	require.NoError(t, err)
	assert.Equal(t, fabric.BFDEnabled, state)
}

func TestClusterInterfaceFailureSkipsSessions(t *testing.T) {
	f := fourLeaves(t)
	f.FailNext("vrouter-interface-add", "L1-vrouter", 1)

	_, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/24", []string{"L1", "L2", "L3", "L4"})

	failed := rec.filter("L1", "failed")
	require.NotEmpty(t, failed)
	assert.Equal(t, "vrouter-interface-add", failed[0].text)

	skipped := rec.filter("L2", "failed")
	require.Len(t, skipped, 1)
	assert.Equal(t, "vrouter-bgp-add", skipped[0].text)
	assert.True(t, errors.Is(skipped[0].err, fabric.ErrSkipped))

	ns, err := f.BGPNeighbors(context.Background(), "L2-vrouter")
	require.NoError(t, err)
	assert.Len(t, ns, 1, "only the spine session")

	assert.Empty(t, rec.filter("L3", "failed"), "other clusters are unaffected")
	neighborByAddr(t, f, "L3-vrouter", "75.75.75.6")
}

func TestPoolExhaustionStopsRemainingClusters(t *testing.T) {
	f := fourLeaves(t)

	plan, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/30", []string{"L1", "L2", "L3", "L4"})
	assert.Equal(t, []string{"L3-to-L4-cluster"}, plan.Unlinked)

	assert.Empty(t, rec.filter("L1", "failed"))
	for _, sw := range []string{"L3", "L4"} {
		failed := rec.filter(sw, "failed")
		require.Len(t, failed, 1, sw)
		assert.Equal(t, "internal-link", failed[0].text)
		assert.True(t, fabric.IsExhausted(failed[0].err))
	}

	clusters, err := f.Clusters(context.Background())
	require.NoError(t, err)
	assert.Len(t, clusters, 1, "an unlinked pair is not created")
	assert.Zero(t, f.CallCount("cluster-create", "L4"))

	// the per-leaf steps of the unlinked cluster still ran
	vr, err := f.Vrouter(context.Background(), "L3")
	require.NoError(t, err)
	assert.Equal(t, uint32(65002), vr.BGPAS)
}

func TestVrouterFailureSkipsLeaf(t *testing.T) {
	f := fourLeaves(t)
	f.FailNext("vrouter-show", "L3", 1)

	_, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/24", []string{"L3"})
	failed := rec.filter("L3", "failed")
	require.Len(t, failed, 2)
	assert.Equal(t, "vrouter-show", failed[0].text)
	assert.True(t, errors.Is(failed[1].err, fabric.ErrSkipped))
	assert.Zero(t, f.CallCount("vrouter-modify", "L3-vrouter"))
}

// retrying calls fn up to three times.
type retrying struct{}

func (retrying) Invoke(ctx context.Context, _, _ string, fn func(context.Context) error) error {
	var err error
	for range 3 {
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}

// lossy applies every add but loses the reply to the first one of each
// kind.
type lossy struct {
	*sim.Fabric
	mu   sync.Mutex
	lost map[string]bool
}

func (l *lossy) reply(op string, err error) error {
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost[op] {
		return nil
	}
	l.lost[op] = true
	return errors.New("connection reset by peer")
}

func (l *lossy) CreateCluster(ctx context.Context, sw string, pair fabric.ClusterPair) error {
	return l.reply("cluster-create", l.Fabric.CreateCluster(ctx, sw, pair))
}

func (l *lossy) CreateVLAN(ctx context.Context, sw string, vlan int) error {
	return l.reply("vlan-create", l.Fabric.CreateVLAN(ctx, sw, vlan))
}

func (l *lossy) AddInterface(ctx context.Context, vr string, addr netip.Prefix, vlan int) error {
	return l.reply("vrouter-interface-add", l.Fabric.AddInterface(ctx, vr, addr, vlan))
}

func (l *lossy) AddInterfaceBFD(ctx context.Context, vr, nic string) error {
	return l.reply("vrouter-interface-config-add", l.Fabric.AddInterfaceBFD(ctx, vr, nic))
}

func (l *lossy) AddBGPNeighbor(ctx context.Context, vr string, n fabric.BGPNeighbor) error {
	return l.reply("vrouter-bgp-add", l.Fabric.AddBGPNeighbor(ctx, vr, n))
}

func (l *lossy) AddOSPFNetwork(ctx context.Context, vr string, n fabric.OSPFNetwork) error {
	return l.reply("vrouter-ospf-add", l.Fabric.AddOSPFNetwork(ctx, vr, n))
}

func TestLostRepliesAreNotReapplied(t *testing.T) {
	bfd := ospfOpts
	bfd.BFD = true

	for name, opts := range map[string]Options{"ebgp": ebgpOpts, "ospf": bfd} {
		t.Run(name, func(t *testing.T) {
			d := &lossy{Fabric: fourLeaves(t), lost: make(map[string]bool)}

			_, rec := runWith(t, d, retrying{}, opts, "75.75.75.0/24", []string{"L1", "L2"})
			assert.Empty(t, rec.filter("", "failed"))
			assert.Len(t, d.lost, map[string]int{"ebgp": 4, "ospf": 5}[name])

			assert.Equal(t, 1, d.CallCount("cluster-create", "L2"))
			assert.Equal(t, 1, d.CallCount("vlan-create", "L1"))
			assert.Equal(t, 1, d.CallCount("vrouter-interface-add", "L1-vrouter"))

			clusters, err := d.Clusters(context.Background())
			require.NoError(t, err)
			assert.Len(t, clusters, 1)
		})
	}
}

func TestForeignClusteredLeafIsSingleton(t *testing.T) {
	f, err := sim.New(sim.Topology{
		Switches: []sim.Switch{
			leafSwitch("L1", "L2", "10.10.0.1/30", "10.0.0.1"),
			leafSwitch("L2", "L1", "10.10.0.5/30", "10.0.0.2"),
			{Name: "B1", Neighbors: []string{"L1"}},
		},
		Clusters: []fabric.ClusterInfo{{Name: "L1-to-B1-cluster", Node1: "L1", Node2: "B1"}},
	})
	require.NoError(t, err)

	plan, rec := runOnce(t, f, ebgpOpts, "75.75.75.0/24", []string{"L1", "L2"})
	require.Empty(t, rec.filter("", "failed"))
	assert.Equal(t, []string{"L1"}, plan.ForeignClustered)
	assert.Empty(t, plan.Clusters)
	assert.Equal(t, []string{"L1", "L2"}, plan.Singletons)
	assert.Zero(t, f.CallCount("cluster-create", "L2"))
}
