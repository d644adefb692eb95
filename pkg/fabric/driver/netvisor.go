package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/ipam"
)

var _ fabric.Driver = (*Netvisor)(nil)

var (
	authPattern        = regexp.MustCompile(`(?i)(authentication fail|unable to authenticate|invalid (user|password|credentials)|permission denied|access denied|login incorrect)`)
	unreachablePattern = regexp.MustCompile(`(?i)(unreachable|timed? ?out|connection refused|connection reset|no route to host|not responding|could not connect|not connected)`)
)

// Netvisor implements fabric.Driver by issuing Netvisor CLI commands
// through a Runner. Fabric-wide and vrouter commands run on the seed
// switch; switch-scoped ones are prefixed with "switch <name>".
type Netvisor struct {
	run  Runner
	seed string
	log  *zap.SugaredLogger

	mu       sync.Mutex
	location map[string]string // vrouter -> switch
}

// NewNetvisor returns a Driver backed by run. seed names the switch the
// runner talks to and is used when reporting fabric-wide failures.
func NewNetvisor(run Runner, seed string, log *zap.SugaredLogger) *Netvisor {
	return &Netvisor{
		run:      run,
		seed:     seed,
		log:      log.Named("netvisor-driver"),
		location: make(map[string]string),
	}
}

// ─── Command Plumbing ────────────────────────────────────────────────────────

// cli runs args, scoped to sw when sw is not empty. host is the switch
// named in classified errors.
func (d *Netvisor) cli(ctx context.Context, sw, host string, args ...string) (string, error) {
	if sw != "" {
		args = append([]string{"switch", sw}, args...)
	}
	d.log.Debugw("cli", "args", strings.Join(args, " "))
	out, err := d.run.Run(ctx, args)
	if err != nil {
		return "", classify(host, err)
	}
	return out, nil
}

// show runs a *-show command and splits its parsable output into rows.
func (d *Netvisor) show(ctx context.Context, sw, host string, args ...string) ([][]string, error) {
	args = append(args, "no-show-headers", "parsable-delim", ",")
	out, err := d.cli(ctx, sw, host, args...)
	if err != nil {
		return nil, err
	}
	return parseRows(out), nil
}

func (d *Netvisor) vrouterHost(vr string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sw, ok := d.location[vr]; ok {
		return sw
	}
	return d.seed
}

// parseRows splits comma-delimited CLI output. Blank lines are dropped.
func parseRows(out string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, fields)
	}
	return rows
}

// column returns row[i]. Missing fields and the CLI's "-" placeholder
// read as "".
func column(row []string, i int) string {
	if i < len(row) && row[i] != "-" {
		return row[i]
	}
	return ""
}

func firstColumn(rows [][]string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := column(row, 0); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func flag(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "on", "true", "enable", "enabled":
		return true
	}
	return false
}

// classify maps runner failures onto the fabric error kinds.
func classify(host string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if authPattern.MatchString(msg) {
		return &fabric.AuthenticationError{Host: host, Detail: msg}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || unreachablePattern.MatchString(msg) {
		return &fabric.UnreachableError{Host: host, Err: err}
	}
	return err
}

// ─── Fabric Queries ──────────────────────────────────────────────────────────

func (d *Netvisor) FabricNodes(ctx context.Context) ([]string, error) {
	rows, err := d.show(ctx, "", d.seed, "fabric-node-show", "format", "name")
	if err != nil {
		return nil, err
	}
	return firstColumn(rows), nil
}

func (d *Netvisor) Clusters(ctx context.Context) ([]fabric.ClusterInfo, error) {
	rows, err := d.show(ctx, "", d.seed, "cluster-show", "format", "name,cluster-node-1,cluster-node-2")
	if err != nil {
		return nil, err
	}
	out := make([]fabric.ClusterInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, fabric.ClusterInfo{
			Name:  column(row, 0),
			Node1: column(row, 1),
			Node2: column(row, 2),
		})
	}
	return out, nil
}

// ─── Switch Operations ───────────────────────────────────────────────────────

func (d *Netvisor) Neighbors(ctx context.Context, sw string) ([]string, error) {
	rows, err := d.show(ctx, sw, sw, "lldp-show", "format", "sys-name")
	if err != nil {
		return nil, err
	}
	return firstColumn(rows), nil
}

func (d *Netvisor) CreateCluster(ctx context.Context, sw string, pair fabric.ClusterPair) error {
	_, err := d.cli(ctx, sw, sw, "cluster-create", "name", pair.Name,
		"cluster-node-1", pair.A, "cluster-node-2", pair.B)
	return err
}

func (d *Netvisor) VLANs(ctx context.Context, sw string) ([]int, error) {
	rows, err := d.show(ctx, sw, sw, "vlan-show", "format", "id")
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(rows))
	for _, v := range firstColumn(rows) {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing vlan id %q on %s: %w", v, sw, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (d *Netvisor) CreateVLAN(ctx context.Context, sw string, vlan int) error {
	_, err := d.cli(ctx, sw, sw, "vlan-create", "id", strconv.Itoa(vlan), "scope", "local")
	return err
}

func (d *Netvisor) Vrouter(ctx context.Context, sw string) (fabric.Vrouter, error) {
	rows, err := d.show(ctx, "", sw, "vrouter-show", "location", sw,
		"format", "name,router-id,bgp-as,bgp-max-paths,bgp-redistribute,ospf-redistribute")
	if err != nil {
		return fabric.Vrouter{}, err
	}
	if len(rows) == 0 || column(rows[0], 0) == "" {
		return fabric.Vrouter{}, fmt.Errorf("no vrouter on %s", sw)
	}
	row := rows[0]

	vr := fabric.Vrouter{
		Name:             column(row, 0),
		Switch:           sw,
		RouterID:         column(row, 1),
		BGPRedistribute:  column(row, 4),
		OSPFRedistribute: column(row, 5),
	}
	if as := column(row, 2); as != "" {
		n, err := strconv.ParseUint(as, 10, 32)
		if err != nil {
			return fabric.Vrouter{}, fmt.Errorf("parsing bgp-as %q of %s: %w", as, vr.Name, err)
		}
		vr.BGPAS = uint32(n)
	}
	if vr.BGPMaxPaths, err = atoi(column(row, 3)); err != nil {
		return fabric.Vrouter{}, fmt.Errorf("parsing bgp-max-paths of %s: %w", vr.Name, err)
	}

	d.mu.Lock()
	d.location[vr.Name] = sw
	d.mu.Unlock()

	loops, err := d.show(ctx, "", sw, "vrouter-loopback-interface-show", "vrouter-name", vr.Name, "format", "ip")
	if err != nil {
		return fabric.Vrouter{}, err
	}
	if ips := firstColumn(loops); len(ips) > 0 {
		vr.Loopback = strings.Split(ips[0], "/")[0]
	}
	return vr, nil
}

// ─── Vrouter Operations ──────────────────────────────────────────────────────

func (d *Netvisor) ModifyVrouter(ctx context.Context, vr string, change fabric.VrouterChange) error {
	args := []string{"vrouter-modify", "name", vr}
	if change.RouterID != "" {
		args = append(args, "router-id", change.RouterID)
	}
	if change.BGPAS != 0 {
		args = append(args, "bgp-as", strconv.FormatUint(uint64(change.BGPAS), 10))
	}
	if change.BGPMaxPaths != 0 {
		args = append(args, "bgp-max-paths", strconv.Itoa(change.BGPMaxPaths))
	}
	if change.BGPRedistribute != "" {
		args = append(args, "bgp-redistribute", change.BGPRedistribute)
	}
	if change.OSPFRedistribute != "" {
		args = append(args, "ospf-redistribute", change.OSPFRedistribute)
	}
	if len(args) == 3 {
		return nil
	}
	_, err := d.cli(ctx, "", d.vrouterHost(vr), args...)
	return err
}

func (d *Netvisor) Interfaces(ctx context.Context, vr string) ([]fabric.Interface, error) {
	rows, err := d.show(ctx, "", d.vrouterHost(vr), "vrouter-interface-show", "vrouter-name", vr,
		"format", "nic,l3-port,ip,vlan")
	if err != nil {
		return nil, err
	}
	out := make([]fabric.Interface, 0, len(rows))
	for _, row := range rows {
		ifc := fabric.Interface{NIC: column(row, 0), L3Port: column(row, 1)}
		// An unparsable address stays invalid; link resolution skips it.
		ifc.Address, _ = netip.ParsePrefix(column(row, 2))
		if ifc.VLAN, err = atoi(column(row, 3)); err != nil {
			return nil, fmt.Errorf("parsing vlan of %s on %s: %w", ifc.NIC, vr, err)
		}
		out = append(out, ifc)
	}
	return out, nil
}

func (d *Netvisor) AddInterface(ctx context.Context, vr string, addr netip.Prefix, vlan int) error {
	_, err := d.cli(ctx, "", d.vrouterHost(vr), "vrouter-interface-add", "vrouter-name", vr,
		"ip", addr.String(), "vlan", strconv.Itoa(vlan))
	return err
}

func (d *Netvisor) InterfaceBFD(ctx context.Context, vr, nic string) (fabric.BFDState, error) {
	rows, err := d.show(ctx, "", d.vrouterHost(vr), "vrouter-interface-config-show", "vrouter-name", vr,
		"nic", nic, "format", "ospf-bfd")
	if err != nil {
		return fabric.BFDAbsent, err
	}
	if len(rows) == 0 {
		return fabric.BFDAbsent, nil
	}
	if flag(column(rows[0], 0)) {
		return fabric.BFDEnabled, nil
	}
	return fabric.BFDDisabled, nil
}

func (d *Netvisor) AddInterfaceBFD(ctx context.Context, vr, nic string) error {
	_, err := d.cli(ctx, "", d.vrouterHost(vr), "vrouter-interface-config-add", "vrouter-name", vr,
		"nic", nic, "ospf-bfd", "enable")
	return err
}

func (d *Netvisor) ModifyInterfaceBFD(ctx context.Context, vr, nic string) error {
	_, err := d.cli(ctx, "", d.vrouterHost(vr), "vrouter-interface-config-modify", "vrouter-name", vr,
		"nic", nic, "ospf-bfd", "enable")
	return err
}

func (d *Netvisor) BGPNeighbors(ctx context.Context, vr string) ([]fabric.BGPNeighbor, error) {
	rows, err := d.show(ctx, "", d.vrouterHost(vr), "vrouter-bgp-show", "vrouter-name", vr,
		"format", "neighbor,remote-as,bfd,weight,allowas-in,next-hop-self")
	if err != nil {
		return nil, err
	}
	out := make([]fabric.BGPNeighbor, 0, len(rows))
	for _, row := range rows {
		addr, err := netip.ParseAddr(column(row, 0))
		if err != nil {
			return nil, fmt.Errorf("parsing bgp neighbor on %s: %w", vr, err)
		}
		as, err := strconv.ParseUint(column(row, 1), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing remote-as of %s on %s: %w", addr, vr, err)
		}
		weight, err := atoi(column(row, 3))
		if err != nil {
			return nil, fmt.Errorf("parsing weight of %s on %s: %w", addr, vr, err)
		}
		out = append(out, fabric.BGPNeighbor{
			Address:     addr,
			RemoteAS:    uint32(as),
			BFD:         flag(column(row, 2)),
			Weight:      weight,
			AllowASIn:   flag(column(row, 4)),
			NextHopSelf: flag(column(row, 5)),
		})
	}
	return out, nil
}

func (d *Netvisor) AddBGPNeighbor(ctx context.Context, vr string, n fabric.BGPNeighbor) error {
	args := []string{"vrouter-bgp-add", "vrouter-name", vr,
		"neighbor", n.Address.String(), "remote-as", strconv.FormatUint(uint64(n.RemoteAS), 10)}
	if n.BFD {
		args = append(args, "bfd")
	}
	if n.Weight != 0 {
		args = append(args, "weight", strconv.Itoa(n.Weight))
	}
	if n.AllowASIn {
		args = append(args, "allowas-in")
	}
	if n.NextHopSelf {
		args = append(args, "next-hop-self")
	}
	_, err := d.cli(ctx, "", d.vrouterHost(vr), args...)
	return err
}

func (d *Netvisor) OSPFNetworks(ctx context.Context, vr string) ([]fabric.OSPFNetwork, error) {
	rows, err := d.show(ctx, "", d.vrouterHost(vr), "vrouter-ospf-show", "vrouter-name", vr,
		"format", "network,ospf-area")
	if err != nil {
		return nil, err
	}
	out := make([]fabric.OSPFNetwork, 0, len(rows))
	for _, row := range rows {
		network, err := netip.ParsePrefix(column(row, 0))
		if err != nil {
			return nil, fmt.Errorf("parsing ospf network on %s: %w", vr, err)
		}
		area, err := parseArea(column(row, 1))
		if err != nil {
			return nil, fmt.Errorf("parsing ospf area of %s on %s: %w", network, vr, err)
		}
		out = append(out, fabric.OSPFNetwork{Network: network, Area: area})
	}
	return out, nil
}

func (d *Netvisor) AddOSPFNetwork(ctx context.Context, vr string, n fabric.OSPFNetwork) error {
	_, err := d.cli(ctx, "", d.vrouterHost(vr), "vrouter-ospf-add", "vrouter-name", vr,
		"network", n.Network.String(), "ospf-area", strconv.FormatUint(uint64(n.Area), 10))
	return err
}

// parseArea accepts both the decimal and dotted-quad area forms.
func parseArea(s string) (uint32, error) {
	if addr, err := netip.ParseAddr(s); err == nil && addr.Is4() {
		return ipam.AddrToUint32(addr), nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}
