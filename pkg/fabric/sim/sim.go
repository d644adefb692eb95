// Package sim is an in-memory fabric that implements fabric.Driver. It
// backs the --simulate mode and the tests of every package that talks to
// switches.
package sim

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// Topology is the YAML description of a simulated fabric.
type Topology struct {
	Switches []Switch             `yaml:"switches"`
	Clusters []fabric.ClusterInfo `yaml:"clusters,omitempty"`
}

// Switch is one simulated fabric node.
type Switch struct {
	Name        string      `yaml:"name"`
	Neighbors   []string    `yaml:"neighbors,omitempty"` // LLDP system names, may include non-fabric devices
	Unreachable bool        `yaml:"unreachable,omitempty"`
	VLANs       []int       `yaml:"vlans,omitempty"`
	Vrouter     VrouterSpec `yaml:"vrouter"`
}

// VrouterSpec is the vrouter the bootstrap stage left on a switch.
type VrouterSpec struct {
	Name       string          `yaml:"name,omitempty"` // defaults to <switch>-vrouter
	Loopback   string          `yaml:"loopback"`
	Interfaces []InterfaceSpec `yaml:"interfaces,omitempty"`
}

// InterfaceSpec is a pre-provisioned layer-3 interface.
type InterfaceSpec struct {
	NIC     string `yaml:"nic,omitempty"`
	L3Port  string `yaml:"l3Port,omitempty"`
	Address string `yaml:"address"`
	VLAN    int    `yaml:"vlan,omitempty"`
}

// Call is one recorded driver invocation.
type Call struct {
	Op     string
	Target string
}

// Fabric is the simulated switch fabric.
type Fabric struct {
	mu       sync.Mutex
	order    []string
	switches map[string]*switchState
	vrouters map[string]*switchState // vrouter name -> owning switch
	clusters []fabric.ClusterInfo
	failures map[Call]int
	authFail bool
	calls    []Call
}

type switchState struct {
	name        string
	neighbors   []string
	unreachable bool
	vlans       []int
	vrouter     fabric.Vrouter
	interfaces  []fabric.Interface
	bfd         map[string]bool // nic -> enabled; missing key = no config
	bgp         []fabric.BGPNeighbor
	ospf        []fabric.OSPFNetwork
}

// New builds a fabric from a topology description.
func New(topo Topology) (*Fabric, error) {
	f := &Fabric{
		switches: make(map[string]*switchState),
		vrouters: make(map[string]*switchState),
		clusters: slices.Clone(topo.Clusters),
		failures: make(map[Call]int),
	}

	for _, sw := range topo.Switches {
		if _, exists := f.switches[sw.Name]; exists {
			return nil, fmt.Errorf("switch %q defined twice", sw.Name)
		}
		vrName := sw.Vrouter.Name
		if vrName == "" {
			vrName = sw.Name + "-vrouter"
		}
		st := &switchState{
			name:        sw.Name,
			neighbors:   slices.Clone(sw.Neighbors),
			unreachable: sw.Unreachable,
			vlans:       slices.Clone(sw.VLANs),
			vrouter: fabric.Vrouter{
				Name:     vrName,
				Switch:   sw.Name,
				Loopback: sw.Vrouter.Loopback,
			},
			bfd: make(map[string]bool),
		}
		for i, is := range sw.Vrouter.Interfaces {
			addr, err := netip.ParsePrefix(is.Address)
			if err != nil {
				return nil, fmt.Errorf("switch %s interface %d: %w", sw.Name, i, err)
			}
			nic := is.NIC
			if nic == "" {
				nic = fmt.Sprintf("eth%d.%d", i, is.VLAN)
			}
			st.interfaces = append(st.interfaces, fabric.Interface{
				NIC:     nic,
				L3Port:  is.L3Port,
				Address: addr,
				VLAN:    is.VLAN,
			})
		}
		f.order = append(f.order, sw.Name)
		f.switches[sw.Name] = st
		f.vrouters[vrName] = st
	}

	return f, nil
}

// LoadFile reads a YAML topology description.
func LoadFile(path string) (*Fabric, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var topo Topology
	if err := yaml.Unmarshal(raw, &topo); err != nil {
		return nil, fmt.Errorf("parsing simulated topology: %w", err)
	}
	return New(topo)
}

// ─── Test Controls ──────────────────────────────────────────────────────────

// FailNext makes the next n calls of op against target fail.
func (f *Fabric) FailNext(op, target string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[Call{Op: op, Target: target}] = n
}

// RejectCredentials makes every call fail with an authentication error.
func (f *Fabric) RejectCredentials() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authFail = true
}

// SetUnreachable marks a switch unreachable or reachable again.
func (f *Fabric) SetUnreachable(sw string, unreachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.switches[sw]; ok {
		st.unreachable = unreachable
	}
}

// Calls returns the recorded calls of op, or all calls if op is empty.
func (f *Fabric) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how often op was invoked against target.
func (f *Fabric) CallCount(op, target string) int {
	n := 0
	for _, c := range f.Calls(op) {
		if c.Target == target {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (f *Fabric) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// ─── Internals ──────────────────────────────────────────────────────────────

var errSimulated = errors.New("simulated command failure")

// enter records the call and applies injected faults. Must be called with
// f.mu held.
func (f *Fabric) enter(op, target string, st *switchState) error {
	c := Call{Op: op, Target: target}
	f.calls = append(f.calls, c)

	if f.authFail {
		return &fabric.AuthenticationError{Host: target, Detail: "invalid credentials"}
	}
	if st != nil && st.unreachable {
		return &fabric.UnreachableError{Host: st.name}
	}
	if n := f.failures[c]; n > 0 {
		f.failures[c] = n - 1
		return fmt.Errorf("%s %s: %w", op, target, errSimulated)
	}
	return nil
}

func (f *Fabric) switchFor(op, sw string) (*switchState, error) {
	st, ok := f.switches[sw]
	if !ok {
		f.calls = append(f.calls, Call{Op: op, Target: sw})
		return nil, &fabric.UnreachableError{Host: sw, Err: errors.New("not a fabric node")}
	}
	return st, f.enter(op, sw, st)
}

func (f *Fabric) vrouterFor(op, vr string) (*switchState, error) {
	st, ok := f.vrouters[vr]
	if !ok {
		f.calls = append(f.calls, Call{Op: op, Target: vr})
		return nil, fmt.Errorf("vrouter %s not found", vr)
	}
	return st, f.enter(op, vr, st)
}

func (f *Fabric) seed(op string) error {
	for _, name := range f.order {
		if st := f.switches[name]; !st.unreachable {
			return f.enter(op, name, nil)
		}
	}
	if len(f.order) == 0 {
		return &fabric.UnreachableError{Host: "fabric", Err: errors.New("no switches")}
	}
	first := f.order[0]
	return f.enter(op, first, f.switches[first])
}
