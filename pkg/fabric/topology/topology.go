package topology

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// Repository is the per-run snapshot of the leaves, their fabric-known
// neighbors and the clusters that already exist.
type Repository struct {
	mu          sync.RWMutex
	nodes       map[string]*fabric.SwitchNode
	order       []string
	fabricNodes map[string]bool
	clusters    []fabric.ClusterInfo
	errs        map[string]error
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{
		nodes:       make(map[string]*fabric.SwitchNode),
		fabricNodes: make(map[string]bool),
		errs:        make(map[string]error),
	}
}

// AddNode registers a leaf. Returns error if the name is already taken.
func (r *Repository) AddNode(n fabric.SwitchNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[n.Name]; exists {
		return fmt.Errorf("node %q already registered", n.Name)
	}
	n.Index = len(r.order)
	r.nodes[n.Name] = &n
	r.order = append(r.order, n.Name)
	return nil
}

// GetNode returns a leaf by name.
func (r *Repository) GetNode(name string) (fabric.SwitchNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[name]
	if !ok {
		return fabric.SwitchNode{}, fmt.Errorf("node %q not found", name)
	}
	return *n, nil
}

// Leaves returns all leaves in inventory order.
func (r *Repository) Leaves() []fabric.SwitchNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]fabric.SwitchNode, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.nodes[name])
	}
	return out
}

// Names returns the leaf names in inventory order.
func (r *Repository) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// NodeCount returns the number of registered leaves.
func (r *Repository) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// SetClusters records the clusters reported by the fabric.
func (r *Repository) SetClusters(clusters []fabric.ClusterInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clusters = slices.Clone(clusters)
}

// SetFabricNodes records the fabric-node list used to filter neighbors.
func (r *Repository) SetFabricNodes(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fabricNodes = make(map[string]bool, len(names))
	for _, n := range names {
		r.fabricNodes[n] = true
	}
}

// IsFabricNode reports whether name is part of the managed fabric.
func (r *Repository) IsFabricNode(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fabricNodes[name]
}

// Clustered returns the leaves that are already a member of any cluster.
func (r *Repository) Clustered() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool)
	for _, c := range r.clusters {
		for _, member := range []string{c.Node1, c.Node2} {
			if _, ok := r.nodes[member]; ok {
				out[member] = true
			}
		}
	}
	return out
}

// ExistingPairs returns the existing clusters whose members are both leaves.
func (r *Repository) ExistingPairs() []fabric.ClusterPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []fabric.ClusterPair
	for _, c := range r.clusters {
		_, ok1 := r.nodes[c.Node1]
		_, ok2 := r.nodes[c.Node2]
		if ok1 && ok2 {
			out = append(out, fabric.ClusterPair{Name: c.Name, A: c.Node1, B: c.Node2, Existing: true})
		}
	}
	return out
}

// ForeignClustered returns leaves clustered with a switch outside the leaf
// list. They are treated as unclustered singletons.
func (r *Repository) ForeignClustered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, c := range r.clusters {
		_, ok1 := r.nodes[c.Node1]
		_, ok2 := r.nodes[c.Node2]
		switch {
		case ok1 && !ok2:
			out = append(out, c.Node1)
		case ok2 && !ok1:
			out = append(out, c.Node2)
		}
	}
	return out
}

// SetErr records a failed query against a leaf.
func (r *Repository) SetErr(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs[name] = err
	if n, ok := r.nodes[name]; ok && fabric.IsUnreachable(err) {
		n.Reachable = false
	}
}

// Err returns the query failure recorded for a leaf, if any.
func (r *Repository) Err(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errs[name]
}

// Unreachable returns the leaves that could not be contacted.
func (r *Repository) Unreachable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		if !r.nodes[name].Reachable {
			out = append(out, name)
		}
	}
	return out
}

// Load queries the fabric-node list, the existing clusters and each
// leaf's LLDP neighbors. Neighbors that are not fabric nodes (hosts,
// third-party spines, unmanaged gear) are dropped.
//
// Failures of fabric-wide queries and authentication failures abort the
// load. A failed neighbor query only marks that leaf.
func Load(ctx context.Context, d fabric.Driver, inv fabric.Invoker, leaves, spines []string, log *zap.SugaredLogger) (*Repository, error) {
	log = log.Named("topology")
	repo := New()

	var nodes []string
	err := inv.Invoke(ctx, "", "fabric-node-show", func(ctx context.Context) error {
		var err error
		nodes, err = d.FabricNodes(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing fabric nodes: %w", err)
	}
	repo.SetFabricNodes(nodes)

	var clusters []fabric.ClusterInfo
	err = inv.Invoke(ctx, "", "cluster-show", func(ctx context.Context) error {
		var err error
		clusters, err = d.Clusters(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	repo.SetClusters(clusters)

	for _, leaf := range leaves {
		if err := repo.AddNode(fabric.SwitchNode{Name: leaf, Role: fabric.RoleLeaf, Reachable: true}); err != nil {
			return nil, err
		}
	}

	for _, leaf := range leaves {
		if !repo.IsFabricNode(leaf) {
			repo.SetErr(leaf, &fabric.UnreachableError{Host: leaf, Err: errors.New("not a member of the fabric")})
			log.Warnw("leaf is not a fabric node", "leaf", leaf)
			continue
		}

		var raw []string
		err := inv.Invoke(ctx, leaf, "lldp-show", func(ctx context.Context) error {
			var err error
			raw, err = d.Neighbors(ctx, leaf)
			return err
		})
		if err != nil {
			if fabric.IsAuthentication(err) {
				return nil, err
			}
			repo.SetErr(leaf, err)
			log.Warnw("neighbor query failed", "leaf", leaf, "error", err)
			continue
		}

		neighbors := lo.Filter(lo.Uniq(raw), func(n string, _ int) bool {
			return n != leaf && repo.IsFabricNode(n) && !slices.Contains(spines, n)
		})

		repo.mu.Lock()
		repo.nodes[leaf].Neighbors = neighbors
		repo.mu.Unlock()

		log.Debugw("neighbors discovered", "leaf", leaf, "fabric", neighbors, "dropped", len(lo.Uniq(raw))-len(neighbors))
	}

	log.Infow("topology loaded",
		"leaves", repo.NodeCount(),
		"fabricNodes", len(nodes),
		"existingClusters", len(clusters),
		"unreachable", len(repo.Unreachable()),
	)
	return repo, nil
}
