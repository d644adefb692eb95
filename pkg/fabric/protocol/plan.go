package protocol

import (
	"errors"
	"slices"

	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/cluster"
	"github.com/glennswest/leafroute/pkg/fabric/ipam"
	"github.com/glennswest/leafroute/pkg/fabric/topology"
)

// Plan is everything derived before the first modifying call: the
// clusters, the identifier of every leaf and the internal link of every
// cluster.
type Plan struct {
	Protocol    fabric.Protocol      `json:"protocol" yaml:"protocol"`
	Leaves      []string             `json:"leaves" yaml:"leaves"`
	Unreachable []string             `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
	Clusters    []fabric.ClusterPair `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Singletons  []string             `json:"singletons,omitempty" yaml:"singletons,omitempty"`
	Identifiers cluster.Assignment   `json:"identifiers" yaml:"identifiers"`
	Links       map[string]ipam.Link `json:"links,omitempty" yaml:"links,omitempty"` // by cluster name

	// Leaves clustered with a switch outside the leaf list. They are
	// configured as singletons.
	ForeignClustered []string `json:"foreignClustered,omitempty" yaml:"foreignClustered,omitempty"`

	// Leaves and clusters left out once an allocator ran dry.
	Unassigned []string `json:"unassigned,omitempty" yaml:"unassigned,omitempty"`
	Unlinked   []string `json:"unlinked,omitempty" yaml:"unlinked,omitempty"`

	assignErr error
	allocErr  error
}

// Plan forms the new clusters and allocates identifiers and internal links
// from the Configurator's allocators. Allocator exhaustion only affects
// the leaves and clusters that come after it.
func (c *Configurator) Plan(repo *topology.Repository) *Plan {
	leaves := repo.Leaves()
	names := repo.Names()

	formed := cluster.Form(leaves, repo.Clustered(), c.opts.NameLimit)
	pairs := cluster.Ordered(names, append(repo.ExistingPairs(), formed...))

	p := &Plan{
		Protocol:    c.opts.Protocol,
		Leaves:      names,
		Unreachable: repo.Unreachable(),
		Clusters:    pairs,
		Singletons:  cluster.Singletons(names, pairs),
		Links:       make(map[string]ipam.Link, len(pairs)),
	}

	if foreign := repo.ForeignClustered(); len(foreign) > 0 {
		p.ForeignClustered = foreign
		c.log.Warnw("leaves clustered outside the leaf list, configuring them as singletons", "leaves", foreign)
	}

	asg, err := cluster.Assign(names, pairs, c.ids)
	p.Identifiers = asg
	if err != nil {
		p.assignErr = err
		for _, n := range names {
			if _, ok := asg.Of(n); !ok {
				p.Unassigned = append(p.Unassigned, n)
			}
		}
		c.log.Errorw("identifier allocation stopped", "error", err, "unassigned", p.Unassigned)
	}

	for i, pair := range pairs {
		link, err := c.pool.Allocate(pair.Name)
		if err != nil {
			p.allocErr = err
			for _, rest := range pairs[i:] {
				p.Unlinked = append(p.Unlinked, rest.Name)
			}
			c.log.Errorw("internal link allocation stopped", "error", err, "unlinked", p.Unlinked)
			break
		}
		p.Links[pair.Name] = link
	}

	c.log.Infow("plan ready",
		"leaves", len(names),
		"clusters", len(pairs),
		"new", len(formed),
		"singletons", len(p.Singletons),
		"pool", c.pool.Prefix(),
		"poolLinks", c.pool.Capacity(),
	)
	return p
}

// ClusterOf returns the cluster leaf belongs to.
func (p *Plan) ClusterOf(leaf string) (fabric.ClusterPair, bool) {
	i := slices.IndexFunc(p.Clusters, func(c fabric.ClusterPair) bool { return c.Has(leaf) })
	if i < 0 {
		return fabric.ClusterPair{}, false
	}
	return p.Clusters[i], true
}

// NewClusters returns the clusters this run has to create.
func (p *Plan) NewClusters() []fabric.ClusterPair {
	var out []fabric.ClusterPair
	for _, c := range p.Clusters {
		if !c.Existing {
			out = append(out, c)
		}
	}
	return out
}

func (p *Plan) identifierErr() error {
	if p.assignErr != nil {
		return p.assignErr
	}
	return errors.New("no identifier assigned")
}

func (p *Plan) linkErr() error {
	if p.allocErr != nil {
		return p.allocErr
	}
	return errors.New("no internal link allocated")
}
