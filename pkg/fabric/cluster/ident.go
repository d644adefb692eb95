package cluster

import (
	"fmt"
	"math"
	"sync"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// IdentifierAllocator hands out AS numbers or area IDs from a single
// counter. It never reuses or skips a value.
type IdentifierAllocator struct {
	mu    sync.Mutex
	first uint32
	next  uint64
}

// NewIdentifierAllocator returns an allocator whose first value is first.
func NewIdentifierAllocator(first uint32) *IdentifierAllocator {
	return &IdentifierAllocator{first: first, next: uint64(first)}
}

// Next returns the next identifier.
func (a *IdentifierAllocator) Next() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next > math.MaxUint32 {
		return 0, &fabric.AllocationExhaustedError{
			Resource: fmt.Sprintf("identifier space starting at %d", a.first),
		}
	}
	v := uint32(a.next)
	a.next++
	return v, nil
}

// Group is one identifier and the leaves sharing it.
type Group struct {
	ID      uint32   `json:"id" yaml:"id"`
	Cluster string   `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Members []string `json:"members" yaml:"members"`
}

// Assignment maps every leaf to its routing identifier.
type Assignment struct {
	Groups []Group           `json:"groups" yaml:"groups"`
	ByLeaf map[string]uint32 `json:"byLeaf" yaml:"byLeaf"`
}

// Of returns the identifier assigned to leaf.
func (a Assignment) Of(leaf string) (uint32, bool) {
	id, ok := a.ByLeaf[leaf]
	return id, ok
}

// Assign walks the clusters first, in inventory order of their earliest
// member, giving both members the same identifier, then gives every
// remaining leaf its own.
func Assign(leaves []string, pairs []fabric.ClusterPair, alloc *IdentifierAllocator) (Assignment, error) {
	out := Assignment{ByLeaf: make(map[string]uint32, len(leaves))}

	for _, p := range Ordered(leaves, pairs) {
		id, err := alloc.Next()
		if err != nil {
			return out, err
		}
		out.Groups = append(out.Groups, Group{ID: id, Cluster: p.Name, Members: p.Members()})
		out.ByLeaf[p.A] = id
		out.ByLeaf[p.B] = id
	}

	for _, leaf := range Singletons(leaves, pairs) {
		id, err := alloc.Next()
		if err != nil {
			return out, err
		}
		out.Groups = append(out.Groups, Group{ID: id, Members: []string{leaf}})
		out.ByLeaf[leaf] = id
	}

	return out, nil
}
