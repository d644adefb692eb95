// Package cluster pairs directly connected leaves and hands out routing
// identifiers per cluster.
package cluster

import (
	"slices"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// Form greedily pairs unclustered leaves with a directly connected,
// still unclustered neighbor. Leaves are visited in the given order and the
// first eligible neighbor, in neighbor order, wins.
//
// The matching is not maximal: a leaf whose only candidate was taken by an
// earlier leaf stays single. Fabrics are expected to be cabled with exactly
// one candidate peer per leaf.
//
// Leaves in clustered and unreachable leaves are never paired. Only the
// new pairs are returned.
func Form(leaves []fabric.SwitchNode, clustered map[string]bool, nameLimit int) []fabric.ClusterPair {
	working := make([]string, 0, len(leaves))
	neighbors := make(map[string][]string, len(leaves))
	for _, l := range leaves {
		if clustered[l.Name] || !l.Reachable {
			continue
		}
		working = append(working, l.Name)
		neighbors[l.Name] = l.Neighbors
	}

	var pairs []fabric.ClusterPair
	for len(working) > 0 {
		node := working[0]
		working = working[1:]

		for _, candidate := range neighbors[node] {
			idx := slices.Index(working, candidate)
			if idx < 0 {
				continue
			}
			working = slices.Delete(working, idx, idx+1)
			pairs = append(pairs, fabric.ClusterPair{
				Name: Name(node, candidate, nameLimit),
				A:    node,
				B:    candidate,
			})
			break
		}
	}
	return pairs
}

// Singletons returns the leaves, in order, that are not a member of any
// pair.
func Singletons(leaves []string, pairs []fabric.ClusterPair) []string {
	var out []string
	for _, l := range leaves {
		if !slices.ContainsFunc(pairs, func(p fabric.ClusterPair) bool { return p.Has(l) }) {
			out = append(out, l)
		}
	}
	return out
}

// Ordered returns pairs sorted by the inventory position of their earliest
// member, so new and already existing clusters number the same way.
func Ordered(leaves []string, pairs []fabric.ClusterPair) []fabric.ClusterPair {
	pos := make(map[string]int, len(leaves))
	for i, l := range leaves {
		pos[l] = i
	}
	first := func(p fabric.ClusterPair) int {
		return min(pos[p.A], pos[p.B])
	}

	out := slices.Clone(pairs)
	slices.SortStableFunc(out, func(a, b fabric.ClusterPair) int {
		return first(a) - first(b)
	})
	return out
}
