package hnsw

import "math/rand"

// FromSource rehydrates a RAM Graph from any NeighborSource (typically a
// DiskGraph reopened from the largest merge operand), so the fast-merge
// path of §4.5 step 4 can keep inserting the remaining operands' addresses
// into a structure that already holds the largest operand's edges, instead
// of rebuilding from scratch.
//
// numNodes bounds the addresses copied: addrs in [0, numNodes) are assumed
// to exist in src. A node's level is recovered from the highest layer at
// which src.OutEdges returns non-nil (both Graph and DiskGraph return nil
// for layers above a node's level, and a non-nil possibly-empty slice for
// layers at or below it).
func FromSource(src NeighborSource, params Params, numNodes int, rng *rand.Rand) *Graph {
	g := NewGraph(params, rng)
	g.entryPoint = src.EntryPoint()
	g.maxLayer = src.MaxLayer()

	for addr := 0; addr < numNodes; addr++ {
		level := nodeLevel(src, addr)
		if level < 0 {
			continue
		}
		n := &node{level: level, edges: make([][]Edge, level+1)}
		for l := 0; l <= level; l++ {
			edges := src.OutEdges(l, addr)
			n.edges[l] = append([]Edge(nil), edges...)
		}
		g.nodes[addr] = n
	}
	return g
}

func nodeLevel(src NeighborSource, addr int) int {
	for l := src.MaxLayer(); l >= 0; l-- {
		if src.OutEdges(l, addr) != nil {
			return l
		}
	}
	return -1
}
