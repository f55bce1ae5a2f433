package hnsw

import (
	"math"
	"math/rand"
)

type node struct {
	level int
	edges [][]Edge // edges[layer] for layer in [0, level]
}

// Graph is the RAM form of the HNSW index, built by repeated Insert calls
// and later handed to Serialize for the mmap-friendly disk form (§4.2).
type Graph struct {
	params     Params
	nodes      map[int]*node
	entryPoint int
	maxLayer   int
	rng        *rand.Rand
}

var _ NeighborSource = (*Graph)(nil)

// NewGraph constructs an empty RAM graph with the given construction
// parameters. rng may be nil, in which case a new default source is used;
// tests inject a seeded rng for determinism.
func NewGraph(params Params, rng *rand.Rand) *Graph {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Graph{
		params:     params,
		nodes:      make(map[int]*node),
		entryPoint: -1,
		maxLayer:   -1,
		rng:        rng,
	}
}

// EntryPoint implements NeighborSource.
func (g *Graph) EntryPoint() int { return g.entryPoint }

// MaxLayer implements NeighborSource.
func (g *Graph) MaxLayer() int { return g.maxLayer }

// OutEdges implements NeighborSource.
func (g *Graph) OutEdges(layer, addr int) []Edge {
	n, ok := g.nodes[addr]
	if !ok || layer > n.level {
		return nil
	}
	if n.edges[layer] == nil {
		return []Edge{}
	}
	return n.edges[layer]
}

// assignLevel draws a level from the geometric level distribution of §3:
// floor(round(-ln(U(0,1)) * levelFactor)).
func (g *Graph) assignLevel() int {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	return int(math.Floor(math.Round(-math.Log(u) * g.params.LevelFactor)))
}

// SimFunc scores the similarity between two DataStore addresses, used both
// to score candidates against the inserted node and to symmetrize/repair
// edges afterward.
type SimFunc func(a, b int) float32

// Insert adds addr to the graph, connecting it per §4.2: assign a level,
// descend greedily above the insertion level, run layerSearch at and below
// it, select M neighbors by the heuristic, symmetrize, and repair any
// neighbor whose degree now exceeds its layer's Mmax.
func (g *Graph) Insert(addr int, sim SimFunc) {
	level := g.assignLevel()
	g.nodes[addr] = &node{level: level, edges: make([][]Edge, level+1)}

	if g.entryPoint == -1 {
		g.entryPoint = addr
		g.maxLayer = level
		return
	}

	ep := g.entryPoint
	scorer := func(other int) float32 { return sim(addr, other) }

	// Descend greedily from the top layer down to level+1.
	for l := g.maxLayer; l > level; l-- {
		best := layerSearch(g, scorer, []int{ep}, 1, l)
		if len(best) > 0 {
			ep = best[0].Addr
		}
	}

	entryPoints := []int{ep}
	for l := min(level, g.maxLayer); l >= 0; l-- {
		candidates := layerSearch(g, scorer, entryPoints, g.params.EfConstruction, l)
		symSim := func(a, b int) float32 { return sim(a, b) }
		chosen := selectHeuristic(g.params.M, candidates, symSim)

		g.nodes[addr].edges[l] = toEdges(chosen)
		for _, c := range chosen {
			g.addEdge(c.Addr, l, Edge{To: addr, Sim: c.Sim})
			g.repair(c.Addr, l, sim)
		}

		entryPoints = addrsOf(candidates)
	}

	if level > g.maxLayer {
		g.maxLayer = level
		g.entryPoint = addr
	}
}

func toEdges(c []Candidate) []Edge {
	out := make([]Edge, len(c))
	for i, x := range c {
		out[i] = Edge{To: x.Addr, Sim: x.Sim}
	}
	return out
}

func addrsOf(c []Candidate) []int {
	out := make([]int, len(c))
	for i, x := range c {
		out[i] = x.Addr
	}
	return out
}

func (g *Graph) addEdge(addr, layer int, e Edge) {
	n := g.nodes[addr]
	if n == nil || layer > n.level {
		return
	}
	n.edges[layer] = append(n.edges[layer], e)
}

// repair reselects addr's top prune_m(Mmax) edges at layer whenever its
// degree has grown past the layer's Mmax, per §4.2.
func (g *Graph) repair(addr, layer int, sim SimFunc) {
	n := g.nodes[addr]
	mmax := g.params.mmaxFor(layer)
	if len(n.edges[layer]) <= mmax {
		return
	}

	candidates := make([]Candidate, len(n.edges[layer]))
	for i, e := range n.edges[layer] {
		candidates[i] = Candidate{Addr: e.To, Sim: e.Sim}
	}
	sortCandidatesDesc(candidates)

	symSim := func(a, b int) float32 { return sim(a, b) }
	chosen := selectHeuristic(mmax, candidates, symSim)
	n.edges[layer] = toEdges(chosen)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
