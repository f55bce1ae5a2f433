package hnsw

import "container/heap"

// NeighborSource is the read surface layerSearch needs, satisfied by both
// the RAM construction Graph and the mmap-backed DiskGraph, so the search
// primitives are written once and reused at both build and query time.
type NeighborSource interface {
	OutEdges(layer, addr int) []Edge
	MaxLayer() int
	EntryPoint() int
}

type candHeap struct {
	items []Candidate
	max   bool // true: pop largest first (used as a bounded max-heap of the worst-so-far)
}

func (h candHeap) Len() int { return len(h.items) }
func (h candHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].Sim > h.items[j].Sim
	}
	return h.items[i].Sim < h.items[j].Sim
}
func (h candHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candHeap) Push(x interface{}) { h.items = append(h.items, x.(Candidate)) }
func (h *candHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// layerSearch implements the construction/search-time candidate gathering
// step of §4.2/§4.3: a best-first traversal of layer's out-edges, bounded by
// ef, returning up to ef candidates sorted by descending similarity.
func layerSearch(g NeighborSource, scorer Scorer, entryPoints []int, ef int, layer int) []Candidate {
	visited := make(map[int]bool, ef*4)
	results := &candHeap{max: true} // bounded max-heap of current best `ef` (worst on top for easy eviction)
	bestFirst := &maxCandHeap{}     // frontier, popped highest-similarity-first

	heap.Init(results)
	heap.Init(bestFirst)

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		visited[ep] = true
		sim := scorer(ep)
		heap.Push(results, Candidate{Addr: ep, Sim: sim})
		heap.Push(bestFirst, Candidate{Addr: ep, Sim: sim})
	}

	for bestFirst.Len() > 0 {
		top := heap.Pop(bestFirst).(Candidate)

		worst := Candidate{Sim: -1 << 30}
		if results.Len() > 0 {
			worst = results.items[0]
		}
		if results.Len() >= ef && top.Sim < worst.Sim {
			break
		}

		for _, e := range g.OutEdges(layer, top.Addr) {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			sim := scorer(e.To)

			if results.Len() < ef {
				heap.Push(results, Candidate{Addr: e.To, Sim: sim})
				heap.Push(bestFirst, Candidate{Addr: e.To, Sim: sim})
			} else if sim > results.items[0].Sim {
				heap.Pop(results)
				heap.Push(results, Candidate{Addr: e.To, Sim: sim})
				heap.Push(bestFirst, Candidate{Addr: e.To, Sim: sim})
			}
		}
	}

	out := make([]Candidate, len(results.items))
	copy(out, results.items)
	sortCandidatesDesc(out)
	return out
}

// maxCandHeap pops the highest-similarity candidate first; used to drive
// the best-first frontier exploration in layerSearch.
type maxCandHeap []Candidate

func (h maxCandHeap) Len() int            { return len(h) }
func (h maxCandHeap) Less(i, j int) bool  { return h[i].Sim > h[j].Sim }
func (h maxCandHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxCandHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *maxCandHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func sortCandidatesDesc(c []Candidate) {
	// insertion sort: result sets are bounded by ef, typically small.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Sim > c[j-1].Sim; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// Search runs the query-time counterpart of Graph.Insert's descent (§4.3
// step 4): greedy ef=1 descent through the upper layers from the graph's
// entry point, then a bounded layerSearch at layer 0 with the given ef.
func Search(g NeighborSource, scorer Scorer, ef int) []Candidate {
	ep := g.EntryPoint()
	if ep < 0 {
		return nil
	}
	for l := g.MaxLayer(); l > 0; l-- {
		best := layerSearch(g, scorer, []int{ep}, 1, l)
		if len(best) > 0 {
			ep = best[0].Addr
		}
	}
	return layerSearch(g, scorer, []int{ep}, ef, 0)
}

// selectHeuristic implements §4.2's heuristic selector: iterate candidates
// (pre-sorted by similarity to the anchor, descending), accept x iff it is
// closer to the anchor than to every previously accepted result, and fill
// any shortfall from the rejected pool (keep-pruned-connections).
func selectHeuristic(k int, candidates []Candidate, sym SymScorer) []Candidate {
	accepted := make([]Candidate, 0, k)
	rejected := &maxCandHeap{}

	for _, c := range candidates {
		ok := true
		for _, y := range accepted {
			if !(c.Sim > sym(c.Addr, y.Addr)) {
				ok = false
				break
			}
		}
		if ok && len(accepted) < k {
			accepted = append(accepted, c)
		} else {
			heap.Push(rejected, c)
		}
	}

	for len(accepted) < k && rejected.Len() > 0 {
		accepted = append(accepted, heap.Pop(rejected).(Candidate))
	}
	return accepted
}
