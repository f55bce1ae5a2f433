package segment

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/nuclia/nidx/internal/config"
	"github.com/nuclia/nidx/internal/hnsw"
	"github.com/nuclia/nidx/internal/invertedindex"
	"github.com/nuclia/nidx/internal/types"
	"github.com/nuclia/nidx/internal/vectortype"
)

// Query bundles one search request's parameters (§4.3's search signature).
type Query struct {
	Vector         []float32
	Filter         invertedindex.Formula
	HasFilter      bool
	WithDuplicates bool
	K              int
	MinScore       float32
}

// Search runs §4.3's full algorithm: filter resolution, brute-force
// threshold decision, HNSW search with filter, optional RabitQ rerank, and
// the filtered closest_up_nodes walk, returning up to q.K neighbours sorted
// by descending score.
func (s *Segment) Search(q Query, params config.VectorIndexParams) ([]types.Neighbour, error) {
	filter := s.Alive.Clone()
	if q.HasFilter {
		filter.InPlaceIntersection(q.Filter.Eval(s.Index))
	}
	if filter.None() {
		return nil, nil
	}

	encodedQuery := s.encoding.Encode(q.Vector)
	scorer := func(addr int) float32 {
		n, err := s.Store.Get(addr)
		if err != nil {
			return -1
		}
		return s.encoding.Similarity(encodedQuery, n.Vector)
	}

	records := s.Store.StoredElements()
	count := int(filter.Count())
	expectedTraversalScan := 0
	if count > 0 {
		expectedTraversalScan = q.K * records / count
	}

	var candidates []hnsw.Candidate
	if count < expectedTraversalScan*params.HNSWCostFactor {
		candidates = s.bruteForce(filter, scorer, q)
	} else {
		candidates = s.hnswSearch(filter, scorer, encodedQuery, q, params)
	}

	out := make([]types.Neighbour, 0, len(candidates))
	for _, c := range candidates {
		if c.Sim < q.MinScore {
			continue
		}
		n, err := s.Store.Get(c.Addr)
		if err != nil {
			continue
		}
		out = append(out, types.Neighbour{Address: c.Addr, Key: n.Key, Score: c.Sim, Labels: n.Labels, Metadata: n.Metadata, VectorBytes: n.Vector})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

// bruteForce is §4.3 step 3: scan every set bit of filter directly, used
// when the filter is selective enough that a full HNSW traversal would cost
// more than scoring every surviving candidate.
func (s *Segment) bruteForce(filter *bitset.BitSet, scorer hnsw.Scorer, q Query) []hnsw.Candidate {
	out := make([]hnsw.Candidate, 0, filter.Count())
	for addr, ok := filter.NextSet(0); ok; addr, ok = filter.NextSet(addr + 1) {
		out = append(out, hnsw.Candidate{Addr: int(addr), Sim: scorer(int(addr))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sim > out[j].Sim })
	return out
}

// hnswSearch is §4.3 step 4: HNSW search with filter, exact rerank against
// the quantized encoding's persisted RerankVector payload, and the filtered
// closest_up_nodes walk.
func (s *Segment) hnswSearch(filter *bitset.BitSet, scorer hnsw.Scorer, encodedQuery []byte, q Query, params config.VectorIndexParams) []hnsw.Candidate {
	reranker, needsRerank := s.encoding.(vectortype.Reranker)

	ef := q.K
	if needsRerank {
		ef = q.K * params.RerankingFactor
		if ef > params.RerankingLimit {
			ef = params.RerankingLimit
		}
	}

	seed := hnsw.Search(s.Graph, scorer, ef)

	if needsRerank {
		rerankQuery := reranker.RerankEncode(q.Vector)
		for i := range seed {
			n, err := s.Store.Get(seed[i].Addr)
			if err == nil && n.RerankVector != nil {
				seed[i].Sim = reranker.RerankSimilarity(rerankQuery, n.RerankVector)
			}
		}
		sort.Slice(seed, func(i, j int) bool { return seed[i].Sim > seed[j].Sim })
	}

	return s.closestUpNodes(seed, filter, scorer, q, params, len(encodedQuery))
}

// closestUpNodes is the filtered BFS of §4.3 step 4: starting from seed
// candidates, walk layer-0 out-edges, keep only filter-passing unvisited
// addresses, dedup by paragraph and (when !WithDuplicates) by vector bytes,
// and preload unvisited neighbors up to a bounded budget.
func (s *Segment) closestUpNodes(seed []hnsw.Candidate, filter *bitset.BitSet, scorer hnsw.Scorer, q Query, params config.VectorIndexParams, vectorLen int) []hnsw.Candidate {
	visited := make(map[int]bool, len(seed)*4)
	seenParagraphs := make(map[string]bool, q.K*2)
	var dedup *bloom.BloomFilter
	if !q.WithDuplicates {
		dedup = bloom.NewWithEstimates(uint(maxInt(q.K*4, 64)), 0.01)
	}

	queue := make([]hnsw.Candidate, 0, len(seed))
	accepted := make([]hnsw.Candidate, 0, q.K)
	preloadBudget := params.PreloadBudget

	accept := func(c hnsw.Candidate) bool {
		if visited[c.Addr] {
			return false
		}
		visited[c.Addr] = true
		if !filter.Test(uint(c.Addr)) {
			return false
		}
		n, err := s.Store.Get(c.Addr)
		if err != nil {
			return false
		}
		paragraph := types.Paragraph(n.Key)
		if seenParagraphs[paragraph] {
			return false
		}
		if dedup != nil {
			if dedup.Test(n.Vector) {
				return false
			}
			dedup.Add(n.Vector)
		}
		seenParagraphs[paragraph] = true
		return true
	}

	for _, c := range seed {
		if accept(c) {
			accepted = append(accepted, c)
			queue = append(queue, c)
		}
	}

	for len(queue) > 0 && len(accepted) < q.K {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range s.Graph.OutEdges(0, cur.Addr) {
			if visited[e.To] {
				continue
			}
			if preloadBudget > 0 {
				_ = s.Store.WillNeed(e.To, vectorLen)
				preloadBudget--
			}
			sim := scorer(e.To)
			cand := hnsw.Candidate{Addr: e.To, Sim: sim}
			if accept(cand) {
				accepted = append(accepted, cand)
				queue = append(queue, cand)
				if len(accepted) >= q.K {
					break
				}
			}
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Sim > accepted[j].Sim })
	return accepted
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
