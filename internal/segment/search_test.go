package segment

import (
	"encoding/binary"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/config"
	"github.com/nuclia/nidx/internal/invertedindex"
	"github.com/nuclia/nidx/internal/types"
	"github.com/nuclia/nidx/internal/vectortype"
)

// TestSearchBasicRecall is Scenario A of §8, run through the full Segment
// search path (brute-force, since a 100-record unselective query falls
// below the HNSW cost threshold): for each of 100 random unit-vector
// queries, the known nearest element should rank first.
func TestSearchBasicRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n, dim = 100, 128
	elements := make([]types.Element, n)
	for i := range elements {
		elements[i] = types.Element{Key: "r/f/file/0-1", Vector: randVec(rng, dim)}
	}

	dir := filepath.Join(t.TempDir(), "seg")
	seg, err := Create(dir, elements, nil, testVectorConfig(dim), testParams())
	require.NoError(t, err)
	defer seg.Close()

	hits := 0
	for q := 0; q < 100; q++ {
		target := rng.Intn(n)
		n0, err := seg.Store.Get(target)
		require.NoError(t, err)

		out, err := seg.Search(Query{Vector: decodeDense(n0.Vector), K: 5}, testSearchParams())
		require.NoError(t, err)
		require.NotEmpty(t, out)
		if out[0].Address == target {
			hits++
		}
	}
	require.GreaterOrEqual(t, hits, 88)
}

// TestSearchLabelFilter confirms a label-atom Formula restricts results to
// matching addresses only.
func TestSearchLabelFilter(t *testing.T) {
	elements := []types.Element{
		{Key: "r/f/file/0-1", Vector: []float32{1, 0}, Labels: types.Labels{"lang": "en"}},
		{Key: "r/f/file/1-2", Vector: []float32{1, 0}, Labels: types.Labels{"lang": "ca"}},
	}
	dir := filepath.Join(t.TempDir(), "seg")
	seg, err := Create(dir, elements, nil, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg.Close()

	formula := invertedindex.NewAtom(invertedindex.Atom{Kind: invertedindex.AtomLabel, Value: "lang=ca"})
	out, err := seg.Search(Query{Vector: []float32{1, 0}, K: 5, Filter: formula, HasFilter: true}, testSearchParams())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "r/f/file/1-2", out[0].Key)
}

// TestSearchHNSWPathVectorDedup forces the HNSW/closest_up_nodes branch (via
// an artificially low HNSWCostFactor) and checks Invariant 6: with
// with_duplicates=false, no two results share a vector byte-sequence.
func TestSearchHNSWPathVectorDedup(t *testing.T) {
	elements := []types.Element{
		{Key: "r/f/file/0-1", Vector: []float32{1, 0}},
		{Key: "r/f/file/1-2", Vector: []float32{1, 0}}, // same vector, different paragraph
		{Key: "r/f/file/2-3", Vector: []float32{0, 1}},
	}
	dir := filepath.Join(t.TempDir(), "seg")
	seg, err := Create(dir, elements, nil, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg.Close()

	params := config.VectorIndexParams{RerankingFactor: 10, RerankingLimit: 200, HNSWCostFactor: 1, PreloadBudget: 20000}
	out, err := seg.Search(Query{Vector: []float32{1, 0}, K: 3, WithDuplicates: false}, params)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range out {
		n, err := seg.Store.Get(r.Address)
		require.NoError(t, err)
		require.False(t, seen[string(n.Vector)], "duplicate vector bytes returned")
		seen[string(n.Vector)] = true
	}
}

// TestSearchRabitQExactRerank is §4.3 step 4, the exact-rerank half: two
// elements share a sign pattern (so RabitQ's Hamming approximation ties
// them) but differ sharply in magnitude, so only an exact rerank against
// the persisted RerankVector payload puts the true nearest neighbor first.
func TestSearchRabitQExactRerank(t *testing.T) {
	cfg := VectorConfig{Similarity: vectortype.Dot, VectorType: "RabitQ", Dim: 4}
	elements := []types.Element{
		{Key: "r/f/file/0-1", Vector: []float32{10, 10, 10, 10}},
		{Key: "r/f/file/1-2", Vector: []float32{0.1, 0.1, 0.1, 0.1}},
		{Key: "r/f/file/2-3", Vector: []float32{-5, -5, -5, -5}},
	}
	dir := filepath.Join(t.TempDir(), "seg")
	seg, err := Create(dir, elements, nil, cfg, testParams())
	require.NoError(t, err)
	defer seg.Close()

	for i := 0; i < seg.Records(); i++ {
		n, err := seg.Store.Get(i)
		require.NoError(t, err)
		require.NotEmpty(t, n.RerankVector, "RabitQ must persist the exact rerank payload")
	}

	params := config.VectorIndexParams{RerankingFactor: 10, RerankingLimit: 200, HNSWCostFactor: 1, PreloadBudget: 20000}
	out, err := seg.Search(Query{Vector: []float32{10, 10, 10, 10}, K: 3}, params)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, "r/f/file/0-1", out[0].Key)
}

func decodeDense(encoded []byte) []float32 {
	out := make([]float32, len(encoded)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(encoded[i*4:]))
	}
	return out
}
