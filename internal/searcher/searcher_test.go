package searcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/config"
	"github.com/nuclia/nidx/internal/deletetrie"
	"github.com/nuclia/nidx/internal/hnsw"
	"github.com/nuclia/nidx/internal/invertedindex"
	"github.com/nuclia/nidx/internal/query"
	"github.com/nuclia/nidx/internal/segment"
	"github.com/nuclia/nidx/internal/types"
	"github.com/nuclia/nidx/internal/vectortype"
)

func testParams() hnsw.Params {
	return hnsw.Params{M: 16, Mmax0: 32, EfConstruction: 64, LevelFactor: 1.0 / 0.693147180559945}
}

func testVectorConfig(dim int) segment.VectorConfig {
	return segment.VectorConfig{Similarity: vectortype.Dot, VectorType: "DenseF32", Dim: dim}
}

func testSearchParams() config.VectorIndexParams {
	return config.VectorIndexParams{RerankingFactor: 10, RerankingLimit: 200, HNSWCostFactor: 200, PreloadBudget: 20000}
}

// TestReaderTimeSensitiveDeletion is Scenario D of §8, run through the
// actual Reader: a segment at seq=1 holds "r/a/title" and "r/f/file"; a
// reader opened with a delete-trie entry r/a/title -> 2 returns only
// "r/f/file", while the same segment reopened against a trie entry at
// seq=1 (equal to the segment's own seq) still returns both.
func TestReaderTimeSensitiveDeletion(t *testing.T) {
	elements := []types.Element{
		{Key: "r/a/title/0-5", Vector: []float32{1, 0}},
		{Key: "r/f/file/0-5", Vector: []float32{0.8, 0.6}},
	}

	buildSeg := func(t *testing.T) *segment.Segment {
		dir := filepath.Join(t.TempDir(), "seg")
		seg, err := segment.Create(dir, elements, nil, testVectorConfig(2), testParams())
		require.NoError(t, err)
		return seg
	}

	t.Run("deletion after segment seq excludes the key", func(t *testing.T) {
		seg := buildSeg(t)
		defer seg.Close()

		trie := deletetrie.New()
		trie.Insert("r/a/title", 2)

		r := Open("idx", []OpenSegment{{Segment: seg, Seq: types.Seq(1)}}, trie, 2, testSearchParams())
		defer r.Close()

		resp, err := r.Search(context.Background(), query.Search{Vector: []float32{1, 0}, ResultsPerPage: 10})
		require.NoError(t, err)

		keys := documentKeys(resp)
		require.ElementsMatch(t, []string{"r/f/file/0-5"}, keys)
	})

	t.Run("deletion at same seq as segment keeps both", func(t *testing.T) {
		seg := buildSeg(t)
		defer seg.Close()

		trie := deletetrie.New()
		trie.Insert("r/a/title", 1)

		r := Open("idx", []OpenSegment{{Segment: seg, Seq: types.Seq(1)}}, trie, 2, testSearchParams())
		defer r.Close()

		resp, err := r.Search(context.Background(), query.Search{Vector: []float32{1, 0}, ResultsPerPage: 10})
		require.NoError(t, err)

		keys := documentKeys(resp)
		require.ElementsMatch(t, []string{"r/a/title/0-5", "r/f/file/0-5"}, keys)
	})
}

// TestReaderMergesAcrossSegments confirms the reader fans out to every open
// segment and merges their per-segment top-k into one globally-ranked
// response.
func TestReaderMergesAcrossSegments(t *testing.T) {
	seg1dir := filepath.Join(t.TempDir(), "seg1")
	seg1, err := segment.Create(seg1dir, []types.Element{
		{Key: "a/f/file/0-1", Vector: []float32{1, 0}},
	}, nil, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg1.Close()

	seg2dir := filepath.Join(t.TempDir(), "seg2")
	seg2, err := segment.Create(seg2dir, []types.Element{
		{Key: "b/f/file/0-1", Vector: []float32{0, 1}},
	}, nil, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg2.Close()

	trie := deletetrie.New()
	r := Open("idx", []OpenSegment{
		{Segment: seg1, Seq: types.Seq(1)},
		{Segment: seg2, Seq: types.Seq(1)},
	}, trie, 2, testSearchParams())
	defer r.Close()

	resp, err := r.Search(context.Background(), query.Search{Vector: []float32{1, 0}, ResultsPerPage: 10})
	require.NoError(t, err)
	require.Len(t, resp.Documents, 2)
	require.Equal(t, "a/f/file/0-1", resp.Documents[0].ID)
	require.Greater(t, resp.Documents[0].Score, resp.Documents[1].Score)
}

// TestReaderDimensionMismatch confirms §4.4 step 1's typed validation error.
func TestReaderDimensionMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	seg, err := segment.Create(dir, []types.Element{{Key: "a/f/file/0-1", Vector: []float32{1, 0}}}, nil, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg.Close()

	trie := deletetrie.New()
	r := Open("idx", []OpenSegment{{Segment: seg, Seq: 1}}, trie, 2, testSearchParams())
	defer r.Close()

	_, err = r.Search(context.Background(), query.Search{Vector: []float32{1, 0, 0}, ResultsPerPage: 10})
	require.Error(t, err)
}

// TestReaderSegmentTagFilter confirms §4.4 step 2's segment-tag filter
// skips non-matching segments entirely.
func TestReaderSegmentTagFilter(t *testing.T) {
	seg1dir := filepath.Join(t.TempDir(), "seg1")
	seg1, err := segment.Create(seg1dir, []types.Element{
		{Key: "a/f/file/0-1", Vector: []float32{1, 0}},
	}, map[string]string{"shard": "keep"}, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg1.Close()

	seg2dir := filepath.Join(t.TempDir(), "seg2")
	seg2, err := segment.Create(seg2dir, []types.Element{
		{Key: "b/f/file/0-1", Vector: []float32{1, 0}},
	}, map[string]string{"shard": "skip"}, testVectorConfig(2), testParams())
	require.NoError(t, err)
	defer seg2.Close()

	trie := deletetrie.New()
	r := Open("idx", []OpenSegment{
		{Segment: seg1, Seq: 1},
		{Segment: seg2, Seq: 1},
	}, trie, 2, testSearchParams())
	defer r.Close()

	formula := invertedindex.NewAtom(invertedindex.Atom{Kind: invertedindex.AtomLabel, Value: "shard=keep"})
	resp, err := r.Search(context.Background(), query.Search{
		Vector: []float32{1, 0}, ResultsPerPage: 10,
		SegmentFilteringFormula: formula, HasSegmentFiltering: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Documents, 1)
	require.Equal(t, "a/f/file/0-1", resp.Documents[0].ID)
}

func documentKeys(resp query.SearchResponse) []string {
	out := make([]string, len(resp.Documents))
	for i, d := range resp.Documents {
		out[i] = d.ID
	}
	return out
}
