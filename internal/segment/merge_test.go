package segment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/config"
	"github.com/nuclia/nidx/internal/types"
)

func testSearchParams() config.VectorIndexParams {
	return config.VectorIndexParams{
		RerankingFactor: 10,
		RerankingLimit:  200,
		HNSWCostFactor:  200,
		PreloadBudget:   20000,
	}
}

// TestMergeWithoutDeletions is Scenario B of §8: two single-element
// segments merge cleanly; querying either original vector against the
// merged segment returns a near-exact score and the matching key.
func TestMergeWithoutDeletions(t *testing.T) {
	base := t.TempDir()
	seg1, err := Create(filepath.Join(base, "seg1"), []types.Element{
		{Key: "A/f/file/0-100", Vector: []float32{1, 0, 0, 0}},
	}, map[string]string{"kind": "field"}, testVectorConfig(4), testParams())
	require.NoError(t, err)
	seg2, err := Create(filepath.Join(base, "seg2"), []types.Element{
		{Key: "B/f/file/0-100", Vector: []float32{0, 1, 0, 0}},
	}, map[string]string{"kind": "field"}, testVectorConfig(4), testParams())
	require.NoError(t, err)

	merged, err := Merge("idx1", filepath.Join(base, "merged"), []*Segment{seg1, seg2}, testParams())
	require.NoError(t, err)
	defer merged.Close()
	require.Equal(t, 2, merged.Records())

	for _, c := range []struct {
		vec []float32
		key string
	}{
		{[]float32{1, 0, 0, 0}, "A/f/file/0-100"},
		{[]float32{0, 1, 0, 0}, "B/f/file/0-100"},
	} {
		out, err := merged.Search(Query{Vector: c.vec, K: 1}, testSearchParams())
		require.NoError(t, err)
		require.Len(t, out, 1)
		require.GreaterOrEqual(t, out[0].Score, float32(0.999))
		require.Equal(t, c.key, out[0].Key)
	}
}

// TestMergeRejectsMismatchedTags is Invariant 4: merge fails when operands'
// tag sets differ (InconsistentMergeSegmentTags).
func TestMergeRejectsMismatchedTags(t *testing.T) {
	base := t.TempDir()
	seg1, err := Create(filepath.Join(base, "seg1"), []types.Element{
		{Key: "A/f/file/0-100", Vector: []float32{1, 0}},
	}, map[string]string{"kind": "a"}, testVectorConfig(2), testParams())
	require.NoError(t, err)
	seg2, err := Create(filepath.Join(base, "seg2"), []types.Element{
		{Key: "B/f/file/0-100", Vector: []float32{0, 1}},
	}, map[string]string{"kind": "b"}, testVectorConfig(2), testParams())
	require.NoError(t, err)

	_, err = Merge("idx1", filepath.Join(base, "merged"), []*Segment{seg1, seg2}, testParams())
	require.Error(t, err)
}

// TestMergeWithDeletionsSkipsDeletedKeys is Scenario C's correctness half: a
// full-rebuild merge (with a deletion applied to one operand) must never
// surface the deleted key in the merged store.
func TestMergeWithDeletionsSkipsDeletedKeys(t *testing.T) {
	base := t.TempDir()
	seg1, err := Create(filepath.Join(base, "seg1"), []types.Element{
		{Key: "A/f/file/0-100", Vector: []float32{1, 0}},
		{Key: "A/f/file/100-200", Vector: []float32{0.9, 0.1}},
	}, map[string]string{"kind": "a"}, testVectorConfig(2), testParams())
	require.NoError(t, err)
	seg2, err := Create(filepath.Join(base, "seg2"), []types.Element{
		{Key: "B/f/file/0-100", Vector: []float32{0, 1}},
	}, map[string]string{"kind": "a"}, testVectorConfig(2), testParams())
	require.NoError(t, err)

	seg1.ApplyDeletion("A/f/file/0-100")

	merged, err := Merge("idx1", filepath.Join(base, "merged"), []*Segment{seg1, seg2}, testParams())
	require.NoError(t, err)
	defer merged.Close()
	require.Equal(t, 2, merged.Records())

	for i := 0; i < merged.Records(); i++ {
		n, err := merged.Store.Get(i)
		require.NoError(t, err)
		require.NotEqual(t, "A/f/file/0-100", n.Key)
	}
}
