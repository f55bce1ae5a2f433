package v1

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/datastore"
	"github.com/nuclia/nidx/internal/types"
)

func elemVector(dim int, seed byte) []byte {
	v := make([]byte, dim)
	for i := range v {
		v[i] = seed + byte(i)
	}
	return v
}

func testElements(n int, vecLen int) []types.Element {
	els := make([]types.Element, n)
	for i := 0; i < n; i++ {
		els[i] = types.Element{
			Key:    filepath.Join("res", "f", "field", "0-1"),
			Labels: types.Labels{"lang": "en"},
		}
	}
	_ = vecLen
	return els
}

func encodeRaw(vecLen int) func(types.Element) []byte {
	return func(el types.Element) []byte {
		return elemVector(vecLen, 7)
	}
}

func TestCreateOpenGet_Alignment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes")

	const align = 8
	const vecLen = 13 // deliberately not a multiple of align

	els := []types.Element{
		{Key: "r1/f/a/0-1", Labels: types.Labels{"l": "1"}, Metadata: []byte("m1")},
		{Key: "r2/f/a/0-1", Labels: types.Labels{"l": "2"}},
		{Key: "r3/f/a/0-1", Labels: types.Labels{}, Metadata: []byte("meta-three")},
	}

	require.NoError(t, Create(path, els, datastore.Config{VectorAlignment: align}, encodeRaw(vecLen), nil))

	s, err := Open(path, align)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, len(els), s.StoredElements())

	for i, el := range els {
		n, vecOff, err := decodeSlotWithVectorOffset(s.data, s.pointer(i), align)
		require.NoError(t, err)
		require.Equal(t, el.Key, n.Key)
		require.Equal(t, el.Labels["l"], n.Labels["l"])
		require.Equal(t, 0, int(vecOff%align), "vector start offset must be a multiple of the alignment")

		got, err := s.Get(i)
		require.NoError(t, err)
		require.Equal(t, elemVector(vecLen, 7), got.Vector)
	}
}

func TestMerge_PreservesOrderAndDropsDeletions(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "seg1.nodes")
	path2 := filepath.Join(dir, "seg2.nodes")
	mergedPath := filepath.Join(dir, "merged.nodes")

	const align = 4
	els1 := []types.Element{
		{Key: "A/f/file/0-100"},
		{Key: "A/f/file/100-200"},
	}
	els2 := []types.Element{
		{Key: "B/f/file/0-100"},
	}
	require.NoError(t, Create(path1, els1, datastore.Config{VectorAlignment: align}, encodeRaw(4), nil))
	require.NoError(t, Create(path2, els2, datastore.Config{VectorAlignment: align}, encodeRaw(4), nil))

	s1, err := Open(path1, align)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Open(path2, align)
	require.NoError(t, err)
	defer s2.Close()

	// seg1 has one deletion (address 0 dropped); seg2 has none.
	hasDeletions, err := Merge(mergedPath, []datastore.MergeSource{
		{Alive: datastore.NewSliceAliveIter([]int{1}, s1.StoredElements()), Store: s1, Records: s1.StoredElements()},
		{Alive: datastore.NewSliceAliveIter([]int{0}, s2.StoredElements()), Store: s2, Records: s2.StoredElements()},
	}, datastore.Config{VectorAlignment: align})
	require.NoError(t, err)
	require.True(t, hasDeletions)

	merged, err := Open(mergedPath, align)
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, 2, merged.StoredElements())
	n0, err := merged.Get(0)
	require.NoError(t, err)
	require.Equal(t, "A/f/file/100-200", n0.Key)
	n1, err := merged.Get(1)
	require.NoError(t, err)
	require.Equal(t, "B/f/file/0-100", n1.Key)
}

func TestMerge_NoDeletions(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "seg1.nodes")
	path2 := filepath.Join(dir, "seg2.nodes")
	mergedPath := filepath.Join(dir, "merged.nodes")

	const align = 4
	require.NoError(t, Create(path1, []types.Element{{Key: "A/f/file/0-100"}}, datastore.Config{VectorAlignment: align}, encodeRaw(4), nil))
	require.NoError(t, Create(path2, []types.Element{{Key: "B/f/file/0-100"}}, datastore.Config{VectorAlignment: align}, encodeRaw(4), nil))

	s1, err := Open(path1, align)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Open(path2, align)
	require.NoError(t, err)
	defer s2.Close()

	hasDeletions, err := Merge(mergedPath, []datastore.MergeSource{
		{Alive: datastore.NewSliceAliveIter([]int{0}, 1), Store: s1, Records: 1},
		{Alive: datastore.NewSliceAliveIter([]int{0}, 1), Store: s2, Records: 1},
	}, datastore.Config{VectorAlignment: align})
	require.NoError(t, err)
	require.False(t, hasDeletions)
}
