package deletetrie

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/types"
)

// TestTimeSensitiveDeletion exercises Scenario D of §8: a segment at seq=1
// holds keys "r/a/title" and "r/f/file"; a reader with delete-log entry
// r/a/title -> 2 excludes only "r/a/title", while a reader with the same
// entry at seq=1 (equal to the segment's own seq) still returns both.
func TestTimeSensitiveDeletion(t *testing.T) {
	trie := New()
	trie.Insert("r/a/title", 2)

	log := TimeSensitiveDeleteLog{Trie: trie, Time: types.Seq(1)}
	require.True(t, log.IsDeleted("r/a/title"))
	require.False(t, log.IsDeleted("r/f/file"))

	sameSeqTrie := New()
	sameSeqTrie.Insert("r/a/title", 1)
	sameSeqLog := TimeSensitiveDeleteLog{Trie: sameSeqTrie, Time: types.Seq(1)}
	require.False(t, sameSeqLog.IsDeleted("r/a/title"))
	require.False(t, sameSeqLog.IsDeleted("r/f/file"))
}

func TestCompactPrunesBelowFloor(t *testing.T) {
	trie := New()
	trie.Insert("a", 1)
	trie.Insert("b", 5)
	trie.Insert("c", 10)
	require.Equal(t, 3, trie.Len())

	trie.Compact(6)
	require.Equal(t, 1, trie.Len())

	log := TimeSensitiveDeleteLog{Trie: trie, Time: types.Seq(0)}
	require.False(t, log.IsDeleted("a"))
	require.False(t, log.IsDeleted("b"))
	require.True(t, log.IsDeleted("c"))
}

func TestInsertKeepsLargerSeq(t *testing.T) {
	trie := New()
	trie.Insert("k", 5)
	trie.Insert("k", 3)
	require.Equal(t, types.Seq(5), trie.maxSeqForPrefixes([]string{"k"}))
	trie.Insert("k", 9)
	require.Equal(t, types.Seq(9), trie.maxSeqForPrefixes([]string{"k"}))
}
