package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndListSegments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertIndex(ctx, Index{ID: "idx1", ShardID: "shard1", Kind: "vector", Config: "{}"}))
	require.NoError(t, s.InsertSegment(ctx, Segment{ID: "seg1", IndexID: "idx1", Seq: 1, Records: 10}))
	require.NoError(t, s.InsertSegment(ctx, Segment{ID: "seg2", IndexID: "idx1", Seq: 2, Records: 5}))

	segs, err := s.SegmentsForIndex(ctx, "idx1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, "seg1", segs[0].ID)

	require.NoError(t, s.MarkSegmentsDeleted(ctx, []string{"seg1"}, 1000))
	segs, err = s.SegmentsForIndex(ctx, "idx1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "seg2", segs[0].ID)
}

func TestClaimMergeJobIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertMergeJob(ctx, MergeJob{ID: "job1", IndexID: "idx1", Seq: 10, Priority: 5}))

	job, err := s.ClaimMergeJob(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "job1", job.ID)

	_, err = s.ClaimMergeJob(ctx, 100)
	require.Error(t, err)
}

func TestGetIndexNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetIndex(ctx, "missing")
	require.Error(t, err)
}
