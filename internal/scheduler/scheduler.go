// Package scheduler implements §4.6's merge scheduler: ack-floor-bounded
// segment selection, tag partitioning, the deletion-pressure window, and
// MergeJob priority, grounded on the teacher's compactionTrigger
// (datacoord/compaction_trigger.go) — a periodic policy pass over metadata
// that emits work items for a separate worker pool to execute.
package scheduler

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nuclia/nidx/internal/config"
	"github.com/nuclia/nidx/internal/log"
	"github.com/nuclia/nidx/internal/metastore"
	"github.com/nuclia/nidx/internal/types"
)

// Group is one planned merge: the segments to combine and whether the
// deletion-pressure window forced its inclusion.
type Group struct {
	Segments []metastore.Segment
	Forced   bool
}

// priority implements §4.6 step 6's formula.
func priority(g Group) int {
	p := len(g.Segments)
	if g.Forced {
		p += 5
	}
	records := 0
	for _, s := range g.Segments {
		records += s.Records
	}
	return p - records/10000
}

// Plan computes the merge groups for one index at the given ack floor
// (§4.6 steps 1-5): the caller is responsible for computing ackFloor as the
// smallest in-flight Seq minus one, since that depends on the ingest
// pipeline's own bookkeeping, out of this package's scope.
func Plan(ctx context.Context, store *metastore.Store, indexID string, settings config.MergeSettings, ackFloor types.Seq) ([]Group, error) {
	segs, err := store.SegmentsForIndex(ctx, indexID)
	if err != nil {
		return nil, err
	}

	eligible := make([]metastore.Segment, 0, len(segs))
	for _, s := range segs {
		if s.Seq <= ackFloor && s.MergeJobID == nil {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	byTag := partitionByTags(eligible)

	dels, err := store.DeletionsForIndex(ctx, indexID)
	if err != nil {
		return nil, err
	}
	deletionCount := len(dels)

	var groups []Group
	for _, segments := range byTag {
		forced := deletionCount > settings.MaxDeletions
		if forced {
			segments = forceOldestDeletionWindow(segments, settings.DeletionWindowSegments)
		}
		if len(segments) < settings.MinSegmentsToMerge && !forced {
			continue
		}
		groups = append(groups, Group{Segments: segments, Forced: forced})
	}
	return groups, nil
}

// partitionByTags groups segments by their index_metadata tag set (§4.6
// step 3): only same-tag segments may merge.
func partitionByTags(segs []metastore.Segment) map[string][]metastore.Segment {
	out := make(map[string][]metastore.Segment)
	for _, s := range segs {
		key := tagKey(s.IndexMetadata)
		out[key] = append(out[key], s)
	}
	return out
}

func tagKey(indexMetadata string) string {
	var tags map[string]string
	if err := json.Unmarshal([]byte(indexMetadata), &tags); err != nil {
		return indexMetadata
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	normalized := make([]string, len(keys))
	for i, k := range keys {
		normalized[i] = k + "=" + tags[k]
	}
	b, _ := json.Marshal(normalized)
	return string(b)
}

// forceOldestDeletionWindow is the deletion-pressure window of §4.6 step 4:
// it returns the windowSize smallest-Seq segments, oldest-first (all of them
// when windowSize is 0 or not smaller than len(segs)), so that a
// deletion-heavy index always makes progress even below MinSegmentsToMerge.
// The Seqs of the deletions themselves are not consulted: which segments are
// chosen depends only on the segments' own Seqs.
func forceOldestDeletionWindow(segs []metastore.Segment, windowSize int) []metastore.Segment {
	sorted := append([]metastore.Segment(nil), segs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	if windowSize > 0 && windowSize < len(sorted) {
		sorted = sorted[:windowSize]
	}
	return sorted
}

// Enqueue inserts a MergeJob row for each group at seq=ackFloor and, in the
// same transaction, stamps every input segment's merge_job_id with that job
// (§4.6 step 6): once claimed, a segment is no longer eligible for a future
// Plan pass (scheduler.go's `s.MergeJobID == nil` check), so a separate
// worker pool can later claim and execute the job via
// metastore.ClaimMergeJob without two jobs ever racing for the same input.
func Enqueue(ctx context.Context, store *metastore.Store, indexID string, ackFloor types.Seq, groups []Group) error {
	for _, g := range groups {
		job := metastore.MergeJob{
			ID:       uuid.New().String(),
			IndexID:  indexID,
			Seq:      ackFloor,
			Priority: priority(g),
		}
		segmentIDs := make([]string, len(g.Segments))
		for i, seg := range g.Segments {
			segmentIDs[i] = seg.ID
		}
		if err := store.InsertMergeJobAndClaimSegments(ctx, job, segmentIDs); err != nil {
			return err
		}
		log.Info("merge job enqueued", zap.String("index", indexID), zap.String("job", job.ID),
			zap.Int("segments", len(g.Segments)), zap.Bool("forced", g.Forced), zap.Int("priority", job.Priority))
	}
	return nil
}
