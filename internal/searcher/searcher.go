// Package searcher implements §4.4's multi-segment Searcher/Reader (C6):
// it opens a set of (segment, seq) pairs behind a shared delete trie,
// materializes each segment's time-sensitive alive bitset once at open
// time, and fans a query.Search out across every kept segment, merging
// the per-segment streams into one paginated response through a
// fixed-size sorted collection (Fssc), grounded on the teacher's
// querynodev2/delegator segment-fanout-and-merge pattern.
package searcher

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuclia/nidx/internal/config"
	"github.com/nuclia/nidx/internal/deletetrie"
	"github.com/nuclia/nidx/internal/log"
	"github.com/nuclia/nidx/internal/metrics"
	"github.com/nuclia/nidx/internal/nidxerrors"
	"github.com/nuclia/nidx/internal/query"
	"github.com/nuclia/nidx/internal/segment"
	"github.com/nuclia/nidx/internal/types"
	"go.uber.org/zap"
)

// OpenSegment is one (segment, seq) pair the reader is asked to serve,
// per §4.4.
type OpenSegment struct {
	Segment *segment.Segment
	Seq     types.Seq
}

// Reader is one open multi-segment view over an index: every segment
// listed was open at construction time and had its alive bitset
// intersected with the deletions its Seq makes visible (§3 Invariant 3).
type Reader struct {
	indexID  string
	segments []OpenSegment
	trie     *deletetrie.Trie
	dim      int
	params   config.VectorIndexParams
}

// Open builds a Reader over segs, deriving each segment's
// TimeSensitiveDeleteLog from trie and applying every deletion prefix that
// log resolves as deleted against that segment's alive bitset (§4.4). dim
// is the index's configured vector dimension, checked against every query;
// params is the shard's HNSW/search tuning, forwarded unchanged to every
// per-segment Search call; indexID labels the search-latency metric.
func Open(indexID string, segs []OpenSegment, trie *deletetrie.Trie, dim int, params config.VectorIndexParams) *Reader {
	for _, s := range segs {
		for _, prefix := range trie.PrefixesAbove(s.Seq) {
			s.Segment.ApplyDeletion(prefix)
		}
	}
	return &Reader{indexID: indexID, segments: segs, trie: trie, dim: dim, params: params}
}

// Close releases every segment this reader holds open.
func (r *Reader) Close() error {
	var err error
	for _, s := range r.segments {
		if e := s.Segment.Close(); e != nil {
			err = e
		}
	}
	return err
}

// Search runs §4.4's per-query procedure: validate dimension, apply the
// optional segment-tag filter, fan the query out to every kept segment
// concurrently (§5: merges and searches run on a blocking-thread pool),
// merge the resulting streams through a k-sized Fssc, and page the result.
func (r *Reader) Search(ctx context.Context, q query.Search) (query.SearchResponse, error) {
	start := time.Now()
	defer func() {
		metrics.SearchLatencySeconds.WithLabelValues(r.indexID).Observe(time.Since(start).Seconds())
	}()

	if len(q.Vector) != r.dim {
		return query.SearchResponse{}, nidxerrors.Configuration(
			"reader: query dimension %d does not match index dimension %d", len(q.Vector), r.dim)
	}

	kept := r.segments
	if q.HasSegmentFiltering {
		kept = make([]OpenSegment, 0, len(r.segments))
		for _, s := range r.segments {
			if q.SegmentFilteringFormula.MatchesTags(s.Segment.Tags()) {
				kept = append(kept, s)
			}
		}
	}

	page := q.PageNumber
	perPage := q.ResultsPerPage
	if perPage <= 0 {
		perPage = 1
	}
	// Fssc must hold enough ranked candidates to serve every page up to and
	// including the requested one.
	k := (page + 1) * perPage

	sq := segment.Query{
		Vector:         q.Vector,
		Filter:         q.FilteringFormula,
		HasFilter:      q.HasFilteringFormula,
		WithDuplicates: q.WithDuplicates,
		K:              k,
		MinScore:       q.MinScore,
	}

	results := make([][]types.Neighbour, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range kept {
		i, s := i, s
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			out, err := s.Segment.Search(sq, r.params)
			if err != nil {
				log.Error("reader: segment search failed, excluding segment", zap.Error(err))
				return nil
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return query.SearchResponse{}, nidxerrors.Internal(err, "reader: search cancelled")
	}

	fssc := newFssc(k, q.WithDuplicates)
	for _, segResults := range results {
		for _, n := range segResults {
			fssc.offer(n)
		}
	}
	merged := fssc.sorted()

	offset := page * perPage
	if offset >= len(merged) {
		return query.SearchResponse{Documents: nil, PageNumber: page, ResultsPerPage: perPage}, nil
	}
	end := offset + perPage
	if end > len(merged) {
		end = len(merged)
	}

	docs := make([]query.Document, 0, end-offset)
	for _, n := range merged[offset:end] {
		docs = append(docs, query.Document{ID: n.Key, Score: n.Score, Labels: n.Labels, Metadata: n.Metadata})
	}

	return query.SearchResponse{Documents: docs, PageNumber: page, ResultsPerPage: perPage}, nil
}

// fssc is §4.4 step 4's fixed-size sorted collection: it keeps the top-k
// scored neighbours offered to it, replacing the smallest accepted entry
// once a strictly higher-scoring candidate arrives, and (when
// withDuplicates is false) eliding vectors already seen under a different
// segment via a vector-byte seen-set.
type fssc struct {
	k              int
	withDuplicates bool
	seen           map[string]bool
	items          []types.Neighbour
}

func newFssc(k int, withDuplicates bool) *fssc {
	f := &fssc{k: k, withDuplicates: withDuplicates, items: make([]types.Neighbour, 0, k)}
	if !withDuplicates {
		f.seen = make(map[string]bool)
	}
	return f
}

func (f *fssc) offer(n types.Neighbour) {
	vecKey := string(n.VectorBytes)
	if !f.withDuplicates && f.seen[vecKey] {
		return
	}

	if len(f.items) < f.k {
		f.items = append(f.items, n)
		if !f.withDuplicates {
			f.seen[vecKey] = true
		}
		return
	}

	minIdx := 0
	for i := 1; i < len(f.items); i++ {
		if f.items[i].Score < f.items[minIdx].Score {
			minIdx = i
		}
	}
	if n.Score > f.items[minIdx].Score {
		if !f.withDuplicates {
			delete(f.seen, string(f.items[minIdx].VectorBytes))
			f.seen[vecKey] = true
		}
		f.items[minIdx] = n
	}
}

func (f *fssc) sorted() []types.Neighbour {
	out := append([]types.Neighbour(nil), f.items...)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
