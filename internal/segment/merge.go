package segment

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nuclia/nidx/internal/datastore"
	v1 "github.com/nuclia/nidx/internal/datastore/v1"
	"github.com/nuclia/nidx/internal/hnsw"
	"github.com/nuclia/nidx/internal/log"
	"github.com/nuclia/nidx/internal/metrics"
	"github.com/nuclia/nidx/internal/nidxerrors"
	"github.com/nuclia/nidx/internal/types"
	"go.uber.org/zap"
)

// Merge implements §4.5's merge procedure: verify tag compatibility, merge
// the DataStores largest-first, and either reuse the largest operand's HNSW
// (fast path, no deletions) or rebuild from scratch. indexID only labels the
// merge-duration/segments-merged metrics.
func Merge(indexID, dir string, operands []*Segment, params hnsw.Params) (*Segment, error) {
	start := time.Now()
	if len(operands) == 0 {
		return nil, nidxerrors.Configuration("segment: merge requires at least one operand")
	}
	tags := operands[0].Tags()
	for _, op := range operands[1:] {
		if !SameTags(tags, op.Tags()) {
			return nil, nidxerrors.Configuration("segment: InconsistentMergeSegmentTags")
		}
	}

	sorted := append([]*Segment(nil), operands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Records() > sorted[j].Records() })

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nidxerrors.Filesystem(err, "segment: mkdir %s", dir)
	}

	enc := sorted[0].Encoding()
	storeCfg := datastore.Config{VectorAlignment: enc.Alignment()}

	sources := make([]datastore.MergeSource, len(sorted))
	for i, op := range sorted {
		sources[i] = datastore.MergeSource{
			Alive:   datastore.NewSliceAliveIter(aliveAddrs(op), op.Records()),
			Store:   op.Store,
			Records: op.Records(),
		}
	}

	nodesPath := filepath.Join(dir, nodesFile)
	hasDeletions, err := v1.Merge(nodesPath, sources, storeCfg)
	if err != nil {
		return nil, err
	}

	store, err := v1.Open(nodesPath, enc.Alignment())
	if err != nil {
		return nil, err
	}

	largest := sorted[0]
	var graph *hnsw.Graph
	if !hasDeletions {
		// Fast path (§4.5 step 4): the largest operand's addresses map
		// identically into the merged store's first Records(largest) slots,
		// so its HNSW structure needs no rebuilding — only the remaining
		// operands' nodes must be inserted.
		graph = hnsw.FromSource(largest.Graph, params, largest.Records(), nil)
		startIndex := largest.Records()
		sim := func(a, b int) float32 {
			na, _ := store.Get(a)
			nb, _ := store.Get(b)
			return enc.Similarity(na.Vector, nb.Vector)
		}
		for addr := startIndex; addr < store.StoredElements(); addr++ {
			graph.Insert(addr, sim)
		}
		log.Info("segment merge: fast path", zap.Int("start_index", startIndex), zap.Int("total", store.StoredElements()))
	} else {
		graph = buildGraph(store, enc, params)
		log.Info("segment merge: full rebuild", zap.Int("total", store.StoredElements()))
	}

	if err := os.WriteFile(filepath.Join(dir, hnswFile), hnsw.Serialize(graph), 0o644); err != nil {
		store.Close()
		return nil, nidxerrors.Filesystem(err, "segment: write hnsw blob")
	}

	idx := buildIndexes(mergedElements(sorted))
	if err := idx.Save(filepath.Join(dir, labelsFile)); err != nil {
		store.Close()
		return nil, err
	}

	meta := Metadata{
		ID:      uuid.New(),
		Records: store.StoredElements(),
		Tags:    tags,
		Vector:  largest.Meta.Vector,
	}
	if err := writeMeta(dir, meta); err != nil {
		store.Close()
		return nil, err
	}

	alive := newFullBitset(meta.Records)

	metrics.SegmentsMergedTotal.WithLabelValues(indexID).Add(float64(len(sorted)))
	metrics.MergeDurationSeconds.WithLabelValues(indexID, strconv.FormatBool(!hasDeletions)).Observe(time.Since(start).Seconds())

	return &Segment{
		Dir:      dir,
		Meta:     meta,
		Store:    store,
		Graph:    graph,
		Index:    idx,
		Alive:    alive,
		encoding: enc,
	}, nil
}

func aliveAddrs(s *Segment) []int {
	addrs := make([]int, 0, s.Records())
	for addr, ok := s.Alive.NextSet(0); ok; addr, ok = s.Alive.NextSet(addr + 1) {
		addrs = append(addrs, int(addr))
	}
	return addrs
}

// mergedElements reconstructs the (key, labels) pairs of every surviving
// node across operands, in merge order, so buildIndexes can rebuild the
// inverted indexes against the merged store's addresses.
func mergedElements(sorted []*Segment) []types.Element {
	var out []types.Element
	for _, op := range sorted {
		for addr, ok := op.Alive.NextSet(0); ok; addr, ok = op.Alive.NextSet(addr + 1) {
			n, err := op.Store.Get(int(addr))
			if err != nil {
				continue
			}
			out = append(out, types.Element{Key: n.Key, Labels: n.Labels})
		}
	}
	return out
}
