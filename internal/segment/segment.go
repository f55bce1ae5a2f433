// Package segment implements §3/§4.4/§4.5's Segment (OpenDataPoint): one
// DataStore + one HNSW + one InvertedIndexes bundle, plus the in-memory
// alive bitset, and the create/open/merge lifecycle operations.
package segment

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"github.com/nuclia/nidx/internal/datastore"
	v1 "github.com/nuclia/nidx/internal/datastore/v1"
	"github.com/nuclia/nidx/internal/hnsw"
	"github.com/nuclia/nidx/internal/invertedindex"
	"github.com/nuclia/nidx/internal/log"
	"github.com/nuclia/nidx/internal/nidxerrors"
	"github.com/nuclia/nidx/internal/types"
	"github.com/nuclia/nidx/internal/vectortype"
	"go.uber.org/zap"
)

const (
	nodesFile  = "nodes"
	hnswFile   = "index.hnsw"
	labelsFile = "labels"
	metaFile   = "meta.json"
)

// Segment is one immutable on-disk unit (§3) opened for reading: its
// DataStore and HNSW never change after creation (Invariant 1); only the
// alive bitset, held per open handle, is mutated by ApplyDeletion.
type Segment struct {
	Dir   string
	Meta  Metadata
	Store datastore.Store
	Graph hnsw.NeighborSource
	Index *invertedindex.Indexes
	Alive *bitset.BitSet

	encoding vectortype.Encoding

	closeGraph func() error
}

// Records returns the segment's static record count.
func (s *Segment) Records() int { return s.Meta.Records }

// Tags returns the segment's static tag set.
func (s *Segment) Tags() map[string]string { return s.Meta.Tags }

// Encoding returns the vector encoding this segment was built with.
func (s *Segment) Encoding() vectortype.Encoding { return s.encoding }

// Create builds a brand-new segment directory at dir from elements,
// following §4.5's Create procedure: write DataStore, build a RAM HNSW over
// every address, serialize it, then build the inverted indexes.
func Create(dir string, elements []types.Element, tags map[string]string, vcfg VectorConfig, params hnsw.Params) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nidxerrors.Filesystem(err, "segment: mkdir %s", dir)
	}

	enc := vcfg.Encoding()
	storeCfg := datastore.Config{VectorAlignment: enc.Alignment()}

	encodeFn := func(el types.Element) []byte { return enc.Encode(el.Vector) }
	var rerankFn func(types.Element) []byte
	if rr, ok := enc.(vectortype.Reranker); ok {
		rerankFn = func(el types.Element) []byte { return rr.RerankEncode(el.Vector) }
	}
	nodesPath := filepath.Join(dir, nodesFile)
	if err := v1.Create(nodesPath, elements, storeCfg, encodeFn, rerankFn); err != nil {
		return nil, err
	}

	store, err := v1.Open(nodesPath, enc.Alignment())
	if err != nil {
		return nil, err
	}

	graph := buildGraph(store, enc, params)
	if err := os.WriteFile(filepath.Join(dir, hnswFile), hnsw.Serialize(graph), 0o644); err != nil {
		store.Close()
		return nil, nidxerrors.Filesystem(err, "segment: write hnsw blob")
	}

	idx := buildIndexes(elements)
	if err := idx.Save(filepath.Join(dir, labelsFile)); err != nil {
		store.Close()
		return nil, err
	}

	meta := Metadata{
		ID:      uuid.New(),
		Records: len(elements),
		Tags:    tags,
		Vector:  vcfg,
	}
	if err := writeMeta(dir, meta); err != nil {
		store.Close()
		return nil, err
	}

	log.Info("segment created", zap.String("segment", meta.ID.String()), zap.Int("records", meta.Records))

	alive := newFullBitset(meta.Records)

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

// Open reopens a previously created segment directory, mmap'ing the
// DataStore and HNSW blob and loading the inverted indexes (§4.1 open,
// §4.2 disk form).
func Open(dir string) (*Segment, error) {
	meta, err := readMeta(dir)
	if err != nil {
		return nil, err
	}
	enc := meta.Vector.Encoding()

	store, err := v1.Open(filepath.Join(dir, nodesFile), enc.Alignment())
	if err != nil {
		return nil, err
	}
	graph, err := hnsw.Open(filepath.Join(dir, hnswFile))
	if err != nil {
		store.Close()
		return nil, err
	}
	idx, err := invertedindex.Load(filepath.Join(dir, labelsFile))
	if err != nil {
		store.Close()
		graph.Close()
		return nil, err
	}

	return &Segment{
		Dir:        dir,
		Meta:       meta,
		Store:      store,
		Graph:      graph,
		Index:      idx,
		Alive:      newFullBitset(meta.Records),
		encoding:   enc,
		closeGraph: graph.Close,
	}, nil
}

func newFullBitset(n int) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		bs.Set(uint(i))
	}
	return bs
}

// ApplyDeletion clears the alive bits of every address whose key matches
// prefix, per §3/§4.4: callers (the Reader) only invoke this for deletions
// their TimeSensitiveDeleteLog has already determined apply to this
// segment's Seq.
func (s *Segment) ApplyDeletion(prefix string) {
	hits := s.Index.KeyPrefixBitset(prefix)
	s.Alive.InPlaceDifference(hits)
}

// Close releases the segment's mmap'd resources.
func (s *Segment) Close() error {
	var err error
	if e := s.Store.Close(); e != nil {
		err = e
	}
	if s.closeGraph != nil {
		if e := s.closeGraph(); e != nil {
			err = e
		}
	}
	return err
}

func buildIndexes(elements []types.Element) *invertedindex.Indexes {
	keys := make([]string, len(elements))
	labels := make([]map[string]string, len(elements))
	for i, el := range elements {
		keys[i] = el.Key
		labels[i] = el.Labels
	}
	return invertedindex.Build(keys, labels)
}

func buildGraph(store datastore.Store, enc vectortype.Encoding, params hnsw.Params) *hnsw.Graph {
	g := hnsw.NewGraph(params, nil)
	sim := func(a, b int) float32 {
		na, _ := store.Get(a)
		nb, _ := store.Get(b)
		return enc.Similarity(na.Vector, nb.Vector)
	}
	for i := 0; i < store.StoredElements(); i++ {
		g.Insert(i, sim)
	}
	return g
}

func writeMeta(dir string, meta Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return nidxerrors.Internal(err, "segment: marshal metadata")
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), b, 0o644); err != nil {
		return nidxerrors.Filesystem(err, "segment: write metadata")
	}
	return nil
}

func readMeta(dir string) (Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return Metadata{}, nidxerrors.Filesystem(err, "segment: read metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, nidxerrors.Internal(err, "segment: unmarshal metadata")
	}
	return meta, nil
}
