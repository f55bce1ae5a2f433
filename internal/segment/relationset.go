package segment

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nuclia/nidx/internal/datastore"
	v1 "github.com/nuclia/nidx/internal/datastore/v1"
	"github.com/nuclia/nidx/internal/deletetrie"
	"github.com/nuclia/nidx/internal/hnsw"
	"github.com/nuclia/nidx/internal/nidxerrors"
	"github.com/nuclia/nidx/internal/types"
)

// resourceField returns the "<resource-uuid>/<field-type>/<field-name>"
// prefix a relations vectorset deletion targets; for a full four-part key
// this is the same prefix Paragraph returns.
func resourceField(key string) string {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) < 3 {
		return key
	}
	return strings.Join(parts[:3], "/")
}

// MergeRelations implements §4.5's relations-vectorset merge variant: like
// Merge, but paragraph identity is deduplicated across *all* operands (not
// just within one), since the same entity can be re-asserted from several
// resources, and deletions are resolved against the (resource, field)
// key-prefix through a time-sensitive delete log in addition to the alive
// bitset of each operand.
func MergeRelations(dir string, operands []*Segment, log *deletetrie.TimeSensitiveDeleteLog, params hnsw.Params) (*Segment, error) {
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

	seenEntities := make(map[string]bool)
	var nodes []types.Node
	for _, op := range sorted {
		for addr, ok := op.Alive.NextSet(0); ok; addr, ok = op.Alive.NextSet(addr + 1) {
			n, err := op.Store.Get(int(addr))
			if err != nil {
				continue
			}
			if log != nil && log.IsDeleted(resourceField(n.Key)) {
				continue
			}
			entity := types.Paragraph(n.Key)
			if seenEntities[entity] {
				continue
			}
			seenEntities[entity] = true
			nodes = append(nodes, copyNode(n))
		}
	}

	nodesPath := filepath.Join(dir, nodesFile)
	if err := v1.WriteNodes(nodesPath, nodes, storeCfg.VectorAlignment); err != nil {
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

	elements := make([]types.Element, len(nodes))
	for i, n := range nodes {
		elements[i] = types.Element{Key: n.Key, Labels: n.Labels}
	}
	idx := buildIndexes(elements)
	if err := idx.Save(filepath.Join(dir, labelsFile)); err != nil {
		store.Close()
		return nil, err
	}

	meta := Metadata{
		ID:      uuid.New(),
		Records: len(nodes),
		Tags:    tags,
		Vector:  sorted[0].Meta.Vector,
	}
	if err := writeMeta(dir, meta); err != nil {
		store.Close()
		return nil, err
	}

	return &Segment{
		Dir:      dir,
		Meta:     meta,
		Store:    store,
		Graph:    graph,
		Index:    idx,
		Alive:    newFullBitset(meta.Records),
		encoding: enc,
	}, nil
}

func copyNode(n types.Node) types.Node {
	vec := append([]byte(nil), n.Vector...)
	var meta []byte
	if n.Metadata != nil {
		meta = append([]byte(nil), n.Metadata...)
	}
	var rerank []byte
	if n.RerankVector != nil {
		rerank = append([]byte(nil), n.RerankVector...)
	}
	labels := make(types.Labels, len(n.Labels))
	for k, v := range n.Labels {
		labels[k] = v
	}
	return types.Node{Key: n.Key, Labels: labels, Metadata: meta, Vector: vec, RerankVector: rerank}
}
