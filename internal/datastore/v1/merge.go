package v1

import (
	"github.com/nuclia/nidx/internal/datastore"
	"github.com/nuclia/nidx/internal/types"
)

// Merge implements §4.1's DataStore.merge: concatenate the alive nodes of
// each source, in the order given, into a new v1 store at path. It returns
// whether any source's alive iterator skipped at least one address — the
// signal the segment lifecycle (§4.5 step 3) uses to decide between the
// HNSW fast-merge path and a full rebuild.
//
// Operand order matters: callers must sort sources by descending Records
// before calling Merge so the first (largest) operand's addresses are
// placed first in the merged store, which is what makes the fast-merge
// address-identity argument (§4.5 step 4) valid.
func Merge(path string, sources []datastore.MergeSource, cfg datastore.Config) (hasDeletions bool, err error) {
	var nodes []types.Node
	for _, src := range sources {
		if src.Alive.HasDeletions() {
			hasDeletions = true
		}
		for {
			addr, ok := src.Alive.Next()
			if !ok {
				break
			}
			n, err := src.Store.Get(addr)
			if err != nil {
				return false, err
			}
			// Copy key/vector bytes out of the source's mmap region since
			// the source store may be closed before the merged store is
			// read back.
			nodes = append(nodes, copyNode(n))
		}
	}

	if err := writeNodes(path, nodes, cfg.VectorAlignment); err != nil {
		return false, err
	}
	return hasDeletions, nil
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
