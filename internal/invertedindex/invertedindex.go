// Package invertedindex implements §4.3/§6's per-segment InvertedIndexes:
// label -> bitset indexes used for filter pushdown, and a node-key prefix
// index used for key atoms and for resolving deletions against a segment's
// alive set. Label bitsets use github.com/bits-and-blooms/bitset, the
// run-length-friendly equivalent to a roaring bitmap named in §6.
package invertedindex

import (
	"bytes"
	"encoding/gob"
	"os"

	"github.com/bits-and-blooms/bitset"

	"github.com/nuclia/nidx/internal/nidxerrors"
)

// Indexes holds a segment's label -> bitset family (for filter pushdown,
// §4.3 Formulae) and the segment's full node keys (for §3's alive-bitset
// resolution). Deletions are resolved by key prefix against those node keys
// at query time (see KeyPrefixBitset); no per-deletion-key bitset is stored.
// Both are persisted together in one file by Save.
type Indexes struct {
	labels    map[string]*bitset.BitSet
	byPrefix  *prefixIndex // node keys indexed for prefix matching (deletions)
	nodeKeys  []string     // address -> key, needed to resolve key-set/key-field atoms
	nodeCount int
}

// Build constructs Indexes from the nodes of a freshly created or merged
// segment. keys[i] and labels[i] describe the node at DataStore address i.
func Build(keys []string, labelsPerNode []map[string]string) *Indexes {
	idx := &Indexes{
		labels:    make(map[string]*bitset.BitSet),
		nodeKeys:  append([]string(nil), keys...),
		nodeCount: len(keys),
	}
	for addr, labels := range labelsPerNode {
		for k, v := range labels {
			label := k + "=" + v
			bs, ok := idx.labels[label]
			if !ok {
				bs = bitset.New(uint(len(keys)))
				idx.labels[label] = bs
			}
			bs.Set(uint(addr))
		}
	}
	idx.byPrefix = newPrefixIndex(keys)
	return idx
}

// LabelBitset returns the bitset of addresses carrying label (formatted
// "key=value"), or an empty bitset if the label is unknown to this segment.
func (idx *Indexes) LabelBitset(label string) *bitset.BitSet {
	if bs, ok := idx.labels[label]; ok {
		return bs
	}
	return bitset.New(uint(idx.nodeCount))
}

// KeyPrefixBitset returns the bitset of addresses whose node key has the
// given prefix, used both by key-filter atoms and by deletion resolution.
func (idx *Indexes) KeyPrefixBitset(prefix string) *bitset.BitSet {
	bs := bitset.New(uint(idx.nodeCount))
	for _, addr := range idx.byPrefix.addressesWithPrefix(prefix) {
		bs.Set(uint(addr))
	}
	return bs
}

// NodeCount returns the number of addresses this index spans.
func (idx *Indexes) NodeCount() int { return idx.nodeCount }

// Key returns the node key at addr, used by the delete-trie resolution path
// to test each address's key against deletion prefixes.
func (idx *Indexes) Key(addr int) string { return idx.nodeKeys[addr] }

// Save persists the label bitset family to path using gob, a pragmatic
// equivalent to the roaring-bitmap files named in §6 for this module's
// scope (the bitset library itself already compresses long runs via its
// underlying uint64 words).
func (idx *Indexes) Save(path string) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	type wire struct {
		NodeKeys []string
		Labels   map[string][]byte
	}
	w := wire{NodeKeys: idx.nodeKeys, Labels: make(map[string][]byte, len(idx.labels))}
	for k, bs := range idx.labels {
		b, err := bs.MarshalBinary()
		if err != nil {
			return err
		}
		w.Labels[k] = b
	}
	if err := enc.Encode(w); err != nil {
		return nidxerrors.Internal(err, "invertedindex: encode %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nidxerrors.Filesystem(err, "invertedindex: write %s", path)
	}
	return nil
}

// Load reopens a label bitset family written by Save.
func Load(path string) (*Indexes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nidxerrors.Filesystem(err, "invertedindex: open %s", path)
	}
	type wire struct {
		NodeKeys []string
		Labels   map[string][]byte
	}
	var w wire
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, nidxerrors.Internal(err, "invertedindex: decode %s", path)
	}

	idx := &Indexes{
		labels:    make(map[string]*bitset.BitSet, len(w.Labels)),
		nodeKeys:  w.NodeKeys,
		nodeCount: len(w.NodeKeys),
	}
	for k, b := range w.Labels {
		bs := &bitset.BitSet{}
		if err := bs.UnmarshalBinary(b); err != nil {
			return nil, nidxerrors.Internal(err, "invertedindex: unmarshal label %s", k)
		}
		idx.labels[k] = bs
	}
	idx.byPrefix = newPrefixIndex(idx.nodeKeys)
	return idx, nil
}
