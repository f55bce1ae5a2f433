// Package deletetrie implements §3's delete trie: a process-wide, per-reader
// prefix-trie mapping deletion-key prefix -> Seq, and the
// TimeSensitiveDeleteLog derived from it per segment. Ordered by Seq via
// google/btree so Compact (§9 open question (c)) can prune stale entries in
// O(log n + k) instead of a full scan.
package deletetrie

import (
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/nuclia/nidx/internal/types"
)

type seqEntry struct {
	seq    types.Seq
	prefix string
}

func seqLess(a, b seqEntry) bool {
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.prefix < b.prefix
}

// Trie is the shared, mutable structure a reader keeps across queries; it
// is never mutated mid-query (§5), only between them as new deletions land.
type Trie struct {
	mu      sync.RWMutex
	entries map[string]types.Seq
	bySeq   *btree.BTreeG[seqEntry]
}

// New returns an empty delete trie.
func New() *Trie {
	return &Trie{
		entries: make(map[string]types.Seq),
		bySeq:   btree.NewG(32, seqLess),
	}
}

// Insert records that prefix was deleted at seq. If prefix already carries
// a deletion, only the larger Seq is kept (deletions are idempotent and
// monotonic per key).
func (t *Trie) Insert(prefix string, seq types.Seq) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[prefix]; ok {
		if seq <= cur {
			return
		}
		t.bySeq.Delete(seqEntry{seq: cur, prefix: prefix})
	}
	t.entries[prefix] = seq
	t.bySeq.ReplaceOrInsert(seqEntry{seq: seq, prefix: prefix})
}

// maxSeqForPrefixes returns the largest Seq recorded for any of prefixes,
// or -1 if none of them were ever deleted.
func (t *Trie) maxSeqForPrefixes(prefixes []string) types.Seq {
	t.mu.RLock()
	defer t.mu.RUnlock()

	best := types.Seq(-1)
	for _, p := range prefixes {
		if s, ok := t.entries[p]; ok && s > best {
			best = s
		}
	}
	return best
}

// PrefixesAbove returns every deletion-key prefix recorded with a Seq
// strictly greater than seq: the set a reader must apply to a segment
// opened at that Seq to materialize its alive bitset (§4.4).
func (t *Trie) PrefixesAbove(seq types.Seq) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0)
	for prefix, s := range t.entries {
		if s > seq {
			out = append(out, prefix)
		}
	}
	return out
}

// Compact prunes every entry with Seq below belowSeq: once every open
// segment's Seq is >= belowSeq, older deletions can never flip a lookup's
// outcome again. No package in this module calls it; the owner of the trie
// decides when to compact.
func (t *Trie) Compact(belowSeq types.Seq) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		min, ok := t.bySeq.Min()
		if !ok || min.seq >= belowSeq {
			return
		}
		t.bySeq.DeleteMin()
		delete(t.entries, min.prefix)
	}
}

// Len reports the number of distinct deletion-key prefixes currently held,
// mainly for tests and metrics.
func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// allPrefixes splits a structured node key
// "<resource-uuid>/<field-type>/<field-name>/<start>-<end>" into its
// cumulative path prefixes, since a deletion may target any prefix of that
// path (§3 Element).
func allPrefixes(key string) []string {
	parts := strings.Split(key, "/")
	prefixes := make([]string, 0, len(parts))
	for i := range parts {
		prefixes = append(prefixes, strings.Join(parts[:i+1], "/"))
	}
	return prefixes
}

// TimeSensitiveDeleteLog is the per-segment view described in §4.4: a
// prefix is considered deleted for this segment iff the trie's entry for it
// carries a Seq strictly greater than the segment's own Seq.
type TimeSensitiveDeleteLog struct {
	Trie *Trie
	Time types.Seq
}

// IsDeleted reports whether key should be treated as deleted given this
// log's segment Seq, per §3's Invariant 3 / §4.4.
func (l TimeSensitiveDeleteLog) IsDeleted(key string) bool {
	maxSeq := l.Trie.maxSeqForPrefixes(allPrefixes(key))
	return maxSeq > l.Time
}
