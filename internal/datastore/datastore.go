// Package datastore implements §4.1's DataStore: an aligned, append-only
// keyed store of fixed-layout vector nodes. Two on-disk versions exist; both
// satisfy the Store interface so callers never need to know which backs a
// given segment, mirroring the teacher's polymorphic storage.ChunkManager
// dispatch.
package datastore

import (
	"github.com/nuclia/nidx/internal/types"
)

// AliveIter yields addresses, in ascending order, that should survive a
// merge. A merge operand that skips at least one address (a deletion) must
// report HasDeletions so the HNSW fast-merge decision (§4.5 step 4) can be
// made.
type AliveIter interface {
	// Next returns the next alive address and true, or (0, false) when
	// exhausted.
	Next() (int, bool)
	// HasDeletions reports whether any address was skipped.
	HasDeletions() bool
}

// SliceAliveIter is an AliveIter backed by a pre-computed sorted address
// slice, the common case when the alive bitset has already been resolved to
// a slice of surviving addresses.
type SliceAliveIter struct {
	addrs        []int
	pos          int
	skipped      bool
	totalRecords int
}

// NewSliceAliveIter builds an AliveIter over addrs (must be ascending,
// 0..totalRecords-1 deduplicated subset). skipped reports whether
// len(addrs) < totalRecords.
func NewSliceAliveIter(addrs []int, totalRecords int) *SliceAliveIter {
	return &SliceAliveIter{addrs: addrs, totalRecords: totalRecords, skipped: len(addrs) < totalRecords}
}

func (it *SliceAliveIter) Next() (int, bool) {
	if it.pos >= len(it.addrs) {
		return 0, false
	}
	v := it.addrs[it.pos]
	it.pos++
	return v, true
}

func (it *SliceAliveIter) HasDeletions() bool { return it.skipped }

// MergeSource pairs an operand's alive iterator with the open store backing
// it, per §4.1's merge signature.
type MergeSource struct {
	Alive AliveIter
	Store Store
	// Records is the operand's total record count, used to sort operands by
	// size (largest first) for the HNSW fast-merge path (§4.5 step 2).
	Records int
}

// Config carries the vector alignment the store must respect when placing
// vector payloads, per §3 Invariant 1 / §4.1.
type Config struct {
	VectorAlignment int
}

// Store is the read surface every DataStore version exposes.
type Store interface {
	// Get returns the decoded node at address i (0..StoredElements()-1).
	Get(i int) (types.Node, error)
	// StoredElements returns the number of records in the store.
	StoredElements() int
	// WillNeed hints the OS to prefetch the vector payload at address i,
	// aligned to a page boundary, bounding the syscall cost of a cold read.
	WillNeed(i int, vectorLen int) error
	// Close unmaps the backing file(s).
	Close() error
}
