// Package v1 implements the first of the two on-disk DataStore versions
// described in §4.1: a flat header + pointer section + payload layout, mmap
// read, buffered writes with a final fsync.
package v1

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/cockroachdb/errors"

	"github.com/nuclia/nidx/internal/datastore"
	"github.com/nuclia/nidx/internal/nidxerrors"
	"github.com/nuclia/nidx/internal/types"
)

// Store is the mmap-backed read handle for a v1 DataStore file.
type Store struct {
	path    string
	mapping mmap.MMap
	data    []byte
	count   int
	align   int
}

var _ datastore.Store = (*Store)(nil)

// Create writes a new v1 store at path containing elements, encoded through
// encode, in the given order. rerank, when non-nil, additionally persists
// each element's exact rerank payload alongside its quantized vector (§4.3
// step 4); pass nil for encodings that score exactly already. The file is
// written atomically: built in a temp file, fsynced, then renamed into
// place.
func Create(path string, elements []types.Element, cfg datastore.Config, encode func(types.Element) []byte, rerank func(types.Element) []byte) error {
	nodes := make([]types.Node, len(elements))
	for i, el := range elements {
		var rv []byte
		if rerank != nil {
			rv = rerank(el)
		}
		nodes[i] = types.Node{Key: el.Key, Labels: el.Labels, Metadata: el.Metadata, Vector: encode(el), RerankVector: rv}
	}
	return writeNodes(path, nodes, cfg.VectorAlignment)
}

// WriteNodes writes a v1 store at path containing exactly nodes, in the
// given order, with no further filtering. Used by merge variants (e.g. the
// relations vectorset dedup pass) that assemble their own survivor list
// instead of merging each operand's alive iterator directly.
func WriteNodes(path string, nodes []types.Node, align int) error {
	return writeNodes(path, nodes, align)
}

func writeNodes(path string, nodes []types.Node, align int) error {
	count := len(nodes)
	prologue := int64(headerSize + pointerWidth*count)

	pointers := make([]int64, count)
	payload := make([]byte, 0, prologue)
	offset := prologue
	for i, n := range nodes {
		slot := encodeSlot(n, offset, align)
		pointers[i] = offset
		payload = append(payload, slot...)
		offset += int64(len(slot))
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nidxerrors.Filesystem(err, "datastore: create %s", tmp)
	}
	defer f.Close()

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(count))
	if _, err := f.Write(hdr[:]); err != nil {
		return nidxerrors.Filesystem(err, "datastore: write header")
	}

	ptrBuf := make([]byte, pointerWidth*count)
	for i, p := range pointers {
		binary.LittleEndian.PutUint64(ptrBuf[i*pointerWidth:], uint64(p))
	}
	if _, err := f.Write(ptrBuf); err != nil {
		return nidxerrors.Filesystem(err, "datastore: write pointer section")
	}

	if _, err := f.Write(payload); err != nil {
		return nidxerrors.Filesystem(err, "datastore: write payload")
	}
	if err := f.Sync(); err != nil {
		return nidxerrors.Filesystem(err, "datastore: fsync")
	}
	if err := f.Close(); err != nil {
		return nidxerrors.Filesystem(err, "datastore: close")
	}
	if err := os.Rename(tmp, path); err != nil {
		return nidxerrors.Filesystem(err, "datastore: rename into place")
	}
	return nil
}

// Open memory-maps path for reading.
func Open(path string, align int) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nidxerrors.Filesystem(err, "datastore: open %s", path)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nidxerrors.Filesystem(err, "datastore: mmap %s", path)
	}
	if len(m) < headerSize {
		m.Unmap()
		return nil, nidxerrors.Filesystem(errors.New("short file"), "datastore: %s", path)
	}
	count := int(binary.LittleEndian.Uint64(m[:headerSize]))

	return &Store{path: path, mapping: m, data: []byte(m), count: count, align: align}, nil
}

func (s *Store) pointer(i int) int64 {
	off := headerSize + i*pointerWidth
	return int64(binary.LittleEndian.Uint64(s.data[off:]))
}

// Get decodes the node stored at address i.
func (s *Store) Get(i int) (types.Node, error) {
	if i < 0 || i >= s.count {
		return types.Node{}, nidxerrors.NotFound("datastore: address %d out of range [0,%d)", i, s.count)
	}
	return decodeSlot(s.data, s.pointer(i), s.align)
}

// StoredElements returns the number of records in the store.
func (s *Store) StoredElements() int { return s.count }

// WillNeed hints the OS to prefetch the vector payload at address i, ahead
// of a similarity computation, aligned to the host page size.
func (s *Store) WillNeed(i int, vectorLen int) error {
	if i < 0 || i >= s.count {
		return nil
	}
	_, vecOffset, err := decodeSlotWithVectorOffset(s.data, s.pointer(i), s.align)
	if err != nil {
		return err
	}
	return adviseWillNeed(s.data, vecOffset, int64(vectorLen))
}

// Close unmaps the backing file.
func (s *Store) Close() error {
	if s.mapping == nil {
		return nil
	}
	err := s.mapping.Unmap()
	s.mapping = nil
	s.data = nil
	return err
}
