package hnsw

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"sort"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/nuclia/nidx/internal/nidxerrors"
)

// DiskGraph is the mmap-backed read handle for a serialized HNSW blob
// (index.hnsw, §6): reopens with no heap parsing, per §4.2.
type DiskGraph struct {
	mapping mmap.MMap
	data    []byte

	numNodes   int
	maxLayer   int
	entryPoint int

	layer0Ptrs int // file offset of the layer-0 pointer table

	// upperLayers[l-1] describes layer l (l>=1): sorted addrs and parallel
	// offsets, both slices directly into the mmap region.
	upperAddrs   [][]int
	upperOffsets [][]int64
}

var _ NeighborSource = (*DiskGraph)(nil)

var errShortFile = errors.New("hnsw: short file")

// Open memory-maps an HNSW blob written by Serialize.
func Open(path string) (*DiskGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nidxerrors.Filesystem(err, "hnsw: open %s", path)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nidxerrors.Filesystem(err, "hnsw: mmap %s", path)
	}
	data := []byte(m)
	if len(data) < diskHeaderSize {
		m.Unmap()
		return nil, nidxerrors.Filesystem(errShortFile, "hnsw: truncated header in %s", path)
	}

	numNodes := int(binary.LittleEndian.Uint32(data[0:4]))
	maxLayer := int(binary.LittleEndian.Uint32(data[4:8]))
	entryPoint := int(binary.LittleEndian.Uint32(data[8:12]))

	g := &DiskGraph{
		mapping:    m,
		data:       data,
		numNodes:   numNodes,
		maxLayer:   maxLayer,
		entryPoint: entryPoint,
		layer0Ptrs: diskHeaderSize,
	}

	pos := diskHeaderSize + 8*numNodes
	// Skip layer-0 payload by walking each record once (O(N) pass on open,
	// no further heap allocation at query time).
	for addr := 0; addr < numNodes; addr++ {
		pos = g.skipEdgeRecord(pos)
	}

	for l := 1; l <= maxLayer; l++ {
		count := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		addrs := make([]int, count)
		for i := 0; i < count; i++ {
			addrs[i] = int(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		offsets := make([]int64, count)
		for i := 0; i < count; i++ {
			offsets[i] = int64(binary.LittleEndian.Uint64(data[pos:]))
			pos += 8
		}
		g.upperAddrs = append(g.upperAddrs, addrs)
		g.upperOffsets = append(g.upperOffsets, offsets)
		for range addrs {
			pos = g.skipEdgeRecord(pos)
		}
	}

	return g, nil
}

func (g *DiskGraph) skipEdgeRecord(pos int) int {
	count := int(binary.LittleEndian.Uint16(g.data[pos:]))
	pos += 2
	pos += count * 8
	return pos
}

// EntryPoint implements NeighborSource.
func (g *DiskGraph) EntryPoint() int { return g.entryPoint }

// MaxLayer implements NeighborSource.
func (g *DiskGraph) MaxLayer() int { return g.maxLayer }

func (g *DiskGraph) readEdges(offset int64) []Edge {
	pos := offset
	count := int(binary.LittleEndian.Uint16(g.data[pos:]))
	pos += 2
	edges := make([]Edge, count)
	for i := 0; i < count; i++ {
		to := int(binary.LittleEndian.Uint32(g.data[pos:]))
		pos += 4
		sim := math.Float32frombits(binary.LittleEndian.Uint32(g.data[pos:]))
		pos += 4
		edges[i] = Edge{To: to, Sim: sim}
	}
	return edges
}

// OutEdges implements NeighborSource.
func (g *DiskGraph) OutEdges(layer, addr int) []Edge {
	if layer == 0 {
		if addr < 0 || addr >= g.numNodes {
			return nil
		}
		offset := int64(binary.LittleEndian.Uint64(g.data[g.layer0Ptrs+addr*8:]))
		return g.readEdges(offset)
	}

	idx := layer - 1
	if idx < 0 || idx >= len(g.upperAddrs) {
		return nil
	}
	addrs := g.upperAddrs[idx]
	pos := sort.SearchInts(addrs, addr)
	if pos >= len(addrs) || addrs[pos] != addr {
		return nil
	}
	return g.readEdges(g.upperOffsets[idx][pos])
}

// Close unmaps the backing file.
func (g *DiskGraph) Close() error {
	if g.mapping == nil {
		return nil
	}
	err := g.mapping.Unmap()
	g.mapping = nil
	g.data = nil
	return err
}
