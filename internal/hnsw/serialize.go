package hnsw

import (
	"encoding/binary"
	"math"
	"sort"
)

const diskHeaderSize = 12 // numNodes, maxLayer, entryPoint (u32 each)

// Serialize lays out g in the compact, mmap-friendly format described in
// §4.2: layer counts, per-node level offsets, and per-layer edge blocks.
// Layer 0 (dense: every address participates) is indexed by a flat pointer
// array for O(1) lookup; sparse upper layers carry a sorted address list
// alongside their own pointer array.
func Serialize(g *Graph) []byte {
	numNodes := 0
	for addr := range g.nodes {
		if addr+1 > numNodes {
			numNodes = addr + 1
		}
	}

	var buf []byte
	buf = appendU32(buf, uint32(numNodes))
	buf = appendU32(buf, uint32(maxInt(g.maxLayer, 0))) // an empty graph's maxLayer is -1; clamp so it round-trips as 0, not underflowing to the uint32 max
	buf = appendU32(buf, uint32(maxInt(g.entryPoint, 0)))

	// Layer 0: dense pointer table over every address.
	ptrSectionOffset := len(buf)
	buf = append(buf, make([]byte, 8*numNodes)...) // reserve, fill in below
	for addr := 0; addr < numNodes; addr++ {
		offset := len(buf)
		binary.LittleEndian.PutUint64(buf[ptrSectionOffset+addr*8:], uint64(offset))
		buf = appendEdgeRecord(buf, g.OutEdges(0, addr))
	}

	for l := 1; l <= g.maxLayer; l++ {
		addrs := make([]int, 0)
		for addr, n := range g.nodes {
			if n.level >= l {
				addrs = append(addrs, addr)
			}
		}
		sort.Ints(addrs)

		buf = appendU32(buf, uint32(len(addrs)))
		for _, a := range addrs {
			buf = appendU32(buf, uint32(a))
		}
		offsetsAt := len(buf)
		buf = append(buf, make([]byte, 8*len(addrs))...)
		for i, a := range addrs {
			offset := len(buf)
			binary.LittleEndian.PutUint64(buf[offsetsAt+i*8:], uint64(offset))
			buf = appendEdgeRecord(buf, g.OutEdges(l, a))
		}
	}

	return buf
}

func appendEdgeRecord(buf []byte, edges []Edge) []byte {
	buf = appendU16(buf, uint16(len(edges)))
	for _, e := range edges {
		buf = appendU32(buf, uint32(e.To))
		buf = appendF32(buf, e.Sim)
	}
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendF32(buf []byte, v float32) []byte {
	return appendU32(buf, math.Float32bits(v))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

