// Package vectortype implements §3's/§9's vector-encoding polymorphism as a
// capability set rather than a class hierarchy: each encoding is a tagged
// variant satisfying the same small interface.
package vectortype

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// Similarity selects the scoring function per §6's vector config options.
type Similarity int

const (
	Cosine Similarity = iota
	Dot
)

// Cardinality controls whether a resource field may contribute more than
// one vector (§3 Vector config types).
type Cardinality int

const (
	Single Cardinality = iota
	Multi
)

// Encoding is the capability set every vector type variant implements:
// encode a query, score two encoded vectors, and report the byte alignment
// its encoded form requires so DataStore can place it legally for SIMD
// loads.
type Encoding interface {
	Encode(query []float32) []byte
	Similarity(a, b []byte) float32
	Alignment() int
	Dim() int
	Name() string
}

// Reranker is implemented by quantized encodings whose Similarity is only an
// approximation: DataStore must additionally persist RerankEncode's output
// alongside the quantized form, so the search path can recompute an exact
// score over the top candidates surfaced by the approximation (§4.3 step 4).
type Reranker interface {
	RerankEncode(query []float32) []byte
	RerankSimilarity(a, b []byte) float32
}

// DenseF32 is the raw float32 encoding; Unaligned relaxes the alignment
// requirement to 1 byte (DenseF32Unaligned in §6).
type DenseF32 struct {
	D          int
	Sim        Similarity
	Unaligned  bool
	Normalize  bool
}

func (e DenseF32) Dim() int { return e.D }

func (e DenseF32) Name() string {
	if e.Unaligned {
		return "DenseF32Unaligned"
	}
	return "DenseF32"
}

func (e DenseF32) Alignment() int {
	if e.Unaligned {
		return 1
	}
	return 4
}

func (e DenseF32) Encode(query []float32) []byte {
	v := query
	if e.Normalize {
		v = normalize(query)
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func (e DenseF32) Similarity(a, b []byte) float32 {
	n := len(a) / 4
	var dot, na, nb float32
	for i := 0; i < n; i++ {
		fa := math.Float32frombits(binary.LittleEndian.Uint32(a[i*4:]))
		fb := math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		dot += fa * fb
		if e.Sim == Cosine {
			na += fa * fa
			nb += fb * fb
		}
	}
	if e.Sim == Dot {
		return dot
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// RabitQ is a binary-quantized encoding: each dimension is reduced to one
// sign bit (set when the component is >= 0), scored by Hamming distance for the
// approximate HNSW traversal and reranked exactly by the caller (§4.3 step 4)
// against the original DenseF32 vectors DataStore keeps alongside the
// quantized payload. Alignment is 8 bytes (one uint64 word).
type RabitQ struct {
	D         int
	Sim       Similarity
	Normalize bool
}

// rerank is the DenseF32 variant RabitQ delegates exact scoring to.
func (e RabitQ) rerank() DenseF32 {
	return DenseF32{D: e.D, Sim: e.Sim, Normalize: e.Normalize}
}

// RerankEncode produces the exact float32 payload persisted alongside the
// quantized form and used to rerank HNSW's approximate candidates.
func (e RabitQ) RerankEncode(query []float32) []byte { return e.rerank().Encode(query) }

// RerankSimilarity scores two RerankEncode outputs exactly (§4.3 step 4).
func (e RabitQ) RerankSimilarity(a, b []byte) float32 { return e.rerank().Similarity(a, b) }

func (e RabitQ) Dim() int        { return e.D }
func (e RabitQ) Name() string    { return "RabitQ" }
func (e RabitQ) Alignment() int  { return 8 }

// Encode packs D dimensions into ceil(D/64) 64-bit words, one bit per
// dimension: 1 if the component is >= 0, else 0.
func (e RabitQ) Encode(query []float32) []byte {
	words := (len(query) + 63) / 64
	buf := make([]byte, words*8)
	for i, f := range query {
		if f >= 0 {
			word := i / 64
			bit := uint(i % 64)
			v := binary.LittleEndian.Uint64(buf[word*8:])
			v |= 1 << bit
			binary.LittleEndian.PutUint64(buf[word*8:], v)
		}
	}
	return buf
}

// Similarity returns an approximate similarity derived from the Hamming
// distance between the two bit-packed vectors: fewer differing bits means
// higher similarity. Exact reranking against the original float vectors
// happens in the caller per §4.3 step 4.
func (e RabitQ) Similarity(a, b []byte) float32 {
	words := len(a) / 8
	var diff int
	for i := 0; i < words; i++ {
		wa := binary.LittleEndian.Uint64(a[i*8:])
		wb := binary.LittleEndian.Uint64(b[i*8:])
		diff += bits.OnesCount64(wa ^ wb)
	}
	return 1.0 - float32(diff)/float32(e.D)
}
