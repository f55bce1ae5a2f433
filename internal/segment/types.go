package segment

import (
	"github.com/google/uuid"

	"github.com/nuclia/nidx/internal/vectortype"
)

// VectorConfig is §6's enumerated vector config options.
type VectorConfig struct {
	Similarity  vectortype.Similarity
	VectorType  string // "DenseF32", "DenseF32Unaligned", "RabitQ"
	Dim         int
	Normalize   bool
	Flags       []string
	Cardinality vectortype.Cardinality
}

// Encoding builds the vectortype.Encoding variant this config names.
func (c VectorConfig) Encoding() vectortype.Encoding {
	switch c.VectorType {
	case "RabitQ":
		return vectortype.RabitQ{D: c.Dim, Sim: c.Similarity, Normalize: c.Normalize}
	case "DenseF32Unaligned":
		return vectortype.DenseF32{D: c.Dim, Sim: c.Similarity, Unaligned: true, Normalize: c.Normalize}
	default:
		return vectortype.DenseF32{D: c.Dim, Sim: c.Similarity, Normalize: c.Normalize}
	}
}

// Metadata is the static, immutable-after-creation description of a segment
// (§3 Segment).
type Metadata struct {
	ID      uuid.UUID
	Records int
	Tags    map[string]string
	Vector  VectorConfig
}

// SameTags reports whether a and b carry identical tag sets, the check the
// merge protocol enforces (§4.5 step 1, Invariant 4).
func SameTags(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
