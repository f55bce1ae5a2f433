package v1

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/types"
)

// TestEncodeDecodeSlotRoundTripsRerankVector confirms RerankVector survives
// the on-disk layout alongside the quantized Vector payload.
func TestEncodeDecodeSlotRoundTripsRerankVector(t *testing.T) {
	n := types.Node{
		Key:          "r/f/file/0-1",
		Labels:       types.Labels{"lang": "en"},
		Vector:       []byte{1, 2, 3, 4},
		RerankVector: []byte{5, 6, 7, 8, 9, 10},
	}
	buf := encodeSlot(n, 0, 4)

	got, err := decodeSlot(buf, 0, 4)
	require.NoError(t, err)
	require.Equal(t, n.Key, got.Key)
	require.Equal(t, n.Vector, got.Vector)
	require.Equal(t, n.RerankVector, got.RerankVector)
}

// TestEncodeDecodeSlotNilRerankVector confirms an encoding with no
// RerankVector (e.g. DenseF32) decodes back to a nil/empty one, not a
// corrupted record.
func TestEncodeDecodeSlotNilRerankVector(t *testing.T) {
	n := types.Node{Key: "r/f/file/0-1", Vector: []byte{1, 2, 3, 4}}
	buf := encodeSlot(n, 0, 4)

	got, err := decodeSlot(buf, 0, 4)
	require.NoError(t, err)
	require.Empty(t, got.RerankVector)
}

// TestDecodeSlotRejectsTruncatedRecord is the truncated-file safety net:
// every length-prefixed section must bounds-check against the slice end and
// return an error rather than let a slice expression panic.
func TestDecodeSlotRejectsTruncatedRecord(t *testing.T) {
	n := types.Node{
		Key:          "r/f/file/0-1",
		Labels:       types.Labels{"lang": "en"},
		Vector:       []byte{1, 2, 3, 4},
		RerankVector: []byte{5, 6, 7, 8},
	}
	full := encodeSlot(n, 0, 4)

	for cut := 0; cut < len(full); cut++ {
		_, err := decodeSlot(full[:cut], 0, 4)
		require.Error(t, err, "truncating to %d bytes must error, not panic", cut)
	}
}
