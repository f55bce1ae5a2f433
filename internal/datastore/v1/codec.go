package v1

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/nuclia/nidx/internal/types"
)

// headerSize is the fixed 8-byte element-count header described in §4.1.
const headerSize = 8

// pointerWidth is the width of each offset in the pointer section.
const pointerWidth = 8

func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

// sortedLabelKeys returns the label keys in a deterministic order so the
// encoded form is stable across runs (useful for golden tests and for
// dedup-by-bytes in the merge path).
func sortedLabelKeys(labels types.Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodeSlot lays out one node record: key, labels, optional metadata, then
// the vector payload padded so it starts at a multiple of align relative to
// the absolute file offset baseOffset (§4.1, Invariant "Alignment").
func encodeSlot(n types.Node, baseOffset int64, align int) []byte {
	buf := make([]byte, 0, 64+len(n.Vector))

	buf = putUint32(buf, uint32(len(n.Key)))
	buf = append(buf, n.Key...)

	keys := sortedLabelKeys(n.Labels)
	buf = putUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		v := n.Labels[k]
		buf = putUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = putUint16(buf, uint16(len(v)))
		buf = append(buf, v...)
	}

	if n.Metadata != nil {
		buf = append(buf, 1)
		buf = putUint32(buf, uint32(len(n.Metadata)))
		buf = append(buf, n.Metadata...)
	} else {
		buf = append(buf, 0)
	}

	buf = putUint32(buf, uint32(len(n.Vector)))

	curAbs := baseOffset + int64(len(buf))
	if align < 1 {
		align = 1
	}
	pad := alignPadding(curAbs, align)
	if pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	buf = append(buf, n.Vector...)

	buf = putUint32(buf, uint32(len(n.RerankVector)))
	buf = append(buf, n.RerankVector...)
	return buf
}

func alignPadding(offset int64, align int) int {
	rem := int(offset % int64(align))
	if rem == 0 {
		return 0
	}
	return align - rem
}

// decodeSlot is the inverse of encodeSlot: data is the full mapped file,
// offset is the slot's absolute start (as recorded in the pointer section).
func decodeSlot(data []byte, offset int64, align int) (types.Node, error) {
	n, _, err := decodeSlotWithVectorOffset(data, offset, align)
	return n, err
}

// decodeSlotWithVectorOffset additionally returns the absolute offset of the
// vector payload, used by WillNeed to compute a page-aligned prefetch range
// without materializing the vector bytes.
func decodeSlotWithVectorOffset(data []byte, offset int64, align int) (types.Node, int64, error) {
	pos := offset
	end := int64(len(data))

	readU32 := func() (uint32, error) {
		if pos+4 > end {
			return 0, errors.Newf("datastore: truncated record at offset %d", pos)
		}
		v := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		return v, nil
	}
	readU16 := func() (uint16, error) {
		if pos+2 > end {
			return 0, errors.Newf("datastore: truncated record at offset %d", pos)
		}
		v := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		return v, nil
	}

	keyLen, err := readU32()
	if err != nil {
		return types.Node{}, 0, err
	}
	if pos+int64(keyLen) > end {
		return types.Node{}, 0, errors.Newf("datastore: truncated key at offset %d", pos)
	}
	key := string(data[pos : pos+int64(keyLen)])
	pos += int64(keyLen)

	labelCount, err := readU32()
	if err != nil {
		return types.Node{}, 0, err
	}
	labels := make(types.Labels, labelCount)
	for i := uint32(0); i < labelCount; i++ {
		klen, err := readU16()
		if err != nil {
			return types.Node{}, 0, err
		}
		if pos+int64(klen) > end {
			return types.Node{}, 0, errors.Newf("datastore: truncated label key at offset %d", pos)
		}
		k := string(data[pos : pos+int64(klen)])
		pos += int64(klen)

		vlen, err := readU16()
		if err != nil {
			return types.Node{}, 0, err
		}
		if pos+int64(vlen) > end {
			return types.Node{}, 0, errors.Newf("datastore: truncated label value at offset %d", pos)
		}
		v := string(data[pos : pos+int64(vlen)])
		pos += int64(vlen)

		labels[k] = v
	}

	if pos+1 > end {
		return types.Node{}, 0, errors.Newf("datastore: truncated metadata flag at offset %d", pos)
	}
	hasMeta := data[pos]
	pos++

	var metadata []byte
	if hasMeta == 1 {
		metaLen, err := readU32()
		if err != nil {
			return types.Node{}, 0, err
		}
		if pos+int64(metaLen) > end {
			return types.Node{}, 0, errors.Newf("datastore: truncated metadata at offset %d", pos)
		}
		metadata = append([]byte(nil), data[pos:pos+int64(metaLen)]...)
		pos += int64(metaLen)
	}

	vectorLen, err := readU32()
	if err != nil {
		return types.Node{}, 0, err
	}

	if align < 1 {
		align = 1
	}
	pad := alignPadding(pos, align)
	pos += int64(pad)

	vecStart := pos
	if vecStart+int64(vectorLen) > end {
		return types.Node{}, 0, errors.Newf("datastore: truncated vector at offset %d", vecStart)
	}
	vector := data[vecStart : vecStart+int64(vectorLen)]
	pos = vecStart + int64(vectorLen)

	rerankLen, err := readU32()
	if err != nil {
		return types.Node{}, 0, err
	}
	var rerankVector []byte
	if rerankLen > 0 {
		if pos+int64(rerankLen) > end {
			return types.Node{}, 0, errors.Newf("datastore: truncated rerank vector at offset %d", pos)
		}
		rerankVector = data[pos : pos+int64(rerankLen)]
	}

	return types.Node{Key: key, Labels: labels, Metadata: metadata, Vector: vector, RerankVector: rerankVector}, vecStart, nil
}
