package columnar

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ColumnReader provides cheap, O(1) random access to one column's decoded
// values within a single chunk.
type ColumnReader struct {
	spec   ColumnSpec
	floats []float64
	ints   []int64
	strs   []string
	bools  []bool
	nulls  *nullTracker
	count  int
}

// DecodeColumn decompresses and decodes a column's ByteBuffer (as produced
// by Builder.Emit) into a random-access ColumnReader.
func DecodeColumn(spec ColumnSpec, buf ByteBuffer) (*ColumnReader, error) {
	compressor, err := NewCompressor(buf.Compression)
	if err != nil {
		return nil, fmt.Errorf("columnar: decode column %q: %w", spec.Name, err)
	}
	rc, err := compressor.Decompress(buf.Values)
	if err != nil {
		return nil, fmt.Errorf("columnar: decompress column %q: %w", spec.Name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("columnar: read column %q: %w", spec.Name, err)
	}

	nulls, err := nullTrackerFromBytes(buf.NullBitmap)
	if err != nil {
		return nil, fmt.Errorf("columnar: decode null bitmap for column %q: %w", spec.Name, err)
	}

	cr := &ColumnReader{spec: spec, nulls: nulls, count: buf.Count}
	switch spec.Type {
	case TypeFloat64:
		cr.floats = make([]float64, buf.Count)
		for i := range cr.floats {
			off := i * 8
			if off+8 > len(raw) {
				return nil, fmt.Errorf("columnar: column %q truncated float vector", spec.Name)
			}
			bits := binary.BigEndian.Uint64(raw[off : off+8])
			cr.floats[i] = math.Float64frombits(bits)
		}
	case TypeInt64:
		cr.ints = make([]int64, buf.Count)
		for i := range cr.ints {
			off := i * 8
			if off+8 > len(raw) {
				return nil, fmt.Errorf("columnar: column %q truncated int vector", spec.Name)
			}
			cr.ints[i] = int64(binary.BigEndian.Uint64(raw[off : off+8]))
		}
	case TypeBool:
		cr.bools = make([]bool, buf.Count)
		for i := range cr.bools {
			if i >= len(raw) {
				return nil, fmt.Errorf("columnar: column %q truncated bool vector", spec.Name)
			}
			cr.bools[i] = raw[i] != 0
		}
	case TypeString:
		cr.strs = make([]string, buf.Count)
		pos := 0
		for i := range cr.strs {
			if pos+4 > len(raw) {
				return nil, fmt.Errorf("columnar: column %q truncated string length", spec.Name)
			}
			n := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
			pos += 4
			if pos+n > len(raw) {
				return nil, fmt.Errorf("columnar: column %q truncated string value", spec.Name)
			}
			cr.strs[i] = string(raw[pos : pos+n])
			pos += n
		}
	default:
		return nil, fmt.Errorf("columnar: unknown logical type %v for column %q", spec.Type, spec.Name)
	}
	return cr, nil
}

// At returns the value at the given row offset within the chunk.
func (cr *ColumnReader) At(rowNo int) Value {
	if cr.nulls.isNull(rowNo) {
		return Value{Null: true}
	}
	switch cr.spec.Type {
	case TypeFloat64:
		return Value{Float: cr.floats[rowNo]}
	case TypeInt64:
		return Value{Int: cr.ints[rowNo]}
	case TypeBool:
		return Value{Bool: cr.bools[rowNo]}
	case TypeString:
		return Value{String: cr.strs[rowNo]}
	default:
		return Value{Null: true}
	}
}

// Count returns the number of rows this column reader covers.
func (cr *ColumnReader) Count() int { return cr.count }
