package columnar

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ByteBuffer is one column's emitted, encoded vector: a null bitmap plus a
// compressed value vector. It is the unit the chunk store persists per
// column per chunk.
type ByteBuffer struct {
	Compression CompressionType
	NullBitmap  []byte
	Values      []byte
	Count       int
}

// columnVector accumulates one column's values for the rows added to a
// Builder since its last Reset.
type columnVector struct {
	spec   ColumnSpec
	floats []float64
	ints   []int64
	strs   []string
	bools  []bool
	nulls  *nullTracker
}

func newColumnVector(spec ColumnSpec) *columnVector {
	return &columnVector{spec: spec, nulls: newNullTracker()}
}

func (cv *columnVector) append(v Value) {
	offset := cv.len()
	if v.Null {
		cv.nulls.markNull(offset)
	}
	switch cv.spec.Type {
	case TypeFloat64:
		cv.floats = append(cv.floats, v.Float)
	case TypeInt64:
		cv.ints = append(cv.ints, v.Int)
	case TypeString:
		cv.strs = append(cv.strs, v.String)
	case TypeBool:
		cv.bools = append(cv.bools, v.Bool)
	}
}

func (cv *columnVector) len() int {
	switch cv.spec.Type {
	case TypeFloat64:
		return len(cv.floats)
	case TypeInt64:
		return len(cv.ints)
	case TypeString:
		return len(cv.strs)
	case TypeBool:
		return len(cv.bools)
	default:
		return 0
	}
}

func (cv *columnVector) reset() {
	cv.floats = cv.floats[:0]
	cv.ints = cv.ints[:0]
	cv.strs = cv.strs[:0]
	cv.bools = cv.bools[:0]
	cv.nulls.reset()
}

func (cv *columnVector) encodeValues() ([]byte, error) {
	var buf bytes.Buffer
	switch cv.spec.Type {
	case TypeFloat64:
		for _, f := range cv.floats {
			if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
				return nil, err
			}
		}
	case TypeInt64:
		for _, i := range cv.ints {
			if err := binary.Write(&buf, binary.BigEndian, i); err != nil {
				return nil, err
			}
		}
	case TypeBool:
		for _, b := range cv.bools {
			v := byte(0)
			if b {
				v = 1
			}
			buf.WriteByte(v)
		}
	case TypeString:
		for _, s := range cv.strs {
			if err := binary.Write(&buf, binary.BigEndian, uint32(len(s))); err != nil {
				return nil, err
			}
			buf.WriteString(s)
		}
	default:
		return nil, fmt.Errorf("columnar: unknown logical type %v for column %q", cv.spec.Type, cv.spec.Name)
	}
	return buf.Bytes(), nil
}

// Builder accepts rows one at a time, accumulating per-column typed
// vectors, and emits a fixed-count block of per-column byte buffers on
// demand. It is not safe for concurrent use; callers (the memtable) must
// serialize access.
type Builder struct {
	columns []ColumnSpec
	vectors []*columnVector
	length  int
}

// NewBuilder creates a Builder for the given ordered column schema.
func NewBuilder(columns []ColumnSpec) *Builder {
	vectors := make([]*columnVector, len(columns))
	for i, c := range columns {
		vectors[i] = newColumnVector(c)
	}
	return &Builder{columns: columns, vectors: vectors}
}

// AddRow appends one row's values to the per-column vectors. Precondition:
// the caller must ensure Length() < the caller's chunk size before calling.
func (b *Builder) AddRow(row Row) {
	for i, v := range b.vectors {
		v.append(row.Value(i))
	}
	b.length++
}

// Length returns the number of rows accumulated since the last Reset.
func (b *Builder) Length() int {
	return b.length
}

// Reset discards all buffered rows without changing the column schema.
func (b *Builder) Reset() {
	for _, v := range b.vectors {
		v.reset()
	}
	b.length = 0
}

// Emit materializes each column's encoded, compressed vector. It does not
// reset the builder; the caller decides when to discard the buffered rows.
func (b *Builder) Emit() (map[string]ByteBuffer, error) {
	out := make(map[string]ByteBuffer, len(b.columns))
	for _, v := range b.vectors {
		raw, err := v.encodeValues()
		if err != nil {
			return nil, fmt.Errorf("columnar: encode column %q: %w", v.spec.Name, err)
		}
		compressor, err := NewCompressor(v.spec.Compressor)
		if err != nil {
			return nil, fmt.Errorf("columnar: emit column %q: %w", v.spec.Name, err)
		}
		var compressed bytes.Buffer
		if err := compressor.CompressTo(&compressed, raw); err != nil {
			return nil, fmt.Errorf("columnar: compress column %q: %w", v.spec.Name, err)
		}
		nullBytes, err := v.nulls.bytes()
		if err != nil {
			return nil, fmt.Errorf("columnar: encode null bitmap for column %q: %w", v.spec.Name, err)
		}
		out[v.spec.Name] = ByteBuffer{
			Compression: v.spec.Compressor,
			NullBitmap:  nullBytes,
			Values:      append([]byte(nil), compressed.Bytes()...),
			Count:       b.length,
		}
	}
	return out, nil
}
