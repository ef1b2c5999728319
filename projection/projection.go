// Package projection describes the read-only shape of a dataset ingested
// into the columnar memtable: how a row is addressed (partition, segment,
// row key) and what columns it carries.
package projection

import (
	"fmt"

	"github.com/helena/filodb/columnar"
)

// Column is an alias for the column schema type the columnar package
// encodes; kept as a distinct name here because a projection "owns" the
// schema conceptually (spec §4.1), even though the wire shape lives in
// columnar.
type Column = columnar.ColumnSpec

// Row is the abstract read-only tuple a projection's extractors consume.
type Row = columnar.Row

// Value is a single column value read from a Row.
type Value = columnar.Value

// ErrSchemaIncompatible is returned by New when a column's declared
// compressor is not one this build's columnar package can encode.
type ErrSchemaIncompatible struct {
	Column string
	Reason string
}

func (e *ErrSchemaIncompatible) Error() string {
	return fmt.Sprintf("projection: column %q is schema-incompatible: %s", e.Column, e.Reason)
}

// IsSchemaIncompatible reports whether err is an ErrSchemaIncompatible.
func IsSchemaIncompatible(err error) bool {
	_, ok := err.(*ErrSchemaIncompatible)
	return ok
}

// View is a projection: the pure, total extraction and ordering functions
// that give every row a partition key, segment key, and row key, plus the
// column schema those rows carry.
//
// P, S, and R must each have a total order supplied via the comparator
// fields; nil keys are never permitted — extractors must always return a
// concrete, comparable value.
type View[P, S, R any] struct {
	columns []Column

	PartitionOf func(Row) P
	SegmentOf   func(Row) S
	RowKeyOf    func(Row) R

	ComparePartition func(a, b P) int
	CompareSegment   func(a, b S) int
	CompareRowKey    func(a, b R) int
}

// New validates the column schema and returns a ready-to-use projection
// view. It fails with ErrSchemaIncompatible if any column names a
// compressor this build does not know how to encode with.
func New[P, S, R any](
	columns []Column,
	partitionOf func(Row) P,
	segmentOf func(Row) S,
	rowKeyOf func(Row) R,
	comparePartition func(a, b P) int,
	compareSegment func(a, b S) int,
	compareRowKey func(a, b R) int,
) (*View[P, S, R], error) {
	for _, c := range columns {
		if !columnar.SupportsCompressor(c.Compressor) {
			return nil, &ErrSchemaIncompatible{Column: c.Name, Reason: "unsupported column encoder/compressor"}
		}
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &View[P, S, R]{
		columns:          cols,
		PartitionOf:      partitionOf,
		SegmentOf:        segmentOf,
		RowKeyOf:         rowKeyOf,
		ComparePartition: comparePartition,
		CompareSegment:   compareSegment,
		CompareRowKey:    compareRowKey,
	}, nil
}

// Columns returns the ordered column schema. The returned slice must not be
// mutated by the caller.
func (v *View[P, S, R]) Columns() []Column {
	return v.columns
}

// PartitionSegment is a composite key used to order the outer row-index map
// by (partition, segment), as required by invariant I4/the scan_all order.
type PartitionSegment[P, S any] struct {
	Partition P
	Segment   S
}

// ComparePartitionSegment builds a total order over PartitionSegment values
// from the view's own partition/segment comparators.
func (v *View[P, S, R]) ComparePartitionSegment(a, b PartitionSegment[P, S]) int {
	if c := v.ComparePartition(a.Partition, b.Partition); c != 0 {
		return c
	}
	return v.CompareSegment(a.Segment, b.Segment)
}
