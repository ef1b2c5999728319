package memtable

import (
	"github.com/helena/filodb/chunkstore"
	"github.com/helena/filodb/projection"
	"github.com/helena/filodb/rowindex"
)

// RowIterator yields persisted row views in row-key order for one
// (partition, segment) pair. It holds the memtable's read lock from
// creation until Close; callers must call Close when done with it.
type RowIterator[R any] struct {
	mt      unlocker
	inner   *rowindex.RangeIterator[R]
	store   *chunkstore.Store
	columns []projection.Column
	closed  bool
	err     error
}

type unlocker interface {
	rUnlock()
}

// Next advances to the next row. It returns false once exhausted or after a
// decode error; callers must check Err after Next returns false.
func (it *RowIterator[R]) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.inner.Next() {
		return false
	}
	return true
}

// Key returns the row key at the current position.
func (it *RowIterator[R]) Key() R { return it.inner.Key() }

// Row returns a RowView positioned at the current row. Call after a
// successful Next.
func (it *RowIterator[R]) Row() (*RowView, error) {
	loc := it.inner.Locator()
	reader, err := it.store.Reader(loc.ChunkID())
	if err != nil {
		it.err = err
		return nil, err
	}
	rv, err := reader.Position(loc.RowNo())
	if err != nil {
		it.err = err
		return nil, err
	}
	return &RowView{columns: it.columns, inner: rv}, nil
}

// Err returns the first error encountered, if any.
func (it *RowIterator[R]) Err() error { return it.err }

// Close releases the memtable's read lock. Safe to call multiple times.
func (it *RowIterator[R]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.mt.rUnlock()
}

// ScanIterator yields every persisted (partition, segment, row key, row
// view) tuple in (P,S,R) order. It holds the memtable's read lock from
// creation until Close.
type ScanIterator[P, S, R any] struct {
	mt      unlocker
	inner   *rowindex.ScanIterator[P, S, R]
	store   *chunkstore.Store
	columns []projection.Column
	closed  bool
	err     error
}

func (it *ScanIterator[P, S, R]) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	return it.inner.Next()
}

func (it *ScanIterator[P, S, R]) Partition() P { return it.inner.Partition() }
func (it *ScanIterator[P, S, R]) Segment() S   { return it.inner.Segment() }
func (it *ScanIterator[P, S, R]) RowKey() R    { return it.inner.RowKey() }

func (it *ScanIterator[P, S, R]) Row() (*RowView, error) {
	loc := it.inner.Locator()
	reader, err := it.store.Reader(loc.ChunkID())
	if err != nil {
		it.err = err
		return nil, err
	}
	rv, err := reader.Position(loc.RowNo())
	if err != nil {
		it.err = err
		return nil, err
	}
	return &RowView{columns: it.columns, inner: rv}, nil
}

func (it *ScanIterator[P, S, R]) Err() error { return it.err }

func (it *ScanIterator[P, S, R]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.mt.rUnlock()
}
