// Package rowindex implements the sorted mapping from every ingested row
// key to its physical (chunk, row) location, as described in spec §4.4.
package rowindex

import (
	"github.com/INLOpen/skiplist"
	"github.com/helena/filodb/projection"
)

// partitionSegment is the outer map's key: a projection's (partition,
// segment) pair, ordered lexicographically by the projection's own
// comparators.
type partitionSegment[P, S any] = projection.PartitionSegment[P, S]

// Index is the two-level sorted row index: an ordered outer map keyed by
// (partition, segment), each holding an ordered inner map from row key to
// Locator. Both levels use the projection's total-order comparators.
type Index[P, S, R any] struct {
	view  *projection.View[P, S, R]
	outer *skiplist.SkipList[partitionSegment[P, S], *skiplist.SkipList[R, Locator]]
}

// New creates an empty index bound to the given projection view.
func New[P, S, R any](view *projection.View[P, S, R]) *Index[P, S, R] {
	return &Index[P, S, R]{
		view:  view,
		outer: skiplist.NewWithComparator[partitionSegment[P, S], *skiplist.SkipList[R, Locator]](view.ComparePartitionSegment),
	}
}

func (ix *Index[P, S, R]) findInner(p P, s S) (*skiplist.SkipList[R, Locator], bool) {
	key := partitionSegment[P, S]{Partition: p, Segment: s}
	node, ok := ix.outer.Seek(key)
	if !ok || ix.view.ComparePartitionSegment(node.Key(), key) != 0 {
		return nil, false
	}
	return node.Value(), true
}

// Insert maps (p, s, r) to locator. Idempotent on (p, s, r): a later insert
// for the same key overwrites the prior locator (last-writer-wins within a
// flush batch), matching §4.4.
func (ix *Index[P, S, R]) Insert(p P, s S, r R, locator Locator) {
	inner, ok := ix.findInner(p, s)
	if !ok {
		inner = skiplist.NewWithComparator[R, Locator](ix.view.CompareRowKey)
		ix.outer.Insert(partitionSegment[P, S]{Partition: p, Segment: s}, inner)
	}
	inner.Insert(r, locator)
}

// LookupRange returns an iterator over (row key, locator) pairs for
// partition p, segment s, with row keys in [rStart, rEndInclusive], in
// row-key ascending order.
func (ix *Index[P, S, R]) LookupRange(p P, s S, rStart, rEndInclusive R) *RangeIterator[R] {
	inner, ok := ix.findInner(p, s)
	if !ok {
		return &RangeIterator[R]{done: true}
	}
	return &RangeIterator[R]{
		iter:    inner.NewIterator(),
		cmp:     ix.view.CompareRowKey,
		start:   rStart,
		end:     rEndInclusive,
		started: false,
	}
}

// ReadRows returns an iterator over every (row key, locator) pair for
// partition p, segment s, in row-key ascending order.
func (ix *Index[P, S, R]) ReadRows(p P, s S) *RangeIterator[R] {
	inner, ok := ix.findInner(p, s)
	if !ok {
		return &RangeIterator[R]{done: true}
	}
	return &RangeIterator[R]{
		iter:      inner.NewIterator(),
		cmp:       ix.view.CompareRowKey,
		unbounded: true,
	}
}

// RangeIterator iterates (row key, locator) pairs in ascending row-key
// order, optionally bounded to [start, end].
type RangeIterator[R any] struct {
	iter      *skiplist.Iterator[R, Locator]
	cmp       func(a, b R) int
	start     R
	end       R
	unbounded bool
	started   bool
	done      bool
}

// Next advances the iterator. It returns false once exhausted or once the
// upper bound has been passed.
func (it *RangeIterator[R]) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		var ok bool
		if it.unbounded {
			ok = it.iter.First()
		} else {
			ok = it.iter.Seek(it.start)
		}
		if !ok {
			it.done = true
			return false
		}
	} else {
		if !it.iter.Next() {
			it.done = true
			return false
		}
	}
	if !it.unbounded && it.cmp(it.iter.Key(), it.end) > 0 {
		it.done = true
		return false
	}
	return true
}

// Key returns the row key at the iterator's current position.
func (it *RangeIterator[R]) Key() R {
	return it.iter.Key()
}

// Locator returns the locator at the iterator's current position.
func (it *RangeIterator[R]) Locator() Locator {
	return it.iter.Value()
}

// ScanAll returns an iterator over every (partition, segment, row key,
// locator) tuple in (P,S) then R order, matching §4.4's scan_all.
func (ix *Index[P, S, R]) ScanAll() *ScanIterator[P, S, R] {
	return &ScanIterator[P, S, R]{outer: ix.outer.NewIterator()}
}

// ScanIterator walks the full index in deterministic (P,S,R) order.
type ScanIterator[P, S, R any] struct {
	outer   *skiplist.Iterator[partitionSegment[P, S], *skiplist.SkipList[R, Locator]]
	inner   *skiplist.Iterator[R, Locator]
	started bool
}

// Next advances to the next (partition, segment, row key) tuple.
func (it *ScanIterator[P, S, R]) Next() bool {
	for {
		if it.inner != nil {
			if it.inner.Next() {
				return true
			}
			it.inner = nil
		}
		var ok bool
		if !it.started {
			it.started = true
			ok = it.outer.First()
		} else {
			ok = it.outer.Next()
		}
		if !ok {
			return false
		}
		it.inner = it.outer.Value().NewIterator()
		if it.inner.First() {
			return true
		}
		it.inner = nil
	}
}

// Partition returns the partition key at the iterator's current position.
func (it *ScanIterator[P, S, R]) Partition() P {
	return it.outer.Key().Partition
}

// Segment returns the segment key at the iterator's current position.
func (it *ScanIterator[P, S, R]) Segment() S {
	return it.outer.Key().Segment
}

// RowKey returns the row key at the iterator's current position.
func (it *ScanIterator[P, S, R]) RowKey() R {
	return it.inner.Key()
}

// Locator returns the locator at the iterator's current position.
func (it *ScanIterator[P, S, R]) Locator() Locator {
	return it.inner.Value()
}

// Clear drops every entry from the index.
func (ix *Index[P, S, R]) Clear() {
	ix.outer = skiplist.NewWithComparator[partitionSegment[P, S], *skiplist.SkipList[R, Locator]](ix.view.ComparePartitionSegment)
}

// Len returns the number of distinct (partition, segment) pairs tracked.
// It does not count individual row keys.
func (ix *Index[P, S, R]) Len() int {
	return ix.outer.Len()
}
