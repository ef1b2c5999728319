package memtable

import (
	"fmt"

	"github.com/helena/filodb/chunkstore"
	"github.com/helena/filodb/projection"
)

// RowView is a read-only, lazily-decoded view of one persisted row,
// addressed by column name rather than ordinal.
type RowView struct {
	columns []projection.Column
	inner   *chunkstore.RowView
}

// Value returns the decoded value of the named column for this row.
func (v *RowView) Value(column string) (projection.Value, error) {
	for _, c := range v.columns {
		if c.Name == column {
			return v.inner.Value(c.Name, c)
		}
	}
	return projection.Value{}, fmt.Errorf("memtable: unknown column %q", column)
}

// chunkRowAdapter adapts a chunkstore.RowView (named-column access) to the
// ordinal-indexed projection.Row interface the builder and extractors
// expect, used while re-hydrating a popped chunk's rows during flush. A
// decode failure panics with decodeFailure rather than returning an error,
// since Row.Value has no error return; flushLocked recovers it.
type chunkRowAdapter struct {
	columns []projection.Column
	inner   *chunkstore.RowView
}

func (a chunkRowAdapter) Value(ordinal int) projection.Value {
	spec := a.columns[ordinal]
	v, err := a.inner.Value(spec.Name, spec)
	if err != nil {
		panic(decodeFailure{err: err})
	}
	return v
}
