// Package chunkstore implements the append-only sequence of immutable
// columnar chunks the memtable publishes rows into.
package chunkstore

import (
	"errors"
	"fmt"

	"github.com/helena/filodb/columnar"
)

// ErrEmpty is returned by PopLast when the store has no chunks.
var ErrEmpty = errors.New("chunkstore: store is empty")

// ErrChunkNotFound is returned by Reader when chunkID does not exist.
type ErrChunkNotFound struct {
	ChunkID uint32
}

func (e *ErrChunkNotFound) Error() string {
	return fmt.Sprintf("chunkstore: chunk %d not found", e.ChunkID)
}

// Chunk is one immutable, fixed-row-count (except possibly the last)
// columnar block: one encoded ByteBuffer per column, plus its row count.
type Chunk struct {
	ID      uint32
	Columns map[string]columnar.ByteBuffer
	Length  uint16
}

// Store is the append-only sequence of chunks. A chunk's id is its dense
// position in the store (0..Len()-1) at the time it is appended: the only
// mutation permitted on an already-published chunk is removing the most
// recent one via PopLast, used by the memtable's partial-chunk merge. This
// is the "ids may be reused" policy allowed by the chunk sink contract:
// the last chunk is treated as mutable-until-full, so popping it and
// republishing a merged version reuses its id rather than retiring it.
type Store struct {
	chunks []Chunk
}

// New creates an empty chunk store.
func New() *Store {
	return &Store{}
}

// Append publishes a new chunk and returns its id, which equals the
// store's length before the append (dense ids, reused across a
// partial-chunk merge's pop-then-republish).
func (s *Store) Append(columns map[string]columnar.ByteBuffer, length uint16) uint32 {
	id := uint32(len(s.chunks))
	s.chunks = append(s.chunks, Chunk{ID: id, Columns: columns, Length: length})
	return id
}

// PopLast removes and returns the most recently appended chunk. It fails
// with ErrEmpty if the store has no chunks. Used by the memtable's
// partial-chunk merge to re-hydrate a sub-full chunk into the builder.
func (s *Store) PopLast() (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, ErrEmpty
	}
	last := s.chunks[len(s.chunks)-1]
	s.chunks = s.chunks[:len(s.chunks)-1]
	return last, nil
}

// Len returns the number of chunks currently published.
func (s *Store) Len() int {
	return len(s.chunks)
}

// LastLength returns the row count of the most recently appended chunk,
// and false if the store is empty.
func (s *Store) LastLength() (uint16, bool) {
	if len(s.chunks) == 0 {
		return 0, false
	}
	return s.chunks[len(s.chunks)-1].Length, true
}

// NextChunkID reports the id the next Append call will assign.
func (s *Store) NextChunkID() uint32 {
	return uint32(len(s.chunks))
}

// Clear drops every chunk. Used by the memtable's clear_all_data.
func (s *Store) Clear() {
	s.chunks = nil
}

// Reader returns a cheap, non-owning random-access view over chunkID's
// columns. Reader.Position is O(1); the view is valid only until the
// chunk is popped or the store is cleared.
func (s *Store) Reader(chunkID uint32) (*Reader, error) {
	for i := range s.chunks {
		if s.chunks[i].ID == chunkID {
			return &Reader{chunk: &s.chunks[i]}, nil
		}
	}
	return nil, &ErrChunkNotFound{ChunkID: chunkID}
}

// Reader is a random-access, non-owning view over one chunk's columns.
type Reader struct {
	chunk *Chunk
}

// ReaderForChunk builds a Reader directly over a Chunk value the caller
// already holds, such as one just returned by PopLast, without requiring
// the chunk to still be present in the store.
func ReaderForChunk(c *Chunk) *Reader {
	return &Reader{chunk: c}
}

// Length returns the chunk's row count.
func (r *Reader) Length() uint16 { return r.chunk.Length }

// Position returns a RowView positioned at rowNo within the chunk.
// Position is O(1): it defers per-column decoding to the RowView.
func (r *Reader) Position(rowNo uint32) (*RowView, error) {
	if rowNo >= uint32(r.chunk.Length) {
		return nil, fmt.Errorf("chunkstore: row %d out of range (length %d)", rowNo, r.chunk.Length)
	}
	return &RowView{chunk: r.chunk, rowNo: rowNo}, nil
}

// RowView is a lazily-decoded view of one row within one chunk.
type RowView struct {
	chunk *Chunk
	rowNo uint32
	cache map[string]*columnar.ColumnReader
}

// Value returns the decoded value of the named column at this row.
// Column decoding is cached per RowView so repeated column access within
// the same row is O(1) after the first call.
func (v *RowView) Value(columnName string, spec columnar.ColumnSpec) (columnar.Value, error) {
	if v.cache == nil {
		v.cache = make(map[string]*columnar.ColumnReader)
	}
	reader, ok := v.cache[columnName]
	if !ok {
		buf, ok := v.chunk.Columns[columnName]
		if !ok {
			return columnar.Value{}, fmt.Errorf("chunkstore: column %q not present in chunk %d", columnName, v.chunk.ID)
		}
		decoded, err := columnar.DecodeColumn(spec, buf)
		if err != nil {
			return columnar.Value{}, err
		}
		v.cache[columnName] = decoded
		reader = decoded
	}
	return reader.At(int(v.rowNo)), nil
}

// ChunkID returns the id of the chunk this view is positioned in.
func (v *RowView) ChunkID() uint32 { return v.chunk.ID }

// RowNo returns the row offset within the chunk this view is positioned at.
func (v *RowView) RowNo() uint32 { return v.rowNo }
