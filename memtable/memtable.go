// Package memtable implements the columnar memtable: a temp row buffer
// staged in front of the chunk store, flushed into immutable columnar
// chunks either synchronously (threshold crossed, force_commit) or on a
// background timer, with a sorted row index kept consistent with every
// published chunk.
package memtable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/helena/filodb/chunkstore"
	"github.com/helena/filodb/columnar"
	"github.com/helena/filodb/internal/clock"
	"github.com/helena/filodb/projection"
	"github.com/helena/filodb/rowindex"
)

// Options bundles the memtable's ambient dependencies, mirroring the
// teacher's StorageEngineOptions struct-of-options style rather than
// functional options. Every field is optional.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Tracer trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("filodb/memtable")
	}
	return o
}

// Memtable is the columnar memtable described by §4.5: a temp row buffer,
// a columnar builder, a chunk store, and a sorted row index, kept
// consistent by a single exclusive lock covering every mutation of chunks,
// index, and temp.
type Memtable[P, S, R any] struct {
	mu sync.RWMutex

	cfg    Config
	view   *projection.View[P, S, R]
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	builder *columnar.Builder
	store   *chunkstore.Store
	index   *rowindex.Index[P, S, R]

	temp       []projection.Row
	callbacks  []pendingCallback
	timer      clock.Timer
	timerArmed bool

	persistedRows int64
	closed        bool
}

// New creates an empty memtable bound to view, with the given
// configuration and ambient dependencies.
func New[P, S, R any](view *projection.View[P, S, R], cfg Config, opts Options) *Memtable[P, S, R] {
	if cfg.FlushInterval <= 0 {
		panic("memtable: FlushInterval must be positive")
	}
	cfg = cfg.withDefaults()
	opts = opts.withDefaults()
	return &Memtable[P, S, R]{
		cfg:     cfg,
		view:    view,
		opts:    opts,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		builder: columnar.NewBuilder(view.Columns()),
		store:   chunkstore.New(),
		index:   rowindex.New(view),
	}
}

func (m *Memtable[P, S, R]) rUnlock() { m.mu.RUnlock() }

// Ingest appends rows to the temp buffer and registers onComplete to fire
// once every one of these rows has been persisted into a published chunk.
// While the temp buffer holds at least ChunkSize rows, Ingest performs
// synchronous flushes; if rows remain afterward, it arms the flush timer
// if one is not already armed.
func (m *Memtable[P, S, R]) Ingest(ctx context.Context, rows []projection.Row, onComplete func()) error {
	ctx, span := m.tracer.Start(ctx, "Memtable.Ingest", trace.WithAttributes(attribute.Int("row_count", len(rows))))
	defer span.End()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	first := len(m.temp)
	m.temp = append(m.temp, rows...)
	last := len(m.temp) - 1
	fireNow := false
	if onComplete != nil {
		if last >= first {
			m.callbacks = append(m.callbacks, pendingCallback{first: first, last: last, action: onComplete})
		} else {
			// Zero rows to ingest: nothing will ever satisfy a
			// pendingCallback for this range, so fire immediately.
			fireNow = true
		}
	}
	m.mu.Unlock()
	if fireNow {
		onComplete()
	}

	for {
		m.mu.RLock()
		full := len(m.temp) >= m.cfg.ChunkSize
		m.mu.RUnlock()
		if !full {
			break
		}
		if err := m.flush(ctx, "ingest-threshold"); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if len(m.temp) > 0 && !m.timerArmed && !m.closed {
		m.armTimerLocked()
	}
	m.mu.Unlock()
	return nil
}

// ForceCommit synchronously drains the temp buffer into chunks, cancelling
// any pending flush timer along the way.
func (m *Memtable[P, S, R]) ForceCommit(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "Memtable.ForceCommit")
	defer span.End()
	for {
		m.mu.RLock()
		empty := len(m.temp) == 0
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return ErrClosed
		}
		if empty {
			return nil
		}
		if err := m.flush(ctx, "force-commit"); err != nil {
			return err
		}
	}
}

// ReadRows returns an iterator over every persisted row for partition p,
// segment s, in row-key order. The returned iterator holds a read lock on
// the memtable until Close is called.
func (m *Memtable[P, S, R]) ReadRows(p P, s S) *RowIterator[R] {
	m.mu.RLock()
	return &RowIterator[R]{
		mt:      m,
		inner:   m.index.ReadRows(p, s),
		store:   m.store,
		columns: m.view.Columns(),
	}
}

// ReadAllRows returns an iterator over every persisted row across every
// partition and segment, in (P,S,R) order. The returned iterator holds a
// read lock on the memtable until Close is called.
func (m *Memtable[P, S, R]) ReadAllRows() *ScanIterator[P, S, R] {
	m.mu.RLock()
	return &ScanIterator[P, S, R]{
		mt:      m,
		inner:   m.index.ScanAll(),
		store:   m.store,
		columns: m.view.Columns(),
	}
}

// NumRows reports the total number of rows persisted into chunks. It
// excludes rows still sitting in the temp buffer.
func (m *Memtable[P, S, R]) NumRows() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persistedRows
}

// ClearAllData cancels the flush timer and drops every chunk, index entry,
// temp row, and pending callback. Registered callbacks are discarded
// without firing. The timer is cancelled with the same Timer.Stop used by
// normal flush flows, which does not interrupt a timer callback that is
// already running; such a callback waits for the lock and then flushes
// whatever the temp buffer holds at that point.
func (m *Memtable[P, S, R]) ClearAllData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerArmed = false
	m.store.Clear()
	m.index.Clear()
	m.builder.Reset()
	m.temp = nil
	m.callbacks = nil
	m.persistedRows = 0
}

// Close stops the flush timer and marks the memtable unusable. It does not
// flush outstanding rows; callers that need a durable final state should
// call ForceCommit first.
func (m *Memtable[P, S, R]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerArmed = false
	m.closed = true
	return nil
}

// armTimerLocked schedules the flush timer using a detached background
// context: the timer fires well after whatever request-scoped context
// triggered arming it, so it must not inherit that context's cancellation.
func (m *Memtable[P, S, R]) armTimerLocked() {
	m.timerArmed = true
	m.timer = m.opts.Clock.AfterFunc(m.cfg.FlushInterval, m.onTimerFire)
}

func (m *Memtable[P, S, R]) onTimerFire() {
	if err := m.flush(context.Background(), "timer"); err != nil {
		m.logger.Error("memtable: timer-driven flush failed, not rearming until next ingest", "error", err)
		return
	}
	m.mu.Lock()
	if len(m.temp) > 0 && !m.closed {
		m.armTimerLocked()
	}
	m.mu.Unlock()
}

// flush acquires the exclusive lock, runs the flush algorithm, releases the
// lock, and then fires any callbacks the flush completed. Callbacks are
// never invoked while holding the lock, so a callback that re-enters the
// memtable cannot deadlock against its own flush.
func (m *Memtable[P, S, R]) flush(ctx context.Context, reason string) error {
	flushID := uuid.New()
	ctx, span := m.tracer.Start(ctx, "Memtable.flush", trace.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("flush_id", flushID.String()),
	))
	defer span.End()

	toFire, err := func() (toFire []func(), err error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.flushLocked(ctx, flushID)
	}()

	if err != nil {
		span.RecordError(err)
		m.logger.Error("memtable: flush aborted", "flush_id", flushID.String(), "reason", reason, "error", err)
		return err
	}
	m.logger.Info("memtable: flush committed", "flush_id", flushID.String(), "reason", reason, "rows_fired", len(toFire))
	for _, cb := range toFire {
		cb()
	}
	return nil
}

// flushLocked implements the 8-step flush algorithm. Callers must hold
// m.mu exclusively.
func (m *Memtable[P, S, R]) flushLocked(ctx context.Context, flushID uuid.UUID) (toFire []func(), err error) {
	_, span := m.tracer.Start(ctx, "Memtable.flushLocked")
	defer span.End()

	// Step 1: cancel any pending timer non-interruptively. A flush driven
	// by the timer itself is already running past this point by
	// definition, so there is nothing to race against.
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerArmed = false

	// Step 2: reset the builder.
	m.builder.Reset()

	var poppedChunk *chunkstore.Chunk
	restore := func() {
		if poppedChunk != nil {
			m.store.Append(poppedChunk.Columns, poppedChunk.Length)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			if df, ok := r.(decodeFailure); ok {
				restore()
				err = &BuilderEncodingError{Err: df.err}
				return
			}
			restore()
			panic(r)
		}
	}()

	// Step 3: partial-chunk merge. If the last published chunk is not
	// full, pop it and re-hydrate its rows into the builder so the merged
	// result can grow to chunk_size rather than leaving a short chunk
	// behind.
	var oldKeys []partitionSegmentKey[P, S, R]
	if length, ok := m.store.LastLength(); ok && int(length) < m.cfg.ChunkSize {
		popped, popErr := m.store.PopLast()
		if popErr != nil {
			return nil, popErr
		}
		poppedChunk = &popped
		reader := chunkstore.ReaderForChunk(poppedChunk)
		columns := m.view.Columns()
		for i := 0; i < int(popped.Length); i++ {
			rv, posErr := reader.Position(uint32(i))
			if posErr != nil {
				restore()
				return nil, &BuilderEncodingError{Err: posErr}
			}
			adapter := chunkRowAdapter{columns: columns, inner: rv}
			p := m.view.PartitionOf(adapter)
			s := m.view.SegmentOf(adapter)
			rk := m.view.RowKeyOf(adapter)
			m.builder.AddRow(adapter)
			oldKeys = append(oldKeys, partitionSegmentKey[P, S, R]{p: p, s: s, r: rk})
		}
	}
	baseLength := m.builder.Length()

	// Step 4: how many temp rows this flush will absorb.
	rowsToAdd := m.cfg.ChunkSize - baseLength
	if rowsToAdd > len(m.temp) {
		rowsToAdd = len(m.temp)
	}
	if rowsToAdd < 0 {
		rowsToAdd = 0
	}

	// Step 5: append new rows and compute their projection keys.
	newKeys := make([]partitionSegmentKey[P, S, R], rowsToAdd)
	for i := 0; i < rowsToAdd; i++ {
		row := m.temp[i]
		p := m.view.PartitionOf(row)
		s := m.view.SegmentOf(row)
		rk := m.view.RowKeyOf(row)
		m.builder.AddRow(row)
		newKeys[i] = partitionSegmentKey[P, S, R]{p: p, s: s, r: rk}
	}

	// Nothing to publish: no partial chunk existed and no new rows fit
	// (chunk_size <= 0 cannot reach here, since withDefaults replaces it
	// with the default; so this happens when the store is empty or its
	// last chunk is already full, and temp is empty). Restore is a no-op
	// since poppedChunk is nil.
	if baseLength == 0 && rowsToAdd == 0 {
		return nil, nil
	}

	// Step 6: emit and publish.
	buffers, emitErr := m.builder.Emit()
	if emitErr != nil {
		restore()
		return nil, &BuilderEncodingError{Err: emitErr}
	}
	newChunkID := m.store.NextChunkID()
	m.store.Append(buffers, uint16(baseLength+rowsToAdd))

	// Commit index entries now that publish succeeded.
	for i, k := range oldKeys {
		m.index.Insert(k.p, k.s, k.r, rowindex.NewLocator(newChunkID, uint32(i)))
	}
	for i, k := range newKeys {
		m.index.Insert(k.p, k.s, k.r, rowindex.NewLocator(newChunkID, uint32(baseLength+i)))
	}
	m.persistedRows += int64(rowsToAdd)

	// Step 7: fire-and-discard satisfied callbacks, drain temp, and shift
	// the remaining callbacks' indices. §9 corrects the naive min-based
	// clamp to max(0, idx - rows_to_add): every callback's index moves
	// down by rows_to_add, floored at zero, never further.
	remaining := make([]pendingCallback, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		if cb.last < rowsToAdd {
			toFire = append(toFire, cb.action)
			continue
		}
		cb.first = shiftIndex(cb.first, rowsToAdd)
		cb.last = shiftIndex(cb.last, rowsToAdd)
		remaining = append(remaining, cb)
	}
	m.callbacks = remaining
	if rowsToAdd > 0 {
		m.temp = append([]projection.Row(nil), m.temp[rowsToAdd:]...)
	}

	// Step 8: leave the timer unarmed; callers decide whether to rearm
	// based on whether temp is still non-empty.
	return toFire, nil
}

type partitionSegmentKey[P, S, R any] struct {
	p P
	s S
	r R
}
