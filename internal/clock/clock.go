// Package clock provides the small time abstraction the memtable's flush
// timer is built on, grounded on the teacher's own injected clock.Clock
// convention (NewMemtable(threshold, clock)).
package clock

import "time"

// Timer is a cancellable, single-shot delayed task.
type Timer interface {
	// Stop cancels the timer. It reports whether the cancellation happened
	// before the timer fired. Stop never blocks waiting for an in-flight
	// callback to finish (non-interruptive cancel); callers that need to
	// wait for an in-flight callback must synchronize separately.
	Stop() bool
}

// Clock abstracts wall-clock time and delayed-callback scheduling so the
// memtable's flush timer can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run once, after d has elapsed, and returns a
	// Timer that can cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the production Clock, backed by the runtime's timers.
type Real struct{}

var _ Clock = Real{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool { return r.t.Stop() }
