package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests. AfterFunc does
// not start a real timer; callbacks are armed and only run when the test
// calls FireAll or Advance.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

var _ Clock = (*Fake)(nil)

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fireAt: f.now.Add(d), cb: cb, active: true}
	f.pending = append(f.pending, t)
	return t
}

// Advance moves the clock forward by d and synchronously runs any timers
// whose deadline has passed, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	due := f.dueLocked()
	f.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
	for _, t := range due {
		t.cb()
	}
}

// FireAll synchronously runs every still-active pending timer regardless of
// deadline, in registration order. Useful for tests that only care that a
// timer was armed, not about exact timing.
func (f *Fake) FireAll() {
	f.mu.Lock()
	var due []*fakeTimer
	for _, t := range f.pending {
		if t.active {
			t.active = false
			due = append(due, t)
		}
	}
	f.pending = nil
	f.mu.Unlock()
	for _, t := range due {
		t.cb()
	}
}

// PendingCount reports how many timers are currently armed.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.pending {
		if t.active {
			n++
		}
	}
	return n
}

func (f *Fake) dueLocked() []*fakeTimer {
	var due []*fakeTimer
	remaining := f.pending[:0]
	for _, t := range f.pending {
		if t.active && !t.fireAt.After(f.now) {
			t.active = false
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	f.pending = remaining
	return due
}

type fakeTimer struct {
	fireAt time.Time
	cb     func()
	active bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := t.active
	t.active = false
	return wasActive
}
