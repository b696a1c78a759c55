// Package clock abstracts wall-clock time so the scheduler and account
// state machine can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the monotonic "now" and timer source consumed by the scheduler
// (spec.md C1). A Clock must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed, mirroring time.After.
	After(d time.Duration) <-chan time.Time
	// NewTimer mirrors time.NewTimer so callers can Stop/Reset it.
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of *time.Timer the scheduler needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// System is the production Clock backed by the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (System) NewTimer(d time.Duration) Timer { return &systemTimer{t: time.NewTimer(d)} }

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time        { return s.t.C }
func (s *systemTimer) Stop() bool                 { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }

// Virtual is a Clock that only advances when told to, used by tests that
// exercise refresh/retry/notify timing deterministically (spec.md §8's
// "times use a virtual clock" scenarios).
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*virtualTimer
}

// NewVirtual creates a Virtual clock starting at t0.
func NewVirtual(t0 time.Time) *Virtual {
	return &Virtual{now: t0}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	return v.NewTimer(d).C()
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTimer{
		v:      v,
		deadline: v.now.Add(d),
		ch:     make(chan time.Time, 1),
		active: true,
	}
	if d <= 0 {
		t.fire(v.now)
	} else {
		v.waiters = append(v.waiters, t)
	}
	return t
}

// Advance moves the clock forward by d, firing any timer whose deadline
// has been reached, in deadline order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	now := v.now
	remaining := v.waiters[:0]
	var toFire []*virtualTimer
	for _, t := range v.waiters {
		if t.active && !t.deadline.After(now) {
			toFire = append(toFire, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	v.waiters = remaining
	v.mu.Unlock()

	for _, t := range toFire {
		t.fire(now)
	}
}

// Set jumps directly to t, a convenience for scenario tests that reason in
// absolute times.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	d := t.Sub(v.now)
	v.mu.Unlock()
	if d > 0 {
		v.Advance(d)
	}
}

type virtualTimer struct {
	v        *Virtual
	deadline time.Time
	ch       chan time.Time
	active   bool
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }

func (t *virtualTimer) fire(at time.Time) {
	t.v.mu.Lock()
	wasActive := t.active
	t.active = false
	t.v.mu.Unlock()
	if wasActive {
		select {
		case t.ch <- at:
		default:
		}
	}
}

func (t *virtualTimer) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.v.mu.Lock()
	was := t.active
	t.active = true
	t.deadline = t.v.now.Add(d)
	t.v.waiters = append(t.v.waiters, t)
	t.v.mu.Unlock()
	return was
}
