package scheduler

import (
	"sync"
	"time"
)

// Fake is a recording Scheduler for tests. Armed timers never fire on their
// own; tests drive them explicitly with FakeTimer.Fire.
type Fake struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

// NewFake returns an empty recording scheduler.
func NewFake() *Fake {
	return &Fake{}
}

// FakeTimer is the handle a Fake hands out. Tests inspect the interval and
// recurrence and fire it manually.
type FakeTimer struct {
	Interval  time.Duration
	Recurring bool

	fake    *Fake
	fn      func()
	stopped bool
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.arm(d, fn, false)
}

func (f *Fake) Every(d time.Duration, fn func()) Timer {
	return f.arm(d, fn, true)
}

func (f *Fake) arm(d time.Duration, fn func(), recurring bool) *FakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTimer{Interval: d, Recurring: recurring, fake: f, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Pending returns the timers that are still armed, in arming order.
func (f *Fake) Pending() []*FakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := make([]*FakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.stopped {
			pending = append(pending, t)
		}
	}
	return pending
}

// Armed reports how many timers are live.
func (f *Fake) Armed() int {
	return len(f.Pending())
}

// Stop disarms the timer. Idempotent.
func (t *FakeTimer) Stop() {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether the handle was disarmed.
func (t *FakeTimer) Stopped() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	return t.stopped
}

// Fire runs the callback, mimicking the host timer: a single-shot timer is
// spent after firing, a recurring one stays armed. Firing a stopped timer is
// a no-op.
func (t *FakeTimer) Fire() {
	t.fake.mu.Lock()
	if t.stopped {
		t.fake.mu.Unlock()
		return
	}
	if !t.Recurring {
		t.stopped = true
	}
	fn := t.fn
	t.fake.mu.Unlock()
	fn()
}
