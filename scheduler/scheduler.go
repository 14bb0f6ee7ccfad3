// Package scheduler wraps the host timer primitives behind an interface with
// cancelable handles so components that arm and disarm timers stay
// deterministic and inspectable under test.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a cancelable handle for a scheduled callback. Stop is idempotent;
// it does not wait for a callback that is already running.
type Timer interface {
	Stop()
}

// Scheduler arms single-shot and recurring callbacks.
type Scheduler interface {
	// AfterFunc runs fn once after d elapses.
	AfterFunc(d time.Duration, fn func()) Timer

	// Every runs fn repeatedly, once per interval, until the handle is
	// stopped.
	Every(d time.Duration, fn func()) Timer
}

// New returns the production scheduler, delegating to the time package.
func New() Scheduler {
	return std{}
}

type std struct{}

func (std) AfterFunc(d time.Duration, fn func()) Timer {
	return &stdTimer{t: time.AfterFunc(d, fn)}
}

func (std) Every(d time.Duration, fn func()) Timer {
	it := &intervalTimer{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-it.done:
				return
			case <-it.ticker.C:
				fn()
			}
		}
	}()
	return it
}

type stdTimer struct {
	t *time.Timer
}

func (t *stdTimer) Stop() {
	t.t.Stop()
}

type intervalTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *intervalTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
