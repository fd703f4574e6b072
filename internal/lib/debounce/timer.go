// Package debounce delays an action until a burst of triggers has been
// quiet for a fixed interval.
package debounce

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Timer runs the most recently scheduled function once no new Schedule
// call has arrived for the configured delay. A superseded or cancelled
// function never runs, even if its underlying timer already fired.
type Timer struct {
	clock clock.Clock
	delay time.Duration

	mu         sync.Mutex
	timer      *clock.Timer
	fn         func()
	generation uint64
}

// New creates a Timer. A nil clock uses wall-clock time.
func New(c clock.Clock, delay time.Duration) *Timer {
	if c == nil {
		c = clock.New()
	}
	return &Timer{clock: c, delay: delay}
}

// Delay returns the quiescence interval
func (t *Timer) Delay() time.Duration {
	return t.delay
}

// Schedule (re)starts the quiescence interval and replaces the pending
// function with fn.
func (t *Timer) Schedule(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.generation++
	t.fn = fn

	gen := t.generation
	t.timer = t.clock.AfterFunc(t.delay, func() { t.fire(gen) })
}

// Cancel drops the pending function, if any
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.generation++
	t.fn = nil
}

// Flush runs the pending function immediately on the calling goroutine.
// It reports whether a function was pending.
func (t *Timer) Flush() bool {
	t.mu.Lock()
	fn := t.fn
	t.stopLocked()
	t.generation++
	t.fn = nil
	t.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a function is waiting to run
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fn != nil
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.fn == nil {
		t.mu.Unlock()
		return
	}
	fn := t.fn
	t.fn = nil
	t.timer = nil
	t.mu.Unlock()

	fn()
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
