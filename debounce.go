package tablestate

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// debouncer coalesces Trigger calls: fn runs once, wait after the last call,
// with the last value. Each Trigger bumps a generation so a timer that was
// superseded never fires fn. Calls to fn never overlap, and a value taken at
// or below floor is stale and skipped.
type debouncer[T any] struct {
	clock clockwork.Clock
	wait  time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	floor   uint64
	pending bool
	value   T

	run sync.Mutex
}

func newDebouncer[T any](clock clockwork.Clock, wait time.Duration, fn func(T)) *debouncer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &debouncer[T]{clock: clock, wait: wait, fn: fn}
}

// Trigger schedules fn(value), replacing any pending value.
func (d *debouncer[T]) Trigger(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	d.value = value
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	value, ticket := d.take()
	d.mu.Unlock()

	d.call(value, ticket)
}

// call runs fn unless a newer call already ran or Cancel retired ticket.
func (d *debouncer[T]) call(value T, ticket uint64) {
	d.run.Lock()
	defer d.run.Unlock()

	d.mu.Lock()
	stale := ticket <= d.floor
	if !stale {
		d.floor = ticket
	}
	d.mu.Unlock()

	if !stale {
		d.fn(value)
	}
}

// idle blocks until no call to fn is running.
func (d *debouncer[T]) idle() {
	d.run.Lock()
	defer d.run.Unlock()
}

// Flush runs a pending call immediately, after any in-flight one. It
// reports whether a pending call was run.
func (d *debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		d.idle()
		return false
	}
	value, ticket := d.take()
	d.mu.Unlock()

	d.call(value, ticket)
	return true
}

// Cancel drops a pending call and waits for an in-flight one to return.
// Nothing triggered before Cancel runs afterwards.
func (d *debouncer[T]) Cancel() {
	d.mu.Lock()
	if d.pending {
		d.take()
	}
	d.floor = d.gen
	d.mu.Unlock()

	d.idle()
}

// Pending reports whether a call is scheduled.
func (d *debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// take clears the pending state and returns the value with its ticket.
// Callers hold d.mu.
func (d *debouncer[T]) take() (T, uint64) {
	var zero T
	value := d.value
	d.value = zero
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return value, d.gen
}
