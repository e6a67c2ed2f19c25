package cfgedit

import "time"

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped a
	// pending callback.
	Stop() bool
}

// Scheduler abstracts delayed and periodic callbacks so debounce and
// heartbeat behavior can be driven by virtual time in tests.
// Callbacks may run on any goroutine.
type Scheduler interface {
	// AfterFunc calls f once after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// Every calls f every d until the returned Timer is stopped.
	Every(d time.Duration, f func()) Timer
}

// debouncer runs a callback once a quiet period has passed since the last
// Trigger. Every Trigger replaces the pending timer, so only the last call
// in a burst fires.
type debouncer struct {
	sched Scheduler
	delay time.Duration
	timer Timer
}

func newDebouncer(sched Scheduler, delay time.Duration) *debouncer {
	return &debouncer{sched: sched, delay: delay}
}

// Trigger (re)starts the quiet period. Callers hold the session mutex.
func (d *debouncer) Trigger(f func()) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.sched.AfterFunc(d.delay, f)
}

// Cancel drops any pending callback. It reports whether one was pending.
func (d *debouncer) Cancel() bool {
	if d.timer == nil {
		return false
	}
	stopped := d.timer.Stop()
	d.timer = nil
	return stopped
}
