package testutil

import (
	"sort"
	"sync"
	"time"

	"cfgedit/internal/cfgedit"
)

// ManualScheduler is a cfgedit.Scheduler driven by virtual time. Nothing
// fires until Advance is called; callbacks then run synchronously on the
// caller's goroutine in due-time order.
type ManualScheduler struct {
	clock *StubClock

	mu     sync.Mutex
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	s      *ManualScheduler
	due    time.Time
	period time.Duration
	seq    int
	f      func()
	done   bool
}

// NewManualScheduler creates a scheduler that reads and advances clock.
func NewManualScheduler(clock *StubClock) *ManualScheduler {
	return &ManualScheduler{clock: clock}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) cfgedit.Timer {
	return s.add(d, 0, f)
}

func (s *ManualScheduler) Every(d time.Duration, f func()) cfgedit.Timer {
	return s.add(d, d, f)
}

func (s *ManualScheduler) add(d, period time.Duration, f func()) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, due: s.clock.Now().Add(d), period: period, seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.s.removeLocked(t)
	return true
}

func (s *ManualScheduler) removeLocked(t *manualTimer) {
	for i, other := range s.timers {
		if other == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

// Advance moves virtual time forward by d, firing every callback that
// becomes due on the way. Callbacks scheduled by callbacks fire too if
// they fall inside the window.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		s.mu.Lock()
		sort.SliceStable(s.timers, func(i, j int) bool {
			if s.timers[i].due.Equal(s.timers[j].due) {
				return s.timers[i].seq < s.timers[j].seq
			}
			return s.timers[i].due.Before(s.timers[j].due)
		})
		if len(s.timers) == 0 || s.timers[0].due.After(target) {
			s.mu.Unlock()
			break
		}
		next := s.timers[0]
		due := next.due
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			next.done = true
			s.timers = s.timers[1:]
		}
		s.mu.Unlock()

		s.clock.Set(due)
		next.f()
	}
	s.clock.Set(target)
}

// Pending returns the number of scheduled callbacks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
