// Package scheduler provides the wall-clock cfgedit.Scheduler used outside
// tests.
package scheduler

import (
	"sync"
	"time"

	"cfgedit/internal/cfgedit"
)

// Scheduler runs callbacks on their own goroutines using the runtime
// timers. Periodic callbacks never overlap with themselves.
type Scheduler struct {
	mu      sync.Mutex
	closed  bool
	tickers map[*ticker]struct{}
	running sync.WaitGroup
}

var _ cfgedit.Scheduler = (*Scheduler)(nil)

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{tickers: make(map[*ticker]struct{})}
}

type oneShot struct {
	t *time.Timer
}

func (o *oneShot) Stop() bool { return o.t.Stop() }

func (s *Scheduler) AfterFunc(d time.Duration, f func()) cfgedit.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stopped{}
	}
	return &oneShot{t: time.AfterFunc(d, func() {
		if !s.enter() {
			return
		}
		defer s.running.Done()
		f()
	})}
}

type ticker struct {
	s    *Scheduler
	stop chan struct{}
	once sync.Once
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stop)
		t.s.mu.Lock()
		delete(t.s.tickers, t)
		t.s.mu.Unlock()
		stopped = true
	})
	return stopped
}

func (s *Scheduler) Every(d time.Duration, f func()) cfgedit.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stopped{}
	}
	t := &ticker{s: s, stop: make(chan struct{})}
	s.tickers[t] = struct{}{}

	go func() {
		tk := time.NewTicker(d)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				if !s.enter() {
					return
				}
				f()
				s.running.Done()
			}
		}
	}()
	return t
}

// enter registers a running callback unless the scheduler is closed.
func (s *Scheduler) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.running.Add(1)
	return true
}

// Close stops all periodic callbacks, prevents pending ones from starting
// and waits for callbacks already running.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tickers := make([]*ticker, 0, len(s.tickers))
	for t := range s.tickers {
		tickers = append(tickers, t)
	}
	s.mu.Unlock()

	for _, t := range tickers {
		t.Stop()
	}
	s.running.Wait()
}

// stopped is returned after Close.
type stopped struct{}

func (stopped) Stop() bool { return false }
