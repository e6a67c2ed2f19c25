package testutil

import (
	"sync"

	"cfgedit/internal/cfgedit"
)

// RecordingObserver records every session notification.
type RecordingObserver struct {
	mu      sync.Mutex
	states  []cfgedit.State
	dirty   []bool
	reports []cfgedit.IssueReport
	notices []cfgedit.Notice
}

func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (o *RecordingObserver) StateChanged(s cfgedit.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *RecordingObserver) DirtyChanged(dirty bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dirty = append(o.dirty, dirty)
}

func (o *RecordingObserver) IssuesChanged(r cfgedit.IssueReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

func (o *RecordingObserver) Notice(n cfgedit.Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

// Phases returns the distinct phase sequence seen so far.
func (o *RecordingObserver) Phases() []cfgedit.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	var phases []cfgedit.Phase
	for _, s := range o.states {
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	}
	return phases
}

// DirtyChanges returns every dirty flag transition.
func (o *RecordingObserver) DirtyChanges() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.dirty...)
}

// Reports returns every validation report delivered.
func (o *RecordingObserver) Reports() []cfgedit.IssueReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]cfgedit.IssueReport(nil), o.reports...)
}

// Notices returns every notice delivered.
func (o *RecordingObserver) Notices() []cfgedit.Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]cfgedit.Notice(nil), o.notices...)
}

// HasNotice reports whether a notice of the given level was delivered.
func (o *RecordingObserver) HasNotice(level cfgedit.NoticeLevel) bool {
	for _, n := range o.Notices() {
		if n.Level == level {
			return true
		}
	}
	return false
}
