package cfgedit

import (
	"time"

	"cfgedit/internal/diff"
)

// Phase is the top-level state of a Session.
type Phase string

const (
	// PhaseLoading: the document, lease and draft are being fetched.
	PhaseLoading Phase = "loading"
	// PhaseRecovery: a live draft was found and must be resumed or discarded
	// before the editing surface is populated.
	PhaseRecovery Phase = "recovery"
	// PhaseEditable: the working copy may be edited. Dirty tells Idle from Dirty.
	PhaseEditable Phase = "editable"
	// PhaseReadOnly: another identity holds the lease.
	PhaseReadOnly Phase = "read-only"
	// PhaseIssueReview: publish requested with soft validation issues that
	// must be acknowledged before the diff is reviewed.
	PhaseIssueReview Phase = "issue-review"
	// PhaseDiffReview: the change set awaits confirmation.
	PhaseDiffReview Phase = "diff-review"
	// PhasePublishing: a save is in flight.
	PhasePublishing Phase = "publishing"
	// PhaseConflict: the server revision moved since load. Only a reload
	// leaves this phase.
	PhaseConflict Phase = "conflict"
	// PhaseClosed: the session has been torn down.
	PhaseClosed Phase = "closed"
)

// LockStatus describes the session's view of its lease.
type LockStatus struct {
	// Held is true while the session believes it holds the lease.
	Held bool
	// Degraded is true when the lock service failed and the session edits
	// without a lease.
	Degraded bool
	// Holder and HeldSince identify the other holder in PhaseReadOnly, or
	// whoever took over a lost lease.
	Holder    string
	HeldSince time.Time
	// RenewalFailures counts consecutive failed heartbeats.
	RenewalFailures int
	// Lost is set once a renewal or publish reported the lease gone.
	Lost bool
}

// DraftOffer is a recoverable draft presented in PhaseRecovery.
type DraftOffer struct {
	Draft *Draft
	// Stale is true when the draft was based on a different revision than
	// the one just loaded.
	Stale bool
}

// Review is the pre-publish confirmation: the change set and any soft
// issues that need acknowledgement.
type Review struct {
	Changes       []diff.Entry
	Summary       diff.Summary
	Report        IssueReport
	PendingIssues int
}

// Empty reports whether there is nothing to publish.
func (r *Review) Empty() bool { return r.Summary.Empty() }

// PublishResult describes a successful publish.
type PublishResult struct {
	VersionStamp string
	Summary      diff.Summary
}

// State is a snapshot of a Session for rendering banners and controls.
type State struct {
	Phase        Phase
	DocumentID   string
	Identity     string
	VersionStamp string
	Dirty        bool
	Validating   bool
	Gate         Gate
	Lock         LockStatus
	Draft        *DraftOffer
	Review       *Review
}

// CanPublish reports whether the publish entry point should be offered.
func (s State) CanPublish() bool {
	return s.Phase == PhaseEditable && s.Dirty && s.Gate != GateBlock
}

// NoticeLevel is the severity of a Notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing message raised by the session.
type Notice struct {
	Level   NoticeLevel
	Message string
	Err     error
}

// Observer receives session notifications. Calls are made outside the
// session's lock, in the order the changes happened.
type Observer interface {
	StateChanged(State)
	DirtyChanged(dirty bool)
	IssuesChanged(IssueReport)
	Notice(Notice)
}

// NopObserver ignores all notifications. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) StateChanged(State)        {}
func (NopObserver) DirtyChanged(bool)         {}
func (NopObserver) IssuesChanged(IssueReport) {}
func (NopObserver) Notice(Notice)             {}
