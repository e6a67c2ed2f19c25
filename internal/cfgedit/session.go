package cfgedit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cfgedit/internal/diff"
)

const (
	// DefaultAutosaveDelay is the quiet period after an edit before the
	// working copy is written to the draft store.
	DefaultAutosaveDelay = 2 * time.Second
	// DefaultCallTimeout bounds every call to a backend made from a timer.
	DefaultCallTimeout = 10 * time.Second
)

// Deps are the collaborators of a Session.
type Deps struct {
	Documents DocumentService
	Locks     LockService
	Drafts    DraftStore
	Validator Validator
	Scheduler Scheduler
	Clock     Clock
	Logger    Logger
	Observer  Observer
}

// Options configure a Session. Zero durations use the package defaults.
type Options struct {
	DocumentID string
	Identity   string
	RuleSetID  string

	AutosaveDelay     time.Duration
	ValidateDelay     time.Duration
	HeartbeatInterval time.Duration
	DraftRetention    time.Duration
	CallTimeout       time.Duration
	DiffWindow        int
}

func (o *Options) setDefaults() {
	if o.AutosaveDelay <= 0 {
		o.AutosaveDelay = DefaultAutosaveDelay
	}
	if o.ValidateDelay <= 0 {
		o.ValidateDelay = DefaultValidateDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.DraftRetention <= 0 {
		o.DraftRetention = DefaultDraftRetention
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.DiffWindow <= 0 {
		o.DiffWindow = diff.DefaultWindow
	}
}

// Session is one user's editing session on one document. It owns the
// working copy and coordinates the lease, draft autosave, validation and
// publishing. All methods are safe for concurrent use; timer callbacks run
// on the scheduler's goroutines.
type Session struct {
	docs     DocumentService
	lockMgr  *LockManager
	drafts   *DraftManager
	pipeline *ValidationPipeline
	logger   Logger
	observer Observer
	opts     Options

	mu         sync.Mutex
	phase      Phase
	busy       bool // a load is in flight
	loaded     *Document
	text       string
	rev        uint64
	issues     IssueReport
	issuesRev  uint64
	validating bool
	lock       LockStatus
	offer      *DraftOffer
	review     *Review
	reviewRev  uint64
	lastDirty  bool
	autosave   *debouncer
	validate   *debouncer
	pending    []func(Observer)

	// draftMu serializes draft writes against clears. draftEpoch (guarded
	// by mu) is bumped on every clear so a save captured before it is dropped.
	draftMu    sync.Mutex
	draftEpoch uint64
	savedRev   uint64
}

// NewSession creates a session in PhaseLoading. Call Start to load the
// document.
func NewSession(deps Deps, opts Options) *Session {
	opts.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &Session{
		docs:     deps.Documents,
		lockMgr:  NewLockManager(deps.Locks, deps.Scheduler, logger, opts.DocumentID, opts.Identity, opts.HeartbeatInterval, opts.CallTimeout),
		drafts:   NewDraftManager(deps.Drafts, clock, logger, opts.DraftRetention),
		pipeline: NewValidationPipeline(deps.Validator, opts.RuleSetID, logger),
		logger:   logger,
		observer: observer,
		opts:     opts,
		phase:    PhaseLoading,
		autosave: newDebouncer(deps.Scheduler, opts.AutosaveDelay),
		validate: newDebouncer(deps.Scheduler, opts.ValidateDelay),
	}
}

// Start loads the document, requests the lease and checks for a
// recoverable draft. A failure to load leaves the session in PhaseLoading;
// RequestReload retries.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseLoading || s.busy || s.loaded != nil {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("start", phase)
	}
	s.mu.Unlock()
	return s.load(ctx)
}

// load runs the start sequence. The caller has put the session in
// PhaseLoading.
func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()

	doc, err := s.docs.Load(ctx, s.opts.DocumentID)
	if err != nil {
		s.mu.Lock()
		s.busy = false
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeError, Message: "could not load document", Err: err})
		})
		s.unlock()
		s.logger.Error("document load failed", "document", s.opts.DocumentID, "error", err)
		return newError(KindLoadFailure, "load", err)
	}

	res := s.lockMgr.Acquire(ctx)

	var offer *DraftOffer
	if res.Outcome != AcquireDenied {
		d, err := s.drafts.Check(ctx, s.opts.DocumentID, s.opts.Identity)
		if err != nil {
			s.logger.Warn("draft check failed", "document", s.opts.DocumentID, "error", err)
		} else if d != nil {
			offer = &DraftOffer{Draft: d, Stale: d.BasedOnVersionStamp != doc.VersionStamp}
		}
	}

	s.mu.Lock()
	s.busy = false
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		s.lockMgr.Release(ctx)
		return ErrClosed
	}

	s.loaded = doc
	s.text = doc.Content
	s.rev++
	s.issues = IssueReport{}
	s.review = nil
	s.offer = nil

	switch res.Outcome {
	case AcquireDenied:
		s.lock = LockStatus{Holder: res.Holder, HeldSince: res.HeldSince}
		s.phase = PhaseReadOnly
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeWarning, Message: fmt.Sprintf("read-only: %s is editing this document", res.Holder)})
		})
	case AcquireDegraded:
		s.lock = LockStatus{Degraded: true}
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeWarning, Message: "lock service unavailable, editing without a lease", Err: res.Err})
		})
	default:
		s.lock = LockStatus{Held: true}
	}

	if s.phase != PhaseReadOnly {
		if offer != nil {
			s.phase = PhaseRecovery
			s.offer = offer
		} else {
			s.phase = PhaseEditable
			s.scheduleValidationLocked()
		}
	}
	s.stateChangedLocked()
	s.unlock()

	s.logger.Info("session started", "document", s.opts.DocumentID, "version", doc.VersionStamp, "lock", res.Outcome.String())

	if res.Outcome == AcquireGranted {
		s.lockMgr.StartHeartbeat(s.onRenew)
	}
	return nil
}

// Text returns the current working copy.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Issues returns the latest validation report.
func (s *Session) Issues() IssueReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Edit replaces the working copy. Edits during review abandon the review.
// An edit that restores the loaded content clears the stored draft.
// Edits are accepted in PhaseConflict so the user can keep their text
// while deciding to reload.
func (s *Session) Edit(text string) error {
	s.mu.Lock()
	switch s.phase {
	case PhaseEditable, PhaseConflict, PhasePublishing:
	case PhaseIssueReview, PhaseDiffReview:
		s.phase = PhaseEditable
		s.review = nil
	case PhaseReadOnly:
		s.mu.Unlock()
		return ErrReadOnly
	default:
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("edit", phase)
	}

	if text == s.text {
		s.stateChangedLocked()
		s.unlock()
		return nil
	}
	wasDirty := s.dirtyLocked()
	s.text = text
	s.rev++

	reverted := false
	if s.dirtyLocked() {
		s.autosave.Trigger(s.autosaveFired)
	} else {
		s.autosave.Cancel()
		reverted = wasDirty
	}
	s.scheduleValidationLocked()
	s.stateChangedLocked()
	s.unlock()

	// Back at the loaded content, so there is nothing left to recover.
	if reverted {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		defer cancel()
		s.clearDraft(ctx)
	}
	return nil
}

// ResumeDraft replaces the working copy with the offered draft and clears
// the stored draft.
func (s *Session) ResumeDraft(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseRecovery || s.offer == nil {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("resume draft", phase)
	}
	d := s.offer.Draft
	s.mu.Unlock()

	s.clearDraft(ctx)

	s.mu.Lock()
	if s.phase != PhaseRecovery {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("resume draft", phase)
	}
	s.offer = nil
	s.phase = PhaseEditable
	s.text = d.Text
	s.rev++
	if s.dirtyLocked() {
		s.autosave.Trigger(s.autosaveFired)
	}
	s.scheduleValidationLocked()
	s.stateChangedLocked()
	s.unlock()

	s.logger.Info("draft resumed", "document", s.opts.DocumentID, "based_on", d.BasedOnVersionStamp)
	return nil
}

// DiscardDraft drops the offered draft and keeps the loaded content.
func (s *Session) DiscardDraft(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseRecovery {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("discard draft", phase)
	}
	s.mu.Unlock()

	s.clearDraft(ctx)

	s.mu.Lock()
	if s.phase != PhaseRecovery {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("discard draft", phase)
	}
	s.offer = nil
	s.phase = PhaseEditable
	s.scheduleValidationLocked()
	s.stateChangedLocked()
	s.unlock()

	s.logger.Info("draft discarded", "document", s.opts.DocumentID)
	return nil
}

// RequestPublish starts the publish flow. It validates synchronously when
// the last result is out of date, refuses blocked documents and returns
// the review to show. An empty change set returns a Review with Empty()
// true and leaves the session editable; nothing is sent to the server.
func (s *Session) RequestPublish(ctx context.Context) (*Review, error) {
	s.mu.Lock()
	switch s.phase {
	case PhaseEditable, PhaseIssueReview, PhaseDiffReview:
	case PhaseReadOnly:
		s.mu.Unlock()
		return nil, ErrReadOnly
	case PhaseConflict:
		s.mu.Unlock()
		return nil, newError(KindPublishConflict, "publish", ErrVersionConflict)
	default:
		phase := s.phase
		s.mu.Unlock()
		return nil, invalidTransition("publish", phase)
	}
	rev, text := s.rev, s.text
	stale := s.issuesRev != rev
	if stale {
		s.validate.Cancel()
	}
	s.mu.Unlock()

	if stale {
		s.applyReport(rev, s.pipeline.Run(ctx, text))
	}

	s.mu.Lock()
	if s.rev != rev || s.issuesRev != rev {
		phase := s.phase
		s.mu.Unlock()
		return nil, invalidTransition("publish while editing", phase)
	}

	report := s.issues
	if report.Gate == GateBlock {
		s.mu.Unlock()
		return nil, newError(KindValidationFailure, "publish", fmt.Errorf("%d syntax error(s) must be fixed first", report.Errors))
	}

	changes := diff.Text(s.loaded.Content, s.text, diff.Options{Window: s.opts.DiffWindow})
	review := &Review{
		Changes: changes,
		Summary: diff.Summarize(changes),
		Report:  report,
	}

	if review.Empty() {
		s.phase = PhaseEditable
		s.review = nil
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeInfo, Message: "no changes to publish"})
		})
		s.stateChangedLocked()
		s.unlock()
		return review, nil
	}

	review.PendingIssues = report.SoftCount()
	s.review = review
	s.reviewRev = rev
	if review.PendingIssues > 0 {
		s.phase = PhaseIssueReview
	} else {
		s.phase = PhaseDiffReview
	}
	s.stateChangedLocked()
	s.unlock()
	return review, nil
}

// AcknowledgeIssues accepts the soft issues of the pending review and
// moves on to the diff.
func (s *Session) AcknowledgeIssues() error {
	s.mu.Lock()
	if s.phase != PhaseIssueReview {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("acknowledge issues", phase)
	}
	s.phase = PhaseDiffReview
	s.review.PendingIssues = 0
	s.stateChangedLocked()
	s.unlock()
	return nil
}

// CancelPublish abandons the pending review.
func (s *Session) CancelPublish() error {
	s.mu.Lock()
	if s.phase != PhaseIssueReview && s.phase != PhaseDiffReview {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("cancel publish", phase)
	}
	s.phase = PhaseEditable
	s.review = nil
	s.stateChangedLocked()
	s.unlock()
	return nil
}

// ConfirmPublish sends the reviewed working copy to the server, based on
// the version stamp it was loaded at. A held lease is renewed first and a
// lost one is requested again; if the session cannot hold it the publish
// is refused with KindLockDenied.
func (s *Session) ConfirmPublish(ctx context.Context) (*PublishResult, error) {
	s.mu.Lock()
	switch {
	case s.phase == PhaseIssueReview:
		s.mu.Unlock()
		return nil, ErrUnacknowledged
	case s.phase != PhaseDiffReview || s.reviewRev != s.rev:
		phase := s.phase
		s.mu.Unlock()
		return nil, invalidTransition("confirm publish", phase)
	}
	text := s.text
	basedOn := s.loaded.VersionStamp
	summary := s.review.Summary
	held, lost := s.lock.Held, s.lock.Lost
	s.phase = PhasePublishing
	s.stateChangedLocked()
	s.unlock()

	switch {
	case held:
		if err := s.lockMgr.Renew(ctx); err != nil {
			var lerr *Error
			if errors.As(err, &lerr) && lerr.Kind == KindLockDenied {
				s.publishFailed(lerr, true)
				return nil, lerr
			}
			s.logger.Warn("lease renewal before publish failed, publishing anyway", "document", s.opts.DocumentID, "error", err)
		}
	case lost:
		if lerr := s.reacquire(ctx); lerr != nil {
			s.publishFailed(lerr, true)
			return nil, lerr
		}
	}

	stamp, err := s.docs.Save(ctx, SaveRequest{
		DocumentID: s.opts.DocumentID,
		Content:    text,
		BasedOn:    basedOn,
		Editor:     s.opts.Identity,
	})
	if err != nil {
		cerr := classifySave(err)
		s.logger.Warn("publish failed", "document", s.opts.DocumentID, "kind", cerr.Kind.String(), "error", err)
		s.publishFailed(cerr, false)
		return nil, cerr
	}

	s.mu.Lock()
	s.loaded = &Document{ID: s.opts.DocumentID, Content: text, VersionStamp: stamp}
	s.review = nil
	if s.phase == PhasePublishing {
		s.phase = PhaseEditable
	}
	dirty := s.dirtyLocked()
	if dirty {
		s.autosave.Trigger(s.autosaveFired)
	} else {
		s.autosave.Cancel()
	}
	s.emitLocked(func(o Observer) {
		o.Notice(Notice{Level: NoticeInfo, Message: fmt.Sprintf("published %s (+%d -%d)", stamp, summary.Added, summary.Removed)})
	})
	s.stateChangedLocked()
	s.unlock()

	s.logger.Info("document published", "document", s.opts.DocumentID, "version", stamp, "added", summary.Added, "removed", summary.Removed)

	if !dirty {
		s.clearDraft(ctx)
	}
	return &PublishResult{VersionStamp: stamp, Summary: summary}, nil
}

func (s *Session) publishFailed(err *Error, lost bool) {
	s.mu.Lock()
	defer s.unlock()
	if s.phase == PhaseClosed {
		return
	}
	s.review = nil

	notice := Notice{Level: NoticeError, Err: err}
	switch {
	case err.Kind == KindPublishConflict:
		s.phase = PhaseConflict
		notice.Level = NoticeWarning
		notice.Message = "the document changed on the server; reload and reapply your changes"
	case lost:
		s.phase = PhaseEditable
		s.lock.Held = false
		s.lock.Lost = true
		s.lock.Holder, s.lock.HeldSince = err.Holder, err.HeldSince
		notice.Message = "your edit lock was lost; publish refused"
		if err.Holder != "" {
			notice.Message = fmt.Sprintf("%s holds the edit lock now; publish refused", err.Holder)
		}
	default:
		s.phase = PhaseEditable
		notice.Message = "publish failed; your changes are kept"
	}
	s.emitLocked(func(o Observer) { o.Notice(notice) })
	s.stateChangedLocked()
}

// reacquire requests a lost lease again before a publish.
func (s *Session) reacquire(ctx context.Context) *Error {
	res := s.lockMgr.Acquire(ctx)
	switch res.Outcome {
	case AcquireGranted:
	case AcquireDenied:
		return lockDenied("publish", &LockHeldError{DocumentID: s.opts.DocumentID, Holder: res.Holder, HeldSince: res.HeldSince})
	default:
		return newError(KindLockDenied, "publish", res.Err)
	}

	s.mu.Lock()
	s.lock = LockStatus{Held: true}
	s.stateChangedLocked()
	s.unlock()

	s.logger.Info("lost lock reacquired", "document", s.opts.DocumentID)
	s.lockMgr.StartHeartbeat(s.onRenew)
	return nil
}

// RequestReload discards the loaded state and runs the start sequence
// again. Unsaved edits are flushed to the draft store first, so they are
// offered for recovery after the reload.
func (s *Session) RequestReload(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case PhasePublishing, PhaseClosed:
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("reload", phase)
	case PhaseLoading:
		if s.busy {
			s.mu.Unlock()
			return invalidTransition("reload", PhaseLoading)
		}
	}
	flush := s.flushLocked()
	s.phase = PhaseLoading
	s.review = nil
	s.offer = nil
	s.validating = false
	s.stateChangedLocked()
	s.unlock()

	if flush != nil {
		flush(ctx)
	}
	s.lockMgr.Release(ctx)

	s.mu.Lock()
	s.lock = LockStatus{}
	s.mu.Unlock()

	return s.load(ctx)
}

// ForceBreakLock revokes another identity's lease and restarts the session
// as its holder. Only privileged identities may do this.
func (s *Session) ForceBreakLock(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseReadOnly {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("force-break lock", phase)
	}
	s.mu.Unlock()

	if err := s.lockMgr.ForceBreak(ctx); err != nil {
		s.mu.Lock()
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeError, Message: "could not break lock", Err: err})
		})
		s.unlock()
		return err
	}

	s.mu.Lock()
	if s.phase != PhaseReadOnly {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("force-break lock", phase)
	}
	s.phase = PhaseLoading
	s.lock = LockStatus{}
	s.stateChangedLocked()
	s.unlock()

	return s.load(ctx)
}

// Close tears the session down: pending timers are cancelled, unsaved
// edits are flushed to the draft store and the lease is released on a best
// effort basis. The stored draft is kept.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return nil
	}
	flush := s.flushLocked()
	s.phase = PhaseClosed
	s.validating = false
	s.stateChangedLocked()
	s.unlock()

	if flush != nil {
		flush(ctx)
	}
	s.lockMgr.Release(ctx)
	s.logger.Info("session closed", "document", s.opts.DocumentID)
	return nil
}

// flushLocked cancels pending timers and returns a func that writes the
// working copy to the draft store, or nil when there is nothing unsaved.
func (s *Session) flushLocked() func(context.Context) {
	s.autosave.Cancel()
	s.validate.Cancel()
	if !s.dirtyLocked() || s.savedRev == s.rev || !s.editingLocked() {
		return nil
	}
	epoch, rev := s.draftEpoch, s.rev
	text, basedOn := s.text, s.loaded.VersionStamp
	return func(ctx context.Context) {
		s.saveDraft(ctx, epoch, rev, text, basedOn)
	}
}

func (s *Session) autosaveFired() {
	s.mu.Lock()
	if !s.editingLocked() || !s.dirtyLocked() || s.savedRev == s.rev {
		s.mu.Unlock()
		return
	}
	epoch, rev := s.draftEpoch, s.rev
	text, basedOn := s.text, s.loaded.VersionStamp
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()
	s.saveDraft(ctx, epoch, rev, text, basedOn)
}

func (s *Session) saveDraft(ctx context.Context, epoch, rev uint64, text, basedOn string) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	s.mu.Lock()
	current := s.draftEpoch == epoch
	s.mu.Unlock()
	if !current {
		s.logger.Debug("skipping draft save superseded by clear", "document", s.opts.DocumentID)
		return
	}

	err := s.drafts.Save(ctx, s.opts.DocumentID, s.opts.Identity, text, basedOn)

	s.mu.Lock()
	if err != nil {
		s.logger.Warn("draft autosave failed", "document", s.opts.DocumentID, "error", err)
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeWarning, Message: "could not save draft", Err: err})
		})
	} else if rev > s.savedRev {
		s.savedRev = rev
	}
	s.unlock()
}

func (s *Session) clearDraft(ctx context.Context) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	s.mu.Lock()
	s.draftEpoch++
	s.savedRev = 0
	s.mu.Unlock()

	if err := s.drafts.Clear(ctx, s.opts.DocumentID, s.opts.Identity); err != nil {
		s.logger.Warn("draft clear failed", "document", s.opts.DocumentID, "error", err)
	}
}

func (s *Session) scheduleValidationLocked() {
	s.validating = true
	s.validate.Trigger(s.validateFired)
}

func (s *Session) validateFired() {
	s.mu.Lock()
	if !s.editingLocked() {
		s.mu.Unlock()
		return
	}
	rev, text := s.rev, s.text
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()
	s.applyReport(rev, s.pipeline.Run(ctx, text))
}

// applyReport installs a validation result if the working copy has not
// changed since it was computed.
func (s *Session) applyReport(rev uint64, report IssueReport) {
	s.mu.Lock()
	if rev != s.rev || s.phase == PhaseClosed {
		s.mu.Unlock()
		s.logger.Debug("dropping stale validation result", "document", s.opts.DocumentID)
		return
	}
	s.issues = report
	s.issuesRev = rev
	s.validating = false
	s.emitLocked(func(o Observer) { o.IssuesChanged(report) })
	s.stateChangedLocked()
	s.unlock()
}

func (s *Session) onRenew(err error) {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	if err == nil {
		if s.lock.RenewalFailures == 0 {
			s.mu.Unlock()
			return
		}
		s.lock.RenewalFailures = 0
	} else {
		s.lock.RenewalFailures++
		if KindOf(err) == KindLockDenied {
			s.lock.Held = false
			s.lock.Lost = true
		}
		failures := s.lock.RenewalFailures
		s.emitLocked(func(o Observer) {
			o.Notice(Notice{Level: NoticeWarning, Message: fmt.Sprintf("lock renewal failed (%d in a row)", failures), Err: err})
		})
	}
	s.stateChangedLocked()
	s.unlock()
}

// editingLocked reports whether the working copy belongs to the user.
func (s *Session) editingLocked() bool {
	switch s.phase {
	case PhaseEditable, PhaseIssueReview, PhaseDiffReview, PhasePublishing, PhaseConflict:
		return true
	}
	return false
}

func (s *Session) dirtyLocked() bool {
	return s.loaded != nil && s.text != s.loaded.Content
}

func (s *Session) snapshotLocked() State {
	st := State{
		Phase:      s.phase,
		DocumentID: s.opts.DocumentID,
		Identity:   s.opts.Identity,
		Dirty:      s.dirtyLocked(),
		Validating: s.validating,
		Gate:       s.issues.Gate,
		Lock:       s.lock,
		Draft:      s.offer,
		Review:     s.review,
	}
	if s.loaded != nil {
		st.VersionStamp = s.loaded.VersionStamp
	}
	return st
}

func (s *Session) emitLocked(f func(Observer)) {
	s.pending = append(s.pending, f)
}

// stateChangedLocked queues a state notification, plus a dirty
// notification when the dirty flag flipped.
func (s *Session) stateChangedLocked() {
	st := s.snapshotLocked()
	if st.Dirty != s.lastDirty {
		s.lastDirty = st.Dirty
		dirty := st.Dirty
		s.emitLocked(func(o Observer) { o.DirtyChanged(dirty) })
	}
	s.emitLocked(func(o Observer) { o.StateChanged(st) })
}

// unlock releases mu and delivers queued notifications.
func (s *Session) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, f := range pending {
		f(s.observer)
	}
}
