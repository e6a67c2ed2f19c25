package cfgedit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/document"
	"cfgedit/internal/draft"
	"cfgedit/internal/lock"
	"cfgedit/internal/testutil"
)

const (
	docID    = "services/api.yaml"
	original = "name: api\nreplicas: 2\nport: 8080\n"
)

type harness struct {
	t         *testing.T
	clock     *testutil.StubClock
	sched     *testutil.ManualScheduler
	docs      *document.MemoryService
	flakyDocs *testutil.FlakyDocuments
	locks     *lock.MemoryService
	flakyLock *testutil.FlakyLocks
	drafts    *draft.MemoryStore
	flakyDraf *testutil.FlakyDrafts
	validator *testutil.StubValidator
	observer  *testutil.RecordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithTTL(t, 3*time.Minute)
}

func newHarnessWithTTL(t *testing.T, ttl time.Duration) *harness {
	t.Helper()
	clock := testutil.FixedClock()
	docs := document.NewMemoryService()
	docs.Put(docID, original)
	locks := lock.NewMemoryService(clock, ttl, []string{"admin"})
	drafts := draft.NewMemoryStore()
	return &harness{
		t:         t,
		clock:     clock,
		sched:     testutil.NewManualScheduler(clock),
		docs:      docs,
		flakyDocs: testutil.NewFlakyDocuments(docs),
		locks:     locks,
		flakyLock: testutil.NewFlakyLocks(locks),
		drafts:    drafts,
		flakyDraf: testutil.NewFlakyDrafts(drafts),
		validator: &testutil.StubValidator{},
		observer:  testutil.NewRecordingObserver(),
	}
}

func (h *harness) session(identity string) *cfgedit.Session {
	h.t.Helper()
	return cfgedit.NewSession(cfgedit.Deps{
		Documents: h.flakyDocs,
		Locks:     h.flakyLock,
		Drafts:    h.flakyDraf,
		Validator: h.validator,
		Scheduler: h.sched,
		Clock:     h.clock,
		Observer:  h.observer,
	}, cfgedit.Options{
		DocumentID: docID,
		Identity:   identity,
		RuleSetID:  "server",
	})
}

func (h *harness) start(identity string) *cfgedit.Session {
	h.t.Helper()
	s := h.session(identity)
	if err := s.Start(context.Background()); err != nil {
		h.t.Fatalf("Start() error = %v", err)
	}
	h.t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func (h *harness) storedDraft(identity string) *cfgedit.Draft {
	h.t.Helper()
	d, err := h.drafts.Get(context.Background(), docID, identity)
	if err != nil {
		h.t.Fatalf("drafts.Get() error = %v", err)
	}
	return d
}

func wantPhase(t *testing.T, s *cfgedit.Session, want cfgedit.Phase) {
	t.Helper()
	if got := s.State().Phase; got != want {
		t.Fatalf("phase = %s, want %s", got, want)
	}
}

func pathIssue(sev cfgedit.Severity, path string) cfgedit.ValidationIssue {
	return cfgedit.ValidationIssue{Severity: sev, Message: "bad value", Line: 2, Path: path}
}

func TestSession_HappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")

	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || !st.Lock.Held || st.Dirty {
		t.Fatalf("after start state = %+v", st)
	}
	if st.VersionStamp != "v1" {
		t.Errorf("VersionStamp = %q, want v1", st.VersionStamp)
	}

	edited := strings.Replace(original, "replicas: 2", "replicas: 3", 1)
	if err := s.Edit(edited); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if !s.State().Dirty || !s.State().CanPublish() {
		t.Fatalf("after edit state = %+v", s.State())
	}

	h.sched.Advance(2 * time.Second)
	if d := h.storedDraft("alice"); d == nil || d.Text != edited || d.BasedOnVersionStamp != "v1" {
		t.Fatalf("draft after autosave = %+v", d)
	}

	review, err := s.RequestPublish(ctx)
	if err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	if review.Summary.Added != 1 || review.Summary.Removed != 1 {
		t.Errorf("summary = %+v, want +1 -1", review.Summary)
	}
	wantPhase(t, s, cfgedit.PhaseDiffReview)

	res, err := s.ConfirmPublish(ctx)
	if err != nil {
		t.Fatalf("ConfirmPublish() error = %v", err)
	}
	if res.VersionStamp != "v2" {
		t.Errorf("VersionStamp = %q, want v2", res.VersionStamp)
	}

	doc, _ := h.docs.Load(ctx, docID)
	if doc.Content != edited {
		t.Errorf("server content = %q, want %q", doc.Content, edited)
	}
	if got := h.docs.LastEditor(docID); got != "alice" {
		t.Errorf("LastEditor = %q, want alice", got)
	}

	st = s.State()
	if st.Phase != cfgedit.PhaseEditable || st.Dirty || st.VersionStamp != "v2" {
		t.Errorf("after publish state = %+v", st)
	}
	if d := h.storedDraft("alice"); d != nil {
		t.Errorf("draft should be cleared after publish, got %+v", d)
	}

	dirty := h.observer.DirtyChanges()
	if len(dirty) != 2 || !dirty[0] || dirty[1] {
		t.Errorf("DirtyChanges = %v, want [true false]", dirty)
	}
}

func TestSession_ContendedLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if _, err := h.locks.Acquire(ctx, docID, "bob"); err != nil {
		t.Fatal(err)
	}

	s := h.start("alice")
	st := s.State()
	if st.Phase != cfgedit.PhaseReadOnly {
		t.Fatalf("phase = %s, want read-only", st.Phase)
	}
	if st.Lock.Holder != "bob" || st.Lock.Held {
		t.Errorf("lock status = %+v", st.Lock)
	}
	if st.CanPublish() {
		t.Error("CanPublish() = true in read-only mode")
	}
	if s.Text() != original {
		t.Errorf("Text() = %q, want server content", s.Text())
	}

	if err := s.Edit("x"); !errors.Is(err, cfgedit.ErrReadOnly) {
		t.Errorf("Edit() error = %v, want ErrReadOnly", err)
	}
	if _, err := s.RequestPublish(ctx); !errors.Is(err, cfgedit.ErrReadOnly) {
		t.Errorf("RequestPublish() error = %v, want ErrReadOnly", err)
	}
	if !h.observer.HasNotice(cfgedit.NoticeWarning) {
		t.Error("expected a read-only warning notice")
	}
}

func TestSession_ReadOnlySkipsDraftRecovery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.locks.Acquire(ctx, docID, "bob")
	h.drafts.Put(ctx, &cfgedit.Draft{DocumentID: docID, EditorIdentity: "alice", Text: "draft", BasedOnVersionStamp: "v1", LastEditedAt: h.clock.Now()})

	s := h.start("alice")
	st := s.State()
	if st.Phase != cfgedit.PhaseReadOnly || st.Draft != nil {
		t.Fatalf("state = %+v, want read-only without draft offer", st)
	}
	if h.storedDraft("alice") == nil {
		t.Error("draft must be kept while read-only")
	}
}

func TestSession_PublishConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")

	h.docs.Put(docID, "name: api\nreplicas: 5\nport: 8080\n")

	edited := original + "debug: true\n"
	s.Edit(edited)
	if _, err := s.RequestPublish(ctx); err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	_, err := s.ConfirmPublish(ctx)
	if cfgedit.KindOf(err) != cfgedit.KindPublishConflict {
		t.Fatalf("ConfirmPublish() error = %v, want PublishConflict", err)
	}
	if !errors.Is(err, cfgedit.ErrVersionConflict) {
		t.Errorf("error should wrap ErrVersionConflict: %v", err)
	}
	wantPhase(t, s, cfgedit.PhaseConflict)
	if s.Text() != edited {
		t.Errorf("local text lost on conflict: %q", s.Text())
	}
	if _, err := s.RequestPublish(ctx); cfgedit.KindOf(err) != cfgedit.KindPublishConflict {
		t.Errorf("RequestPublish() in conflict error = %v", err)
	}

	if err := s.RequestReload(ctx); err != nil {
		t.Fatalf("RequestReload() error = %v", err)
	}
	st := s.State()
	if st.Phase != cfgedit.PhaseRecovery || st.Draft == nil {
		t.Fatalf("after reload state = %+v, want recovery with draft", st)
	}
	if !st.Draft.Stale {
		t.Error("draft based on v1 should be stale against v2")
	}
	if st.VersionStamp != "v2" {
		t.Errorf("VersionStamp = %q, want v2", st.VersionStamp)
	}

	if err := s.ResumeDraft(ctx); err != nil {
		t.Fatalf("ResumeDraft() error = %v", err)
	}
	if s.Text() != edited {
		t.Errorf("Text() after resume = %q, want %q", s.Text(), edited)
	}
	wantPhase(t, s, cfgedit.PhaseEditable)
	if d := h.storedDraft("alice"); d != nil {
		t.Errorf("draft should be cleared after resume, got %+v", d)
	}
}

func TestSession_SoftIssuesNeedAcknowledgement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.validator.Issues = func(text string) []cfgedit.ValidationIssue {
		return []cfgedit.ValidationIssue{
			pathIssue(cfgedit.SeverityError, "/replicas"),
			pathIssue(cfgedit.SeverityWarning, "/debug"),
		}
	}
	s := h.start("alice")
	s.Edit(original + "debug: true\n")
	h.sched.Advance(300 * time.Millisecond)

	if st := s.State(); st.Gate != cfgedit.GateConfirm || !st.CanPublish() {
		t.Fatalf("state = %+v, want confirm gate", st)
	}

	review, err := s.RequestPublish(ctx)
	if err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	if review.PendingIssues != 2 {
		t.Errorf("PendingIssues = %d, want 2", review.PendingIssues)
	}
	wantPhase(t, s, cfgedit.PhaseIssueReview)

	if _, err := s.ConfirmPublish(ctx); !errors.Is(err, cfgedit.ErrUnacknowledged) {
		t.Fatalf("ConfirmPublish() error = %v, want ErrUnacknowledged", err)
	}
	if h.flakyDocs.Saves() != 0 {
		t.Fatal("save must not be attempted before acknowledgement")
	}

	if err := s.AcknowledgeIssues(); err != nil {
		t.Fatalf("AcknowledgeIssues() error = %v", err)
	}
	wantPhase(t, s, cfgedit.PhaseDiffReview)
	if _, err := s.ConfirmPublish(ctx); err != nil {
		t.Fatalf("ConfirmPublish() error = %v", err)
	}
}

func TestSession_SyntaxErrorBlocksPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.validator.Issues = func(text string) []cfgedit.ValidationIssue {
		if strings.Contains(text, "{{") {
			return []cfgedit.ValidationIssue{{Severity: cfgedit.SeverityError, Message: "did not find expected key", Line: 4}}
		}
		return nil
	}
	s := h.start("alice")
	s.Edit(original + "{{\n")

	_, err := s.RequestPublish(ctx)
	if cfgedit.KindOf(err) != cfgedit.KindValidationFailure {
		t.Fatalf("RequestPublish() error = %v, want ValidationFailure", err)
	}
	st := s.State()
	if st.Gate != cfgedit.GateBlock || st.CanPublish() {
		t.Errorf("state = %+v, want blocked", st)
	}
	wantPhase(t, s, cfgedit.PhaseEditable)
	if h.flakyDocs.Saves() != 0 {
		t.Error("save attempted for blocked document")
	}
	if lines := s.Issues().Lines(); len(lines) != 1 || lines[0] != 4 {
		t.Errorf("Lines() = %v, want [4]", lines)
	}
}

func TestSession_PublishesFinalNewlineChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")

	s.Edit(strings.TrimSuffix(original, "\n"))
	review, err := s.RequestPublish(ctx)
	if err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	if review.Empty() {
		t.Fatal("dropping the final newline produced an empty review")
	}
	wantPhase(t, s, cfgedit.PhaseDiffReview)

	if _, err := s.ConfirmPublish(ctx); err != nil {
		t.Fatalf("ConfirmPublish() error = %v", err)
	}
	if h.flakyDocs.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", h.flakyDocs.Saves())
	}
	if s.State().Dirty {
		t.Error("still dirty after publish")
	}
	doc, err := h.docs.Load(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != strings.TrimSuffix(original, "\n") {
		t.Errorf("stored content = %q", doc.Content)
	}
}

func TestSession_RevertClearsStoredDraft(t *testing.T) {
	h := newHarness(t)
	s := h.start("alice")

	s.Edit(original + "x: 1\n")
	h.sched.Advance(2 * time.Second)
	if h.storedDraft("alice") == nil {
		t.Fatal("expected an autosaved draft")
	}

	s.Edit(original)
	if d := h.storedDraft("alice"); d != nil {
		t.Errorf("draft after revert = %+v, want none", d)
	}
	h.sched.Advance(time.Minute)
	if d := h.storedDraft("alice"); d != nil {
		t.Errorf("draft reappeared: %+v", d)
	}
	if s.State().Dirty {
		t.Error("dirty after revert")
	}
}

func TestSession_EmptyDiffIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")

	s.Edit(original + "x: 1\n")
	s.Edit(original)

	review, err := s.RequestPublish(ctx)
	if err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	if !review.Empty() {
		t.Errorf("review should be empty: %+v", review.Summary)
	}
	wantPhase(t, s, cfgedit.PhaseEditable)
	if h.flakyDocs.Saves() != 0 {
		t.Error("save attempted with no changes")
	}
	if !h.observer.HasNotice(cfgedit.NoticeInfo) {
		t.Error("expected an informational notice")
	}
}

func TestSession_TransportFailureKeepsEdits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	edited := original + "debug: true\n"
	s.Edit(edited)

	h.flakyDocs.FailSave(errors.New("connection reset"))
	s.RequestPublish(ctx)
	_, err := s.ConfirmPublish(ctx)
	if cfgedit.KindOf(err) != cfgedit.KindPublishTransportFailure {
		t.Fatalf("ConfirmPublish() error = %v, want PublishTransportFailure", err)
	}
	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || !st.Dirty || s.Text() != edited {
		t.Fatalf("state after failure = %+v", st)
	}

	h.flakyDocs.FailSave(nil)
	s.RequestPublish(ctx)
	if _, err := s.ConfirmPublish(ctx); err != nil {
		t.Fatalf("retry ConfirmPublish() error = %v", err)
	}
}

func TestSession_DraftRecovery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	draftText := original + "recovered: true\n"
	h.drafts.Put(ctx, &cfgedit.Draft{
		DocumentID:          docID,
		EditorIdentity:      "alice",
		Text:                draftText,
		BasedOnVersionStamp: "v1",
		LastEditedAt:        h.clock.Now().Add(-time.Hour),
	})

	s := h.start("alice")
	st := s.State()
	if st.Phase != cfgedit.PhaseRecovery || st.Draft == nil || st.Draft.Stale {
		t.Fatalf("state = %+v, want fresh draft offer", st)
	}
	if err := s.Edit("typed too early"); !errors.Is(err, cfgedit.ErrInvalidTransition) {
		t.Errorf("Edit() during recovery error = %v", err)
	}

	if err := s.ResumeDraft(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Text() != draftText || !s.State().Dirty {
		t.Errorf("after resume text = %q dirty = %v", s.Text(), s.State().Dirty)
	}
}

func TestSession_DiscardDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drafts.Put(ctx, &cfgedit.Draft{DocumentID: docID, EditorIdentity: "alice", Text: "old", BasedOnVersionStamp: "v1", LastEditedAt: h.clock.Now()})

	s := h.start("alice")
	if err := s.DiscardDraft(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Text() != original || s.State().Dirty {
		t.Errorf("after discard text = %q", s.Text())
	}
	if h.storedDraft("alice") != nil {
		t.Error("draft still stored after discard")
	}
}

func TestSession_ExpiredDraftIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drafts.Put(ctx, &cfgedit.Draft{
		DocumentID:     docID,
		EditorIdentity: "alice",
		Text:           "stale",
		LastEditedAt:   h.clock.Now().Add(-25 * time.Hour),
	})

	s := h.start("alice")
	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || st.Draft != nil {
		t.Fatalf("state = %+v, want editable without offer", st)
	}
	if h.storedDraft("alice") != nil {
		t.Error("expired draft should be deleted")
	}
}

func TestSession_DraftsAreKeyedByIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drafts.Put(ctx, &cfgedit.Draft{DocumentID: docID, EditorIdentity: "bob", Text: "bob's", LastEditedAt: h.clock.Now()})

	s := h.start("alice")
	if st := s.State(); st.Draft != nil {
		t.Fatalf("alice was offered bob's draft: %+v", st.Draft)
	}
}

func TestSession_DebounceCoalescesEdits(t *testing.T) {
	h := newHarness(t)
	s := h.start("alice")

	var last string
	for i := 0; i < 5; i++ {
		last = original + strings.Repeat("#\n", i+1)
		s.Edit(last)
		h.sched.Advance(100 * time.Millisecond)
	}
	if n := len(h.validator.Calls()); n != 0 {
		t.Fatalf("validation ran %d times during the burst", n)
	}
	if !s.State().Validating {
		t.Error("Validating should be set while a run is pending")
	}

	h.sched.Advance(200 * time.Millisecond)
	calls := h.validator.Calls()
	if len(calls) != 1 || calls[0] != last {
		t.Fatalf("validator calls = %d, want exactly one on the final text", len(calls))
	}
	if s.State().Validating {
		t.Error("Validating still set after result applied")
	}
	if h.flakyDraf.Puts() != 0 {
		t.Fatal("draft written before the autosave delay")
	}

	h.sched.Advance(2 * time.Second)
	if h.flakyDraf.Puts() != 1 {
		t.Errorf("draft puts = %d, want 1", h.flakyDraf.Puts())
	}
	if d := h.storedDraft("alice"); d == nil || d.Text != last {
		t.Errorf("draft = %+v, want final text", d)
	}
}

func TestSession_StaleValidationResultDropped(t *testing.T) {
	h := newHarness(t)
	var s *cfgedit.Session
	runs := 0
	h.validator.Issues = func(text string) []cfgedit.ValidationIssue {
		runs++
		if runs == 1 {
			s.Edit(original + "c: 3\n")
		}
		return []cfgedit.ValidationIssue{pathIssue(cfgedit.SeverityWarning, "/run")}
	}
	s = h.start("alice")

	s.Edit(original + "b: 2\n")
	h.sched.Advance(300 * time.Millisecond)
	if n := len(h.observer.Reports()); n != 0 {
		t.Fatalf("stale result was applied (%d reports)", n)
	}

	h.sched.Advance(300 * time.Millisecond)
	reports := h.observer.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if runs != 2 {
		t.Errorf("validator runs = %d, want 2", runs)
	}
}

func TestSession_ValidatorOutageIsSoft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.validator.Err = errors.New("rule set unavailable")
	s := h.start("alice")
	s.Edit(original + "x: 1\n")

	review, err := s.RequestPublish(ctx)
	if err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	if review.PendingIssues != 1 || review.Report.Warnings != 1 {
		t.Errorf("review = %+v, want one warning", review.Report)
	}
	wantPhase(t, s, cfgedit.PhaseIssueReview)
}

func TestSession_EditDuringReviewReturnsToEditable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	s.Edit(original + "x: 1\n")
	s.RequestPublish(ctx)
	wantPhase(t, s, cfgedit.PhaseDiffReview)

	s.Edit(original + "x: 2\n")
	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || st.Review != nil {
		t.Fatalf("state = %+v, want editable without review", st)
	}
	if _, err := s.ConfirmPublish(ctx); !errors.Is(err, cfgedit.ErrInvalidTransition) {
		t.Errorf("ConfirmPublish() error = %v", err)
	}
}

func TestSession_CancelPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	s.Edit(original + "x: 1\n")
	s.RequestPublish(ctx)
	if err := s.CancelPublish(); err != nil {
		t.Fatal(err)
	}
	wantPhase(t, s, cfgedit.PhaseEditable)
	if !s.State().Dirty {
		t.Error("cancel lost the edit")
	}
}

func TestSession_DegradedLock(t *testing.T) {
	h := newHarness(t)
	h.flakyLock.FailAcquire(errors.New("dial tcp: connection refused"))
	s := h.start("alice")

	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || !st.Lock.Degraded || st.Lock.Held {
		t.Fatalf("state = %+v, want degraded editable", st)
	}
	if !h.observer.HasNotice(cfgedit.NoticeWarning) {
		t.Error("expected a warning notice")
	}

	s.Edit(original + "x: 1\n")
	s.RequestPublish(context.Background())
	if _, err := s.ConfirmPublish(context.Background()); err != nil {
		t.Fatalf("publish without lease error = %v", err)
	}
}

func TestSession_HeartbeatFailuresAreNonFatal(t *testing.T) {
	h := newHarnessWithTTL(t, 10*time.Minute)
	s := h.start("alice")

	h.flakyLock.FailRenew(errors.New("timeout"))
	h.sched.Advance(60 * time.Second)
	h.sched.Advance(60 * time.Second)

	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || st.Lock.RenewalFailures != 2 || !st.Lock.Held {
		t.Fatalf("state = %+v, want editable with 2 failures", st)
	}

	h.flakyLock.FailRenew(nil)
	h.sched.Advance(60 * time.Second)
	if n := s.State().Lock.RenewalFailures; n != 0 {
		t.Errorf("RenewalFailures = %d after success, want 0", n)
	}
}

func TestSession_LeaseExpiresAfterMissedRenewals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	s.Edit(original + "x: 1\n")

	h.flakyLock.FailRenew(errors.New("timeout"))
	h.sched.Advance(3 * time.Minute)
	h.flakyLock.FailRenew(nil)
	if _, err := h.locks.Acquire(ctx, docID, "bob"); err != nil {
		t.Fatalf("bob could not take the expired lease: %v", err)
	}

	h.sched.Advance(time.Minute)
	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || st.Lock.Held || !st.Lock.Lost || st.Lock.RenewalFailures != 4 {
		t.Fatalf("state = %+v, want editable with the lease lost", st)
	}

	if _, err := s.RequestPublish(ctx); err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	_, err := s.ConfirmPublish(ctx)
	if cfgedit.KindOf(err) != cfgedit.KindLockDenied {
		t.Fatalf("ConfirmPublish() error = %v, want LockDenied", err)
	}
	if h.flakyDocs.Saves() != 0 {
		t.Error("save attempted after the lease expired")
	}
	if holder := s.State().Lock.Holder; holder != "bob" {
		t.Errorf("Lock.Holder = %q, want bob", holder)
	}
}

func TestSession_RenewalDeniedStopsHeartbeat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")

	if err := h.locks.ForceBreak(ctx, docID, "admin"); err != nil {
		t.Fatal(err)
	}
	h.sched.Advance(time.Minute)

	st := s.State()
	if st.Lock.Held || !st.Lock.Lost || st.Lock.RenewalFailures != 1 {
		t.Fatalf("lock = %+v, want lost and not held", st.Lock)
	}

	h.sched.Advance(5 * time.Minute)
	if n := s.State().Lock.RenewalFailures; n != 1 {
		t.Errorf("RenewalFailures = %d, heartbeat kept renewing a lost lease", n)
	}

	s.Close(ctx)
	if h.flakyLock.Releases() != 0 {
		t.Error("released a lease the session no longer holds")
	}
}

func TestSession_HeartbeatKeepsLeaseAlive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start("alice")

	for i := 0; i < 10; i++ {
		h.sched.Advance(time.Minute)
	}
	if _, err := h.locks.Acquire(ctx, docID, "bob"); err == nil {
		t.Fatal("bob acquired a lease alice is heartbeating")
	}
}

func TestSession_LostLeaseRefusesPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	s.Edit(original + "x: 1\n")

	if err := h.locks.ForceBreak(ctx, docID, "admin"); err != nil {
		t.Fatal(err)
	}

	s.RequestPublish(ctx)
	_, err := s.ConfirmPublish(ctx)
	if cfgedit.KindOf(err) != cfgedit.KindLockDenied {
		t.Fatalf("ConfirmPublish() error = %v, want LockDenied", err)
	}
	st := s.State()
	if st.Phase != cfgedit.PhaseEditable || !st.Lock.Lost || !st.Dirty {
		t.Errorf("state = %+v", st)
	}
	if h.flakyDocs.Saves() != 0 {
		t.Error("save attempted without a lease")
	}
}

func TestSession_LostLeaseTakenOverStaysRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	s.Edit(original + "x: 1\n")

	if err := h.locks.ForceBreak(ctx, docID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.locks.Acquire(ctx, docID, "bob"); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := s.RequestPublish(ctx); err != nil {
			t.Fatalf("attempt %d: RequestPublish() error = %v", attempt, err)
		}
		if _, err := s.ConfirmPublish(ctx); cfgedit.KindOf(err) != cfgedit.KindLockDenied {
			t.Fatalf("attempt %d: ConfirmPublish() error = %v, want LockDenied", attempt, err)
		}
		wantPhase(t, s, cfgedit.PhaseEditable)
	}

	if h.flakyDocs.Saves() != 0 {
		t.Errorf("Saves() = %d, want 0", h.flakyDocs.Saves())
	}
	st := s.State()
	if st.Lock.Held || !st.Lock.Lost || st.Lock.Holder != "bob" {
		t.Errorf("lock = %+v, want lost to bob", st.Lock)
	}
	if l, _ := h.locks.Status(ctx, docID); l == nil || l.Holder != "bob" {
		t.Errorf("lock = %+v, want held by bob", l)
	}
}

func TestSession_LostLeaseReacquiredOnPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start("alice")
	s.Edit(original + "x: 1\n")

	if err := h.locks.ForceBreak(ctx, docID, "admin"); err != nil {
		t.Fatal(err)
	}
	s.RequestPublish(ctx)
	if _, err := s.ConfirmPublish(ctx); cfgedit.KindOf(err) != cfgedit.KindLockDenied {
		t.Fatalf("first ConfirmPublish() error = %v, want LockDenied", err)
	}

	if _, err := s.RequestPublish(ctx); err != nil {
		t.Fatalf("RequestPublish() error = %v", err)
	}
	if _, err := s.ConfirmPublish(ctx); err != nil {
		t.Fatalf("ConfirmPublish() with a free lease error = %v", err)
	}
	st := s.State()
	if !st.Lock.Held || st.Lock.Lost || st.Dirty {
		t.Fatalf("state = %+v, want published with the lease held", st)
	}
	if h.flakyDocs.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", h.flakyDocs.Saves())
	}

	for i := 0; i < 5; i++ {
		h.sched.Advance(time.Minute)
	}
	if _, err := h.locks.Acquire(ctx, docID, "bob"); err == nil {
		t.Error("heartbeat did not resume after the lease was reacquired")
	}
}

func TestSession_ForceBreakLock(t *testing.T) {
	ctx := context.Background()

	t.Run("privileged", func(t *testing.T) {
		h := newHarness(t)
		h.locks.Acquire(ctx, docID, "bob")
		s := h.start("admin")
		wantPhase(t, s, cfgedit.PhaseReadOnly)

		if err := s.ForceBreakLock(ctx); err != nil {
			t.Fatalf("ForceBreakLock() error = %v", err)
		}
		st := s.State()
		if st.Phase != cfgedit.PhaseEditable || !st.Lock.Held {
			t.Fatalf("state = %+v", st)
		}
		l, _ := h.locks.Status(ctx, docID)
		if l == nil || l.Holder != "admin" {
			t.Errorf("lock = %+v, want held by admin", l)
		}
	})

	t.Run("not privileged", func(t *testing.T) {
		h := newHarness(t)
		h.locks.Acquire(ctx, docID, "bob")
		s := h.start("alice")

		err := s.ForceBreakLock(ctx)
		if cfgedit.KindOf(err) != cfgedit.KindLockDenied || !errors.Is(err, cfgedit.ErrForbidden) {
			t.Fatalf("ForceBreakLock() error = %v", err)
		}
		wantPhase(t, s, cfgedit.PhaseReadOnly)
	})
}

func TestSession_CloseFlushesDraftAndReleasesLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.session("alice")
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	edited := original + "x: 1\n"
	s.Edit(edited)

	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	wantPhase(t, s, cfgedit.PhaseClosed)
	if d := h.storedDraft("alice"); d == nil || d.Text != edited {
		t.Errorf("draft after close = %+v, want flushed edit", d)
	}
	if l, _ := h.locks.Status(ctx, docID); l != nil {
		t.Errorf("lock still held after close: %+v", l)
	}
	if h.sched.Pending() != 0 {
		t.Errorf("%d timers left after close", h.sched.Pending())
	}
	if err := s.Edit("y"); !errors.Is(err, cfgedit.ErrInvalidTransition) {
		t.Errorf("Edit() after close error = %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSession_CloseAfterPublishKeepsNoDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.session("alice")
	s.Start(ctx)
	s.Edit(original + "x: 1\n")
	h.sched.Advance(2 * time.Second)
	s.RequestPublish(ctx)
	if _, err := s.ConfirmPublish(ctx); err != nil {
		t.Fatal(err)
	}
	s.Close(ctx)
	if d := h.storedDraft("alice"); d != nil {
		t.Errorf("draft after publish and close = %+v", d)
	}
}

func TestSession_AutosaveFailureIsReported(t *testing.T) {
	h := newHarness(t)
	s := h.start("alice")
	h.flakyDraf.FailPut(errors.New("disk full"))

	s.Edit(original + "x: 1\n")
	h.sched.Advance(2 * time.Second)

	if !h.observer.HasNotice(cfgedit.NoticeWarning) {
		t.Error("expected a warning notice for failed autosave")
	}
	wantPhase(t, s, cfgedit.PhaseEditable)
}

func TestSession_LoadFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.flakyDocs.FailLoad(errors.New("503"))
	s := h.session("alice")

	err := s.Start(ctx)
	if cfgedit.KindOf(err) != cfgedit.KindLoadFailure {
		t.Fatalf("Start() error = %v, want LoadFailure", err)
	}
	wantPhase(t, s, cfgedit.PhaseLoading)

	h.flakyDocs.FailLoad(nil)
	if err := s.RequestReload(ctx); err != nil {
		t.Fatalf("RequestReload() error = %v", err)
	}
	wantPhase(t, s, cfgedit.PhaseEditable)
}

func TestSession_StartTwice(t *testing.T) {
	h := newHarness(t)
	s := h.start("alice")
	if err := s.Start(context.Background()); !errors.Is(err, cfgedit.ErrInvalidTransition) {
		t.Errorf("second Start() error = %v", err)
	}
}
