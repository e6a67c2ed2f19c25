package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
	"cfgedit/internal/diff"
	"cfgedit/internal/document"
	"cfgedit/internal/draft"
	"cfgedit/internal/encryption"
	"cfgedit/internal/lock"
	"cfgedit/internal/scheduler"
	"cfgedit/internal/validation"
)

// ErrNoHistory is returned by History for backends that keep no revisions.
var ErrNoHistory = errors.New("document backend keeps no history")

// Options tune NewEditorApp.
type Options struct {
	// Passphrase unlocks the draft key when drafts are encrypted.
	Passphrase func() (string, error)
	// Console receives log records at warning level and above. Nil keeps
	// logs in the log file only.
	Console io.Writer
}

// EditorApp is the application layer between the CLI and the editing
// core. It constructs all backends from config, opens sessions and exposes
// the one-shot operations the CLI needs. The caller must call Close.
type EditorApp struct {
	cfg       *config.Config
	docs      document.Service
	locks     lock.Service
	drafts    draft.Store
	rules     *validation.DirProvider
	sched     *scheduler.Scheduler
	clock     cfgedit.Clock
	logger    cfgedit.Logger
	sessionID string

	closers []func() error
}

// NewEditorApp creates a fully wired EditorApp from cfg.
func NewEditorApp(ctx context.Context, cfg *config.Config, opts Options) (_ *EditorApp, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &EditorApp{cfg: cfg, clock: cfgedit.RealClock{}, sessionID: uuid.NewString()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, logFile, err := newLogger(cfg.LogDir, a.sessionID, opts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.closers = append(a.closers, logFile.Close)
	a.logger = &slogAdapter{l: logger}

	a.docs, err = document.NewServiceFromConfig(ctx, cfg.Documents, a.clock)
	if err != nil {
		return nil, fmt.Errorf("creating document service: %w", err)
	}
	if c, ok := a.docs.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.locks, err = lock.NewServiceFromConfig(cfg.Locks, a.clock)
	if err != nil {
		return nil, fmt.Errorf("creating lock service: %w", err)
	}
	a.closers = append(a.closers, a.locks.Close)

	var enc cfgedit.Encryptor
	var dec cfgedit.DecryptionContext
	if cfg.Drafts.Encrypted {
		enc, dec, err = unlock(cfg.Encryption, opts.Passphrase)
		if err != nil {
			return nil, err
		}
	}
	a.drafts, err = draft.NewStoreFromConfig(cfg.Drafts, enc, dec)
	if err != nil {
		return nil, fmt.Errorf("creating draft store: %w", err)
	}
	a.closers = append(a.closers, a.drafts.Close)

	a.rules = validation.NewDirProvider(cfg.Validation.RulesDir, a.logger)
	if cfg.Validation.Watch {
		if _, statErr := os.Stat(cfg.Validation.RulesDir); statErr == nil {
			if err := a.rules.Watch(context.Background()); err != nil {
				a.logger.Warn("rule set hot reload disabled", "dir", cfg.Validation.RulesDir, "error", err)
			}
		}
	}
	a.closers = append(a.closers, a.rules.Close)

	a.sched = scheduler.New()
	a.closers = append(a.closers, func() error { a.sched.Close(); return nil })

	a.logger.Info("app started", "identity", cfg.Identity, "documents", cfg.Documents.Type, "locks", cfg.Locks.Type, "drafts", cfg.Drafts.Type)
	return a, nil
}

func unlock(cfg config.EncryptionConfig, passphrase func() (string, error)) (cfgedit.Encryptor, cfgedit.DecryptionContext, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if !enc.IsConfigured() {
		return nil, nil, fmt.Errorf("drafts are encrypted but no key pair exists: run `cfgedit config keys`")
	}
	if passphrase == nil {
		return nil, nil, fmt.Errorf("drafts are encrypted and no passphrase source is available")
	}
	p, err := passphrase()
	if err != nil {
		return nil, nil, fmt.Errorf("reading passphrase: %w", err)
	}
	dec, err := enc.Unlock(p)
	if err != nil {
		return nil, nil, fmt.Errorf("unlocking draft key: %w", err)
	}
	return enc, dec, nil
}

// Identity returns the configured editor identity.
func (a *EditorApp) Identity() string {
	return a.cfg.Identity
}

// SessionID identifies this process in the log.
func (a *EditorApp) SessionID() string {
	return a.sessionID
}

// Documents returns the document backend.
func (a *EditorApp) Documents() document.Service {
	return a.docs
}

func (a *EditorApp) ruleSet(ruleSetID string) string {
	if ruleSetID != "" {
		return ruleSetID
	}
	return a.cfg.Validation.DefaultRuleSet
}

func (a *EditorApp) validator(documentID string) *validation.Validator {
	return validation.NewValidator(a.rules, validation.FormatForPath(documentID))
}

// OpenSession creates an editing session for documentID. An empty
// ruleSetID uses the configured default. The caller must Start and Close it.
func (a *EditorApp) OpenSession(documentID, ruleSetID string, observer cfgedit.Observer) *cfgedit.Session {
	sc := a.cfg.Session
	return cfgedit.NewSession(cfgedit.Deps{
		Documents: a.docs,
		Locks:     a.locks,
		Drafts:    a.drafts,
		Validator: a.validator(documentID),
		Scheduler: a.sched,
		Clock:     a.clock,
		Logger:    a.logger,
		Observer:  observer,
	}, cfgedit.Options{
		DocumentID:        documentID,
		Identity:          a.cfg.Identity,
		RuleSetID:         a.ruleSet(ruleSetID),
		AutosaveDelay:     sc.AutosaveDelay.Duration,
		ValidateDelay:     sc.ValidateDelay.Duration,
		HeartbeatInterval: sc.HeartbeatInterval.Duration,
		DraftRetention:    sc.DraftRetention.Duration,
		CallTimeout:       sc.CallTimeout.Duration,
		DiffWindow:        sc.DiffWindow,
	})
}

// Validate checks text as documentID would be checked in a session.
func (a *EditorApp) Validate(ctx context.Context, documentID, text, ruleSetID string) (cfgedit.IssueReport, error) {
	issues, err := a.validator(documentID).Validate(ctx, text, a.ruleSet(ruleSetID))
	if err != nil {
		return cfgedit.IssueReport{}, fmt.Errorf("validating %s: %w", documentID, err)
	}
	return cfgedit.NewIssueReport(issues), nil
}

// Diff compares the published revision of documentID with text.
func (a *EditorApp) Diff(ctx context.Context, documentID, text string) ([]diff.Entry, error) {
	doc, err := a.docs.Load(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", documentID, err)
	}
	return diff.Text(doc.Content, text, diff.Options{Window: a.cfg.Session.DiffWindow}), nil
}

// Import publishes text as a new document. Documents that fail to parse
// are refused; other issues are refused unless force is set.
func (a *EditorApp) Import(ctx context.Context, documentID, text, ruleSetID string, force bool) (string, cfgedit.IssueReport, error) {
	report, err := a.Validate(ctx, documentID, text, ruleSetID)
	if err != nil {
		return "", report, err
	}
	switch {
	case report.Gate == cfgedit.GateBlock:
		return "", report, &cfgedit.Error{Kind: cfgedit.KindValidationFailure, Op: "import"}
	case report.Gate == cfgedit.GateConfirm && !force:
		return "", report, fmt.Errorf("import: %d issue(s) need review: %w", report.SoftCount(), cfgedit.ErrUnacknowledged)
	}

	stamp, err := a.docs.Save(ctx, cfgedit.SaveRequest{DocumentID: documentID, Content: text, Editor: a.cfg.Identity})
	if err != nil {
		return "", report, fmt.Errorf("importing %s: %w", documentID, err)
	}
	a.logger.Info("document imported", "document", documentID, "stamp", stamp, "bytes", len(text))
	return stamp, report, nil
}

// ListDocuments returns all document ids.
func (a *EditorApp) ListDocuments(ctx context.Context) ([]string, error) {
	return a.docs.List(ctx)
}

// History returns recent revisions of documentID for git documents.
func (a *EditorApp) History(ctx context.Context, documentID string, limit int) ([]document.Revision, error) {
	git, ok := a.docs.(*document.GitService)
	if !ok {
		return nil, fmt.Errorf("%s documents: %w", a.cfg.Documents.Type, ErrNoHistory)
	}
	return git.History(ctx, documentID, limit)
}

// LockStatus returns the current lease on documentID, or nil.
func (a *EditorApp) LockStatus(ctx context.Context, documentID string) (*cfgedit.Lock, error) {
	return a.locks.Status(ctx, documentID)
}

// BreakLock revokes the lease on documentID. Only privileged identities
// may do this.
func (a *EditorApp) BreakLock(ctx context.Context, documentID string) error {
	if err := a.locks.ForceBreak(ctx, documentID, a.cfg.Identity); err != nil {
		return err
	}
	a.logger.Warn("lock force-broken", "document", documentID, "by", a.cfg.Identity)
	return nil
}

func (a *EditorApp) draftManager() *cfgedit.DraftManager {
	return cfgedit.NewDraftManager(a.drafts, a.clock, a.logger, a.cfg.Session.DraftRetention.Duration)
}

// ListDrafts returns the identity's unexpired drafts, newest first.
func (a *EditorApp) ListDrafts(ctx context.Context) ([]*cfgedit.Draft, error) {
	return a.draftManager().List(ctx, a.cfg.Identity)
}

// DiscardDraft deletes the identity's draft for documentID.
func (a *EditorApp) DiscardDraft(ctx context.Context, documentID string) error {
	return a.draftManager().Clear(ctx, documentID, a.cfg.Identity)
}

// DraftRetention is the effective draft retention window.
func (a *EditorApp) DraftRetention() time.Duration {
	if d := a.cfg.Session.DraftRetention.Duration; d > 0 {
		return d
	}
	return cfgedit.DefaultDraftRetention
}

// Close stops timers and closes all backends in reverse order of creation.
func (a *EditorApp) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
