package cfgedit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDraftRetention is how long an untouched draft stays recoverable.
const DefaultDraftRetention = 24 * time.Hour

// Draft is a locally persisted unsaved working copy, keyed by document and
// editor identity. Drafts never leave the local editing session.
type Draft struct {
	DocumentID          string
	EditorIdentity      string
	Text                string
	BasedOnVersionStamp string
	LastEditedAt        time.Time
}

// Expired reports whether the draft is older than retention at now.
func (d *Draft) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(d.LastEditedAt) > retention
}

// DraftStore persists drafts. Implementations hold at most one draft per
// (document, identity) key.
type DraftStore interface {
	// Put stores d, replacing any draft with the same key.
	Put(ctx context.Context, d *Draft) error

	// Get returns the stored draft or nil if there is none. Returns an error
	// wrapping ErrDraftCorrupt when the stored bytes cannot be decoded.
	Get(ctx context.Context, documentID, identity string) (*Draft, error)

	// Delete removes the draft. Deleting a missing draft is not an error.
	Delete(ctx context.Context, documentID, identity string) error

	// List returns all drafts stored for identity, newest first. If some
	// drafts cannot be decoded the readable ones are returned together with
	// an error wrapping ErrDraftCorrupt.
	List(ctx context.Context, identity string) ([]*Draft, error)
}

// DraftManager applies the retention window and corruption policy on top of
// a DraftStore.
type DraftManager struct {
	store     DraftStore
	clock     Clock
	logger    Logger
	retention time.Duration
}

// NewDraftManager creates a DraftManager. A non-positive retention uses
// DefaultDraftRetention.
func NewDraftManager(store DraftStore, clock Clock, logger Logger, retention time.Duration) *DraftManager {
	if retention <= 0 {
		retention = DefaultDraftRetention
	}
	return &DraftManager{store: store, clock: clock, logger: logger, retention: retention}
}

// Save overwrites the draft for (documentID, identity).
func (m *DraftManager) Save(ctx context.Context, documentID, identity, text, basedOn string) error {
	d := &Draft{
		DocumentID:          documentID,
		EditorIdentity:      identity,
		Text:                text,
		BasedOnVersionStamp: basedOn,
		LastEditedAt:        m.clock.Now(),
	}
	if err := m.store.Put(ctx, d); err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	m.logger.Debug("draft saved", "document", documentID, "bytes", len(text))
	return nil
}

// Check returns a live draft or nil. Expired and corrupt drafts are deleted
// and reported as absent.
func (m *DraftManager) Check(ctx context.Context, documentID, identity string) (*Draft, error) {
	d, err := m.store.Get(ctx, documentID, identity)
	if err != nil {
		if !errors.Is(err, ErrDraftCorrupt) {
			return nil, fmt.Errorf("checking draft: %w", err)
		}
		m.logger.Warn("discarding corrupt draft", "document", documentID, "error", err)
		m.discard(ctx, documentID, identity)
		return nil, nil
	}
	if d == nil {
		return nil, nil
	}
	if d.Expired(m.clock.Now(), m.retention) {
		m.logger.Info("discarding expired draft", "document", documentID, "last_edited", d.LastEditedAt)
		m.discard(ctx, documentID, identity)
		return nil, nil
	}
	return d, nil
}

// Clear deletes the draft for (documentID, identity).
func (m *DraftManager) Clear(ctx context.Context, documentID, identity string) error {
	if err := m.store.Delete(ctx, documentID, identity); err != nil {
		return fmt.Errorf("clearing draft: %w", err)
	}
	return nil
}

// List returns the live drafts for identity. Expired drafts are skipped
// without being deleted. Unreadable drafts are logged and left out.
func (m *DraftManager) List(ctx context.Context, identity string) ([]*Draft, error) {
	all, err := m.store.List(ctx, identity)
	if err != nil {
		if !errors.Is(err, ErrDraftCorrupt) {
			return nil, fmt.Errorf("listing drafts: %w", err)
		}
		m.logger.Warn("skipping corrupt drafts", "identity", identity, "error", err)
	}
	now := m.clock.Now()
	live := all[:0]
	for _, d := range all {
		if !d.Expired(now, m.retention) {
			live = append(live, d)
		}
	}
	return live, nil
}

func (m *DraftManager) discard(ctx context.Context, documentID, identity string) {
	if err := m.store.Delete(ctx, documentID, identity); err != nil {
		m.logger.Warn("deleting draft failed", "document", documentID, "error", err)
	}
}
