package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cfgedit/internal/cfgedit"
)

// draftPayload is the JSON stored in drafts.payload.
type draftPayload struct {
	Text         string    `json:"text"`
	BasedOn      string    `json:"based_on"`
	LastEditedAt time.Time `json:"last_edited_at"`
}

// SQLiteDraftStore implements cfgedit.DraftStore on the drafts table.
type SQLiteDraftStore struct {
	db *SQLiteDatabase
}

var _ cfgedit.DraftStore = (*SQLiteDraftStore)(nil)

// Drafts returns a draft store backed by s.
func (s *SQLiteDatabase) Drafts() *SQLiteDraftStore {
	return &SQLiteDraftStore{db: s}
}

func (d *SQLiteDraftStore) Put(ctx context.Context, draft *cfgedit.Draft) error {
	payload, err := json.Marshal(draftPayload{
		Text:         draft.Text,
		BasedOn:      draft.BasedOnVersionStamp,
		LastEditedAt: draft.LastEditedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding draft: %w", err)
	}
	_, err = d.db.db.ExecContext(ctx, `
		INSERT INTO drafts (document_id, identity, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id, identity) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		draft.DocumentID, draft.EditorIdentity, payload, draft.LastEditedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storing draft: %w", err)
	}
	return nil
}

func (d *SQLiteDraftStore) Get(ctx context.Context, documentID, identity string) (*cfgedit.Draft, error) {
	var payload []byte
	err := d.db.db.QueryRowContext(ctx,
		"SELECT payload FROM drafts WHERE document_id = ? AND identity = ?",
		documentID, identity).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading draft: %w", err)
	}
	return decodeDraft(documentID, identity, payload)
}

func (d *SQLiteDraftStore) Delete(ctx context.Context, documentID, identity string) error {
	_, err := d.db.db.ExecContext(ctx,
		"DELETE FROM drafts WHERE document_id = ? AND identity = ?", documentID, identity)
	if err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

// List returns identity's drafts, newest first. Corrupt rows are returned
// as an error wrapping cfgedit.ErrDraftCorrupt after the readable ones.
func (d *SQLiteDraftStore) List(ctx context.Context, identity string) ([]*cfgedit.Draft, error) {
	rows, err := d.db.db.QueryContext(ctx,
		"SELECT document_id, payload FROM drafts WHERE identity = ? ORDER BY updated_at DESC, document_id",
		identity)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*cfgedit.Draft
	var corrupt error
	for rows.Next() {
		var documentID string
		var payload []byte
		if err := rows.Scan(&documentID, &payload); err != nil {
			return nil, fmt.Errorf("scanning draft: %w", err)
		}
		draft, err := decodeDraft(documentID, identity, payload)
		if err != nil {
			corrupt = err
			continue
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	return drafts, corrupt
}

func decodeDraft(documentID, identity string, payload []byte) (*cfgedit.Draft, error) {
	var p draftPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("draft %s for %s: %w: %v", documentID, identity, cfgedit.ErrDraftCorrupt, err)
	}
	return &cfgedit.Draft{
		DocumentID:          documentID,
		EditorIdentity:      identity,
		Text:                p.Text,
		BasedOnVersionStamp: p.BasedOn,
		LastEditedAt:        p.LastEditedAt,
	}, nil
}
