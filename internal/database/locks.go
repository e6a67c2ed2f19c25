package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cfgedit/internal/cfgedit"
)

// SQLiteLockService implements cfgedit.LockService on the locks table. It
// coordinates editors sharing one database file, so it only serves a
// single host. Timestamps come from the injected clock.
type SQLiteLockService struct {
	db         *SQLiteDatabase
	clock      cfgedit.Clock
	ttl        time.Duration
	privileged map[string]bool
}

var _ cfgedit.LockService = (*SQLiteLockService)(nil)

// Locks returns a lock service backed by s.
func (s *SQLiteDatabase) Locks(clock cfgedit.Clock, ttl time.Duration, privileged []string) *SQLiteLockService {
	set := make(map[string]bool, len(privileged))
	for _, id := range privileged {
		set[id] = true
	}
	return &SQLiteLockService{db: s, clock: clock, ttl: ttl, privileged: set}
}

type lockRow struct {
	holder     string
	acquiredAt int64
	expiresAt  int64
}

func (r *lockRow) lock(documentID string) *cfgedit.Lock {
	return &cfgedit.Lock{
		DocumentID: documentID,
		Holder:     r.holder,
		AcquiredAt: time.Unix(0, r.acquiredAt).UTC(),
		ExpiresAt:  time.Unix(0, r.expiresAt).UTC(),
	}
}

// liveLock returns the unexpired row for documentID, or nil.
func liveLock(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, documentID string, now time.Time) (*lockRow, error) {
	var r lockRow
	err := q.QueryRowContext(ctx,
		"SELECT holder, acquired_at, expires_at FROM locks WHERE document_id = ? AND expires_at > ?",
		documentID, now.UnixNano()).Scan(&r.holder, &r.acquiredAt, &r.expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lock: %w", err)
	}
	return &r, nil
}

func (l *SQLiteLockService) Acquire(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	tx, err := l.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := l.clock.Now()
	expires := now.Add(l.ttl).UnixNano()

	current, err := liveLock(ctx, tx, documentID, now)
	if err != nil {
		return nil, err
	}
	switch {
	case current != nil && current.holder != identity:
		return nil, &cfgedit.LockHeldError{DocumentID: documentID, Holder: current.holder, HeldSince: time.Unix(0, current.acquiredAt).UTC()}
	case current != nil:
		if _, err := tx.ExecContext(ctx, "UPDATE locks SET expires_at = ? WHERE document_id = ?", expires, documentID); err != nil {
			return nil, fmt.Errorf("extending lock: %w", err)
		}
		current.expiresAt = expires
	default:
		current = &lockRow{holder: identity, acquiredAt: now.UnixNano(), expiresAt: expires}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locks (document_id, holder, token, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (document_id) DO UPDATE SET
				holder = excluded.holder,
				token = excluded.token,
				acquired_at = excluded.acquired_at,
				expires_at = excluded.expires_at`,
			documentID, identity, uuid.New().String(), current.acquiredAt, current.expiresAt)
		if err != nil {
			return nil, fmt.Errorf("inserting lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lock: %w", err)
	}
	return current.lock(documentID), nil
}

func (l *SQLiteLockService) Renew(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	now := l.clock.Now()
	res, err := l.db.db.ExecContext(ctx,
		"UPDATE locks SET expires_at = ? WHERE document_id = ? AND holder = ? AND expires_at > ?",
		now.Add(l.ttl).UnixNano(), documentID, identity, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("renewing lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("renewing lock: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("renewing %s: %w", documentID, cfgedit.ErrLockNotHeld)
	}

	current, err := liveLock(ctx, l.db.db, documentID, now)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("renewing %s: %w", documentID, cfgedit.ErrLockNotHeld)
	}
	return current.lock(documentID), nil
}

func (l *SQLiteLockService) Release(ctx context.Context, documentID, identity string) error {
	_, err := l.db.db.ExecContext(ctx, "DELETE FROM locks WHERE document_id = ? AND holder = ?", documentID, identity)
	if err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

func (l *SQLiteLockService) ForceBreak(ctx context.Context, documentID, identity string) error {
	if !l.privileged[identity] {
		return fmt.Errorf("%s breaking lock on %s: %w", identity, documentID, cfgedit.ErrForbidden)
	}
	if _, err := l.db.db.ExecContext(ctx, "DELETE FROM locks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("breaking lock: %w", err)
	}
	return nil
}

func (l *SQLiteLockService) Status(ctx context.Context, documentID string) (*cfgedit.Lock, error) {
	current, err := liveLock(ctx, l.db.db, documentID, l.clock.Now())
	if err != nil || current == nil {
		return nil, err
	}
	return current.lock(documentID), nil
}
