package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cfgedit/internal/cfgedit"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cfgedit_documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	version    TEXT NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresService stores documents in a Postgres table. Every save
// assigns a fresh UUID version and is a compare-and-set on the previous one.
type PostgresService struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL using the pgx driver.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// NewPostgresService wraps db. Call EnsureSchema before first use.
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (p *PostgresService) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (p *PostgresService) Load(ctx context.Context, id string) (*cfgedit.Document, error) {
	doc := &cfgedit.Document{ID: id}
	err := p.db.QueryRowContext(ctx,
		`SELECT content, version FROM cfgedit_documents WHERE id = $1`, id,
	).Scan(&doc.Content, &doc.VersionStamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading %s: %w", id, cfgedit.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select document %s: %w", id, err)
	}
	return doc, nil
}

func (p *PostgresService) Save(ctx context.Context, req cfgedit.SaveRequest) (string, error) {
	version := uuid.NewString()

	if req.BasedOn == "" {
		res, err := p.db.ExecContext(ctx,
			`INSERT INTO cfgedit_documents (id, content, version, updated_by)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			req.DocumentID, req.Content, version, req.Editor)
		if err != nil {
			return "", fmt.Errorf("insert document %s: %w", req.DocumentID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", fmt.Errorf("creating %s: %w", req.DocumentID, cfgedit.ErrVersionConflict)
		}
		return version, nil
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE cfgedit_documents
		 SET content = $1, version = $2, updated_by = $3, updated_at = now()
		 WHERE id = $4 AND version = $5`,
		req.Content, version, req.Editor, req.DocumentID, req.BasedOn)
	if err != nil {
		return "", fmt.Errorf("update document %s: %w", req.DocumentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("update document %s: %w", req.DocumentID, err)
	}
	if n == 1 {
		return version, nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM cfgedit_documents WHERE id = $1)`, req.DocumentID,
	).Scan(&exists); err != nil {
		return "", fmt.Errorf("check document %s: %w", req.DocumentID, err)
	}
	if !exists {
		return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrDocumentNotFound)
	}
	return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrVersionConflict)
}

// Close closes the underlying connection pool.
func (p *PostgresService) Close() error {
	return p.db.Close()
}

// List returns all document ids, sorted.
func (p *PostgresService) List(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM cfgedit_documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ cfgedit.DocumentService = (*PostgresService)(nil)
