package document

import (
	"context"
	"fmt"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
)

// Service is a DocumentService that can enumerate its documents.
type Service interface {
	cfgedit.DocumentService
	List(ctx context.Context) ([]string, error)
}

// NewServiceFromConfig creates a document backend based on the documents config type.
func NewServiceFromConfig(ctx context.Context, cfg config.DocumentsConfig, clock cfgedit.Clock) (Service, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryService(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem documents require root to be set")
		}
		return NewFilesystemService(cfg.Root)
	case "git":
		if cfg.Root == "" {
			return nil, fmt.Errorf("git documents require root to be set")
		}
		return NewGitService(cfg.Root, clock)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 documents require s3_bucket to be set")
		}
		return NewS3Service(ctx, cfg)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres documents require postgres_url to be set")
		}
		db, err := OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		svc := NewPostgresService(db)
		if err := svc.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown documents type: %s", cfg.Type)
	}
}
