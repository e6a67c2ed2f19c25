package lock

import (
	"fmt"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
	"cfgedit/internal/database"
)

// Service is a LockService that owns resources.
type Service interface {
	cfgedit.LockService
	Close() error
}

// NewServiceFromConfig creates a lock service based on the locks config type.
func NewServiceFromConfig(cfg config.LocksConfig, clock cfgedit.Clock) (Service, error) {
	ttl := cfg.LeaseTTL.Duration
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	switch cfg.Type {
	case "memory":
		return NewMemoryService(clock, ttl, cfg.PrivilegedIdentities), nil
	case "sqlite":
		db, err := database.NewDatabaseFromConfig("sqlite", cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &sqliteService{SQLiteLockService: db.Locks(clock, ttl, cfg.PrivilegedIdentities), db: db}, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis locks require redis_url to be set")
		}
		return NewRedisService(cfg.RedisURL, clock, ttl, cfg.PrivilegedIdentities)
	default:
		return nil, fmt.Errorf("unknown locks type: %s", cfg.Type)
	}
}

type sqliteService struct {
	*database.SQLiteLockService
	db *database.SQLiteDatabase
}

func (s *sqliteService) Close() error {
	return s.db.Close()
}
