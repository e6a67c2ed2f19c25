package draft

import (
	"fmt"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
	"cfgedit/internal/database"
)

// Store is a DraftStore that owns resources.
type Store interface {
	cfgedit.DraftStore
	Close() error
}

// NewStoreFromConfig creates a draft store based on the drafts config type.
// enc and dec are required when cfg.Encrypted is set.
func NewStoreFromConfig(cfg config.DraftsConfig, enc cfgedit.Encryptor, dec cfgedit.DecryptionContext) (Store, error) {
	var store Store
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore()
	case "sqlite":
		db, err := database.NewDatabaseFromConfig("sqlite", cfg.DataDir)
		if err != nil {
			return nil, err
		}
		store = &sqliteStore{SQLiteDraftStore: db.Drafts(), db: db}
	default:
		return nil, fmt.Errorf("unknown drafts type: %s", cfg.Type)
	}

	if !cfg.Encrypted {
		return store, nil
	}
	if enc == nil {
		store.Close()
		return nil, fmt.Errorf("encrypted drafts require an encryptor")
	}
	return NewEncryptedStore(store, enc, dec), nil
}

// sqliteStore ties the draft store to its database so Close releases it.
type sqliteStore struct {
	*database.SQLiteDraftStore
	db *database.SQLiteDatabase
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
