package database

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseFile is the name of the database file inside a data dir.
const DatabaseFile = "cfgedit.db"

// NewDatabaseFromConfig opens the local database for a backend configured
// with type typ ("sqlite" or "memory") and dataDir.
func NewDatabaseFromConfig(typ, dataDir string) (*SQLiteDatabase, error) {
	switch typ {
	case "sqlite":
		if dataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(dataDir, DatabaseFile))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", typ)
	}
}
