package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open creates the database file if needed and migrates the schema.
func (store *SQLiteStore) Open() error {
	dbPath := store.Settings.Output.SQLite.Path
	if dbPath == "" {
		return validationError("sqlite path is empty", "output.sqlite.path", dbPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			FileContext(dbPath).
			Context("operation", "create_db_directory").
			Build()
	}

	// concurrent jobs share the file; wait on the writer instead of failing
	dsn := dbPath + "?_busy_timeout=5000&_journal_mode=WAL"

	db, err := gorm.Open(sqlite.Open(dsn), store.gormConfig())
	if err != nil {
		return dbError(err, "open", "db_type", "sqlite", "path", dbPath)
	}

	// a single writer connection avoids SQLITE_BUSY inside one process
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open", "db_type", "sqlite")
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	return performAutoMigration(db, store.log, "SQLite", dbPath)
}
