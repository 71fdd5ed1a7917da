package datastore

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
)

// PostgresStore implements DataStore for PostgreSQL
type PostgresStore struct {
	DataStore
	Settings *conf.Settings
}

// Open connects using the configured libpq DSN and migrates the schema.
func (store *PostgresStore) Open() error {
	dsn := store.Settings.Output.Postgres.DSN
	if dsn == "" {
		return validationError("postgres dsn is empty", "output.postgres.dsn", "")
	}

	db, err := gorm.Open(postgres.Open(dsn), store.gormConfig())
	if err != nil {
		return dbError(err, "open", "db_type", "postgres")
	}

	store.DB = db
	return performAutoMigration(db, store.log, "PostgreSQL", "dsn")
}
