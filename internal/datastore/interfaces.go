// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// slowQueryThreshold is the duration after which a statement is logged at warn.
const slowQueryThreshold = 2 * time.Second

// Interface abstracts the underlying database implementation. Lookups that
// find nothing return a nil record and a nil error.
type Interface interface {
	Open() error
	Close() error
	// Gorm exposes the connection for the row lock backend.
	Gorm() *gorm.DB

	// scans
	GetScan(ctx context.Context, id uint) (*Scan, error)
	FindScan(ctx context.Context, shareID uint, path, filename string) (*Scan, error)
	SaveScan(ctx context.Context, scan *Scan) error
	ScansInFolder(ctx context.Context, shareID uint, path string) ([]Scan, error)
	EachScan(ctx context.Context, batchSize int, fn func(*Scan) error) error
	CountScansByStatus(ctx context.Context, status DatasetStatus) (int64, error)

	// reference data
	ListShares(ctx context.Context) ([]Share, error)
	GetShare(ctx context.Context, id uint) (*Share, error)
	SaveShare(ctx context.Context, share *Share) error
	FindMachine(ctx context.Context, name string) (*Machine, error)
	FindMachineContaining(ctx context.Context, token string) (*Machine, error)
	SaveMachine(ctx context.Context, machine *Machine) error
	GetBug(ctx context.Context, id uint) (*Bug, error)
	SaveBug(ctx context.Context, bug *Bug) error
	FindSample(ctx context.Context, number int, suffix *string) (*Sample, error)
	FindSampleByXrhID(ctx context.Context, fullID string) (*Sample, error)
	SaveSample(ctx context.Context, sample *Sample) error
	SaveSampleType(ctx context.Context, sampleType *SampleType) error
	SampleAttachments(ctx context.Context, sampleID uint) ([]SampleAttachment, error)
	SaveSampleAttachment(ctx context.Context, attachment *SampleAttachment) error

	// attachments and reports
	ScanAttachments(ctx context.Context, scanID uint) ([]ScanAttachment, error)
	FindScanAttachment(ctx context.Context, scanID uint, name string) (*ScanAttachment, error)
	SaveScanAttachment(ctx context.Context, attachment *ScanAttachment) error
	FindAttachmentType(ctx context.Context, name string) (*ScanAttachmentType, error)
	SaveAttachmentType(ctx context.Context, attachmentType *ScanAttachmentType) error
	SuccessfulReports(ctx context.Context, scanID uint) ([]Report, error)
	SaveReport(ctx context.Context, report *Report) error

	// move queue
	PendingMoves(ctx context.Context, limit int) ([]ScheduledMove, error)
	SaveScheduledMove(ctx context.Context, move *ScheduledMove) error

	// archive
	FindDriveBySerial(ctx context.Context, serial string) (*ArchiveDrive, error)
	CreateDrive(ctx context.Context, drive *ArchiveDrive) error
	SaveDrive(ctx context.Context, drive *ArchiveDrive) error
	FindScanArchive(ctx context.Context, scanID, driveID uint, path string) (*ScanArchive, error)
	SaveScanArchive(ctx context.Context, archive *ScanArchive) error

	// user copies
	GetUserCopy(ctx context.Context, id uint) (*UserCopy, error)
	PendingUserCopies(ctx context.Context) ([]UserCopy, error)
	StoredUserCopies(ctx context.Context) ([]UserCopy, error)
	SaveUserCopy(ctx context.Context, userCopy *UserCopy) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB  *gorm.DB // GORM database instance
	log logger.Logger
}

// New creates the store selected by settings.Output. The connection is
// established by Open. log should be the "datastore" module logger so SQL
// tracing follows that module's level.
func New(settings *conf.Settings, log logger.Logger) (Interface, error) {
	if log == nil {
		log = logger.Global().Module("datastore")
	}
	base := DataStore{log: log}

	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: base, Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: base, Settings: settings}, nil
	case settings.Output.Postgres.Enabled:
		return &PostgresStore{DataStore: base, Settings: settings}, nil
	default:
		return nil, errors.Newf("no database output enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Gorm returns the underlying connection.
func (ds *DataStore) Gorm() *gorm.DB {
	return ds.DB
}

// gormConfig is shared by every dialect.
func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.NewSQLLogger(ds.log, slowQueryThreshold),
		TranslateError: true,
	}
}

// Close closes the underlying SQL connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}

	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	ds.log.Debug("database connection closed")
	return nil
}

// performAutoMigration creates or updates every table.
func performAutoMigration(db *gorm.DB, log logger.Logger, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Priority(errors.PriorityCritical).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	log.Debug("database migrated", logger.String("db_type", dbType), logger.String("target", connectionInfo))
	return nil
}
