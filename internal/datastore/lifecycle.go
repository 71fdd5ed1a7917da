package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// preloadScan loads the scan of a queue item with everything needed to move or copy it.
func preloadScan(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Scan.Share").
		Preload("Scan.Sample.SampleType").
		Preload("Scan.Nikon")
}

// PendingMoves returns unexecuted moves, oldest first. limit <= 0 means all.
func (ds *DataStore) PendingMoves(ctx context.Context, limit int) ([]ScheduledMove, error) {
	query := preloadScan(ds.DB.WithContext(ctx)).
		Preload("Destination").
		Where("date_executed IS NULL").
		Order("date_queued").
		Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var moves []ScheduledMove
	if err := query.Find(&moves).Error; err != nil {
		return nil, dbError(err, "pending_moves")
	}
	return moves, nil
}

func (ds *DataStore) SaveScheduledMove(ctx context.Context, move *ScheduledMove) error {
	if err := ds.DB.WithContext(ctx).Omit(clause.Associations).Save(move).Error; err != nil {
		return dbError(err, "save_scheduled_move", "move_id", move.ID)
	}
	return nil
}

func (ds *DataStore) FindDriveBySerial(ctx context.Context, serial string) (*ArchiveDrive, error) {
	var drive ArchiveDrive
	if err := ds.DB.WithContext(ctx).Where("serial_number = ?", serial).First(&drive).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_drive", "serial", serial)
	}
	return &drive, nil
}

// CreateDrive inserts a new drive; an existing serial gives ErrDuplicate.
func (ds *DataStore) CreateDrive(ctx context.Context, drive *ArchiveDrive) error {
	if drive.SerialNumber == "" {
		return validationError("drive serial number is empty", "serial_number", "")
	}
	if err := ds.DB.WithContext(ctx).Create(drive).Error; err != nil {
		return dbError(err, "create_drive", "serial", drive.SerialNumber)
	}
	return nil
}

func (ds *DataStore) SaveDrive(ctx context.Context, drive *ArchiveDrive) error {
	if err := ds.DB.WithContext(ctx).Save(drive).Error; err != nil {
		return dbError(err, "save_drive", "serial", drive.SerialNumber)
	}
	return nil
}

func (ds *DataStore) FindScanArchive(ctx context.Context, scanID, driveID uint, path string) (*ScanArchive, error) {
	var archive ScanArchive
	err := ds.DB.WithContext(ctx).
		Where("scan_id = ? AND drive_id = ? AND path = ?", scanID, driveID, path).
		First(&archive).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_scan_archive", "scan_id", scanID, "drive_id", driveID)
	}
	return &archive, nil
}

func (ds *DataStore) SaveScanArchive(ctx context.Context, archive *ScanArchive) error {
	if err := ds.DB.WithContext(ctx).Save(archive).Error; err != nil {
		return dbError(err, "save_scan_archive", "scan_id", archive.ScanID, "drive_id", archive.DriveID)
	}
	return nil
}

func (ds *DataStore) GetUserCopy(ctx context.Context, id uint) (*UserCopy, error) {
	var userCopy UserCopy
	if err := preloadScan(ds.DB.WithContext(ctx)).First(&userCopy, id).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "get_user_copy", "copy_id", id)
	}
	return &userCopy, nil
}

// PendingUserCopies returns requests that have never been attempted.
func (ds *DataStore) PendingUserCopies(ctx context.Context) ([]UserCopy, error) {
	var copies []UserCopy
	err := preloadScan(ds.DB.WithContext(ctx)).
		Where("date_copied IS NULL").
		Order("id").
		Find(&copies).Error
	if err != nil {
		return nil, dbError(err, "pending_user_copies")
	}
	return copies, nil
}

// StoredUserCopies returns successful copies with no deletion attempt yet.
func (ds *DataStore) StoredUserCopies(ctx context.Context) ([]UserCopy, error) {
	var copies []UserCopy
	err := preloadScan(ds.DB.WithContext(ctx)).
		Where("copy_success = ? AND deletion_success IS NULL", true).
		Order("id").
		Find(&copies).Error
	if err != nil {
		return nil, dbError(err, "stored_user_copies")
	}
	return copies, nil
}

func (ds *DataStore) SaveUserCopy(ctx context.Context, userCopy *UserCopy) error {
	if err := ds.DB.WithContext(ctx).Omit(clause.Associations).Save(userCopy).Error; err != nil {
		return dbError(err, "save_user_copy", "copy_id", userCopy.ID)
	}
	return nil
}
