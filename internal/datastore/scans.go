package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// scanQuery preloads everything the engines read from a scan.
func (ds *DataStore) scanQuery(ctx context.Context) *gorm.DB {
	return ds.DB.WithContext(ctx).
		Preload("Share").
		Preload("Sample.SampleType").
		Preload("Nikon").
		Preload("OmeImages", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
}

// GetScan returns the scan with the given key, or nil.
func (ds *DataStore) GetScan(ctx context.Context, id uint) (*Scan, error) {
	var scan Scan
	if err := ds.scanQuery(ctx).First(&scan, id).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "get_scan", "scan_id", id)
	}
	return &scan, nil
}

// FindScan looks a scan up by its natural key.
func (ds *DataStore) FindScan(ctx context.Context, shareID uint, path, filename string) (*Scan, error) {
	var scan Scan
	err := ds.scanQuery(ctx).
		Where("share_id = ? AND path = ? AND filename = ?", shareID, path, filename).
		First(&scan).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_scan", "share_id", shareID, "path", path, "filename", filename)
	}
	return &scan, nil
}

// SaveScan inserts or updates a scan together with its parser metadata.
// OmeImages, when non-nil, replaces the stored image list.
func (ds *DataStore) SaveScan(ctx context.Context, scan *Scan) error {
	if scan.DatasetStatus == "" {
		scan.DatasetStatus = StatusOnline
	}
	if !scan.DatasetStatus.Valid() {
		return validationError("unknown dataset status", "dataset_status", scan.DatasetStatus)
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(scan).Error; err != nil {
			return err
		}

		if scan.Nikon != nil {
			scan.Nikon.ScanID = scan.ID
			if err := tx.Save(scan.Nikon).Error; err != nil {
				return err
			}
		}

		if scan.OmeImages != nil {
			keep := make([]uint, 0, len(scan.OmeImages))
			for i := range scan.OmeImages {
				if scan.OmeImages[i].ID != 0 {
					keep = append(keep, scan.OmeImages[i].ID)
				}
			}
			stale := tx.Where("scan_id = ?", scan.ID)
			if len(keep) > 0 {
				stale = stale.Where("id NOT IN ?", keep)
			}
			if err := stale.Delete(&OmeImage{}).Error; err != nil {
				return err
			}
			for i := range scan.OmeImages {
				scan.OmeImages[i].ScanID = scan.ID
				if err := tx.Save(&scan.OmeImages[i]).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "save_scan", "scan_id", scan.ID, "filename", scan.Filename)
	}
	return nil
}

// ScansInFolder returns every scan in (shareID, path) ordered by key.
func (ds *DataStore) ScansInFolder(ctx context.Context, shareID uint, path string) ([]Scan, error) {
	var scans []Scan
	err := ds.DB.WithContext(ctx).
		Where("share_id = ? AND path = ?", shareID, path).
		Order("id").
		Find(&scans).Error
	if err != nil {
		return nil, dbError(err, "scans_in_folder", "share_id", shareID, "path", path)
	}
	return scans, nil
}

// EachScan walks all scans in key order, batchSize at a time. Returning an
// error from fn stops the walk.
func (ds *DataStore) EachScan(ctx context.Context, batchSize int, fn func(*Scan) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	var batch []Scan
	var fnErr error
	res := ds.DB.WithContext(ctx).
		Preload("Share").
		Order("id").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				if err := ctx.Err(); err != nil {
					fnErr = err
					return err
				}
				if err := fn(&batch[i]); err != nil {
					fnErr = err
					return err
				}
			}
			return nil
		})
	if fnErr != nil {
		return fnErr
	}
	if res.Error != nil {
		return dbError(res.Error, "each_scan")
	}
	return nil
}

// CountScansByStatus counts scans currently in status.
func (ds *DataStore) CountScansByStatus(ctx context.Context, status DatasetStatus) (int64, error) {
	var count int64
	if err := ds.DB.WithContext(ctx).Model(&Scan{}).Where("dataset_status = ?", status).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_scans", "status", string(status))
	}
	return count, nil
}
