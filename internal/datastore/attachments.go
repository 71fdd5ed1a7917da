package datastore

import (
	"context"
)

// ScanAttachments returns the attachments of a scan with their types.
func (ds *DataStore) ScanAttachments(ctx context.Context, scanID uint) ([]ScanAttachment, error) {
	var attachments []ScanAttachment
	err := ds.DB.WithContext(ctx).
		Preload("AttachmentType").
		Where("scan_id = ?", scanID).
		Order("id").
		Find(&attachments).Error
	if err != nil {
		return nil, dbError(err, "scan_attachments", "scan_id", scanID)
	}
	return attachments, nil
}

// FindScanAttachment returns the attachment of scanID called name, or nil.
func (ds *DataStore) FindScanAttachment(ctx context.Context, scanID uint, name string) (*ScanAttachment, error) {
	var attachment ScanAttachment
	err := ds.DB.WithContext(ctx).
		Preload("AttachmentType").
		Where("scan_id = ? AND name = ?", scanID, name).
		First(&attachment).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_scan_attachment", "scan_id", scanID, "name", name)
	}
	return &attachment, nil
}

func (ds *DataStore) SaveScanAttachment(ctx context.Context, attachment *ScanAttachment) error {
	if err := ds.DB.WithContext(ctx).Omit("AttachmentType").Save(attachment).Error; err != nil {
		return dbError(err, "save_scan_attachment", "scan_id", attachment.ScanID, "name", attachment.Name)
	}
	return nil
}

func (ds *DataStore) FindAttachmentType(ctx context.Context, name string) (*ScanAttachmentType, error) {
	var attachmentType ScanAttachmentType
	if err := ds.DB.WithContext(ctx).Where("name = ?", name).First(&attachmentType).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_attachment_type", "name", name)
	}
	return &attachmentType, nil
}

func (ds *DataStore) SaveAttachmentType(ctx context.Context, attachmentType *ScanAttachmentType) error {
	if err := ds.DB.WithContext(ctx).Save(attachmentType).Error; err != nil {
		return dbError(err, "save_attachment_type", "name", attachmentType.Name)
	}
	return nil
}

// SuccessfulReports lists the generated reports of a scan.
func (ds *DataStore) SuccessfulReports(ctx context.Context, scanID uint) ([]Report, error) {
	var reports []Report
	err := ds.DB.WithContext(ctx).
		Where("scan_id = ? AND generation_success = ?", scanID, true).
		Order("id").
		Find(&reports).Error
	if err != nil {
		return nil, dbError(err, "successful_reports", "scan_id", scanID)
	}
	return reports, nil
}

func (ds *DataStore) SaveReport(ctx context.Context, report *Report) error {
	if err := ds.DB.WithContext(ctx).Save(report).Error; err != nil {
		return dbError(err, "save_report", "scan_id", report.ScanID)
	}
	return nil
}
