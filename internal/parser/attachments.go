package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// Attachment type names.
const (
	AttachmentCTProfile = "CT Profile"
	AttachmentAngles    = "Angle File"
	AttachmentCTInfo    = "CT Info"
	AttachmentVSI       = "VSI File"
	AttachmentOMEXML    = "OME XML"
)

// attachmentDir is where the copies belonging to scan are kept.
func (b *base) attachmentDir(scan *datastore.Scan) string {
	return filepath.Join(b.settings.Storage.AttachmentDir, "scans", strconv.FormatUint(uint64(scan.ID), 10))
}

// storeAttachment copies src into the attachment store unless an attachment
// with the same name and checksum is already there. A missing src is not an
// error. It reports whether a copy was made.
func (b *base) storeAttachment(ctx context.Context, scan *datastore.Scan, src, typeName string) (bool, error) {
	if !exists(src) {
		b.log.Debug("associated file not present", logger.String("path", src))
		return false, nil
	}

	sum, err := diskmanager.FileChecksum(src)
	if err != nil {
		return false, err
	}
	name := filepath.Base(src)
	attachment, err := b.store.FindScanAttachment(ctx, scan.ID, name)
	if err != nil {
		return false, err
	}
	if attachment != nil && attachment.Checksum == sum && exists(attachment.Path) {
		b.log.Debug("attachment unchanged", logger.String("name", name), logger.Uint("scan_id", scan.ID))
		return false, nil
	}

	attachmentType, err := b.attachmentType(ctx, typeName)
	if err != nil {
		return false, err
	}
	dst := filepath.Join(b.attachmentDir(scan), name)
	if err := diskmanager.CopyFile(src, dst); err != nil {
		return false, err
	}

	if attachment == nil {
		attachment = &datastore.ScanAttachment{ScanID: scan.ID, Name: name}
	}
	attachment.AttachmentTypeID = &attachmentType.ID
	attachment.Path = dst
	attachment.Checksum = sum
	attachment.Uploaded = time.Now()
	if err := b.store.SaveScanAttachment(ctx, attachment); err != nil {
		return false, err
	}
	b.log.Info("attachment stored",
		logger.String("name", name),
		logger.String("type", typeName),
		logger.Uint("scan_id", scan.ID))
	return true, nil
}

// attachmentType returns the named type, creating it on first use.
func (b *base) attachmentType(ctx context.Context, name string) (*datastore.ScanAttachmentType, error) {
	t, err := b.store.FindAttachmentType(ctx, name)
	if err != nil || t != nil {
		return t, err
	}
	t = &datastore.ScanAttachmentType{Name: name}
	if err := b.store.SaveAttachmentType(ctx, t); err != nil {
		return nil, fmt.Errorf("create attachment type %q: %w", name, err)
	}
	return t, nil
}
