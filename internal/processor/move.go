package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
)

// movedDataset is a dataset file inside a tree being moved.
type movedDataset struct {
	file   string
	record *datastore.Scan

	// status before the move started
	status  datastore.DatasetStatus
	changed time.Time
}

// MoveSubtree moves src into dst and rewrites the records of every dataset
// inside it. Preconditions are checked before anything is touched. A busy
// lock returns false without error.
func (p *Processor) MoveSubtree(ctx context.Context, src, dst string, generateExtra bool) (bool, error) {
	src, dst = filepath.Clean(src), filepath.Clean(dst)
	log := p.log.With(logger.String("src", src), logger.String("dst", dst))

	moving, err := p.CountMoving(ctx)
	if err != nil {
		return false, err
	}
	if moving > 0 {
		log.Error("move already in progress", logger.Int64("moving", moving))
		return false, precondition(ErrMoveInProgress, errors.CategoryState,
			fmt.Sprintf("%d datasets marked moving", moving))
	}
	if filepath.Base(src) == p.settings.Storage.RawDataRoot {
		log.Error("refusing to nest raw data roots, move its contents instead")
		return false, precondition(ErrInvalidSource, errors.CategoryValidation, src)
	}
	if _, err := os.Stat(src); err != nil {
		return false, precondition(ErrNotFound, errors.CategoryNotFound, "source "+src)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return false, precondition(ErrNotFound, errors.CategoryNotFound, "destination "+dst)
	}
	if !info.IsDir() {
		return false, precondition(ErrNotADirectory, errors.CategoryValidation, dst)
	}
	srcShare, _, err := p.locateDir(ctx, src)
	if err != nil {
		log.Error("no record of source location", logger.Error(err))
		return false, err
	}
	dstShare, _, err := p.locateDir(ctx, dst)
	if err != nil {
		log.Error("no record of destination location", logger.Error(err))
		return false, err
	}

	size, err := p.dirSize(ctx, src)
	if err != nil {
		return false, err
	}
	log.Info("data to move", logger.String("size", humanize.IBytes(uint64(size))))
	if srcShare.ID != dstShare.ID {
		free, err := p.freeSpace(dst)
		if err != nil {
			return false, err
		}
		log.Info("free space on destination", logger.String("free", humanize.IBytes(free)))
		if free <= uint64(size) {
			return false, precondition(ErrInsufficientSpace, errors.CategoryDiskUsage,
				fmt.Sprintf("%s free, %s needed", humanize.IBytes(free), humanize.IBytes(uint64(size))))
		}
	}

	err = p.withLock(ctx, func() error {
		return p.moveLocked(ctx, src, dst, generateExtra)
	})
	if errors.Is(err, lock.ErrUnavailable) {
		log.Error("unable to get lock", logger.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Processor) moveLocked(ctx context.Context, src, dst string, generateExtra bool) error {
	files, err := p.ListDatasets(src)
	if err != nil {
		return err
	}
	p.log.Info("datasets in tree to move", logger.Int("count", len(files)))

	datasets := make([]movedDataset, 0, len(files))
	added := 0
	for _, file := range files {
		record, ingested, err := p.recordForMove(ctx, file)
		if errors.Is(err, parser.ErrIgnore) {
			continue
		}
		if err != nil {
			p.log.Error("unable to add dataset, moving it untracked",
				logger.String("path", file), logger.Error(err))
			continue
		}
		if ingested {
			added++
		}
		datasets = append(datasets, movedDataset{
			file:    file,
			record:  record,
			status:  record.DatasetStatus,
			changed: record.DatasetStatusLastUpdated,
		})
	}
	if added > 0 {
		p.log.Warn("added datasets missing from the database", logger.Int("count", added))
	}

	for i, d := range datasets {
		d.record.SetStatus(datastore.StatusMoving, p.now())
		if err := p.store.SaveScan(ctx, d.record); err != nil {
			p.restoreStatus(ctx, datasets[:i])
			return err
		}
	}

	target := filepath.Join(dst, filepath.Base(src))
	p.log.Debug("moving tree", logger.String("target", target))
	if err := diskmanager.MoveTree(ctx, src, target); err != nil {
		return err
	}

	parent := filepath.Dir(src)
	for _, d := range datasets {
		rel, err := filepath.Rel(parent, filepath.Dir(d.file))
		if err != nil {
			return err
		}
		newDir := filepath.Join(dst, rel)
		share, path, err := p.locateDir(ctx, newDir)
		if err != nil {
			return err
		}

		d.record.ShareID = share.ID
		d.record.Share = share
		d.record.Path = path
		d.record.SetStatus(share.DefaultStatus, p.now())
		if err := p.store.SaveScan(ctx, d.record); err != nil {
			return err
		}
		p.log.Debug("record moved",
			logger.Uint("scan_id", d.record.ID),
			logger.String("share", share.Name),
			logger.String("path", path))

		if !share.GenerateExtraFolder && !generateExtra {
			continue
		}
		extra := filepath.Join(newDir, stem(d.record.Filename))
		if !isDir(extra) {
			p.log.Warn("no reconstruction folder, extra folder skipped", logger.String("path", extra))
			continue
		}
		if _, err := p.GenerateExtra(ctx, d.record, extra); err != nil {
			p.log.Error("extra folder generation failed", logger.Uint("scan_id", d.record.ID), logger.Error(err))
		}
	}
	p.log.Info("move complete", logger.Int("datasets", len(datasets)))
	return nil
}

// restoreStatus puts back the status the datasets had before they were
// marked moving. Only used while nothing has been moved yet.
func (p *Processor) restoreStatus(ctx context.Context, datasets []movedDataset) {
	for _, d := range datasets {
		d.record.DatasetStatus = d.status
		d.record.DatasetStatusLastUpdated = d.changed
		if err := p.store.SaveScan(ctx, d.record); err != nil {
			p.log.Error("unable to restore dataset status",
				logger.Uint("scan_id", d.record.ID), logger.Error(err))
		}
	}
}

// recordForMove returns the record of file, ingesting it when the database
// does not know it yet.
func (p *Processor) recordForMove(ctx context.Context, file string) (*datastore.Scan, bool, error) {
	share, path, err := p.locateFile(ctx, file)
	if err != nil {
		return nil, false, err
	}
	record, err := p.store.FindScan(ctx, share.ID, path, filepath.Base(file))
	if err != nil || record != nil {
		return record, false, err
	}

	p.log.Warn("dataset not in database, adding", logger.String("path", file))
	prs, err := p.registry.ForFile(file)
	if err != nil {
		return nil, false, err
	}
	record, err = prs.ProcessFile(ctx, file, &datastore.Scan{
		ScanType: prs.ScanType(),
		ShareID:  share.ID,
		Share:    share,
		Path:     path,
		Filename: filepath.Base(file),
	})
	return record, true, err
}

// GenerateExtra fills folder/extra with the files describing scan: sample
// attachments, generated reports, projections and flagged attachments.
func (p *Processor) GenerateExtra(ctx context.Context, scan *datastore.Scan, folder string) (int, error) {
	if !isDir(folder) {
		return 0, precondition(ErrNotFound, errors.CategoryNotFound, folder)
	}
	extra := filepath.Join(folder, p.settings.Storage.ExtraFolder)
	if err := os.MkdirAll(extra, 0o755); err != nil {
		return 0, errors.FileError(err, extra)
	}

	var sources []string
	if scan.SampleID != nil {
		attachments, err := p.store.SampleAttachments(ctx, *scan.SampleID)
		if err != nil {
			return 0, err
		}
		for _, a := range attachments {
			sources = append(sources, a.Path)
		}
	}

	reports, err := p.store.SuccessfulReports(ctx, scan.ID)
	if err != nil {
		return 0, err
	}
	for _, r := range reports {
		sources = append(sources, r.Path)
	}

	for _, path := range []string{scan.Projection0Deg, scan.Projection90Deg, scan.XYSlice} {
		if path != "" {
			sources = append(sources, path)
		}
	}

	attachments, err := p.store.ScanAttachments(ctx, scan.ID)
	if err != nil {
		return 0, err
	}
	for _, a := range attachments {
		if a.AttachmentType != nil && a.AttachmentType.IncludeInExtraFolder {
			sources = append(sources, a.Path)
		}
	}

	copied := 0
	for _, src := range sources {
		if err := diskmanager.CopyFile(src, filepath.Join(extra, filepath.Base(src))); err != nil {
			return copied, err
		}
		copied++
	}
	p.log.Debug("extra folder generated", logger.String("path", extra), logger.Int("files", copied))
	return copied, nil
}
