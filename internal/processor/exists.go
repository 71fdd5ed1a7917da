package processor

import (
	"context"
	"fmt"
	"os"
	"slices"

	"golang.org/x/time/rate"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// CheckAllExist return codes.
const (
	CheckMoveInProgress = -1
	CheckLockTimeout    = -2
)

const (
	existsBatchSize     = 200
	existsProgressEvery = 20
)

// CheckAllExist compares every record with the filesystem and corrects the
// status of those that disagree. It returns the number of corrected records,
// or CheckMoveInProgress / CheckLockTimeout with the matching error.
func (p *Processor) CheckAllExist(ctx context.Context) (int, error) {
	changed, count := 0, 0
	progress := rate.Sometimes{Every: existsProgressEvery}

	err := p.withLock(ctx, func() error {
		moving, err := p.CountMoving(ctx)
		if err != nil {
			return err
		}
		if moving > 0 {
			return precondition(ErrMoveInProgress, errors.CategoryState,
				fmt.Sprintf("%d datasets marked moving", moving))
		}

		return p.store.EachScan(ctx, existsBatchSize, func(scan *datastore.Scan) error {
			_, diff, err := p.UpdateExists(ctx, scan)
			if err != nil {
				return err
			}
			if diff {
				changed++
			}
			count++
			progress.Do(func() { p.log.Info("existence check progress", logger.Int("processed", count)) })
			return nil
		})
	})

	switch {
	case errors.Is(err, ErrMoveInProgress):
		p.log.Error("moving operation in progress")
		return CheckMoveInProgress, err
	case errors.Is(err, lock.ErrUnavailable):
		p.log.Error("unable to get lock", logger.Error(err))
		return CheckLockTimeout, err
	case err != nil:
		return 0, err
	}

	p.metrics.RecordChanged(changed)
	p.log.Info("existence check complete", logger.Int("records", count), logger.Int("changed", changed))
	return changed, nil
}

// UpdateExists corrects the status of scan from the presence of its file.
// Archived datasets are left alone since their disk may be offline.
func (p *Processor) UpdateExists(ctx context.Context, scan *datastore.Scan) (exists, changed bool, err error) {
	if scan.DatasetStatus.IsArchived() {
		return false, false, nil
	}

	_, statErr := os.Stat(scan.FullPath())
	exists = statErr == nil

	expected := []datastore.DatasetStatus{
		datastore.StatusMissing, datastore.StatusDeleted,
		datastore.StatusArchivedDisk, datastore.StatusArchivedMuvis,
	}
	next := datastore.StatusMissing
	if exists {
		expected = []datastore.DatasetStatus{datastore.StatusOnline}
		next = datastore.StatusOnline
	}
	if slices.Contains(expected, scan.DatasetStatus) {
		return exists, false, nil
	}

	if !datastore.CanTransition(scan.DatasetStatus, next) {
		p.log.Warn("unexpected status change",
			logger.Uint("scan_id", scan.ID),
			logger.String("from", string(scan.DatasetStatus)),
			logger.String("to", string(next)))
	}
	p.log.Debug("status corrected",
		logger.Uint("scan_id", scan.ID),
		logger.String("path", scan.FullPath()),
		logger.String("status", string(next)))
	scan.SetStatus(next, p.now())
	if err := p.store.SaveScan(ctx, scan); err != nil {
		return exists, true, err
	}
	return exists, true, nil
}
