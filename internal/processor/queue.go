package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/metrics"
	"github.com/muvis-xrh/xrhms-core/internal/xrhid"
)

// Queue item outcomes recorded in ScheduledMove.Output.
const (
	msgSameShare     = "Cannot move scan on same share"
	msgNoDrive       = "Failed to find archive drive"
	msgSubDataset    = "This is a sub dataset please move the top level"
	msgNoSample      = "No Sample ID set cannot move into sample folder"
	msgPreGrouped    = "Already in sample folder"
	msgEaDir         = "Unable to delete eaDir"
	msgShareRoot     = "Dataset is at the root of the share"
	msgStatusPattern = "Dataset status: %s unable to move"
)

// QueueResult summarises one pass over the move queue.
type QueueResult struct {
	Processed int
	Succeeded int
}

// ProcessMoveQueue executes up to count pending moves, oldest first; count
// <= 0 means all. Every item is stamped as executed whatever the outcome.
func (p *Processor) ProcessMoveQueue(ctx context.Context, count int) (QueueResult, error) {
	var result QueueResult
	moves, err := p.store.PendingMoves(ctx, count)
	if err != nil {
		return result, err
	}
	p.log.Info("move queue", logger.Int("items", len(moves)), logger.Int("limit", count))

	var drive *datastore.ArchiveDrive
	for i := range moves {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		move := &moves[i]
		result.Processed++
		p.log.Info("processing move",
			logger.Int("item", result.Processed),
			logger.Int("of", len(moves)),
			logger.Uint("scan_id", move.ScanID))

		success, output, toDisk := p.executeMove(ctx, move, &drive)
		if toDisk && drive == nil {
			p.log.Error("archive drive not found, check it is inserted and registered")
		}

		now := p.now()
		move.Success = &success
		move.DateExecuted = &now
		if len(output) > 0 {
			move.Output = strings.Join(output, "\n")
		}
		if err := p.store.SaveScheduledMove(ctx, move); err != nil {
			return result, err
		}
		if success {
			result.Succeeded++
			p.metrics.RecordMove(metrics.ResultSuccess)
		} else {
			p.metrics.RecordMove(metrics.ResultFailure)
		}
	}

	if drive != nil {
		created, existing, err := p.archive.IndexDatasets(ctx, drive)
		if err != nil {
			p.log.Error("archive indexing failed", logger.String("serial", drive.SerialNumber), logger.Error(err))
		} else {
			p.log.Info("archive indexed", logger.Int("created", created), logger.Int("existing", existing))
		}
	}
	return result, nil
}

// executeMove runs one queue item and returns its success, its output lines
// and whether the destination is an archive disk.
func (p *Processor) executeMove(ctx context.Context, move *datastore.ScheduledMove, drive **datastore.ArchiveDrive) (bool, []string, bool) {
	scan, err := p.store.GetScan(ctx, move.ScanID)
	if err != nil {
		return false, []string{err.Error()}, false
	}
	dst := move.Destination
	if scan == nil || dst == nil {
		return false, []string{"Dataset or destination no longer exists"}, false
	}
	p.log.Debug("move item",
		logger.String("from", scan.FullPath()),
		logger.String("destination_share", dst.Name))

	if scan.DatasetStatus != datastore.StatusOnline {
		p.log.Error("dataset not online, unable to move", logger.String("status", string(scan.DatasetStatus)))
		return false, []string{fmt.Sprintf(msgStatusPattern, scan.DatasetStatus)}, false
	}

	toDisk := dst.DefaultStatus == datastore.StatusArchivedDisk
	if toDisk && *drive == nil {
		found, err := p.lookupDrive(ctx)
		if err != nil || found == nil {
			if err != nil {
				p.log.Error("archive drive lookup failed", logger.Error(err))
			}
			return false, []string{msgNoDrive}, true
		}
		*drive = found
	}

	if scan.ShareID == dst.ID {
		p.log.Error("cannot move scan on same share", logger.Uint("scan_id", scan.ID))
		return true, []string{msgSameShare}, toDisk
	}

	src := scan.Directory()
	target, output, ok := p.queueDestination(scan, dst, move.GroupBySample)
	if !ok {
		return false, output, toDisk
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return false, append(output, err.Error()), toDisk
	}

	if !p.clearMetadataDirs(src) {
		return false, append(output, msgEaDir), toDisk
	}

	moved, err := p.MoveSubtree(ctx, src, target, false)
	if err != nil {
		p.log.Error("move failed", logger.Uint("scan_id", scan.ID), logger.Error(err))
		return false, append(output, err.Error()), toDisk
	}
	return moved, output, toDisk
}

func (p *Processor) lookupDrive(ctx context.Context) (*datastore.ArchiveDrive, error) {
	if p.archive == nil {
		return nil, errors.Newf("archive lifecycle not configured").
			Component("processor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return p.archive.LookupDrive(ctx)
}

// queueDestination works out where the dataset folder of scan goes on dst.
// Datasets already in a sample folder keep their grouping; nested datasets
// must be moved through their top level folder.
func (p *Processor) queueDestination(scan *datastore.Scan, dst *datastore.Share, groupBySample bool) (string, []string, bool) {
	var output []string
	parts := splitPath(scan.Path)
	if len(parts) == 0 {
		return "", []string{msgShareRoot}, false
	}

	target := dst.LinuxMntPoint
	if len(parts) > 1 {
		target = filepath.Join(dst.LinuxMntPoint, parts[0])
	}

	preGrouped := len(parts) > 2 && xrhid.CheckDigitOK(parts[1])
	if preGrouped {
		output = append(output, msgPreGrouped)
	}
	if (preGrouped && len(parts) >= 4) || (!preGrouped && len(parts) >= 3) {
		p.log.Warn("sub dataset, move the top level instead", logger.String("path", scan.Path))
		return "", append(output, msgSubDataset), false
	}

	switch {
	case preGrouped:
		target = filepath.Join(target, parts[1])
	case groupBySample:
		if scan.Sample != nil {
			target = filepath.Join(target, scan.Sample.XrhID())
		} else {
			p.log.Error("no sample linked, cannot group by sample", logger.Uint("scan_id", scan.ID))
			output = append(output, msgNoSample)
		}
	}
	return target, output, true
}

// clearMetadataDirs strips NAS metadata folders from src. It reports false
// when some could not be removed.
func (p *Processor) clearMetadataDirs(src string) bool {
	names := p.settings.Storage.MetadataDirs
	found, err := diskmanager.FindEaDirs(src, names...)
	if err != nil {
		p.log.Error("metadata directory scan failed", logger.String("path", src), logger.Error(err))
		return false
	}
	if len(found) == 0 {
		return true
	}
	p.log.Warn("metadata directories in subtree", logger.Int("count", len(found)), logger.String("path", src))
	remaining, err := diskmanager.RemoveEaDirs(src, names...)
	if err != nil || remaining > 0 {
		p.log.Error("unable to delete metadata directories",
			logger.Int("remaining", remaining),
			logger.Error(err))
		return false
	}
	return true
}

func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}
