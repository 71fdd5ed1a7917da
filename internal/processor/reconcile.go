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
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/naming"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
	"github.com/muvis-xrh/xrhms-core/internal/sidecar"
	"github.com/muvis-xrh/xrhms-core/internal/xrhid"
)

// ProcessDirectory reconciles every dataset file below dir with the
// database. It reports false when any file failed or the lock was busy.
func (p *Processor) ProcessDirectory(ctx context.Context, dir string) (bool, error) {
	if !isDir(dir) {
		return false, precondition(ErrNotFound, errors.CategoryNotFound, dir)
	}

	ok := true
	err := p.withLock(ctx, func() error {
		for _, prs := range p.registry.Parsers() {
			files, err := prs.ListFiles(dir)
			if err != nil {
				p.log.Error("listing datasets failed", logger.String("dir", dir), logger.Error(err))
				ok = false
				continue
			}
			p.log.Debug("datasets found",
				logger.String("parser", prs.ScanType()),
				logger.Int("count", len(files)))

			for _, file := range files {
				err := p.reconcile(ctx, prs, file)
				switch {
				case err == nil:
					p.metrics.RecordFile(prs.ScanType(), false)
				case errors.Is(err, parser.ErrIgnore):
					p.log.Info("ignoring file", logger.String("path", file))
				default:
					p.log.Error("failed to process file", logger.String("path", file), logger.Error(err))
					p.metrics.RecordFile(prs.ScanType(), true)
					ok = false
				}
			}
		}
		return nil
	})
	if errors.Is(err, lock.ErrUnavailable) {
		p.log.Error("unable to get lock", logger.String("dir", dir), logger.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ok {
		p.log.Error("something went wrong processing files", logger.String("dir", dir))
	}
	return ok, nil
}

// reconcile brings the record of one dataset file up to date, creating it
// when nothing identifies the file yet.
func (p *Processor) reconcile(ctx context.Context, prs parser.DatasetParser, file string) error {
	share, path, err := p.locateFile(ctx, file)
	if err != nil {
		return err
	}

	record, refreshed, err := p.fromSidecar(ctx, prs, file, share, path)
	if err != nil {
		return err
	}

	if record == nil {
		record, err = p.store.FindScan(ctx, share.ID, path, filepath.Base(file))
		if err != nil {
			return err
		}
		if record != nil {
			p.log.Warn("record had no sidecar, recreating",
				logger.Uint("scan_id", record.ID),
				logger.String("path", file))
			if err := sidecar.Write(file, record.ID); err != nil {
				return err
			}
		}
	}

	checksum, err := diskmanager.FileChecksum(file)
	if err != nil {
		return err
	}

	switch {
	case record != nil && !refreshed && record.Checksum != checksum:
		p.log.Debug("checksum changed", logger.Uint("scan_id", record.ID), logger.String("path", file))
		if record, err = prs.ProcessFile(ctx, file, record); err != nil {
			return err
		}
	case record == nil:
		if record, err = p.ingest(ctx, prs, file, share, path); err != nil {
			return err
		}
	}

	return prs.ProcessAssociatedFiles(ctx, record)
}

// fromSidecar resolves the record through the sidecar next to file. A
// sidecar that cannot be loaded is ignored so the natural key gets a try.
func (p *Processor) fromSidecar(ctx context.Context, prs parser.DatasetParser, file string, share *datastore.Share, path string) (*datastore.Scan, bool, error) {
	sidecarPath := sidecar.Path(file)
	if _, err := os.Stat(sidecarPath); err != nil {
		p.log.Debug("sidecar not found", logger.String("path", file))
		return nil, false, nil
	}

	record, err := sidecar.Load(ctx, p.store, sidecarPath)
	if err != nil {
		p.log.Warn("ignoring unusable sidecar", logger.String("sidecar", sidecarPath), logger.Error(err))
		return nil, false, nil
	}

	status := sidecar.Classify(record, record.FullPath(), file)
	p.log.Debug("sidecar status", logger.String("path", file), logger.String("status", status.String()))

	switch status {
	case sidecar.StatusCopied:
		// the record keeps describing the original, never the copy
		original := record.FullPath()
		p.log.Warn("dataset copied, keeping the original record",
			logger.Uint("scan_id", record.ID),
			logger.String("path", file),
			logger.String("original", original))
		checksum, err := diskmanager.FileChecksum(original)
		if err != nil {
			return nil, false, err
		}
		if checksum != record.Checksum {
			record, err = prs.ProcessFile(ctx, original, record)
		}
		return record, true, err
	case sidecar.StatusMoved:
		p.log.Warn("dataset moved",
			logger.Uint("scan_id", record.ID),
			logger.String("from", record.FullPath()),
			logger.String("to", file))
		record.ShareID = share.ID
		record.Share = share
		record.Path = path
		if err := p.store.SaveScan(ctx, record); err != nil {
			return nil, false, err
		}
		return record, false, nil
	case sidecar.StatusOK:
		return record, false, nil
	case sidecar.StatusInvalid:
		return nil, false, errors.Newf("sidecar of %s does not refer to its own record", file).
			Component("processor").
			Category(errors.CategoryState).
			Context("scan_id", record.ID).
			Build()
	default:
		// vanished between the stat and the read
		return nil, false, nil
	}
}

// ingest creates the record of a file seen for the first time.
func (p *Processor) ingest(ctx context.Context, prs parser.DatasetParser, file string, share *datastore.Share, path string) (*datastore.Scan, error) {
	p.log.Info("new dataset", logger.String("path", file))
	record := &datastore.Scan{
		ScanType: prs.ScanType(),
		ShareID:  share.ID,
		Share:    share,
		Path:     path,
		Filename: filepath.Base(file),
	}
	if err := p.parseFilepath(ctx, file, record); err != nil {
		return nil, err
	}

	record, err := prs.ProcessFile(ctx, file, record)
	if err != nil {
		return nil, err
	}
	if _, err := p.FindParent(ctx, record); err != nil {
		return nil, err
	}
	if err := p.WriteSampleInfo(record); err != nil {
		p.log.Warn("sample info file not written", logger.String("path", file), logger.Error(err))
	}
	return record, nil
}

// parseFilepath fills the record from the dataset name. An unknown scanner
// fails the file; an unknown sample or bug is only logged.
func (p *Processor) parseFilepath(ctx context.Context, file string, record *datastore.Scan) error {
	meta, err := naming.Parse(stem(file))
	if err != nil {
		return err
	}

	scanner, err := p.store.FindMachineContaining(ctx, meta.Scanner)
	if err != nil {
		return err
	}
	if scanner == nil {
		return errors.Newf("unable to match scanner (%s) to known machine", meta.Scanner).
			Component("processor").
			Category(errors.CategoryNotFound).
			FileContext(file).
			Build()
	}

	var sample *datastore.Sample
	if meta.SampleID != "" {
		if sample, err = p.findSample(ctx, meta.SampleID); err != nil {
			return err
		}
		if sample == nil {
			p.log.Error("unable to match sample ID to a record", logger.String("sample_id", meta.SampleID))
		}
	}

	var bug *datastore.Bug
	if meta.BugID != nil {
		if bug, err = p.store.GetBug(ctx, *meta.BugID); err != nil {
			return err
		}
		if bug == nil {
			p.log.Error("unable to match bug ID to known bug", logger.Uint("bug_id", *meta.BugID))
		}
	}

	date := meta.Date
	record.ScanDate = &date
	record.ScannerID = &scanner.ID
	record.Scanner = scanner
	record.Operator = meta.Operator
	if sample != nil {
		record.SampleID = &sample.ID
		record.Sample = sample
	}
	if bug != nil {
		record.BugID = &bug.ID
		record.Bug = bug
	}
	return nil
}

func (p *Processor) findSample(ctx context.Context, id string) (*datastore.Sample, error) {
	number, err := xrhid.Numeric(id, false)
	if err != nil {
		return nil, err
	}
	suffix, hasSuffix, err := xrhid.Suffix(id)
	if err != nil {
		return nil, err
	}
	if !hasSuffix {
		return p.store.FindSample(ctx, number, nil)
	}
	return p.store.FindSample(ctx, number, &suffix)
}

// FindParent links scan to the oldest compatible dataset in the same folder.
// When two candidates are equally plausible the scan stays unlinked.
func (p *Processor) FindParent(ctx context.Context, scan *datastore.Scan) (bool, error) {
	siblings, err := p.store.ScansInFolder(ctx, scan.ShareID, scan.Path)
	if err != nil {
		return false, err
	}

	var accepted []*datastore.Scan
	for i := range siblings {
		candidate := &siblings[i]
		if candidate.ID != scan.ID && parentCandidate(scan, candidate) {
			accepted = append(accepted, candidate)
		}
	}
	if len(accepted) == 0 {
		return false, nil
	}

	parent := accepted[0]
	for _, other := range accepted[1:] {
		if len(other.Filename) == len(parent.Filename) && other.ScanDate.Equal(*parent.ScanDate) {
			p.log.Warn("ambiguous parent, leaving unlinked",
				logger.Uint("scan_id", scan.ID),
				logger.Uint("candidate", parent.ID),
				logger.Uint("other", other.ID))
			return false, nil
		}
	}

	scan.ParentID = &parent.ID
	if err := p.store.SaveScan(ctx, scan); err != nil {
		return false, err
	}
	p.log.Debug("parent linked", logger.Uint("scan_id", scan.ID), logger.Uint("parent_id", parent.ID))
	return true, nil
}

// parentCandidate plays safe: older key, name no longer, and a scan date
// that is known and not later.
func parentCandidate(scan, candidate *datastore.Scan) bool {
	if candidate.ID >= scan.ID {
		return false
	}
	if len(candidate.Filename) > len(scan.Filename) {
		return false
	}
	if candidate.ScanDate == nil || scan.ScanDate == nil {
		return false
	}
	return !candidate.ScanDate.After(*scan.ScanDate)
}

// SampleInfoPath is where the sample summary of scan lives.
func (p *Processor) SampleInfoPath(scan *datastore.Scan) string {
	return filepath.Join(scan.Directory(), p.settings.Storage.SampleInfoFile)
}

// WriteSampleInfo writes a short summary of the linked sample next to the
// dataset. An existing file is left alone.
func (p *Processor) WriteSampleInfo(scan *datastore.Scan) error {
	if scan.Sample == nil || !isDir(scan.Directory()) {
		return nil
	}
	path := p.SampleInfoPath(scan)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	sample := scan.Sample
	id := sample.FullXrhID
	if id == "" {
		id = sample.XrhID()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "XRH ID:\t\t%s\r\n", id)
	if original := strings.TrimSpace(sample.OriginalID); original != "" {
		fmt.Fprintf(&b, "Original ID:\t%s\r\n", original)
	}
	fmt.Fprintf(&b, "Species:\t%s\r\n", sample.Species)
	fmt.Fprintf(&b, "Tissue:\t\t%s\r\n", sample.Tissue)
	if sample.Condition != "" {
		fmt.Fprintf(&b, "Condition:\t%s\r\n", sample.Condition)
	}
	sampleType := ""
	if sample.SampleType != nil {
		sampleType = sample.SampleType.Name
	}
	fmt.Fprintf(&b, "Sample type:\t%s\r\n", sampleType)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.FileError(err, path)
	}
	p.log.Debug("sample info written", logger.String("path", path))
	return nil
}

// LookupDataset finds the record of a dataset file, by sidecar first and
// then by location. A sidecar is recreated when the location matched.
func (p *Processor) LookupDataset(ctx context.Context, file string) (*datastore.Scan, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, precondition(ErrNotFound, errors.CategoryNotFound, file)
	}

	sidecarPath := sidecar.Path(file)
	if _, err := os.Stat(sidecarPath); err == nil {
		scan, err := sidecar.Load(ctx, p.store, sidecarPath)
		if err == nil {
			return scan, nil
		}
		p.log.Warn("ignoring unusable sidecar", logger.String("sidecar", sidecarPath), logger.Error(err))
	}

	share, path, err := p.locateFile(ctx, file)
	if err != nil {
		return nil, err
	}
	scan, err := p.store.FindScan(ctx, share.ID, path, filepath.Base(file))
	if err != nil {
		return nil, err
	}
	if scan == nil {
		p.log.Warn("unable to find dataset in database", logger.String("path", file))
		return nil, nil
	}
	if err := sidecar.Write(file, scan.ID); err != nil {
		return nil, err
	}
	p.log.Debug("sidecar recreated", logger.Uint("scan_id", scan.ID))
	return scan, nil
}
