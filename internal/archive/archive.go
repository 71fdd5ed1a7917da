// Package archive registers removable archive drives and indexes the
// datasets stored on them.
package archive

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/muvis-xrh/xrhms-core/internal/command"
	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

const (
	DefaultPath   = "/mnt/archive"
	DefaultDevice = "sat"

	gib = 1 << 30
)

var (
	// ErrNoSerial is returned when smartctl reports no serial number.
	ErrNoSerial = errors.NewStd("unable to read drive serial number")
	// ErrDriveNotFound is returned when the inserted drive is not registered.
	ErrDriveNotFound = errors.NewStd("archive drive not registered")
)

// Datasets finds dataset files and their records.
type Datasets interface {
	ListDatasets(dir string) ([]string, error)
	LookupDataset(ctx context.Context, file string) (*datastore.Scan, error)
}

// DriveDetails is what smartctl reports about the inserted drive.
type DriveDetails struct {
	Serial       string
	Manufacturer string
	CapacityGB   float64
}

// Processor manages the drive mounted at the archive path.
type Processor struct {
	store    datastore.Interface
	datasets Datasets
	runner   command.Runner
	settings conf.ArchiveSettings
	log      logger.Logger
	now      func() time.Time

	details *DriveDetails
}

func New(store datastore.Interface, datasets Datasets, runner command.Runner, settings *conf.Settings, log logger.Logger) *Processor {
	if log == nil {
		log = logger.Global().Module("archive")
	}
	if runner == nil {
		runner = command.Exec{}
	}
	cfg := settings.Archive
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Command == "" {
		cfg.Command = "smartctl"
	}
	log.Debug("archive drive", logger.String("path", cfg.Path), logger.String("device", cfg.Device))
	return &Processor{
		store:    store,
		datasets: datasets,
		runner:   runner,
		settings: cfg,
		log:      log,
		now:      time.Now,
	}
}

// Path is the mount point of the archive drive.
func (p *Processor) Path() string {
	return p.settings.Path
}

// DriveDetails reads the SMART identity of the drive. The result is cached
// for the lifetime of the Processor.
func (p *Processor) DriveDetails(ctx context.Context) (DriveDetails, error) {
	if p.details != nil {
		return *p.details, nil
	}
	name, args := command.Sudo(p.settings.Sudo, p.settings.Command,
		"--all", "--device="+p.settings.Device, p.settings.Path)
	p.log.Debug("reading drive details", logger.String("command", name), logger.Any("args", args))

	result, err := p.runner.Run(ctx, name, args...)
	if err != nil {
		return DriveDetails{}, err
	}
	details, err := parseSmart(result.Stdout)
	if err != nil {
		return DriveDetails{}, err
	}
	p.details = &details
	return details, nil
}

// parseSmart extracts the identity lines of smartctl --all output.
func parseSmart(output string) (DriveDetails, error) {
	var d DriveDetails
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Serial Number"):
			d.Serial = fields[2]
		case strings.HasPrefix(line, "Model Family"):
			d.Manufacturer = strings.Join(fields[2:], " ")
		case strings.HasPrefix(line, "User Capacity"):
			bytes, err := strconv.ParseFloat(strings.ReplaceAll(fields[2], ",", ""), 64)
			if err != nil {
				return d, errors.New(err).
					Component("archive").
					Category(errors.CategoryFileParsing).
					Context("line", line).
					Build()
			}
			d.CapacityGB = bytes / gib
		}
	}
	return d, scanner.Err()
}

// LookupDrive returns the record of the inserted drive.
func (p *Processor) LookupDrive(ctx context.Context) (*datastore.ArchiveDrive, error) {
	details, err := p.DriveDetails(ctx)
	if err != nil {
		return nil, err
	}
	if details.Serial == "" {
		return nil, errors.New(ErrNoSerial).
			Component("archive").
			Category(errors.CategoryValidation).
			Context("path", p.settings.Path).
			Build()
	}
	drive, err := p.store.FindDriveBySerial(ctx, details.Serial)
	if err != nil {
		return nil, err
	}
	if drive == nil {
		p.log.Debug("no drive found", logger.String("serial", details.Serial))
		return nil, errors.New(fmt.Errorf("%w: serial %s", ErrDriveNotFound, details.Serial)).
			Component("archive").
			Category(errors.CategoryNotFound).
			Build()
	}
	p.log.Info("found drive", logger.String("serial", drive.SerialNumber), logger.Uint("drive_id", drive.ID))
	return drive, nil
}

// CreateDrive registers the inserted drive. An already registered drive is
// returned as is with created false.
func (p *Processor) CreateDrive(ctx context.Context) (drive *datastore.ArchiveDrive, created bool, err error) {
	drive, err = p.LookupDrive(ctx)
	switch {
	case err == nil:
		p.log.Info("drive already registered", logger.String("serial", drive.SerialNumber))
		return drive, false, nil
	case !errors.Is(err, ErrDriveNotFound):
		return nil, false, err
	}

	details, err := p.DriveDetails(ctx)
	if err != nil {
		return nil, false, err
	}
	drive = &datastore.ArchiveDrive{
		SerialNumber: details.Serial,
		Manufacturer: details.Manufacturer,
		Capacity:     details.CapacityGB,
	}
	if err := p.store.CreateDrive(ctx, drive); err != nil {
		return nil, false, err
	}
	p.log.Info("drive registered",
		logger.String("serial", drive.SerialNumber),
		logger.String("manufacturer", drive.Manufacturer),
		logger.String("capacity", humanize.IBytes(uint64(drive.Capacity*gib))))
	return drive, true, nil
}

// UpdateDrive refreshes the usage figures of the inserted drive and indexes
// its datasets. This walks the whole drive.
func (p *Processor) UpdateDrive(ctx context.Context) (created, existing int, err error) {
	drive, err := p.LookupDrive(ctx)
	if err != nil {
		return 0, 0, err
	}
	usage, err := diskmanager.GetDetailedDiskUsage(p.settings.Path)
	if err != nil {
		return 0, 0, err
	}
	files, err := diskmanager.CountFiles(ctx, p.settings.Path)
	if err != nil {
		return 0, 0, err
	}
	drive.EstimatedUsage = float64(usage.UsedBytes) / gib
	drive.NoFiles = files
	if err := p.store.SaveDrive(ctx, drive); err != nil {
		return 0, 0, err
	}
	p.log.Info("drive usage updated",
		logger.String("serial", drive.SerialNumber),
		logger.String("used", humanize.IBytes(usage.UsedBytes)),
		logger.Int64("files", files))
	return p.IndexDatasets(ctx, drive)
}

// IndexDatasets makes sure every dataset folder on the drive has a
// ScanArchive record. Existing records are left untouched. Datasets without
// a database record are skipped and reported in the returned error.
func (p *Processor) IndexDatasets(ctx context.Context, drive *datastore.ArchiveDrive) (created, existing int, err error) {
	files, err := p.datasets.ListDatasets(p.settings.Path)
	if err != nil {
		return 0, 0, err
	}
	p.log.Debug("datasets on drive", logger.Int("count", len(files)))

	var unknown []string
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return created, existing, err
		}
		scan, err := p.datasets.LookupDataset(ctx, file)
		if err != nil {
			p.log.Error("dataset lookup failed", logger.String("path", file), logger.Error(err))
			unknown = append(unknown, file)
			continue
		}
		if scan == nil {
			p.log.Error("unable to find record for dataset", logger.String("path", file))
			unknown = append(unknown, file)
			continue
		}

		parent := filepath.Dir(file)
		record, err := p.store.FindScanArchive(ctx, scan.ID, drive.ID, parent)
		if err != nil {
			return created, existing, err
		}
		if record != nil {
			existing++
			continue
		}

		usage, err := diskmanager.Usage(ctx, parent)
		if err != nil {
			return created, existing, err
		}
		record = &datastore.ScanArchive{
			ScanID:      scan.ID,
			DriveID:     drive.ID,
			Path:        parent,
			DateIndexed: p.now(),
			TotalSize:   usage.GiB(),
			FileCount:   usage.Files,
		}
		if err := p.store.SaveScanArchive(ctx, record); err != nil {
			return created, existing, err
		}
		created++
	}

	if len(files) > 0 {
		p.log.Info("archive index complete",
			logger.Int("existing", existing),
			logger.Int("total", len(files)),
			logger.Float64("existing_fraction", float64(existing)/float64(len(files))))
	}
	if len(unknown) > 0 {
		return created, existing, errors.Newf("%d datasets on drive %s have no usable record", len(unknown), drive.SerialNumber).
			Component("archive").
			Category(errors.CategoryNotFound).
			Context("first", unknown[0]).
			Build()
	}
	return created, existing, nil
}
