// Package processor reconciles dataset files with their database records and
// moves dataset trees between shares.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/metrics"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
)

// Move preconditions.
var (
	ErrMoveInProgress    = errors.NewStd("move already in progress")
	ErrInvalidSource     = errors.NewStd("refusing to move the raw data root")
	ErrNotFound          = errors.NewStd("path does not exist")
	ErrNotADirectory     = errors.NewStd("destination is not a directory")
	ErrUnknownShare      = errors.NewStd("no share matches the location")
	ErrInsufficientSpace = errors.NewStd("not enough space on destination")
)

const shareCacheTTL = 5 * time.Minute

// ArchiveIndexer is the part of the archive lifecycle the move queue needs.
type ArchiveIndexer interface {
	LookupDrive(ctx context.Context) (*datastore.ArchiveDrive, error)
	IndexDatasets(ctx context.Context, drive *datastore.ArchiveDrive) (created, existing int, err error)
}

// Processor owns the reconciliation and move engines. It is not safe for
// concurrent use; cross-process exclusion comes from the Locker.
type Processor struct {
	store    datastore.Interface
	registry *parser.Registry
	locker   lock.Locker
	settings *conf.Settings
	log      logger.Logger
	metrics  *metrics.JobMetrics
	archive  ArchiveIndexer

	shares    *cache.Cache
	freeSpace func(path string) (uint64, error)
	dirSize   func(ctx context.Context, path string) (int64, error)
	now       func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithFreeSpace replaces the free space probe used by the move checks.
func WithFreeSpace(fn func(path string) (uint64, error)) Option {
	return func(p *Processor) { p.freeSpace = fn }
}

// WithMetrics records job metrics.
func WithMetrics(m *metrics.JobMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(store datastore.Interface, registry *parser.Registry, locker lock.Locker, settings *conf.Settings, log logger.Logger, opts ...Option) *Processor {
	if log == nil {
		log = logger.Global().Module("processor")
	}
	p := &Processor{
		store:     store,
		registry:  registry,
		locker:    locker,
		settings:  settings,
		log:       log,
		shares:    cache.New(shareCacheTTL, 2*shareCacheTTL),
		freeSpace: diskmanager.FreeSpace,
		dirSize:   diskmanager.DirSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetArchive connects the archive lifecycle used for moves onto archive disks.
func (p *Processor) SetArchive(a ArchiveIndexer) {
	p.archive = a
}

// withLock runs fn under the dataset lock.
func (p *Processor) withLock(ctx context.Context, fn func() error) error {
	start := time.Now()
	return lock.Run(ctx, p.locker, p.settings.Lock.Name, p.settings.Lock.Timeout, func() error {
		p.metrics.ObserveLockWait(time.Since(start))
		p.log.Debug("lock acquired", logger.Duration("waited", time.Since(start)))
		return fn()
	})
}

// CountMoving counts records currently marked MOVING.
func (p *Processor) CountMoving(ctx context.Context) (int64, error) {
	n, err := p.store.CountScansByStatus(ctx, datastore.StatusMoving)
	if err != nil {
		return 0, err
	}
	p.log.Debug("moving count", logger.Int64("count", n))
	return n, nil
}

// locateDir splits an absolute directory into its share and the path on
// that share. The first component below the mount root names the share.
func (p *Processor) locateDir(ctx context.Context, dir string) (*datastore.Share, string, error) {
	rel, err := filepath.Rel(filepath.Clean(p.settings.Storage.MountRoot), filepath.Clean(dir))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, "", precondition(ErrUnknownShare, errors.CategoryValidation,
			fmt.Sprintf("%s is not below %s", dir, p.settings.Storage.MountRoot))
	}
	token, path, _ := strings.Cut(filepath.ToSlash(rel), "/")

	share, err := p.shareForToken(ctx, token)
	if err != nil {
		return nil, "", err
	}
	return share, path, nil
}

// locateFile is locateDir for the directory holding file.
func (p *Processor) locateFile(ctx context.Context, file string) (*datastore.Share, string, error) {
	return p.locateDir(ctx, filepath.Dir(file))
}

// shareForToken matches token against the share mount points. A mount
// point ending in token wins over one merely containing it.
func (p *Processor) shareForToken(ctx context.Context, token string) (*datastore.Share, error) {
	if cached, ok := p.shares.Get(token); ok {
		share := cached.(datastore.Share)
		return &share, nil
	}

	shares, err := p.store.ListShares(ctx)
	if err != nil {
		return nil, err
	}
	var matches []datastore.Share
	for _, share := range shares {
		if filepath.Base(share.LinuxMntPoint) == token {
			matches = []datastore.Share{share}
			break
		}
		if strings.Contains(share.LinuxMntPoint, token) {
			matches = append(matches, share)
		}
	}
	switch len(matches) {
	case 0:
		return nil, precondition(ErrUnknownShare, errors.CategoryNotFound,
			fmt.Sprintf("unable to match mount point %q to a share", token))
	case 1:
		p.shares.Set(token, matches[0], cache.DefaultExpiration)
		return &matches[0], nil
	default:
		return nil, precondition(ErrUnknownShare, errors.CategoryValidation,
			fmt.Sprintf("mount point %q matches %d shares", token, len(matches)))
	}
}

// ListDatasets returns the dataset files below dir, for every parser.
func (p *Processor) ListDatasets(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, precondition(ErrNotFound, errors.CategoryNotFound, dir)
	}
	var files []string
	for _, prs := range p.registry.Parsers() {
		found, err := prs.ListFiles(dir)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	p.log.Debug("datasets listed", logger.String("dir", dir), logger.Int("count", len(files)))
	return files, nil
}

func precondition(sentinel error, category errors.ErrorCategory, detail string) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, detail)).
		Component("processor").
		Category(category).
		Build()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
