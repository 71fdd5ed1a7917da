// Package usercopy provisions dataset copies in user scratch folders and
// removes them once their retention period has passed.
package usercopy

import (
	"context"
	"fmt"
	"os"
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
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/metrics"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
	"github.com/muvis-xrh/xrhms-core/internal/securefs"
)

const (
	changelogName = "CHANGELOG.txt"
	infoName      = "INFO.txt"
	readmeName    = "README.txt"

	// changelog timestamps
	stampLayout = "2006-01-02 15:04:05.000000-07:00"
)

// ErrNotCopied is returned by DeletionValidFrom for copies never made.
var ErrNotCopied = errors.NewStd("copy has not been made")

// Manager runs the copy and cleanup queues.
type Manager struct {
	store    datastore.Interface
	registry *parser.Registry
	locker   lock.Locker
	runner   command.Runner
	settings *conf.Settings
	log      logger.Logger
	metrics  *metrics.JobMetrics
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records job metrics.
func WithMetrics(m *metrics.JobMetrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(mg *Manager) { mg.now = now }
}

func New(store datastore.Interface, registry *parser.Registry, locker lock.Locker, runner command.Runner, settings *conf.Settings, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Global().Module("usercopy")
	}
	if runner == nil {
		runner = command.Exec{}
	}
	m := &Manager{
		store:    store,
		registry: registry,
		locker:   locker,
		runner:   runner,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UserFolder is the scratch folder of user.
func (m *Manager) UserFolder(user string) string {
	return filepath.Join(m.settings.Storage.UserDataFolder, user)
}

// FolderName is where the copy c is placed.
func (m *Manager) FolderName(c *datastore.UserCopy) string {
	name := ""
	if c.Scan != nil {
		name = c.Scan.Name
	}
	return filepath.Join(m.UserFolder(c.Username), name+"_"+strconv.FormatUint(uint64(c.ID), 10))
}

// ChangelogFile lists every folder created or deleted for the user of c.
func (m *Manager) ChangelogFile(c *datastore.UserCopy) string {
	return filepath.Join(m.UserFolder(c.Username), changelogName)
}

// DeletionValidFrom is the first day the copy may be removed.
func DeletionValidFrom(c *datastore.UserCopy) (time.Time, error) {
	if c.DateCopied == nil {
		return time.Time{}, errors.New(fmt.Errorf("%w: request %d", ErrNotCopied, c.ID)).
			Component("usercopy").
			Category(errors.CategoryState).
			Build()
	}
	return day(*c.DateCopied).AddDate(0, 0, c.DeletionAfter), nil
}

// DeletionEligible reports whether c was copied successfully, has not been
// deleted, and more than DeletionAfter whole days have passed.
func DeletionEligible(c *datastore.UserCopy, now time.Time) bool {
	if c.DateCopied == nil || c.CopySuccess == nil || !*c.CopySuccess || c.DateDeleted != nil {
		return false
	}
	return day(now).Sub(day(*c.DateCopied)) > time.Duration(c.DeletionAfter)*24*time.Hour
}

// day is the calendar date of t as a UTC midnight, so day differences are
// not skewed by DST.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CopyToUserspace performs the copy request c. It reports whether data was
// copied. A busy lock leaves the request pending.
func (m *Manager) CopyToUserspace(ctx context.Context, c *datastore.UserCopy) (bool, error) {
	log := m.log.With(logger.Uint("copy_id", c.ID), logger.String("user", c.Username))
	if c.DateCopied != nil {
		log.Error("copy request already processed")
		c.CmdOutput += "\n Attempted again " + m.now().Format(stampLayout)
		return false, m.store.SaveUserCopy(ctx, c)
	}
	if !c.IncludeRawData && !c.IncludeReconData {
		c.CmdOutput = "No data selected for copying"
		m.finish(c, true)
		return false, m.store.SaveUserCopy(ctx, c)
	}
	if c.Scan == nil {
		return false, errors.Newf("copy request %d has no dataset loaded", c.ID).
			Component("usercopy").
			Category(errors.CategoryValidation).
			Build()
	}

	var success bool
	err := lock.Run(ctx, m.locker, m.settings.Lock.Name, m.settings.Lock.Timeout, func() error {
		var err error
		success, err = m.copyLocked(ctx, c)
		return err
	})
	if errors.Is(err, lock.ErrUnavailable) {
		log.Error("unable to get lock", logger.Error(err))
		return false, nil
	}
	return success, err
}

func (m *Manager) copyLocked(ctx context.Context, c *datastore.UserCopy) (bool, error) {
	dest := m.FolderName(c)
	// the username reaches a privileged script
	if err := securefs.IsPathValidWithinBase(m.settings.Storage.UserDataFolder, dest); err != nil {
		return false, err
	}
	if ok, err := m.ensureUserFolder(ctx, c); !ok || err != nil {
		return false, err
	}

	scan := c.Scan
	m.log.Debug("destination folder", logger.String("path", dest))
	if err := os.Mkdir(dest, 0o755); err != nil {
		return false, errors.FileError(err, dest)
	}

	prs, err := m.registry.ForFile(scan.Filename)
	if err != nil {
		return false, err
	}

	var out strings.Builder
	success := true
	if c.IncludeReconData {
		ok, text := prs.CopyRecon(ctx, scan, dest, !c.IncludeRawData)
		out.WriteString(text)
		success = ok
		if !ok {
			m.log.Error("failed to copy reconstructed data", logger.Uint("scan_id", scan.ID))
		}
	}
	if success && !c.IncludeRawData {
		// without the raw folder the sample info file would be missing
		info := filepath.Join(scan.Directory(), m.settings.Storage.SampleInfoFile)
		if _, err := os.Stat(info); err == nil {
			if err := diskmanager.CopyFile(info, filepath.Join(dest, filepath.Base(info))); err != nil {
				fmt.Fprintf(&out, "Failed to copy %s: %v\n", filepath.Base(info), err)
				success = false
			}
		} else {
			m.log.Debug("no sample info file to copy", logger.String("path", info))
		}
	}
	if success && c.IncludeRawData {
		ok, text := prs.CopyRaw(ctx, scan, dest)
		out.WriteString(text)
		success = ok
		if !ok {
			m.log.Error("failed to copy raw data", logger.Uint("scan_id", scan.ID))
		}
	}
	if err := m.copyReadme(dest); err != nil {
		fmt.Fprintf(&out, "Failed to copy README: %v\n", err)
		success = false
	}
	if success {
		// the INFO file states the deletion date, which needs the copy date
		m.finish(c, true)
		if err := m.writeInfo(c); err != nil {
			fmt.Fprintf(&out, "Failed to write %s: %v\n", infoName, err)
			success = false
		}
	}

	if !success {
		m.log.Warn("copy failed, deleting folder", logger.String("path", dest))
		out.WriteString("Copy failed, deleting folder\n")
		if err := securefs.RemoveAll(m.settings.Storage.UserDataFolder, dest); err != nil {
			m.log.Error("rollback failed", logger.String("path", dest), logger.Error(err))
		}
	}

	c.CmdOutput = out.String()
	m.finish(c, success)
	if success {
		if err := m.changelog(c, "created"); err != nil {
			m.log.Warn("changelog not updated", logger.Error(err))
		}
	}
	m.metrics.RecordCopy(result(success))
	return success, m.store.SaveUserCopy(ctx, c)
}

// ensureUserFolder creates the scratch folder of the user through the
// privileged helper script. Failures are recorded on c.
func (m *Manager) ensureUserFolder(ctx context.Context, c *datastore.UserCopy) (bool, error) {
	folder := m.UserFolder(c.Username)
	if info, err := os.Stat(folder); err == nil && info.IsDir() {
		return true, nil
	}
	m.log.Info("creating user folder", logger.String("path", folder))

	script := m.settings.Storage.FolderScript
	if _, err := os.Stat(script); script == "" || err != nil {
		m.log.Error("unable to find folder creation script", logger.String("script", script))
		c.CmdOutput = "Unable to find folder creation script"
		m.finish(c, false)
		return false, m.store.SaveUserCopy(ctx, c)
	}

	name, args := command.Sudo(true, script, c.Username, m.settings.Storage.UserDataFolder)
	result, err := m.runner.Run(ctx, name, args...)
	if err != nil {
		m.log.Error("user folder creation script failed", logger.Error(err))
		c.CmdOutput = "User folder creation script failed\n" + result.Stdout + "\n" + result.Stderr
		m.finish(c, false)
		return false, m.store.SaveUserCopy(ctx, c)
	}
	return true, nil
}

func (m *Manager) copyReadme(dest string) error {
	src := m.settings.Storage.ReadmePath
	if src == "" {
		return nil
	}
	dst := filepath.Join(dest, readmeName)
	if _, err := os.Stat(dst); err == nil {
		m.log.Warn("README already exists, not copying", logger.String("path", dst))
		return nil
	}
	return diskmanager.CopyFile(src, dst)
}

func (m *Manager) writeInfo(c *datastore.UserCopy) error {
	validFrom, err := DeletionValidFrom(c)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Original folder name: %s\r\n", filepath.Base(c.Scan.Path))
	fmt.Fprintf(&b, "Data copy request number: %d\r\n", c.ID)
	fmt.Fprintf(&b, "Data available until at least %s. After this time it may be deleted.\r\n",
		validFrom.Format(time.DateOnly))

	path := filepath.Join(m.FolderName(c), infoName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.FileError(err, path)
	}
	return nil
}

func (m *Manager) changelog(c *datastore.UserCopy, action string) error {
	path := m.ChangelogFile(c)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.FileError(err, path)
	}
	_, err = fmt.Fprintf(f, "%s\t %s %s\n", m.now().Format(stampLayout), filepath.Base(m.FolderName(c)), action)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.FileError(err, path)
	}
	return nil
}

func (m *Manager) finish(c *datastore.UserCopy, success bool) {
	now := m.now()
	c.CopySuccess = &success
	c.DateCopied = &now
}

// ProcessCopyQueue attempts every copy request that was never tried.
func (m *Manager) ProcessCopyQueue(ctx context.Context) (copied, total int, err error) {
	queue, err := m.store.PendingUserCopies(ctx)
	if err != nil {
		return 0, 0, err
	}
	total = len(queue)
	m.log.Info("datasets to copy", logger.Int("count", total))

	for i := range queue {
		c := &queue[i]
		ok, err := m.CopyToUserspace(ctx, c)
		if err != nil {
			m.log.Error("copy failed", logger.Uint("copy_id", c.ID), logger.Error(err))
			c.CmdOutput += "\n" + err.Error()
			m.finish(c, false)
			m.metrics.RecordCopy(metrics.ResultFailure)
			if err := m.store.SaveUserCopy(ctx, c); err != nil {
				return copied, total, err
			}
			continue
		}
		if ok {
			copied++
		}
	}
	return copied, total, nil
}

// CleanupUserSpace deletes every stored copy past its retention period.
func (m *Manager) CleanupUserSpace(ctx context.Context) (deleted, total int, err error) {
	stored, err := m.store.StoredUserCopies(ctx)
	if err != nil {
		return 0, 0, err
	}
	m.log.Info("user datasets stored", logger.Int("count", len(stored)))

	now := m.now()
	var eligible []*datastore.UserCopy
	var size int64
	for i := range stored {
		c := &stored[i]
		if !DeletionEligible(c, now) {
			continue
		}
		eligible = append(eligible, c)
		if n, err := diskmanager.DirSize(ctx, m.FolderName(c)); err == nil {
			size += n
		}
	}
	total = len(eligible)
	m.log.Info("eligible for deletion",
		logger.Int("count", total),
		logger.String("size", humanize.IBytes(uint64(size))))

	for _, c := range eligible {
		ok, err := m.DeleteUserCopy(ctx, c)
		if err != nil {
			m.log.Error("failed to delete dataset", logger.Uint("copy_id", c.ID), logger.Error(err))
			failed, at := false, m.now()
			c.CmdOutput += err.Error()
			c.DeletionSuccess = &failed
			c.DateDeleted = &at
			m.metrics.RecordDeletion(metrics.ResultFailure)
			if err := m.store.SaveUserCopy(ctx, c); err != nil {
				return deleted, total, err
			}
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, total, nil
}

// DeleteUserCopy removes the folder of c once it is eligible.
func (m *Manager) DeleteUserCopy(ctx context.Context, c *datastore.UserCopy) (bool, error) {
	var deleted bool
	err := lock.Run(ctx, m.locker, m.settings.Lock.Name, m.settings.Lock.Timeout, func() error {
		if !DeletionEligible(c, m.now()) {
			m.log.Error("not yet eligible for deletion", logger.Uint("copy_id", c.ID))
			m.metrics.RecordDeletion(metrics.ResultSkipped)
			return nil
		}
		folder := m.FolderName(c)
		if err := securefs.RemoveAll(m.settings.Storage.UserDataFolder, folder); err != nil {
			return err
		}
		ok, at := true, m.now()
		c.DeletionSuccess = &ok
		c.DateDeleted = &at
		if err := m.store.SaveUserCopy(ctx, c); err != nil {
			return err
		}
		m.log.Debug("deleted user copy", logger.String("path", folder))
		deleted = true
		m.metrics.RecordDeletion(metrics.ResultSuccess)
		if err := m.changelog(c, "deleted"); err != nil {
			m.log.Warn("changelog not updated", logger.Error(err))
		}
		return nil
	})
	if errors.Is(err, lock.ErrUnavailable) {
		m.log.Error("unable to get lock", logger.Error(err))
		return false, nil
	}
	return deleted, err
}

// UsageThresholdExceeded reports whether less than threshold percent of the
// filesystem holding mnt is free.
func UsageThresholdExceeded(threshold float64, mnt string) (bool, error) {
	info, err := diskmanager.GetDetailedDiskUsage(mnt)
	if err != nil {
		return false, err
	}
	return threshold > info.FreePercent(), nil
}

func result(success bool) string {
	if success {
		return metrics.ResultSuccess
	}
	return metrics.ResultFailure
}
