package usercopy

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/muvis-xrh/xrhms-core/internal/command"
	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
	"github.com/muvis-xrh/xrhms-core/internal/securefs"
)

const scanName = "20240102_XTH225_1234_pb_XRHA00125"

// MockRunner is a mock implementation of command.Runner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	called := m.Called(name, args)
	return called.Get(0).(command.Result), called.Error(1)
}

type fixture struct {
	ctx      context.Context
	store    datastore.Interface
	settings *conf.Settings
	runner   *MockRunner
	mgr      *Manager
	scan     *datastore.Scan
	dataDir  string
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(dir, "xrhms.db")
	settings.Lock.Name = "xtek_lock"
	settings.Lock.Timeout = time.Second
	settings.Lock.Lease = time.Minute
	settings.Lock.PollInterval = 10 * time.Millisecond
	settings.Storage.AttachmentDir = filepath.Join(dir, "attachments")
	settings.Storage.SampleInfoFile = "SAMPLE_INFO.txt"
	settings.Storage.ExtraFolder = "extra"
	settings.Storage.UserDataFolder = filepath.Join(dir, "users")
	settings.Storage.ReadmePath = filepath.Join(dir, "README.txt")
	settings.Storage.FolderScript = filepath.Join(dir, "create_user_folder")
	require.NoError(t, os.MkdirAll(settings.Storage.UserDataFolder, 0o755))
	require.NoError(t, os.WriteFile(settings.Storage.ReadmePath, []byte("readme"), 0o644))
	require.NoError(t, os.WriteFile(settings.Storage.FolderScript, []byte("#!/bin/sh\n"), 0o755))

	store, err := datastore.New(settings, log)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	// dataset with a reconstruction folder and raw projections
	mnt := filepath.Join(dir, "raw01")
	dataDir := filepath.Join(mnt, "proj", "ds")
	write := func(rel, content string) {
		path := filepath.Join(dataDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write(scanName+".xtekct", "[XTekCT]\nName=scan\n")
	write(scanName+"_0001.tif", "projection")
	write(scanName+"/"+scanName+".vol", "volume")
	write("SAMPLE_INFO.txt", "XRH ID:\t\tXRHA00125\r\n")

	share := &datastore.Share{Name: "raw01", LinuxMntPoint: mnt, DefaultStatus: datastore.StatusOnline}
	require.NoError(t, store.SaveShare(ctx, share))
	scan := &datastore.Scan{ShareID: share.ID, Share: share, Path: "proj/ds", Filename: scanName + ".xtekct", Name: scanName}
	require.NoError(t, store.SaveScan(ctx, scan))

	registry, err := parser.NewRegistry(parser.NewNikon(store, settings, log))
	require.NoError(t, err)
	locker := lock.NewDBLocker(store.Gorm(), settings.Lock.Lease, settings.Lock.PollInterval, log)

	f := &fixture{
		ctx:      ctx,
		store:    store,
		settings: settings,
		runner:   &MockRunner{},
		scan:     scan,
		dataDir:  dataDir,
		now:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.mgr = New(store, registry, locker, f.runner, settings, log, WithClock(func() time.Time { return f.now }))
	return f
}

// expectFolderScript makes the helper script create the user folder.
func (f *fixture) expectFolderScript(user string) {
	f.runner.On("Run", "sudo", []string{f.settings.Storage.FolderScript, user, f.settings.Storage.UserDataFolder}).
		Run(func(mock.Arguments) {
			_ = os.MkdirAll(filepath.Join(f.settings.Storage.UserDataFolder, user), 0o755)
		}).
		Return(command.Result{}, nil)
}

func (f *fixture) request(t *testing.T, user string, recon, raw bool) *datastore.UserCopy {
	t.Helper()
	c := datastore.NewUserCopy(f.scan.ID, user, 7, f.now)
	c.IncludeReconData = recon
	c.IncludeRawData = raw
	require.NoError(t, f.store.SaveUserCopy(f.ctx, c))
	loaded, err := f.store.GetUserCopy(f.ctx, c.ID)
	require.NoError(t, err)
	return loaded
}

func (f *fixture) reload(t *testing.T, id uint) *datastore.UserCopy {
	t.Helper()
	c, err := f.store.GetUserCopy(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestCopyReconOnly(t *testing.T) {
	f := newFixture(t)
	f.expectFolderScript("alice")
	c := f.request(t, "alice", true, false)

	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.NoError(t, err)
	require.True(t, ok)

	dest := f.mgr.FolderName(c)
	assert.Equal(t, filepath.Join(f.settings.Storage.UserDataFolder, "alice", scanName+"_"+strconv.FormatUint(uint64(c.ID), 10)), dest)
	assert.FileExists(t, filepath.Join(dest, scanName, scanName+".vol"))
	assert.FileExists(t, filepath.Join(dest, scanName+".xtekct"), "metadata comes with recon only copies")
	assert.FileExists(t, filepath.Join(dest, "SAMPLE_INFO.txt"))
	assert.FileExists(t, filepath.Join(dest, "README.txt"))
	assert.NoFileExists(t, filepath.Join(dest, scanName+"_0001.tif"))

	info, err := os.ReadFile(filepath.Join(dest, "INFO.txt"))
	require.NoError(t, err)
	assert.Equal(t,
		"Original folder name: ds\r\n"+
			"Data copy request number: "+strconv.FormatUint(uint64(c.ID), 10)+"\r\n"+
			"Data available until at least 2024-03-08. After this time it may be deleted.\r\n",
		string(info))

	changelog, err := os.ReadFile(f.mgr.ChangelogFile(c))
	require.NoError(t, err)
	assert.Contains(t, string(changelog), "\t "+filepath.Base(dest)+" created\n")

	saved := f.reload(t, c.ID)
	require.NotNil(t, saved.CopySuccess)
	assert.True(t, *saved.CopySuccess)
	assert.NotNil(t, saved.DateCopied)
	assert.Contains(t, saved.CmdOutput, "Reconstruction copied")

	ok, err = f.mgr.CopyToUserspace(f.ctx, saved)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, f.reload(t, c.ID).CmdOutput, "\n Attempted again ")
	f.runner.AssertNumberOfCalls(t, "Run", 1)
}

func TestCopyRawAndRecon(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.settings.Storage.UserDataFolder, "bob"), 0o755))
	c := f.request(t, "bob", true, true)

	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.NoError(t, err)
	require.True(t, ok)

	dest := f.mgr.FolderName(c)
	assert.FileExists(t, filepath.Join(dest, scanName, scanName+".vol"))
	assert.FileExists(t, filepath.Join(dest, scanName+"_0001.tif"))
	assert.FileExists(t, filepath.Join(dest, scanName+".xtekct"))
	assert.Contains(t, f.reload(t, c.ID).CmdOutput, "Raw data copied")
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestCopyNothingSelected(t *testing.T) {
	f := newFixture(t)
	c := f.request(t, "alice", false, false)

	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	saved := f.reload(t, c.ID)
	assert.Equal(t, "No data selected for copying", saved.CmdOutput)
	assert.True(t, *saved.CopySuccess)
	assert.NotNil(t, saved.DateCopied)
}

func TestCopyFolderScriptFailures(t *testing.T) {
	t.Run("missing script", func(t *testing.T) {
		f := newFixture(t)
		f.settings.Storage.FolderScript = filepath.Join(t.TempDir(), "absent")
		c := f.request(t, "carol", true, false)

		ok, err := f.mgr.CopyToUserspace(f.ctx, c)
		require.NoError(t, err)
		assert.False(t, ok)
		saved := f.reload(t, c.ID)
		assert.Equal(t, "Unable to find folder creation script", saved.CmdOutput)
		assert.False(t, *saved.CopySuccess)
	})

	t.Run("script fails", func(t *testing.T) {
		f := newFixture(t)
		f.runner.On("Run", "sudo", mock.Anything).
			Return(command.Result{Stdout: "out", Stderr: "no such user", ExitCode: 1}, errors.NewStd("exit status 1"))
		c := f.request(t, "carol", true, false)

		ok, err := f.mgr.CopyToUserspace(f.ctx, c)
		require.NoError(t, err)
		assert.False(t, ok)
		saved := f.reload(t, c.ID)
		assert.Equal(t, "User folder creation script failed\nout\nno such user", saved.CmdOutput)
		assert.False(t, *saved.CopySuccess)
		assert.NoDirExists(t, filepath.Join(f.settings.Storage.UserDataFolder, "carol"))
	})
}

func TestCopyRollsBack(t *testing.T) {
	f := newFixture(t)
	f.expectFolderScript("alice")
	require.NoError(t, os.RemoveAll(filepath.Join(f.dataDir, scanName)))
	c := f.request(t, "alice", true, false)

	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoDirExists(t, f.mgr.FolderName(c))
	saved := f.reload(t, c.ID)
	assert.False(t, *saved.CopySuccess)
	assert.Contains(t, saved.CmdOutput, "Reconstruction folder")
	assert.Contains(t, saved.CmdOutput, "Copy failed, deleting folder\n")
	assert.NoFileExists(t, f.mgr.ChangelogFile(c))
}

func TestCopyRemovesFolderWhenInfoCannotBeWritten(t *testing.T) {
	f := newFixture(t)
	f.expectFolderScript("alice")

	// the reconstruction folder of this dataset lands where INFO.txt goes
	require.NoError(t, os.MkdirAll(filepath.Join(f.dataDir, "INFO.txt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dataDir, "INFO.txt", "slice.tif"), []byte("slice"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dataDir, "INFO.txt.xtekct"), []byte("[XTekCT]\nName=scan\n"), 0o644))
	scan := &datastore.Scan{ShareID: f.scan.ShareID, Share: f.scan.Share, Path: "proj/ds", Filename: "INFO.txt.xtekct", Name: "INFO.txt"}
	require.NoError(t, f.store.SaveScan(f.ctx, scan))
	f.scan = scan
	c := f.request(t, "alice", true, false)

	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoDirExists(t, f.mgr.FolderName(c))
	saved := f.reload(t, c.ID)
	require.NotNil(t, saved.CopySuccess)
	assert.False(t, *saved.CopySuccess)
	assert.Contains(t, saved.CmdOutput, "Failed to write INFO.txt")
	assert.Contains(t, saved.CmdOutput, "Copy failed, deleting folder\n")
	assert.NoFileExists(t, f.mgr.ChangelogFile(c))
}

func TestCopyRejectsFolderOutsideUserData(t *testing.T) {
	f := newFixture(t)
	c := f.request(t, "../escape", true, false)

	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.ErrorIs(t, err, securefs.ErrPathTraversal)
	assert.False(t, ok)
	assert.NoDirExists(t, f.mgr.FolderName(c))
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProcessCopyQueue(t *testing.T) {
	f := newFixture(t)
	f.expectFolderScript("alice")
	good := f.request(t, "alice", true, false)
	f.now = f.now.Add(time.Second)
	bad := f.request(t, "alice", true, false)
	// a clash with an existing folder fails the second request
	require.NoError(t, os.MkdirAll(f.mgr.FolderName(bad), 0o755))

	copied, total, err := f.mgr.ProcessCopyQueue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.Equal(t, 2, total)

	assert.True(t, *f.reload(t, good.ID).CopySuccess)
	failed := f.reload(t, bad.ID)
	assert.False(t, *failed.CopySuccess)
	assert.NotNil(t, failed.DateCopied)
	assert.NotEmpty(t, failed.CmdOutput)

	copied, total, err = f.mgr.ProcessCopyQueue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, copied)
	assert.Zero(t, total, "attempted requests are not retried")
}

func TestDeletionEligible(t *testing.T) {
	copied := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	yes, no := true, false

	tests := []struct {
		name string
		c    datastore.UserCopy
		now  time.Time
		want bool
	}{
		{"never copied", datastore.UserCopy{DeletionAfter: 1}, copied.AddDate(1, 0, 0), false},
		{"copy failed", datastore.UserCopy{DateCopied: &copied, CopySuccess: &no}, copied.AddDate(1, 0, 0), false},
		{"already deleted", datastore.UserCopy{DateCopied: &copied, CopySuccess: &yes, DateDeleted: &copied}, copied.AddDate(1, 0, 0), false},
		{"retention not over", datastore.UserCopy{DateCopied: &copied, CopySuccess: &yes, DeletionAfter: 7}, copied.AddDate(0, 0, 7), false},
		{"whole days count", datastore.UserCopy{DateCopied: &copied, CopySuccess: &yes, DeletionAfter: 7}, time.Date(2024, 3, 9, 0, 5, 0, 0, time.UTC), true},
		{"zero retention", datastore.UserCopy{DateCopied: &copied, CopySuccess: &yes}, copied.Add(time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeletionEligible(&tt.c, tt.now))
		})
	}

	_, err := DeletionValidFrom(&datastore.UserCopy{})
	assert.ErrorIs(t, err, ErrNotCopied)
}

func TestCleanupUserSpace(t *testing.T) {
	f := newFixture(t)
	f.expectFolderScript("alice")
	c := f.request(t, "alice", true, false)
	ok, err := f.mgr.CopyToUserspace(f.ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	dest := f.mgr.FolderName(c)

	f.now = f.now.AddDate(0, 0, 7)
	deleted, total, err := f.mgr.CleanupUserSpace(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Zero(t, total)
	assert.DirExists(t, dest)

	f.now = f.now.AddDate(0, 0, 1)
	deleted, total, err = f.mgr.CleanupUserSpace(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, total)
	assert.NoDirExists(t, dest)

	saved := f.reload(t, c.ID)
	require.NotNil(t, saved.DeletionSuccess)
	assert.True(t, *saved.DeletionSuccess)
	assert.NotNil(t, saved.DateDeleted)

	changelog, err := os.ReadFile(f.mgr.ChangelogFile(c))
	require.NoError(t, err)
	assert.Contains(t, string(changelog), filepath.Base(dest)+" deleted\n")

	deleted, total, err = f.mgr.CleanupUserSpace(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "deleted copies are not considered again")
	assert.Zero(t, deleted)
}

func TestDeleteUserCopyRechecksEligibility(t *testing.T) {
	f := newFixture(t)
	copied := f.now
	yes := true
	c := &datastore.UserCopy{ID: 99, Username: "alice", Scan: f.scan, DateCopied: &copied, CopySuccess: &yes, DeletionAfter: 30}

	ok, err := f.mgr.DeleteUserCopy(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, c.DeletionSuccess)
}

func TestUsageThresholdExceeded(t *testing.T) {
	dir := t.TempDir()
	exceeded, err := UsageThresholdExceeded(101, dir)
	require.NoError(t, err)
	assert.True(t, exceeded)

	exceeded, err = UsageThresholdExceeded(0, dir)
	require.NoError(t, err)
	assert.False(t, exceeded)

	_, err = UsageThresholdExceeded(50, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
