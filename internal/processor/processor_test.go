package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
	"github.com/muvis-xrh/xrhms-core/internal/sidecar"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

const (
	datasetName = "20240102_XTH225_1234_pb_XRHA00125"
	xtekContent = "[XTekCT]\nName=scan\nProjections=8\nInputSeparator=_\nInputDigits=4\n"
)

type env struct {
	ctx      context.Context
	store    datastore.Interface
	settings *conf.Settings
	proc     *Processor
	locker   lock.Locker
	mount    string
	raw      *datastore.Share
	online   *datastore.Share
	free     uint64
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(dir, "xrhms.db")
	settings.Lock.Name = "xtek_lock"
	settings.Lock.Timeout = 2 * time.Second
	settings.Lock.Lease = time.Minute
	settings.Lock.PollInterval = 10 * time.Millisecond
	settings.Storage.MountRoot = filepath.Join(dir, "mnt")
	settings.Storage.RawDataRoot = "CTData"
	settings.Storage.AttachmentDir = filepath.Join(dir, "attachments")
	settings.Storage.SampleInfoFile = "SAMPLE_INFO.txt"
	settings.Storage.ExtraFolder = "extra"
	settings.Storage.MetadataDirs = []string{"@eaDir"}

	store, err := datastore.New(settings, quietLogger())
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	e := &env{ctx: ctx, store: store, settings: settings, mount: settings.Storage.MountRoot, free: 1 << 40}
	e.raw = e.share(t, "raw01", datastore.StatusOnline)
	e.online = e.share(t, "online01", datastore.StatusOnline)

	require.NoError(t, store.SaveMachine(ctx, &datastore.Machine{Name: "Nikon XTH225"}))
	sampleType := &datastore.SampleType{Name: "Bone"}
	require.NoError(t, store.SaveSampleType(ctx, sampleType))
	require.NoError(t, store.SaveSample(ctx, &datastore.Sample{
		XrhIDPrefix:  "XRHA",
		XrhIDNumber:  12,
		SampleTypeID: sampleType.ID,
		Species:      "Mus musculus",
		Tissue:       "Femur",
	}))

	registry, err := parser.NewRegistry(parser.NewNikon(store, settings, quietLogger()))
	require.NoError(t, err)
	e.locker = lock.NewDBLocker(store.Gorm(), settings.Lock.Lease, settings.Lock.PollInterval, quietLogger())
	e.proc = New(store, registry, e.locker, settings, quietLogger(),
		WithFreeSpace(func(string) (uint64, error) { return e.free, nil }))
	return e
}

func (e *env) share(t *testing.T, name string, status datastore.DatasetStatus) *datastore.Share {
	t.Helper()
	mnt := filepath.Join(e.mount, name)
	require.NoError(t, os.MkdirAll(mnt, 0o755))
	share := &datastore.Share{Name: name, LinuxMntPoint: mnt, DefaultStatus: status}
	require.NoError(t, e.store.SaveShare(e.ctx, share))
	return share
}

// dataset writes <share>/<rel>/<name>.xtekct and returns its path.
func (e *env) dataset(t *testing.T, share *datastore.Share, rel, name string) string {
	t.Helper()
	dir := filepath.Join(share.LinuxMntPoint, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+".xtekct")
	require.NoError(t, os.WriteFile(path, []byte(xtekContent), 0o644))
	return path
}

func (e *env) count(t *testing.T, status datastore.DatasetStatus) int64 {
	t.Helper()
	n, err := e.store.CountScansByStatus(e.ctx, status)
	require.NoError(t, err)
	return n
}

func (e *env) lookup(t *testing.T, file string) *datastore.Scan {
	t.Helper()
	key, err := sidecar.ReadKey(sidecar.Path(file))
	require.NoError(t, err)
	scan, err := e.store.GetScan(e.ctx, key)
	require.NoError(t, err)
	require.NotNil(t, scan)
	return scan
}

func TestProcessDirectoryIngests(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/"+datasetName, datasetName)

	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)

	scan := e.lookup(t, file)
	assert.Equal(t, e.raw.ID, scan.ShareID)
	assert.Equal(t, "proj/"+datasetName, scan.Path)
	assert.Equal(t, datasetName+".xtekct", scan.Filename)
	assert.Equal(t, "pb", scan.Operator)
	assert.Equal(t, datastore.StatusOnline, scan.DatasetStatus)
	require.NotNil(t, scan.ScannerID)
	require.NotNil(t, scan.SampleID)
	assert.Nil(t, scan.BugID, "unknown bug is not linked")
	require.NotNil(t, scan.ScanDate)
	assert.Equal(t, "2024-01-02", scan.ScanDate.Format(time.DateOnly))
	assert.NotEmpty(t, scan.Checksum)

	info, err := os.ReadFile(filepath.Join(filepath.Dir(file), "SAMPLE_INFO.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "XRH ID:\t\tXRHA00125\r\n")
	assert.Contains(t, string(info), "Species:\tMus musculus\r\n")
	assert.Contains(t, string(info), "Sample type:\tBone\r\n")

	ok, err = e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.count(t, datastore.StatusOnline), "second pass creates nothing")
	assert.Equal(t, scan.Checksum, e.lookup(t, file).Checksum)
}

func TestProcessDirectoryIdempotent(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(file), datasetName+".ang"), []byte("0 0.0\n"), 0o644))

	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)
	before := e.lookup(t, file)
	attachmentsBefore, err := e.store.ScanAttachments(e.ctx, before.ID)
	require.NoError(t, err)
	require.Len(t, attachmentsBefore, 1)
	sidecarBefore, err := os.Stat(sidecar.Path(file))
	require.NoError(t, err)

	// updated timestamps have to be able to move between passes
	time.Sleep(20 * time.Millisecond)

	ok, err = e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)

	after := e.lookup(t, file)
	assert.True(t, before.Updated.Equal(after.Updated), "record not saved again")
	assert.True(t, before.DatasetStatusLastUpdated.Equal(after.DatasetStatusLastUpdated))
	assert.Equal(t, before.Checksum, after.Checksum)

	attachmentsAfter, err := e.store.ScanAttachments(e.ctx, after.ID)
	require.NoError(t, err)
	require.Len(t, attachmentsAfter, 1)
	assert.Equal(t, attachmentsBefore[0].ID, attachmentsAfter[0].ID)
	assert.True(t, attachmentsBefore[0].Uploaded.Equal(attachmentsAfter[0].Uploaded), "attachment not copied again")

	sidecarAfter, err := os.Stat(sidecar.Path(file))
	require.NoError(t, err)
	assert.Equal(t, sidecarBefore.ModTime(), sidecarAfter.ModTime(), "sidecar not rewritten")
}

func TestProcessDirectoryChangedContent(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)

	_, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	before := e.lookup(t, file)

	require.NoError(t, os.WriteFile(file, []byte(xtekContent+"VoxelsX=512\n"), 0o644))
	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)

	after := e.lookup(t, file)
	assert.Equal(t, before.ID, after.ID)
	assert.NotEqual(t, before.Checksum, after.Checksum)
	require.NotNil(t, after.Nikon)
	assert.Equal(t, 512, after.Nikon.VoxelsX)
}

func TestProcessDirectoryFollowsMovedDataset(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)
	_, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	original := e.lookup(t, file)

	require.NoError(t, os.MkdirAll(filepath.Join(e.raw.LinuxMntPoint, "other"), 0o755))
	require.NoError(t, os.Rename(filepath.Join(e.raw.LinuxMntPoint, "proj", "ds"), filepath.Join(e.raw.LinuxMntPoint, "other", "ds")))

	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)

	moved, err := e.store.GetScan(e.ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "other/ds", moved.Path)
	assert.Equal(t, int64(1), e.count(t, datastore.StatusOnline))
}

func TestProcessDirectoryDoesNotForkCopies(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)
	_, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	original := e.lookup(t, file)

	copyDir := filepath.Join(e.raw.LinuxMntPoint, "copy")
	require.NoError(t, os.MkdirAll(copyDir, 0o755))
	for _, src := range []string{file, sidecar.Path(file)} {
		data, err := os.ReadFile(src)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(copyDir, filepath.Base(src)), data, 0o644))
	}

	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(1), e.count(t, datastore.StatusOnline))
	kept, err := e.store.GetScan(e.ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "proj/ds", kept.Path)
}

func TestProcessDirectoryCopyDoesNotOverwriteOriginal(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)
	_, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	original := e.lookup(t, file)
	want, err := diskmanager.FileChecksum(file)
	require.NoError(t, err)

	// a copy that was edited afterwards, still carrying the original's sidecar
	copyDir := filepath.Join(e.raw.LinuxMntPoint, "copy")
	require.NoError(t, os.MkdirAll(copyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(copyDir, filepath.Base(file)), []byte(xtekContent+"VoxelsX=512\n"), 0o644))
	data, err := os.ReadFile(sidecar.Path(file))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(copyDir, filepath.Base(sidecar.Path(file))), data, 0o644))

	for range 2 {
		ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
		require.NoError(t, err)
		require.True(t, ok)

		kept, err := e.store.GetScan(e.ctx, original.ID)
		require.NoError(t, err)
		assert.Equal(t, "proj/ds", kept.Path)
		assert.Equal(t, want, kept.Checksum)
		require.NotNil(t, kept.Nikon)
		assert.Zero(t, kept.Nikon.VoxelsX)
		assert.True(t, original.Updated.Equal(kept.Updated), "original record left alone")
	}
	assert.Equal(t, int64(1), e.count(t, datastore.StatusOnline))
}

func TestProcessDirectoryRecreatesMissingSidecar(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)
	_, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	original := e.lookup(t, file)

	require.NoError(t, os.Remove(sidecar.Path(file)))
	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, original.ID, e.lookup(t, file).ID)

	require.NoError(t, os.WriteFile(sidecar.Path(file), []byte("{not json"), 0o644))
	ok, err = e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	require.True(t, ok, "corrupt sidecar falls back to the location")
	assert.Equal(t, original.ID, e.lookup(t, file).ID)
}

func TestProcessDirectoryPartialFailure(t *testing.T) {
	e := newEnv(t)
	for i := range 9 {
		name := datasetName + "_part" + string(rune('a'+i))
		e.dataset(t, e.raw, "proj/"+name, name)
	}
	e.dataset(t, e.raw, "proj/broken", "not_a_dataset")

	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(9), e.count(t, datastore.StatusOnline))
}

func TestProcessDirectoryErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.proc.ProcessDirectory(e.ctx, filepath.Join(e.mount, "nope"))
	assert.ErrorIs(t, err, ErrNotFound)

	e.dataset(t, e.raw, "proj/ds", datasetName)
	guard, err := e.locker.Acquire(e.ctx, e.settings.Lock.Name, time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, guard.Release(e.ctx)) }()

	e.settings.Lock.Timeout = 50 * time.Millisecond
	ok, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), e.count(t, datastore.StatusOnline), "nothing processed without the lock")
}

func TestLookupDataset(t *testing.T) {
	e := newEnv(t)
	file := e.dataset(t, e.raw, "proj/ds", datasetName)
	_, err := e.proc.ProcessDirectory(e.ctx, e.raw.LinuxMntPoint)
	require.NoError(t, err)
	want := e.lookup(t, file)

	require.NoError(t, os.Remove(sidecar.Path(file)))
	got, err := e.proc.LookupDataset(e.ctx, file)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.FileExists(t, sidecar.Path(file), "sidecar regenerated")

	unknown := e.dataset(t, e.raw, "proj/other", datasetName+"_new")
	got, err = e.proc.LookupDataset(e.ctx, unknown)
	require.NoError(t, err)
	assert.Nil(t, got)

	files, err := e.proc.ListDatasets(e.raw.LinuxMntPoint)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindParent(t *testing.T) {
	e := newEnv(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	later := day.AddDate(0, 0, 1)

	save := func(name string, date *time.Time) *datastore.Scan {
		scan := &datastore.Scan{ShareID: e.raw.ID, Path: "proj/ds", Filename: name, ScanDate: date}
		require.NoError(t, e.store.SaveScan(e.ctx, scan))
		return scan
	}

	first := save("scan.xtekct", &day)
	child := save("scan_recon2.xtekct", &later)
	linked, err := e.proc.FindParent(e.ctx, child)
	require.NoError(t, err)
	require.True(t, linked)
	assert.Equal(t, first.ID, *child.ParentID)

	linked, err = e.proc.FindParent(e.ctx, first)
	require.NoError(t, err)
	assert.False(t, linked, "newer records are never parents")

	undated := save("scan_undated.xtekct", nil)
	linked, err = e.proc.FindParent(e.ctx, undated)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestFindParentAmbiguous(t *testing.T) {
	e := newEnv(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"a1.xtekct", "a2.xtekct"} {
		require.NoError(t, e.store.SaveScan(e.ctx, &datastore.Scan{ShareID: e.raw.ID, Path: "p", Filename: name, ScanDate: &day}))
	}
	scan := &datastore.Scan{ShareID: e.raw.ID, Path: "p", Filename: "a1_recon.xtekct", ScanDate: &day}
	require.NoError(t, e.store.SaveScan(e.ctx, scan))

	linked, err := e.proc.FindParent(e.ctx, scan)
	require.NoError(t, err)
	assert.False(t, linked)
	assert.Nil(t, scan.ParentID)
}
