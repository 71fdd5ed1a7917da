package lock

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func verifyNoLeaks(t *testing.T) {
	t.Helper()
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "lock.db")

	store, err := datastore.New(settings, quietLogger())
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store.Gorm()
}

func TestDBLockerExclusive(t *testing.T) {
	defer verifyNoLeaks(t)
	ctx := context.Background()
	db := openDB(t)

	first := NewDBLocker(db, time.Minute, 20*time.Millisecond, quietLogger())
	second := NewDBLocker(db, time.Minute, 20*time.Millisecond, quietLogger())

	guard, err := first.Acquire(ctx, "xtek_lock", time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = second.Acquire(ctx, "xtek_lock", 150*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "waited before giving up")

	other, err := second.Acquire(ctx, "other_lock", time.Second)
	require.NoError(t, err, "names are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, guard.Release(ctx))
	require.NoError(t, guard.Release(ctx), "second release is a no-op")

	again, err := second.Acquire(ctx, "xtek_lock", time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestDBLockerWaitsForRelease(t *testing.T) {
	defer verifyNoLeaks(t)
	ctx := context.Background()
	db := openDB(t)
	locker := NewDBLocker(db, time.Minute, 10*time.Millisecond, quietLogger())

	guard, err := locker.Acquire(ctx, "xtek_lock", time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var acquired atomic.Bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		g, err := locker.Acquire(ctx, "xtek_lock", 2*time.Second)
		if err == nil {
			acquired.Store(true)
			_ = g.Release(ctx)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load())
	require.NoError(t, guard.Release(ctx))
	wg.Wait()
	assert.True(t, acquired.Load())
}

func TestDBLockerTakesOverExpiredLock(t *testing.T) {
	defer verifyNoLeaks(t)
	ctx := context.Background()
	db := openDB(t)

	stale := NewDBLocker(db, 0, 10*time.Millisecond, quietLogger())
	stale.now = func() time.Time { return time.Now().Add(-time.Hour) }
	abandoned, err := stale.Acquire(ctx, "xtek_lock", time.Second)
	require.NoError(t, err)

	fresh := NewDBLocker(db, time.Minute, 10*time.Millisecond, quietLogger())
	guard, err := fresh.Acquire(ctx, "xtek_lock", 200*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, abandoned.Release(ctx), "old holder must not remove the new owner's row")
	var row datastore.AppLock
	require.NoError(t, db.First(&row, "name = ?", "xtek_lock").Error)

	require.NoError(t, guard.Release(ctx))
}

func TestRunReleasesLock(t *testing.T) {
	defer verifyNoLeaks(t)
	ctx := context.Background()
	db := openDB(t)
	locker := NewDBLocker(db, time.Minute, 10*time.Millisecond, quietLogger())

	jobErr := errors.NewStd("job failed")
	err := Run(ctx, locker, "xtek_lock", time.Second, func() error { return jobErr })
	assert.ErrorIs(t, err, jobErr)

	ran := false
	require.NoError(t, Run(ctx, locker, "xtek_lock", 100*time.Millisecond, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestNewSelectsBackend(t *testing.T) {
	db := openDB(t)
	settings, err := conf.DefaultSettings()
	require.NoError(t, err)
	settings.Lock.Backend = "auto"

	l, err := New(settings, db, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &DBLocker{}, l)

	settings.Lock.Backend = "zookeeper"
	_, err = New(settings, db, quietLogger())
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
