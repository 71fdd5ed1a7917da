// Package lock provides the named cross-process lock that serialises every
// job touching the dataset tree or the dataset table.
package lock

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// ErrUnavailable is returned when the lock could not be taken in time.
var ErrUnavailable = errors.NewStd("lock unavailable")

// Guard is a held lock.
type Guard interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks. Acquire blocks for at most timeout.
type Locker interface {
	Acquire(ctx context.Context, name string, timeout time.Duration) (Guard, error)
}

// New picks the backend for the store's dialect. "auto" uses GET_LOCK on
// mysql and the app_locks row everywhere else.
func New(settings *conf.Settings, db *gorm.DB, log logger.Logger) (Locker, error) {
	if log == nil {
		log = logger.Global().Module("lock")
	}

	backend := settings.Lock.Backend
	if backend == "" || backend == "auto" {
		backend = "row"
		if db.Dialector.Name() == "mysql" {
			backend = "mysql"
		}
	}

	switch backend {
	case "mysql":
		return NewMySQLLocker(db, log)
	case "row":
		return NewDBLocker(db, settings.Lock.Lease, settings.Lock.PollInterval, log), nil
	default:
		return nil, errors.Newf("unknown lock backend %q", backend).
			Component("lock").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Run holds the lock while fn runs. ErrUnavailable is returned untouched
// so callers can tell a busy lock from a failed job.
func Run(ctx context.Context, l Locker, name string, timeout time.Duration, fn func() error) (err error) {
	guard, err := l.Acquire(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer func() {
		// the job may have outlived ctx
		if relErr := guard.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}

func unavailable(name string, timeout time.Duration) error {
	return errors.New(fmt.Errorf("%w: %s not acquired within %s", ErrUnavailable, name, timeout)).
		Component("lock").
		Category(errors.CategoryTimeout).
		Priority(errors.PriorityMedium).
		Context("lock", name).
		Build()
}

func lockError(err error, operation, name string) error {
	return errors.New(err).
		Component("lock").
		Category(errors.CategoryLock).
		Context("operation", operation).
		Context("lock", name).
		Build()
}
