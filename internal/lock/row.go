package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// DBLocker is a compare-and-set lock on the app_locks table. A row is free
// when absent or expired. Holders extend the expiry until released.
type DBLocker struct {
	db    *gorm.DB
	lease time.Duration
	poll  time.Duration
	log   logger.Logger
	now   func() time.Time
}

func NewDBLocker(db *gorm.DB, lease, poll time.Duration, log logger.Logger) *DBLocker {
	if poll <= 0 {
		poll = time.Second
	}
	return &DBLocker{db: db, lease: lease, poll: poll, log: log, now: time.Now}
}

func (l *DBLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (Guard, error) {
	owner := uuid.NewString()
	hold := timeout + l.lease

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(l.poll), 1)
	start := time.Now()
	for {
		ok, err := l.tryAcquire(waitCtx, name, owner, hold)
		if err != nil && waitCtx.Err() == nil {
			return nil, lockError(err, "acquire", name)
		}
		if ok {
			l.log.Debug("lock acquired",
				logger.String("lock", name),
				logger.String("owner", owner),
				logger.Duration("waited", time.Since(start)))
			return l.newGuard(name, owner, hold), nil
		}
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return nil, lockError(ctx.Err(), "acquire", name)
			}
			l.log.Warn("lock busy", logger.String("lock", name), logger.Duration("timeout", timeout))
			return nil, unavailable(name, timeout)
		}
	}
}

func (l *DBLocker) tryAcquire(ctx context.Context, name, owner string, hold time.Duration) (bool, error) {
	now := l.now()
	expires := now.Add(hold)

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&datastore.AppLock{Name: name, Owner: owner, ExpiresAt: expires})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = l.db.WithContext(ctx).
		Model(&datastore.AppLock{}).
		Where("name = ? AND (expires_at < ? OR owner = ?)", name, now, owner).
		Updates(map[string]any{"owner": owner, "expires_at": expires})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (l *DBLocker) newGuard(name, owner string, hold time.Duration) *rowGuard {
	g := &rowGuard{locker: l, name: name, owner: owner, stop: make(chan struct{})}
	g.wg.Add(1)
	go g.renew(hold)
	return g
}

type rowGuard struct {
	locker *DBLocker
	name   string
	owner  string
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// renew pushes the expiry forward while the guard is held.
func (g *rowGuard) renew(hold time.Duration) {
	defer g.wg.Done()
	interval := hold / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			res := g.locker.db.Model(&datastore.AppLock{}).
				Where("name = ? AND owner = ?", g.name, g.owner).
				Update("expires_at", g.locker.now().Add(hold))
			if res.Error != nil || res.RowsAffected == 0 {
				g.locker.log.Error("lock renewal failed",
					logger.String("lock", g.name),
					logger.Int64("rows", res.RowsAffected),
					logger.Error(res.Error))
			}
		}
	}
}

func (g *rowGuard) Release(ctx context.Context) error {
	var err error
	g.once.Do(func() {
		close(g.stop)
		g.wg.Wait()
		res := g.locker.db.WithContext(ctx).
			Where("name = ? AND owner = ?", g.name, g.owner).
			Delete(&datastore.AppLock{})
		if res.Error != nil {
			err = lockError(res.Error, "release", g.name)
			return
		}
		if res.RowsAffected == 0 {
			g.locker.log.Warn("lock was taken over before release", logger.String("lock", g.name))
		}
		g.locker.log.Debug("lock released", logger.String("lock", g.name))
	})
	return err
}
