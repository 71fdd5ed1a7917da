package lock

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// MySQLLocker uses GET_LOCK. The lock belongs to a session, so the guard
// keeps its own connection until released.
type MySQLLocker struct {
	db  *sql.DB
	log logger.Logger
}

func NewMySQLLocker(db *gorm.DB, log logger.Logger) (*MySQLLocker, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, lockError(err, "connection", "")
	}
	return &MySQLLocker{db: sqlDB, log: log}, nil
}

func (l *MySQLLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (Guard, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, lockError(err, "connection", name)
	}

	seconds := int(math.Ceil(timeout.Seconds()))
	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, seconds).Scan(&result); err != nil {
		conn.Close()
		return nil, lockError(err, "get_lock", name)
	}

	switch {
	case !result.Valid:
		conn.Close()
		return nil, lockError(fmt.Errorf("GET_LOCK(%s) returned NULL", name), "get_lock", name)
	case result.Int64 != 1:
		conn.Close()
		l.log.Warn("lock busy", logger.String("lock", name), logger.Duration("timeout", timeout))
		return nil, unavailable(name, timeout)
	}

	l.log.Debug("lock acquired", logger.String("lock", name))
	return &sessionGuard{conn: conn, name: name, log: l.log}, nil
}

type sessionGuard struct {
	conn *sql.Conn
	name string
	log  logger.Logger
}

func (g *sessionGuard) Release(ctx context.Context) error {
	if g.conn == nil {
		return nil
	}
	defer func() {
		g.conn.Close()
		g.conn = nil
	}()

	var released sql.NullInt64
	if err := g.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", g.name).Scan(&released); err != nil {
		return lockError(err, "release_lock", g.name)
	}
	if released.Int64 != 1 {
		g.log.Warn("lock was not held at release", logger.String("lock", g.name))
	}
	g.log.Debug("lock released", logger.String("lock", g.name))
	return nil
}
