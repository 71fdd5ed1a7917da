package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// maxStatementLen caps the SQL text attached to a log record. Batch
// upserts of dataset records can run to many kilobytes.
const maxStatementLen = 2048

// SQLLogger routes gorm's output into a module logger. Statements are
// logged at TRACE; failed and slow statements at WARN.
type SQLLogger struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

// NewSQLLogger returns a gorm logger writing to log. slow of zero turns
// off slow statement warnings.
func NewSQLLogger(log Logger, slow time.Duration) *SQLLogger {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &SQLLogger{log: log, slow: slow}
}

// LogMode is a no-op. The datastore module level decides what is shown.
func (s *SQLLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return s }

func (s *SQLLogger) Info(_ context.Context, msg string, args ...any) {
	s.log.Debug(fmt.Sprintf(msg, args...))
}

func (s *SQLLogger) Warn(_ context.Context, msg string, args ...any) {
	s.log.Warn(fmt.Sprintf(msg, args...))
}

func (s *SQLLogger) Error(_ context.Context, msg string, args ...any) {
	s.log.Error(fmt.Sprintf(msg, args...))
}

// Trace records one executed statement. A missing row is a normal lookup
// result here and is not reported as a failure.
func (s *SQLLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	statement, rows := fc()
	fields := []Field{
		String("statement", truncateStatement(statement)),
		Int64("rows", rows),
		Int64("elapsed_ms", elapsed.Milliseconds()),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("statement failed", append(fields, Error(err))...)
		return
	}
	if s.slow > 0 && elapsed > s.slow {
		s.log.Warn("slow statement", append(fields, Duration("slow_after", s.slow))...)
		return
	}
	s.log.Trace("statement", fields...)
}

func truncateStatement(statement string) string {
	if len(statement) <= maxStatementLen {
		return statement
	}
	return fmt.Sprintf("%s... (%d bytes)", statement[:maxStatementLen], len(statement))
}
