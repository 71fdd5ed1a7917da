// Package datastore provides error handling helpers for database operations
package datastore

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.NewStd("duplicate record")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// dbError creates a properly categorized database error with context
func dbError(err error, operation string, context ...any) error {
	if isDuplicateKey(err) {
		return conflictError(err, operation, context...)
	}

	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority := priorityFor(err); priority != "" {
		builder = builder.Priority(priority)
	}
	return withPairs(builder, context).Build()
}

// conflictError wraps a unique constraint violation so callers can test for ErrDuplicate.
func conflictError(err error, operation string, context ...any) error {
	builder := errors.New(fmt.Errorf("%w: %w", ErrDuplicate, err)).
		Component("datastore").
		Category(errors.CategoryConflict).
		Priority(errors.PriorityMedium).
		Context("operation", operation)
	return withPairs(builder, context).Build()
}

// validationError creates a validation error for arguments rejected before hitting the database
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

func withPairs(builder *errors.ErrorBuilder, context []any) *errors.ErrorBuilder {
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder
}

// priorityFor escalates storage exhaustion and corruption.
func priorityFor(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "disk full"), strings.Contains(msg, "no space"):
		return errors.PriorityCritical
	case strings.Contains(msg, "deadlock"), strings.Contains(msg, "corrupt"), strings.Contains(msg, "malformed"):
		return errors.PriorityHigh
	default:
		return ""
	}
}

// isDuplicateKey recognises unique violations from every supported driver.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps gorm.ErrRecordNotFound to a nil result.
func notFound(err error) bool {
	return stderrors.Is(err, gorm.ErrRecordNotFound)
}
