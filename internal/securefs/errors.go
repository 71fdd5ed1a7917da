// Package securefs keeps destructive filesystem operations inside a base
// directory.
package securefs

import (
	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// Sentinel errors for the securefs package.
var (
	// ErrPathTraversal indicates a path that resolves outside the base directory.
	ErrPathTraversal = errors.NewStd("security error: path attempts to traverse outside base directory")

	// ErrInvalidPath indicates a path that may not be operated on, such as the base itself.
	ErrInvalidPath = errors.NewStd("security error: invalid path specification")
)
