package securefs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// GetLogger returns the securefs package logger scoped to the securefs module.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

// resolveSymlinks resolves symlinks of path, falling back to the deepest
// existing parent when path does not exist yet.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir, rest := filepath.Dir(path), filepath.Base(path)
	for dir != "/" && dir != "." && dir != "" {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = filepath.Dir(dir)
	}
	return path
}

// isPathPrefix checks if target is within or equal to base
func isPathPrefix(absBase, absTarget string) bool {
	return strings.HasPrefix(absTarget, absBase+string(filepath.Separator)) || absTarget == absBase
}

// IsPathWithinBase checks if targetPath is within or equal to basePath once
// both are made absolute and symlinks are resolved.
func IsPathWithinBase(basePath, targetPath string) (bool, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return false, fmt.Errorf("failed to resolve base path: %w", err)
	}
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false, fmt.Errorf("failed to resolve target path: %w", err)
	}

	absBase = filepath.Clean(resolveSymlinks(absBase))
	absTarget = filepath.Clean(resolveSymlinks(absTarget))
	return isPathPrefix(absBase, absTarget), nil
}

// IsPathValidWithinBase returns ErrPathTraversal when path escapes baseDir.
func IsPathValidWithinBase(baseDir, path string) error {
	within, err := IsPathWithinBase(baseDir, path)
	if err != nil {
		return fmt.Errorf("path validation error: %w", err)
	}
	if !within {
		return errors.New(fmt.Errorf("%w: path %s is outside allowed directory %s",
			ErrPathTraversal, path, baseDir)).
			Component("securefs").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// RemoveAll removes path and everything below it through an os.Root opened
// on baseDir, so neither the path nor a symlink inside it can reach outside.
// Removing baseDir itself is refused.
func RemoveAll(baseDir, path string) error {
	if err := IsPathValidWithinBase(baseDir, path); err != nil {
		return err
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve target path: %w", err)
	}
	rel, err := filepath.Rel(resolveSymlinks(absBase), resolveSymlinks(absPath))
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return errors.New(fmt.Errorf("%w: refusing to remove %s", ErrInvalidPath, path)).
			Component("securefs").
			Category(errors.CategoryValidation).
			Build()
	}

	root, err := os.OpenRoot(absBase)
	if err != nil {
		return errors.FileError(err, absBase)
	}
	defer root.Close()

	GetLogger().Debug("removing tree", logger.String("base", absBase), logger.String("path", rel))
	if err := root.RemoveAll(rel); err != nil {
		return errors.FileError(err, path)
	}
	return nil
}
