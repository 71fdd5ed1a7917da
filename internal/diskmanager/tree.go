package diskmanager

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// ErrCopyIncomplete is returned when a cross-device copy lost files.
var ErrCopyIncomplete = errors.NewStd("copied tree is incomplete")

// CopyFile copies src to dst, creating parent directories. Permissions and
// modification time are kept.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.FileError(err, src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.FileError(err, src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.FileError(err, dst)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return errors.FileError(err, dst)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.FileError(cerr, dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return errors.FileError(err, dst)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return errors.FileError(err, dst)
	}
	return nil
}

// CopyTree copies the directory src to dst. dst must not exist yet; skip,
// when set, filters entries by their path relative to src.
func CopyTree(src, dst string, skip func(rel string, d fs.DirEntry) bool) (int64, error) {
	if _, err := os.Stat(dst); err == nil {
		return 0, errors.New(fmt.Errorf("destination %s already exists", dst)).
			Component("diskmanager").
			Category(errors.CategoryConflict).
			Build()
	}

	var copied int64
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && skip != nil && skip(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			if err := CopyFile(path, target); err != nil {
				return err
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return copied, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("operation", "copy_tree").
			Context("source", src).
			Context("destination", dst).
			Build()
	}
	return copied, nil
}

// MoveTree renames src to dst. Across filesystems the tree is copied, the
// file count compared, and only then the source removed.
func MoveTree(ctx context.Context, src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return moveError(err, src, dst)
	}

	before, err := CountFiles(ctx, src)
	if err != nil {
		return moveError(err, src, dst)
	}
	if _, err := CopyTree(src, dst, nil); err != nil {
		return moveError(err, src, dst)
	}
	after, err := CountFiles(ctx, dst)
	if err != nil {
		return moveError(err, src, dst)
	}
	if before != after {
		return moveError(fmt.Errorf("%w: %d of %d files", ErrCopyIncomplete, after, before), src, dst)
	}
	if err := os.RemoveAll(src); err != nil {
		return moveError(err, src, dst)
	}
	return nil
}

func moveError(err error, src, dst string) error {
	return errors.New(err).
		Component("diskmanager").
		Category(errors.CategoryMove).
		Priority(errors.PriorityHigh).
		Context("source", src).
		Context("destination", dst).
		Build()
}
