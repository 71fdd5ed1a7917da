// disk_usage.go - filesystem capacity and directory size accounting

package diskmanager

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// walkConcurrency bounds the number of top level subtrees walked at once.
const walkConcurrency = 4

// entryInfo stats a directory entry; replaced in tests.
var entryInfo = fs.DirEntry.Info

// DiskSpaceInfo holds detailed disk space information.
type DiskSpaceInfo struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64 // available to non-root users
}

// FreePercent is the share of the filesystem still available.
func (d DiskSpaceInfo) FreePercent() float64 {
	if d.TotalBytes == 0 {
		return 0
	}
	return float64(d.FreeBytes) / float64(d.TotalBytes) * 100
}

// GetDetailedDiskUsage returns capacity figures for the filesystem holding path.
func GetDetailedDiskUsage(path string) (DiskSpaceInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskSpaceInfo{}, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryDiskUsage).
			Context("operation", "disk_usage").
			FileContext(path).
			Build()
	}
	return DiskSpaceInfo{TotalBytes: usage.Total, UsedBytes: usage.Used, FreeBytes: usage.Free}, nil
}

// FreeSpace returns the bytes available on the filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	info, err := GetDetailedDiskUsage(path)
	if err != nil {
		return 0, err
	}
	return info.FreeBytes, nil
}

// TreeUsage is the apparent size of a directory tree.
type TreeUsage struct {
	Bytes int64
	Files int64
}

// GiB converts Bytes to binary gigabytes.
func (u TreeUsage) GiB() float64 {
	return float64(u.Bytes) / (1 << 30)
}

// Usage sums file sizes and counts regular files below root. Top level
// directories are walked concurrently. A missing root is an error.
func Usage(ctx context.Context, root string) (TreeUsage, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return TreeUsage{}, walkError(err, root)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var size, files atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(walkConcurrency)

	var statErr error
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if !entry.IsDir() {
			if entry.Type().IsRegular() {
				info, err := entryInfo(entry)
				if err != nil {
					statErr = walkError(err, path)
					break
				}
				size.Add(info.Size())
				files.Add(1)
			}
			continue
		}
		g.Go(func() error {
			return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if !d.Type().IsRegular() {
					return nil
				}
				info, err := entryInfo(d)
				if err != nil {
					return err
				}
				size.Add(info.Size())
				files.Add(1)
				return nil
			})
		})
	}

	if statErr != nil {
		// stop the walkers and let them exit before returning
		cancel()
		_ = g.Wait()
		return TreeUsage{}, statErr
	}
	if err := g.Wait(); err != nil {
		return TreeUsage{}, walkError(err, root)
	}
	return TreeUsage{Bytes: size.Load(), Files: files.Load()}, nil
}

// DirSize returns the total size in bytes below root.
func DirSize(ctx context.Context, root string) (int64, error) {
	u, err := Usage(ctx, root)
	return u.Bytes, err
}

// CountFiles returns the number of regular files below root.
func CountFiles(ctx context.Context, root string) (int64, error) {
	u, err := Usage(ctx, root)
	return u.Files, err
}

func walkError(err error, path string) error {
	return errors.New(err).
		Component("diskmanager").
		Category(errors.CategoryFileIO).
		Context("operation", "walk").
		FileContext(path).
		Build()
}
