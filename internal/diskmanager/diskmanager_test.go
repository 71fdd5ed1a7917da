package diskmanager

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileChecksum(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hello.txt")
	writeFile(t, path, "hello")

	sum, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = FileChecksum(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestUsage(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.txt"), "12345")
	writeFile(t, filepath.Join(root, "a", "one.txt"), "1")
	writeFile(t, filepath.Join(root, "a", "deep", "two.txt"), "22")
	writeFile(t, filepath.Join(root, "b", "three.txt"), "333")

	u, err := Usage(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, int64(11), u.Bytes)
	assert.Equal(t, int64(4), u.Files)

	_, err = Usage(context.Background(), filepath.Join(root, "nope"))
	assert.Error(t, err)
}

func TestUsageStatFailureWaitsForWalkers(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, filepath.Join(root, dir, "deep", "slice.tif"), "x")
	}
	writeFile(t, filepath.Join(root, "z.txt"), "z")

	entryInfo = func(d fs.DirEntry) (fs.FileInfo, error) {
		if d.Name() == "z.txt" {
			return nil, fs.ErrPermission
		}
		return d.Info()
	}
	t.Cleanup(func() { entryInfo = fs.DirEntry.Info })

	_, err := Usage(context.Background(), root)
	require.ErrorIs(t, err, fs.ErrPermission)
	goleak.VerifyNone(t)
}

func TestGetDetailedDiskUsage(t *testing.T) {
	t.Parallel()
	info, err := GetDetailedDiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, info.TotalBytes)
	assert.LessOrEqual(t, info.FreeBytes, info.TotalBytes)
	assert.InDelta(t, 50, info.FreePercent(), 50)
}

func TestCopyTreeSkip(t *testing.T) {
	t.Parallel()
	src := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(src, "keep.txt"), "k")
	writeFile(t, filepath.Join(src, "sub", "keep.tif"), "t")
	writeFile(t, filepath.Join(src, "skipme", "x.txt"), "x")
	dst := filepath.Join(t.TempDir(), "dst")

	n, err := CopyTree(src, dst, func(rel string, d fs.DirEntry) bool {
		return d.IsDir() && rel == "skipme"
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.FileExists(t, filepath.Join(dst, "sub", "keep.tif"))
	assert.NoDirExists(t, filepath.Join(dst, "skipme"))

	_, err = CopyTree(src, dst, nil)
	assert.Error(t, err, "existing destination")
}

func TestMoveTree(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	src := filepath.Join(root, "proj")
	writeFile(t, filepath.Join(src, "scan", "scan.xtekct"), "ini")
	dst := filepath.Join(root, "archive", "proj")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	require.NoError(t, MoveTree(context.Background(), src, dst))
	assert.NoDirExists(t, src)
	assert.FileExists(t, filepath.Join(dst, "scan", "scan.xtekct"))

	err := MoveTree(context.Background(), src, filepath.Join(root, "elsewhere"))
	assert.Error(t, err)
}

func TestRemoveEaDirs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, EaDirName, "thumb.jpg"), "x")
	writeFile(t, filepath.Join(root, "scan", EaDirName, "SYNO"), "x")
	writeFile(t, filepath.Join(root, "scan", "scan.vsi"), "x")

	dirs, err := FindEaDirs(root)
	require.NoError(t, err)
	assert.Len(t, dirs, 2)

	left, err := RemoveEaDirs(root)
	require.NoError(t, err)
	assert.Zero(t, left)
	assert.FileExists(t, filepath.Join(root, "scan", "scan.vsi"))
}
