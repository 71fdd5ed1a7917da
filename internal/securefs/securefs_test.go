package securefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPathWithinBase(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "alice"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(base, "escape")))

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"base itself", base, true},
		{"existing child", filepath.Join(base, "alice"), true},
		{"missing child", filepath.Join(base, "bob", "scan_1"), true},
		{"dot dot", filepath.Join(base, "alice", "..", ".."), false},
		{"sibling prefix", base + "-other", false},
		{"symlink out", filepath.Join(base, "escape"), false},
		{"below symlink out", filepath.Join(base, "escape", "new"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsPathWithinBase(base, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoveAll(t *testing.T) {
	base := t.TempDir()
	folder := filepath.Join(base, "alice", "scan_7")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "recon"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "recon", "slice_0001.tif"), []byte("x"), 0o644))

	require.NoError(t, RemoveAll(base, folder))
	assert.NoDirExists(t, folder)
	assert.DirExists(t, filepath.Join(base, "alice"))

	// already gone
	require.NoError(t, RemoveAll(base, folder))
}

func TestRemoveAllRefuses(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	keep := filepath.Join(outside, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	err := RemoveAll(base, outside)
	require.ErrorIs(t, err, ErrPathTraversal)

	err = RemoveAll(base, base)
	require.ErrorIs(t, err, ErrInvalidPath)

	assert.FileExists(t, keep)
	assert.DirExists(t, base)
}
