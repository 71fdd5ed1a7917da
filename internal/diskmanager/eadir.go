package diskmanager

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// EaDirName is the metadata directory Synology NAS units scatter around.
const EaDirName = "@eaDir"

// FindEaDirs lists every directory below root called one of names,
// @eaDir when none are given.
func FindEaDirs(root string, names ...string) ([]string, error) {
	if len(names) == 0 {
		names = []string{EaDirName}
	}
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && slices.Contains(names, d.Name()) {
			found = append(found, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, walkError(err, root)
	}
	return found, nil
}

// RemoveEaDirs deletes what FindEaDirs finds and returns how many remain.
func RemoveEaDirs(root string, names ...string) (int, error) {
	dirs, err := FindEaDirs(root, names...)
	if err != nil {
		return 0, err
	}
	for _, dir := range dirs {
		// a failure shows up in the recount
		_ = os.RemoveAll(dir)
	}
	left, err := FindEaDirs(root, names...)
	if err != nil {
		return 0, err
	}
	return len(left), nil
}
