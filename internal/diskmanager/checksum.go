package diskmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// FileChecksum returns the hex SHA-256 of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.FileError(err, path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.FileError(err, path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
