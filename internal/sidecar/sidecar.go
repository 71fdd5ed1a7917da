// Package sidecar manages the hidden marker files that pin a dataset file to
// its database record across moves and copies.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// Suffix is appended to the hidden copy of the dataset file name.
const Suffix = ".xrhms"

var (
	ErrNotFound = errors.NewStd("sidecar not found")
	ErrCorrupt  = errors.NewStd("sidecar corrupt")
)

// Status is the outcome of comparing a sidecar against a record.
type Status int

const (
	StatusOK Status = iota
	StatusMoved
	StatusCopied
	StatusMissing
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusMoved:
		return "MOVED"
	case StatusCopied:
		return "COPIED"
	case StatusMissing:
		return "MISSING"
	case StatusInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type content struct {
	PK *uint `json:"pk"`
}

// Scans is the lookup Load needs.
type Scans interface {
	GetScan(ctx context.Context, id uint) (*datastore.Scan, error)
}

// Path returns the sidecar path of filePath.
func Path(filePath string) string {
	return filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath)+Suffix)
}

// Write stores key in the sidecar of filePath, replacing any previous one.
// Readers never observe a partially written file.
func Write(filePath string, key uint) error {
	target := Path(filePath)
	data, err := json.Marshal(content{PK: &key})
	if err != nil {
		return ioError(err, "marshal", target)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return ioError(err, "create_temp", target)
	}
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioError(err, "write", target)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ioError(err, "sync", target)
	}
	if err := tmp.Close(); err != nil {
		return ioError(err, "close", target)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return ioError(err, "rename", target)
	}
	return nil
}

// ReadKey returns the record key stored in sidecarPath.
func ReadKey(sidecarPath string) (uint, error) {
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.New(fmt.Errorf("%w: %s", ErrNotFound, sidecarPath)).
				Component("sidecar").
				Category(errors.CategoryNotFound).
				Priority(errors.PriorityLow).
				FileContext(sidecarPath).
				Build()
		}
		return 0, ioError(err, "read", sidecarPath)
	}

	var c content
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, corrupt(sidecarPath, err.Error())
	}
	if c.PK == nil {
		return 0, corrupt(sidecarPath, "no pk")
	}
	return *c.PK, nil
}

// Load resolves the sidecar to its record. A key whose record has gone is
// reported as ErrCorrupt.
func Load(ctx context.Context, store Scans, sidecarPath string) (*datastore.Scan, error) {
	key, err := ReadKey(sidecarPath)
	if err != nil {
		return nil, err
	}
	scan, err := store.GetScan(ctx, key)
	if err != nil {
		return nil, err
	}
	if scan == nil {
		return nil, corrupt(sidecarPath, fmt.Sprintf("record %d does not exist", key))
	}
	return scan, nil
}

// Classify compares record, recorded at recordFullPath, with the dataset
// file found at actualPath. Nothing is modified.
func Classify(record *datastore.Scan, recordFullPath, actualPath string) Status {
	if filepath.Clean(recordFullPath) != filepath.Clean(actualPath) {
		if _, err := os.Stat(recordFullPath); err == nil {
			return StatusCopied
		}
		return StatusMoved
	}

	key, err := ReadKey(Path(actualPath))
	switch {
	case errors.Is(err, ErrNotFound):
		return StatusMissing
	case err != nil:
		return StatusInvalid
	case record == nil || key != record.ID:
		return StatusInvalid
	default:
		return StatusOK
	}
}

func corrupt(path, reason string) error {
	return errors.New(fmt.Errorf("%w: %s: %s", ErrCorrupt, path, reason)).
		Component("sidecar").
		Category(errors.CategoryFileParsing).
		FileContext(path).
		Build()
}

func ioError(err error, operation, path string) error {
	return errors.New(err).
		Component("sidecar").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		FileContext(path).
		Build()
}
