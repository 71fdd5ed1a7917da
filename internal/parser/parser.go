// Package parser turns instrument files into dataset records. Each format
// implements DatasetParser; a Registry maps file extensions to parsers.
package parser

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/sidecar"
)

var (
	// ErrInvalidPath is returned by ListFiles for a missing directory.
	ErrInvalidPath = errors.NewStd("path must exist")
	// ErrUnknownFormat is returned by Registry.Lookup.
	ErrUnknownFormat = errors.NewStd("unknown dataset format")
	// ErrIgnore marks a file that is deliberately not a dataset.
	ErrIgnore = errors.NewStd("file ignored")
)

// DatasetParser handles one family of instrument files.
type DatasetParser interface {
	Extensions() []string
	ScanType() string
	// ListFiles walks dir recursively for files this parser owns.
	ListFiles(dir string) ([]string, error)
	// ProcessFile refreshes scan from the file at path, saves it and writes
	// its sidecar. Calling it twice on an unchanged file changes nothing.
	ProcessFile(ctx context.Context, path string, scan *datastore.Scan) (*datastore.Scan, error)
	// ProcessAssociatedFiles copies sibling files into the attachment store.
	ProcessAssociatedFiles(ctx context.Context, scan *datastore.Scan) error
	CopyRaw(ctx context.Context, scan *datastore.Scan, dst string) (bool, string)
	CopyRecon(ctx context.Context, scan *datastore.Scan, dst string, includeMetadata bool) (bool, string)
}

// Registry maps extensions to parsers. It is not modified after creation.
type Registry struct {
	byExt   map[string]DatasetParser
	parsers []DatasetParser
}

// NewRegistry indexes parsers by extension. Two parsers claiming the same
// extension is an error.
func NewRegistry(parsers ...DatasetParser) (*Registry, error) {
	r := &Registry{byExt: make(map[string]DatasetParser)}
	for _, p := range parsers {
		for _, ext := range p.Extensions() {
			ext = strings.ToLower(ext)
			if _, dup := r.byExt[ext]; dup {
				return nil, errors.Newf("extension %s registered twice", ext).
					Component("parser").
					Category(errors.CategoryConfiguration).
					Build()
			}
			r.byExt[ext] = p
		}
		r.parsers = append(r.parsers, p)
	}
	return r, nil
}

// FromSettings builds the registry of the formats enabled in settings.
func FromSettings(store datastore.Interface, settings *conf.Settings, log logger.Logger) (*Registry, error) {
	var parsers []DatasetParser
	if settings.Parsers.Nikon {
		parsers = append(parsers, NewNikon(store, settings, log))
	}
	if settings.Parsers.VSI {
		parsers = append(parsers, NewVSI(store, settings, log))
	}
	return NewRegistry(parsers...)
}

// Lookup returns the parser owning ext (".xtekct").
func (r *Registry) Lookup(ext string) (DatasetParser, error) {
	if p, ok := r.byExt[strings.ToLower(ext)]; ok {
		return p, nil
	}
	return nil, errors.New(fmt.Errorf("%w: %q", ErrUnknownFormat, ext)).
		Component("parser").
		Category(errors.CategoryValidation).
		Build()
}

// ForFile returns the parser for path's extension.
func (r *Registry) ForFile(path string) (DatasetParser, error) {
	return r.Lookup(filepath.Ext(path))
}

// Parsers returns the parsers in registration order.
func (r *Registry) Parsers() []DatasetParser {
	return slices.Clone(r.parsers)
}

// base carries what every format needs.
type base struct {
	store    datastore.Interface
	settings *conf.Settings
	log      logger.Logger
}

func newBase(store datastore.Interface, settings *conf.Settings, log logger.Logger) base {
	if log == nil {
		log = logger.Global().Module("parser")
	}
	return base{store: store, settings: settings, log: log}
}

// listFiles finds files below dir ending in one of exts. Platform metadata
// folders are not entered; .tif files are skipped unless asked for since
// raw projections outnumber everything else by far.
func (b *base) listFiles(dir string, exts []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.New(fmt.Errorf("%w: %s", ErrInvalidPath, dir)).
			Component("parser").
			Category(errors.CategoryNotFound).
			FileContext(dir).
			Build()
	}
	wantTif := slices.Contains(exts, ".tif")

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && slices.Contains(b.settings.Storage.MetadataDirs, name) {
				return filepath.SkipDir
			}
			return nil
		}
		lower := strings.ToLower(name)
		if strings.HasPrefix(name, ".") || (!wantTif && strings.HasSuffix(lower, ".tif")) {
			return nil
		}
		for _, ext := range exts {
			if strings.HasSuffix(lower, ext) {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("parser").
			Category(errors.CategoryFileIO).
			FileContext(dir).
			Build()
	}

	sort.Strings(files)
	b.log.Debug("listed dataset files", logger.String("dir", dir), logger.Int("count", len(files)))
	return files, nil
}

// ignored reports files living in generated export folders.
func (b *base) ignored(path string) error {
	for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
		if part == b.settings.Storage.ExtraFolder {
			return errors.New(fmt.Errorf("%w: %s is inside an %s folder", ErrIgnore, path, part)).
				Component("parser").
				Category(errors.CategoryValidation).
				Priority(errors.PriorityLow).
				Build()
		}
	}
	return nil
}

func (b *base) save(ctx context.Context, path string, scan *datastore.Scan) error {
	if err := b.store.SaveScan(ctx, scan); err != nil {
		return err
	}
	return sidecar.Write(path, scan.ID)
}

func requireRecord(path string, scan *datastore.Scan) error {
	if scan != nil {
		return nil
	}
	return errors.Newf("no record given for %s", path).
		Component("parser").
		Category(errors.CategoryValidation).
		Build()
}

func parseError(err error, path string) error {
	return errors.New(err).
		Component("parser").
		Category(errors.CategoryFileParsing).
		FileContext(path).
		Build()
}

// stem is the file name without its extension.
func stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
