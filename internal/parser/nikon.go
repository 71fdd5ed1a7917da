package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-ini/ini"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// xtek section names
const (
	sectionCT      = "XTekCT"
	sectionHelix   = "XTekHelixCT"
	sectionCTPro   = "CTPro"
	sectionXrays   = "Xrays"
	sectionDICOM   = "DICOM"
	sectionScatter = "ScatterCorrection"
)

const helixExt = ".xtekhelixct"

// Nikon parses Nikon CT Pro .xtekct and .xtekhelixct files.
type Nikon struct {
	base
}

func NewNikon(store datastore.Interface, settings *conf.Settings, log logger.Logger) *Nikon {
	return &Nikon{base: newBase(store, settings, log)}
}

func (n *Nikon) Extensions() []string { return []string{".xtekct", helixExt} }

func (n *Nikon) ScanType() string { return datastore.ScanTypeNikonCT }

func (n *Nikon) ListFiles(dir string) ([]string, error) {
	return n.listFiles(dir, n.Extensions())
}

// ReadXtek loads the reconstruction parameters from an xtek file.
func ReadXtek(path string) (*datastore.NikonParameters, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
		AllowBooleanKeys:        true,
	}, path)
	if err != nil {
		return nil, parseError(err, path)
	}

	params := &datastore.NikonParameters{Helix: strings.EqualFold(filepath.Ext(path), helixExt)}
	main := sectionCT
	if params.Helix {
		main = sectionHelix
	}
	if !cfg.HasSection(main) {
		return nil, parseError(fmt.Errorf("section [%s] missing", main), path)
	}

	for _, name := range []string{main, sectionCTPro, sectionXrays, sectionDICOM, sectionScatter} {
		if !cfg.HasSection(name) {
			continue
		}
		if err := cfg.Section(name).MapTo(params); err != nil {
			return nil, parseError(fmt.Errorf("section [%s]: %w", name, err), path)
		}
	}
	return params, nil
}

func (n *Nikon) ProcessFile(ctx context.Context, path string, scan *datastore.Scan) (*datastore.Scan, error) {
	if err := requireRecord(path, scan); err != nil {
		return nil, err
	}
	if err := n.ignored(path); err != nil {
		return nil, err
	}

	checksum, err := diskmanager.FileChecksum(path)
	if err != nil {
		return nil, err
	}
	params, err := ReadXtek(path)
	if err != nil {
		return nil, err
	}
	if scan.Nikon != nil {
		params.ID = scan.Nikon.ID
		params.ScanID = scan.Nikon.ScanID
	}

	scan.ScanType = datastore.ScanTypeNikonCT
	scan.Name = stem(path)
	scan.Nikon = params
	scan.SrcToObject = params.SrcToObject
	scan.SrcToDetector = params.SrcToDetector
	scan.DetectorPixelsX = params.DetectorPixelsX
	scan.DetectorPixelsY = params.DetectorPixelsY
	scan.DetectorPixelSizeX = params.DetectorPixelSizeX
	scan.DetectorPixelSizeY = params.DetectorPixelSizeY
	scan.XrayKV = params.XrayKV
	scan.XrayUA = params.XrayUA
	scan.Projections = params.Projections
	scan.InitialAngle = params.InitialAngle

	changed := scan.Checksum != checksum
	if changed {
		n.log.Info("dataset content changed",
			logger.String("path", path),
			logger.String("old_checksum", scan.Checksum),
			logger.String("checksum", checksum))
		scan.Checksum = checksum
		scan.Projection0Deg, scan.Projection0DegPNG = "", ""
		scan.Projection90Deg, scan.Projection90DegPNG = "", ""
	}

	if err := n.save(ctx, path, scan); err != nil {
		return nil, err
	}

	if changed && n.settings.Parsers.Thumbnails {
		n.projections(path, scan)
		if err := n.store.SaveScan(ctx, scan); err != nil {
			return nil, err
		}
	}
	return scan, nil
}

// Proj90Index is the projection number closest to 90 degrees, 0 when the
// helix geometry does not say.
func Proj90Index(p *datastore.NikonParameters) int {
	if p.Helix {
		if p.HelicalProjectionsPerRotate == 0 {
			return 0
		}
		return p.HelicalProjectionsPerRotate/4 + 1
	}
	return p.Projections/4 + 1
}

func projectionName(p *datastore.NikonParameters, index int) string {
	return fmt.Sprintf("%s%s%0*d.tif", p.InputName, p.InputSeparator, p.InputDigits, index)
}

// projections copies the 0 and 90 degree projections into the attachment
// store and renders PNG previews. Missing projections are logged only.
func (n *Nikon) projections(path string, scan *datastore.Scan) {
	dir := filepath.Dir(path)
	dest := filepath.Join(n.attachmentDir(scan), "projections")

	targets := []struct {
		index    int
		tif, png *string
	}{
		{1, &scan.Projection0Deg, &scan.Projection0DegPNG},
		{Proj90Index(scan.Nikon), &scan.Projection90Deg, &scan.Projection90DegPNG},
	}
	for _, target := range targets {
		if target.index == 0 {
			n.log.Warn("no 90 degree projection for helical scan", logger.String("path", path))
			continue
		}
		src := filepath.Join(dir, projectionName(scan.Nikon, target.index))
		if !exists(src) {
			n.log.Warn("projection not found", logger.String("path", src))
			continue
		}
		tif := filepath.Join(dest, filepath.Base(src))
		if err := diskmanager.CopyFile(src, tif); err != nil {
			n.log.Error("copy projection failed", logger.String("path", src), logger.Error(err))
			continue
		}
		*target.tif = tif

		png := strings.TrimSuffix(tif, filepath.Ext(tif)) + ".png"
		if err := tiffToPNG(src, png); err != nil {
			n.log.Error("projection thumbnail failed", logger.String("path", src), logger.Error(err))
			continue
		}
		*target.png = png
	}
}

// metadataFiles are the small files describing a Nikon dataset.
func (n *Nikon) metadataFiles(scan *datastore.Scan) map[string]string {
	dir, name := scan.Directory(), stem(scan.Filename)
	return map[string]string{
		filepath.Join(dir, name+".ctprofile.xml"): AttachmentCTProfile,
		filepath.Join(dir, name+".ang"):           AttachmentAngles,
		filepath.Join(dir, "_ctinfo.xml"):          AttachmentCTInfo,
	}
}

func (n *Nikon) ProcessAssociatedFiles(ctx context.Context, scan *datastore.Scan) error {
	for path, typeName := range n.metadataFiles(scan) {
		if _, err := n.storeAttachment(ctx, scan, path, typeName); err != nil {
			return err
		}
	}
	return nil
}

// CopyRaw copies every file next to the dataset whose name starts with its stem.
func (n *Nikon) CopyRaw(_ context.Context, scan *datastore.Scan, dst string) (bool, string) {
	dir, name := scan.Directory(), stem(scan.Filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Sprintf("Unable to read %s: %v\n", dir, err)
	}

	var out strings.Builder
	ok := true
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), name) {
			continue
		}
		src := filepath.Join(dir, entry.Name())
		if err := diskmanager.CopyFile(src, filepath.Join(dst, entry.Name())); err != nil {
			ok = false
			fmt.Fprintf(&out, "Failed to copy %s: %v\n", entry.Name(), err)
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	fmt.Fprintf(&out, "Raw data copied: %s\n", humanize.IBytes(uint64(total)))
	return ok, out.String()
}

// CopyRecon copies the <stem> reconstruction folder. With includeMetadata
// the xtek file and its profile and angle files come along.
func (n *Nikon) CopyRecon(ctx context.Context, scan *datastore.Scan, dst string, includeMetadata bool) (bool, string) {
	dir, name := scan.Directory(), stem(scan.Filename)
	src := filepath.Join(dir, name)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return false, fmt.Sprintf("Reconstruction folder %s not found\n", src)
	}

	var out strings.Builder
	copied, err := diskmanager.CopyTree(src, filepath.Join(dst, name), nil)
	if err != nil {
		fmt.Fprintf(&out, "Failed to copy reconstruction: %v\n", err)
		return false, out.String()
	}
	fmt.Fprintf(&out, "Reconstruction copied: %d files\n", copied)

	if !includeMetadata {
		return true, out.String()
	}
	files := []string{scan.Filename}
	for path := range n.metadataFiles(scan) {
		if filepath.Base(path) != "_ctinfo.xml" {
			files = append(files, filepath.Base(path))
		}
	}
	for _, f := range files {
		src := filepath.Join(dir, f)
		if !exists(src) {
			continue
		}
		if err := diskmanager.CopyFile(src, filepath.Join(dst, f)); err != nil {
			fmt.Fprintf(&out, "Failed to copy %s: %v\n", f, err)
			return false, out.String()
		}
	}
	n.log.Debug("reconstruction copied", logger.String("src", src), logger.String("dst", dst))
	return true, out.String()
}
