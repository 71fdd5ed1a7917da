package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/muvis-xrh/xrhms-core/internal/command"
	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/diskmanager"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

const acquisitionLayout = "2006-01-02T15:04:05"

// Extractor produces the OME-XML (and TIFF exports) next to a .vsi file.
type Extractor func(ctx context.Context, vsiPath string) error

// VSI parses Olympus slide scanner files through their OME-XML export.
type VSI struct {
	base
	extract Extractor
}

func NewVSI(store datastore.Interface, settings *conf.Settings, log logger.Logger) *VSI {
	v := &VSI{base: newBase(store, settings, log)}
	v.extract = v.runExtractor
	return v
}

// WithExtractor replaces the external extractor command.
func (v *VSI) WithExtractor(e Extractor) *VSI {
	v.extract = e
	return v
}

func (v *VSI) Extensions() []string { return []string{".vsi"} }

func (v *VSI) ScanType() string { return datastore.ScanTypeVSI }

func (v *VSI) ListFiles(dir string) ([]string, error) {
	return v.listFiles(dir, v.Extensions())
}

func xmlPath(vsiPath string) string {
	return filepath.Join(filepath.Dir(vsiPath), stem(vsiPath)+".xml")
}

func (v *VSI) runExtractor(ctx context.Context, vsiPath string) error {
	fields := strings.Fields(v.settings.Parsers.VSIExtractor)
	if len(fields) == 0 {
		return errors.Newf("no VSI extractor configured").
			Component("parser").
			Category(errors.CategoryConfiguration).
			Build()
	}
	args := append(fields[1:], vsiPath)
	result, err := command.Exec{}.Run(ctx, fields[0], args...)
	if err != nil {
		return errors.New(err).
			Component("parser").
			Category(errors.CategoryCommandExecution).
			Context("output", result.Stdout+result.Stderr).
			FileContext(vsiPath).
			Build()
	}
	return nil
}

func (v *VSI) ProcessFile(ctx context.Context, path string, scan *datastore.Scan) (*datastore.Scan, error) {
	if err := requireRecord(path, scan); err != nil {
		return nil, err
	}
	if err := v.ignored(path); err != nil {
		return nil, err
	}

	xmlFile := xmlPath(path)
	if !exists(xmlFile) {
		v.log.Info("generating OME-XML", logger.String("path", path))
		if err := v.extract(ctx, path); err != nil {
			return nil, err
		}
	}
	doc, err := readOME(xmlFile)
	if err != nil {
		return nil, err
	}

	var acquired *time.Time
	for _, img := range doc.Images {
		if img.AcquisitionDate == "" {
			continue
		}
		t, err := time.Parse(acquisitionLayout, strings.TrimSpace(img.AcquisitionDate))
		if err != nil {
			return nil, parseError(err, xmlFile)
		}
		acquired = &t
		break
	}
	if acquired == nil {
		return nil, parseError(fmt.Errorf("unable to find acquisition date"), xmlFile)
	}

	checksum, err := diskmanager.FileChecksum(path)
	if err != nil {
		return nil, err
	}

	images, err := v.images(doc, path, scan.OmeImages)
	if err != nil {
		return nil, parseError(err, xmlFile)
	}

	scan.ScanType = datastore.ScanTypeVSI
	scan.Name = stem(path)
	scan.ScanDate = acquired
	scan.ScanTime = doc.scanningTime("")
	scan.Checksum = checksum
	scan.OmeImages = images

	if err := v.save(ctx, path, scan); err != nil {
		return nil, err
	}
	v.log.Debug("vsi processed",
		logger.String("path", path),
		logger.Int("images", len(images)),
		logger.Float64("scan_time", scan.ScanTime))
	return scan, nil
}

// images builds one OmeImage per pyramid, keeping the keys of images already
// stored under the same name.
func (v *VSI) images(doc *omeDocument, path string, existing []datastore.OmeImage) ([]datastore.OmeImage, error) {
	known := make(map[string]uint, len(existing))
	for _, img := range existing {
		known[img.Name] = img.ID
	}

	bases := doc.pyramidBases()
	images := make([]datastore.OmeImage, 0, len(bases))
	for _, img := range bases {
		px := img.Pixels
		for _, unit := range []string{px.PhysicalSizeXUnit, px.PhysicalSizeYUnit} {
			if unit != "" && unit != micrometre {
				return nil, fmt.Errorf("image %s: unrecognised physical size unit %q", img.Name, unit)
			}
		}

		out := datastore.OmeImage{
			ID:                    known[img.Name],
			ImageID:               img.ID,
			Name:                  img.Name,
			Filename:              fmt.Sprintf("%s_%s_%dx%d.tif", stem(path), img.Name, px.SizeX, px.SizeY),
			PixelsBigEndian:       px.BigEndian,
			PixelsDimensionOrder:  px.DimensionOrder,
			PixelsInterleaved:     px.Interleaved,
			PixelsSignificantBits: px.SignificantBits,
			PixelsType:            px.Type,
			PhysicalSizeX:         px.PhysicalSizeX,
			PhysicalSizeY:         px.PhysicalSizeY,
			PixelsX:               px.SizeX,
			PixelsY:               px.SizeY,
			SizeC:                 px.SizeC,
			SizeZ:                 px.SizeZ,
			SizeT:                 px.SizeT,
			ScanTime:              doc.scanningTime(img.Name),
		}

		if obj, ok := doc.objective(img.ObjectiveSettings.ID); ok {
			if obj.WorkingDistanceUnit != "" && obj.WorkingDistanceUnit != micrometre {
				return nil, fmt.Errorf("objective %s: unknown working distance unit %q", obj.ID, obj.WorkingDistanceUnit)
			}
			out.ObjectiveModel = obj.Model
			out.ObjectiveLensNA = obj.LensNA
			out.ObjectiveNominalMagnification = obj.NominalMagnification
			out.ObjectiveWorkingDistance = obj.WorkingDistance
		}
		if len(px.Channels) > 0 {
			settings := px.Channels[0].DetectorSettings
			if det, ok := doc.detector(settings.ID); ok {
				out.DetectorManufacturer = det.Manufacturer
				out.DetectorModel = det.Model
				out.DetectorSerialNumber = det.SerialNumber
				out.DetectorType = det.Type
				out.DetectorGain = det.Gain
			}
			if settings.Gain != 0 {
				out.DetectorGain = settings.Gain
			}
		}
		if out.ScanTime < 0 {
			v.log.Warn("no scan time for image", logger.String("image", img.Name), logger.String("path", path))
		}
		images = append(images, out)
	}
	return images, nil
}

func (v *VSI) ProcessAssociatedFiles(ctx context.Context, scan *datastore.Scan) error {
	path := scan.FullPath()

	if scan.Overview == "" {
		overview := filepath.Join(filepath.Dir(path), stem(path)+"_macro.png")
		if exists(overview) {
			dst := filepath.Join(v.attachmentDir(scan), filepath.Base(overview))
			if err := diskmanager.CopyFile(overview, dst); err != nil {
				return err
			}
			scan.Overview = dst
			if err := v.store.SaveScan(ctx, scan); err != nil {
				return err
			}
		} else {
			v.log.Warn("overview image missing", logger.String("path", overview))
		}
	}

	if _, err := v.storeAttachment(ctx, scan, path, AttachmentVSI); err != nil {
		return err
	}
	_, err := v.storeAttachment(ctx, scan, xmlPath(path), AttachmentOMEXML)
	return err
}

// CopyRaw copies the .vsi, its XML and the _<stem>_ frame folder.
func (v *VSI) CopyRaw(_ context.Context, scan *datastore.Scan, dst string) (bool, string) {
	path := scan.FullPath()
	name := stem(path)
	var out strings.Builder

	for _, src := range []string{path, xmlPath(path)} {
		if !exists(src) {
			fmt.Fprintf(&out, "%s not found\n", filepath.Base(src))
			if src == path {
				return false, out.String()
			}
			continue
		}
		if err := diskmanager.CopyFile(src, filepath.Join(dst, filepath.Base(src))); err != nil {
			fmt.Fprintf(&out, "Failed to copy %s: %v\n", filepath.Base(src), err)
			return false, out.String()
		}
		fmt.Fprintf(&out, "Copied %s\n", filepath.Base(src))
	}

	frames := "_" + name + "_"
	src := filepath.Join(filepath.Dir(path), frames)
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		n, err := diskmanager.CopyTree(src, filepath.Join(dst, frames), nil)
		if err != nil {
			fmt.Fprintf(&out, "Failed to copy %s: %v\n", frames, err)
			return false, out.String()
		}
		fmt.Fprintf(&out, "Copied %s (%d files)\n", frames, n)
	}
	return true, out.String()
}

// CopyRecon copies the PNG and TIFF exports, and the XML with includeMetadata.
func (v *VSI) CopyRecon(_ context.Context, scan *datastore.Scan, dst string, includeMetadata bool) (bool, string) {
	path := scan.FullPath()
	dir, name := filepath.Dir(path), stem(path)
	var out strings.Builder

	var files []string
	if includeMetadata && exists(xmlPath(path)) {
		files = append(files, xmlPath(path))
	}
	for _, pattern := range []string{name + "*.png", name + "*.tif"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			fmt.Fprintf(&out, "Bad pattern %s: %v\n", pattern, err)
			return false, out.String()
		}
		files = append(files, matches...)
	}

	for _, src := range files {
		if err := diskmanager.CopyFile(src, filepath.Join(dst, filepath.Base(src))); err != nil {
			fmt.Fprintf(&out, "Failed to copy %s: %v\n", filepath.Base(src), err)
			return false, out.String()
		}
	}
	fmt.Fprintf(&out, "Copied %d exported files\n", len(files))
	return true, out.String()
}
