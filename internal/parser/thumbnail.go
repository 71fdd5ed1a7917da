package parser

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// tiffToPNG renders the TIFF at src as an 8 bit PNG at dst. 16 bit
// projections are stretched between their darkest and brightest pixel.
func tiffToPNG(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.FileError(err, src)
	}
	defer in.Close()

	img, err := tiff.Decode(in)
	if err != nil {
		return parseError(err, src)
	}
	if gray, ok := img.(*image.Gray16); ok {
		img = stretch(gray)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.FileError(err, dst)
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.FileError(err, dst)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return errors.FileError(err, dst)
	}
	if err := out.Close(); err != nil {
		return errors.FileError(err, dst)
	}
	return nil
}

func stretch(src *image.Gray16) *image.Gray {
	bounds := src.Bounds()
	lo, hi := uint16(0xffff), uint16(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := src.Gray16At(x, y).Y
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}

	dst := image.NewGray(bounds)
	span := uint32(hi) - uint32(lo)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			var v uint8
			if span > 0 {
				v = uint8((uint32(src.Gray16At(x, y).Y-lo) * 255) / span)
			}
			dst.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return dst
}
