package parser

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OMENamespace is the schema the VSI extractor writes.
const OMENamespace = "http://www.openmicroscopy.org/Schemas/OME/2016-06"

const micrometre = "µm"

type omeDocument struct {
	XMLName     xml.Name          `xml:"OME"`
	Instruments []omeInstrument   `xml:"Instrument"`
	Images      []omeImage        `xml:"Image"`
	Annotations []omeXMLAnnotated `xml:"StructuredAnnotations>XMLAnnotation"`
}

type omeInstrument struct {
	Detectors  []omeDetector  `xml:"Detector"`
	Objectives []omeObjective `xml:"Objective"`
}

type omeDetector struct {
	ID           string  `xml:"ID,attr"`
	Manufacturer string  `xml:"Manufacturer,attr"`
	Model        string  `xml:"Model,attr"`
	SerialNumber string  `xml:"SerialNumber,attr"`
	Type         string  `xml:"Type,attr"`
	Gain         float64 `xml:"Gain,attr"`
}

type omeObjective struct {
	ID                   string  `xml:"ID,attr"`
	Model                string  `xml:"Model,attr"`
	LensNA               float64 `xml:"LensNA,attr"`
	NominalMagnification float64 `xml:"NominalMagnification,attr"`
	WorkingDistance      float64 `xml:"WorkingDistance,attr"`
	WorkingDistanceUnit  string  `xml:"WorkingDistanceUnit,attr"`
}

type omeImage struct {
	ID                string `xml:"ID,attr"`
	Name              string `xml:"Name,attr"`
	AcquisitionDate   string `xml:"AcquisitionDate"`
	ObjectiveSettings struct {
		ID string `xml:"ID,attr"`
	} `xml:"ObjectiveSettings"`
	Pixels omePixels `xml:"Pixels"`
}

type omePixels struct {
	BigEndian         bool         `xml:"BigEndian,attr"`
	DimensionOrder    string       `xml:"DimensionOrder,attr"`
	Interleaved       bool         `xml:"Interleaved,attr"`
	SignificantBits   int          `xml:"SignificantBits,attr"`
	Type              string       `xml:"Type,attr"`
	PhysicalSizeX     float64      `xml:"PhysicalSizeX,attr"`
	PhysicalSizeXUnit string       `xml:"PhysicalSizeXUnit,attr"`
	PhysicalSizeY     float64      `xml:"PhysicalSizeY,attr"`
	PhysicalSizeYUnit string       `xml:"PhysicalSizeYUnit,attr"`
	SizeX             int          `xml:"SizeX,attr"`
	SizeY             int          `xml:"SizeY,attr"`
	SizeC             int          `xml:"SizeC,attr"`
	SizeZ             int          `xml:"SizeZ,attr"`
	SizeT             int          `xml:"SizeT,attr"`
	Channels          []omeChannel `xml:"Channel"`
}

type omeChannel struct {
	ID               string `xml:"ID,attr"`
	Name             string `xml:"Name,attr"`
	DetectorSettings struct {
		ID   string  `xml:"ID,attr"`
		Gain float64 `xml:"Gain,attr"`
	} `xml:"DetectorSettings"`
}

type omeXMLAnnotated struct {
	Key   string `xml:"Value>OriginalMetadata>Key"`
	Value string `xml:"Value>OriginalMetadata>Value"`
}

func readOME(path string) (*omeDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, parseError(err, path)
	}
	var doc omeDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, parseError(err, path)
	}
	if doc.XMLName.Space != "" && doc.XMLName.Space != OMENamespace {
		return nil, parseError(fmt.Errorf("unexpected OME namespace %s", doc.XMLName.Space), path)
	}
	return &doc, nil
}

// scanningTime finds the "Scanning Time (seconds)" annotation. With an
// image name the per image key is used. -1 when absent.
func (d *omeDocument) scanningTime(image string) float64 {
	const key = "Scanning Time (seconds)"
	for _, a := range d.Annotations {
		match := a.Key == key
		if image != "" {
			match = strings.HasPrefix(a.Key, image+" "+key)
		}
		if !match {
			continue
		}
		if v, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(a.Value), "[]"), 64); err == nil {
			return v
		}
	}
	return -1
}

// pyramidBases returns the images that start a new resolution pyramid: each
// is larger than the image before it. The slide overview is skipped.
func (d *omeDocument) pyramidBases() []omeImage {
	var bases []omeImage
	last := 0
	for _, img := range d.Images {
		size := img.Pixels.SizeX * img.Pixels.SizeY
		if size > last {
			if img.Name == "macro image" {
				continue
			}
			bases = append(bases, img)
		}
		last = size
	}
	return bases
}

func (d *omeDocument) detector(id string) (omeDetector, bool) {
	for _, inst := range d.Instruments {
		for _, det := range inst.Detectors {
			if det.ID == id {
				return det, true
			}
		}
	}
	return omeDetector{}, false
}

func (d *omeDocument) objective(id string) (omeObjective, bool) {
	for _, inst := range d.Instruments {
		for _, obj := range inst.Objectives {
			if obj.ID == id {
				return obj, true
			}
		}
	}
	return omeObjective{}, false
}
