// model.go this code defines the data model for the dataset lifecycle core
package datastore

import (
	"path/filepath"
	"time"

	"github.com/muvis-xrh/xrhms-core/internal/xrhid"
)

// Scan types stored in Scan.ScanType
const (
	ScanTypeNikonCT = "nikon_ct"
	ScanTypeVSI     = "vsi"
)

// Scan is one dataset file on a share. (ShareID, Path, Filename) is unique,
// ID never changes once assigned.
type Scan struct {
	ID       uint       `gorm:"primaryKey"`
	ScanType string     `gorm:"size:16;index"`
	Name     string     `gorm:"size:255"`
	ScanDate *time.Time `gorm:"index"`
	Inserted time.Time  `gorm:"autoCreateTime"`
	Updated  time.Time  `gorm:"autoUpdateTime"`

	ShareID  uint   `gorm:"not null;uniqueIndex:idx_scans_location,priority:1;index:idx_scans_folder,priority:1"`
	Share    *Share `gorm:"foreignKey:ShareID"`
	Path     string `gorm:"size:400;uniqueIndex:idx_scans_location,priority:2;index:idx_scans_folder,priority:2"`
	Filename string `gorm:"size:255;uniqueIndex:idx_scans_location,priority:3"`

	ScannerID *uint
	Scanner   *Machine `gorm:"foreignKey:ScannerID"`
	Operator  string   `gorm:"size:50"`
	SampleID  *uint    `gorm:"index"`
	Sample    *Sample  `gorm:"foreignKey:SampleID"`
	BugID     *uint    `gorm:"index"`
	Bug       *Bug     `gorm:"foreignKey:BugID"`

	Checksum                 string        `gorm:"size:64"` // sha256 hex of the primary file
	DatasetStatus            DatasetStatus `gorm:"size:2;index;not null"`
	DatasetStatusLastUpdated time.Time
	ParentID                 *uint  `gorm:"index"`
	Notes                    string `gorm:"type:text"`

	// Attachment store paths of the derived images
	Projection0Deg     string
	Projection0DegPNG  string
	Projection90Deg    string
	Projection90DegPNG string
	XYSlice            string
	Overview           string // VSI macro image

	SrcToObject        float64
	SrcToDetector      float64
	DetectorPixelsX    int
	DetectorPixelsY    int
	DetectorPixelSizeX float64
	DetectorPixelSizeY float64
	XrayKV             int
	XrayUA             int
	Projections        int
	InitialAngle       float64
	ScanTime           float64 // seconds, VSI only

	Nikon     *NikonParameters `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE"`
	OmeImages []OmeImage       `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE"`
}

// Directory is the absolute directory of the dataset. Share must be loaded.
func (s *Scan) Directory() string {
	if s.Share == nil {
		return ""
	}
	return filepath.Join(s.Share.LinuxMntPoint, s.Path)
}

// FullPath is the absolute path of the primary file. Share must be loaded.
func (s *Scan) FullPath() string {
	if s.Share == nil {
		return ""
	}
	return filepath.Join(s.Share.LinuxMntPoint, s.Path, s.Filename)
}

// SetStatus moves the dataset to status and stamps the change time.
func (s *Scan) SetStatus(status DatasetStatus, now time.Time) {
	s.DatasetStatus = status
	s.DatasetStatusLastUpdated = now
}

// NikonParameters holds the xtek reconstruction parameters of a Nikon CT scan.
// The ini tags name the keys inside the XTekCT, XTekHelixCT, CTPro, Xrays,
// DICOM and ScatterCorrection sections; key names do not collide across sections.
type NikonParameters struct {
	ID     uint `gorm:"primaryKey" ini:"-"`
	ScanID uint `gorm:"uniqueIndex;not null" ini:"-"`
	Helix  bool `ini:"-"`

	Name                   string  `ini:"Name"`
	OperatorID             string  `ini:"OperatorID"`
	InputSeparator         string  `ini:"InputSeparator"`
	OutputSeparator        string  `ini:"OutputSeparator"`
	InputFolderName        string  `ini:"InputFolderName"`
	OutputFolderName       string  `ini:"OutputFolderName"`
	InputName              string  `ini:"InputName"`
	InputDigits            int     `ini:"InputDigits"`
	OutputName             string  `ini:"OutputName"`
	OutputDigits           int     `ini:"OutputDigits"`
	ModifierID             string  `ini:"ModifierID"`
	VoxelsX                int     `ini:"VoxelsX"`
	VoxelsY                int     `ini:"VoxelsY"`
	VoxelsZ                int     `ini:"VoxelsZ"`
	VoxelSizeX             float64 `ini:"VoxelSizeX"`
	VoxelSizeY             float64 `ini:"VoxelSizeY"`
	VoxelSizeZ             float64 `ini:"VoxelSizeZ"`
	OffsetX                float64 `ini:"OffsetX"`
	OffsetY                float64 `ini:"OffsetY"`
	OffsetZ                float64 `ini:"OffsetZ"`
	SrcToObject            float64 `ini:"SrcToObject"`
	SrcToDetector          float64 `ini:"SrcToDetector"`
	MaskRadius             float64 `ini:"MaskRadius"`
	DetectorPixelsX        int     `ini:"DetectorPixelsX"`
	DetectorPixelsY        int     `ini:"DetectorPixelsY"`
	DetectorPixelSizeX     float64 `ini:"DetectorPixelSizeX"`
	DetectorPixelSizeY     float64 `ini:"DetectorPixelSizeY"`
	DetectorOffsetX        float64 `ini:"DetectorOffsetX"`
	DetectorOffsetY        float64 `ini:"DetectorOffsetY"`
	CentreOfRotationTop    float64 `ini:"CentreOfRotationTop"`
	CentreOfRotationBottom float64 `ini:"CentreOfRotationBottom"`
	WhiteLevel             int     `ini:"WhiteLevel"`
	Scattering             float64 `ini:"Scattering"`
	BeamHardeningLUTFile   string  `ini:"BeamHardeningLUTFile"`
	CoefX4                 float64 `ini:"CoefX4"`
	CoefX3                 float64 `ini:"CoefX3"`
	CoefX2                 float64 `ini:"CoefX2"`
	CoefX1                 float64 `ini:"CoefX1"`
	CoefX0                 float64 `ini:"CoefX0"`
	Scale                  float64 `ini:"Scale"`
	RegionStartX           int     `ini:"RegionStartX"`
	RegionStartY           int     `ini:"RegionStartY"`
	RegionPixelsX          int     `ini:"RegionPixelsX"`
	RegionPixelsY          int     `ini:"RegionPixelsY"`
	Projections            int     `ini:"Projections"`
	InitialAngle           float64 `ini:"InitialAngle"`
	AngularStep            float64 `ini:"AngularStep"`
	InterpolationType      int     `ini:"InterpolationType"`
	FilterType             int     `ini:"FilterType"`
	CutOffFrequency        float64 `ini:"CutOffFrequency"`
	Exponent               float64 `ini:"Exponent"`
	Normalisation          float64 `ini:"Normalisation"`
	MedianFilterKernelSize int     `ini:"MedianFilterKernelSize"`
	ConvolutionKernelSize  int     `ini:"ConvolutionKernelSize"`
	Scaling                float64 `ini:"Scaling"`
	Units                  string  `ini:"Units"`
	OutputUnits            string  `ini:"OutputUnits"`
	OutputType             int     `ini:"OutputType"`
	ObjectOffsetX          float64 `ini:"ObjectOffsetX"`
	ObjectOffsetY          float64 `ini:"ObjectOffsetY"`
	ObjectRoll             float64 `ini:"ObjectRoll"`
	ObjectTilt             float64 `ini:"ObjectTilt"`
	TimeStampFolder        int     `ini:"TimeStampFolder"`
	Increment              int     `ini:"Increment"`

	// XTekHelixCT only
	DerivativeType              int     `ini:"DerivativeType"`
	Pitch                       float64 `ini:"Pitch"`
	AutomaticGeometry           int     `ini:"AutomaticGeometry"`
	AutomaticGeometryIncrement  int     `ini:"AutomaticGeometryIncrement"`
	AutomaticGeometryBinning    int     `ini:"AutomaticGeometryBinning"`
	AutomaticGeometryWindow     int     `ini:"AutomaticGeometryWindow"`
	HelicalProjectionsPerRotate int     `ini:"HelicalProjectionsPerRotation"`

	// CTPro
	BeamHardeningPreset int     `ini:"BeamHardeningPreset"`
	FilterPreset        int     `ini:"FilterPreset"`
	FilterThicknessMM   float64 `ini:"Filter_ThicknessMM"`
	FilterMaterial      string  `ini:"Filter_Material"`
	Shuttling           bool    `ini:"Shuttling"`
	VoxelScalingFactor  int     `ini:"VoxelScalingFactor"`
	Version             string  `ini:"Version"`
	Product             string  `ini:"Product"`
	AngleFileUse        bool    `ini:"AngleFile_Use"`

	// Xrays
	XrayKV int `ini:"XraykV"`
	XrayUA int `ini:"XrayuA"`

	// DICOM
	DICOMTags string `gorm:"type:text" ini:"DICOMTags"`

	// ScatterCorrection
	VeilingGlareApplied int `ini:"VeilingGlareApplied"`
}

// OmeImage is one level of a VSI image pyramid with its acquisition hardware.
type OmeImage struct {
	ID       uint   `gorm:"primaryKey"`
	ScanID   uint   `gorm:"index;not null"`
	ImageID  string `gorm:"size:64"`
	Filename string
	Name     string

	PixelsBigEndian       bool
	PixelsDimensionOrder  string `gorm:"size:10"`
	PixelsInterleaved     bool
	PixelsSignificantBits int
	PixelsType            string `gorm:"size:20"`
	PhysicalSizeX         float64
	PhysicalSizeY         float64
	PixelsX               int
	PixelsY               int
	SizeC                 int
	SizeZ                 int
	SizeT                 int
	ScanTime              float64 // seconds

	DetectorManufacturer string
	DetectorModel        string
	DetectorSerialNumber string
	DetectorType         string
	DetectorGain         float64

	ObjectiveModel                string
	ObjectiveLensNA               float64
	ObjectiveNominalMagnification float64
	ObjectiveWorkingDistance      float64
}

// Server is informational only.
type Server struct {
	ID           uint `gorm:"primaryKey"`
	HostName     string
	InternalName string
	ExternalName string
}

// Share is a mounted storage location datasets live on.
type Share struct {
	ID                  uint   `gorm:"primaryKey"`
	Name                string `gorm:"size:100;uniqueIndex"`
	ServerID            *uint
	Server              *Server `gorm:"foreignKey:ServerID"`
	LinuxMntPoint       string  `gorm:"size:255;uniqueIndex"`
	WindowsMntPoint     string
	DefaultStatus       DatasetStatus `gorm:"size:2;not null"` // status given to datasets arriving here
	GenerateExtraFolder bool
}

// Machine is a scanner.
type Machine struct {
	ID                uint   `gorm:"primaryKey"`
	Name              string `gorm:"size:100;uniqueIndex"`
	ShuttleMultiplier float64
}

// SampleType groups samples and provides the default XRH ID suffix.
type SampleType struct {
	ID     uint `gorm:"primaryKey"`
	Name   string
	Suffix string `gorm:"size:10;index"`
}

// Sample is a physical specimen identified by an XRH ID.
type Sample struct {
	ID           uint    `gorm:"primaryKey"`
	OriginalID   string  `gorm:"size:100;index"`
	XrhIDPrefix  string  `gorm:"size:4"`
	XrhIDNumber  int     `gorm:"index"` // without the check digit
	XrhIDSuffix  *string `gorm:"size:10"`
	SampleTypeID uint
	SampleType   *SampleType `gorm:"foreignKey:SampleTypeID"`
	Species      string
	Tissue       string
	Condition    string
	FullXrhID    string `gorm:"size:50;index"`
}

// XrhID renders the sample identifier. Samples without their own suffix
// inherit the suffix of their type.
func (s *Sample) XrhID() string {
	suffix := ""
	switch {
	case s.XrhIDSuffix != nil:
		suffix = *s.XrhIDSuffix
	case s.SampleType != nil:
		suffix = s.SampleType.Suffix
	}
	id, err := xrhid.Generate(s.XrhIDPrefix, s.XrhIDNumber, suffix)
	if err != nil {
		return s.FullXrhID
	}
	return id
}

// SampleAttachment is a file (usually a photo) describing a sample.
type SampleAttachment struct {
	ID       uint `gorm:"primaryKey"`
	SampleID uint `gorm:"index;not null"`
	Name     string
	Path     string
}

// Bug references an issue in the external tracker; ID is the tracker's number.
type Bug struct {
	ID    uint `gorm:"primaryKey;autoIncrement:false"`
	Title string
}

// Report is produced outside the core and copied into extra folders.
type Report struct {
	ID                uint `gorm:"primaryKey"`
	ScanID            uint `gorm:"index;not null"`
	Path              string
	GenerationSuccess bool
}

type ScanAttachmentType struct {
	ID                   uint   `gorm:"primaryKey"`
	Name                 string `gorm:"size:100;uniqueIndex"`
	IncludeInExtraFolder bool
}

// ScanAttachment is a sibling file of a dataset copied into the attachment store.
type ScanAttachment struct {
	ID               uint `gorm:"primaryKey"`
	ScanID           uint `gorm:"index;not null"`
	AttachmentTypeID *uint
	AttachmentType   *ScanAttachmentType `gorm:"foreignKey:AttachmentTypeID"`
	Name             string              `gorm:"size:255"`
	Path             string
	Checksum         string `gorm:"size:64"`
	Uploaded         time.Time
}

// ScheduledMove is a queued relocation of one dataset subtree. Once
// DateExecuted is set it is never processed again.
type ScheduledMove struct {
	ID            uint   `gorm:"primaryKey"`
	ScanID        uint   `gorm:"index;not null"`
	Scan          *Scan  `gorm:"foreignKey:ScanID"`
	DestinationID uint   `gorm:"not null"`
	Destination   *Share `gorm:"foreignKey:DestinationID"`
	GroupBySample bool
	DateQueued    time.Time  `gorm:"index"`
	DateExecuted  *time.Time `gorm:"index"`
	Success       *bool
	Output        string `gorm:"type:text"`
}

// NewScheduledMove queues scanID for destinationID, grouped by sample.
func NewScheduledMove(scanID, destinationID uint, now time.Time) *ScheduledMove {
	return &ScheduledMove{
		ScanID:        scanID,
		DestinationID: destinationID,
		GroupBySample: true,
		DateQueued:    now,
	}
}

// ArchiveDrive is a removable disk. Capacity and EstimatedUsage are in GB.
type ArchiveDrive struct {
	ID             uint      `gorm:"primaryKey"`
	DateCreated    time.Time `gorm:"autoCreateTime"`
	SerialNumber   string    `gorm:"size:100;uniqueIndex"`
	Manufacturer   string
	Capacity       float64
	EstimatedUsage float64
	NoFiles        int64
}

// ScanArchive records that a dataset folder lives on an archive drive.
// TotalSize is in GiB.
type ScanArchive struct {
	ID          uint   `gorm:"primaryKey"`
	ScanID      uint   `gorm:"uniqueIndex:idx_scan_archive,priority:1"`
	DriveID     uint   `gorm:"uniqueIndex:idx_scan_archive,priority:2"`
	Path        string `gorm:"size:400;uniqueIndex:idx_scan_archive,priority:3"`
	DateIndexed time.Time
	TotalSize   float64
	FileCount   int64
}

// UserCopy is a request to copy a dataset into a user's scratch folder.
type UserCopy struct {
	ID               uint      `gorm:"primaryKey"`
	ScanID           uint      `gorm:"not null;uniqueIndex:idx_user_copy,priority:1"`
	Scan             *Scan     `gorm:"foreignKey:ScanID"`
	Username         string    `gorm:"size:30;not null;uniqueIndex:idx_user_copy,priority:2"`
	DateAdded        time.Time `gorm:"uniqueIndex:idx_user_copy,priority:3"`
	IncludeReconData bool
	IncludeRawData   bool
	DateCopied       *time.Time
	CopySuccess      *bool  `gorm:"index"`
	DeletionAfter    int    // days
	CmdOutput        string `gorm:"type:text"`
	DateDeleted      *time.Time
	DeletionSuccess  *bool `gorm:"index"`
}

// NewUserCopy requests the reconstruction of scanID for username.
func NewUserCopy(scanID uint, username string, deletionAfter int, now time.Time) *UserCopy {
	return &UserCopy{
		ScanID:           scanID,
		Username:         username,
		DateAdded:        now,
		IncludeReconData: true,
		DeletionAfter:    deletionAfter,
	}
}

// AppLock backs the row based named lock.
type AppLock struct {
	Name      string `gorm:"primaryKey;size:64"`
	Owner     string `gorm:"size:64"`
	ExpiresAt time.Time
}

// allModels lists every table managed by AutoMigrate.
func allModels() []any {
	return []any{
		&Server{}, &Share{}, &Machine{}, &SampleType{}, &Sample{}, &SampleAttachment{}, &Bug{},
		&Scan{}, &NikonParameters{}, &OmeImage{}, &Report{},
		&ScanAttachmentType{}, &ScanAttachment{},
		&ScheduledMove{}, &ArchiveDrive{}, &ScanArchive{}, &UserCopy{}, &AppLock{},
	}
}
