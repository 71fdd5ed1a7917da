package datastore

// DatasetStatus is the two letter lifecycle state stored on every scan.
type DatasetStatus string

const (
	StatusOnline        DatasetStatus = "ON"
	StatusMissing       DatasetStatus = "MI"
	StatusArchivedDisk  DatasetStatus = "AD"
	StatusArchivedMuvis DatasetStatus = "AM"
	StatusMoving        DatasetStatus = "MV"
	StatusDeleted       DatasetStatus = "DE"
)

var statusNames = map[DatasetStatus]string{
	StatusOnline:        "Online",
	StatusMissing:       "Missing",
	StatusArchivedDisk:  "Archived to Disk",
	StatusArchivedMuvis: "Archived to Muvis",
	StatusMoving:        "Moving",
	StatusDeleted:       "Deleted",
}

// String returns the human readable name, or the raw code when unknown.
func (s DatasetStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return string(s)
}

// Valid reports whether s is one of the known codes.
func (s DatasetStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsArchived is true for statuses whose presence depends on a mounted medium.
func (s DatasetStatus) IsArchived() bool {
	return s == StatusArchivedDisk || s == StatusArchivedMuvis
}

// transitions lists the allowed edges of the lifecycle. A finished move may
// land in any status a share can default to, so MOVING fans out to all but itself.
var transitions = map[DatasetStatus][]DatasetStatus{
	StatusOnline:  {StatusMoving, StatusMissing, StatusArchivedDisk, StatusArchivedMuvis},
	StatusMissing: {StatusDeleted, StatusOnline},
	StatusDeleted: {StatusOnline},
	StatusMoving:  {StatusOnline, StatusMissing, StatusArchivedDisk, StatusArchivedMuvis, StatusDeleted},

	// archive media can be brought back online
	StatusArchivedDisk:  {StatusMoving, StatusOnline},
	StatusArchivedMuvis: {StatusMoving, StatusOnline},
}

// CanTransition reports whether a dataset may go from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to DatasetStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
