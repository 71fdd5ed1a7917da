// Package naming parses and validates dataset names of the form
// DATE_SCANNER_BUGID_OPERATOR_SAMPLEID[_FREETEXT].
package naming

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/xrhid"
)

const (
	// DateLayout is the layout of the leading date field.
	DateLayout = "20060102"
	// NoBug marks a dataset deliberately not linked to a tracker issue.
	NoBug = "XXXX"
	// MinFields is the smallest number of underscore separated fields.
	MinFields = 5
)

// ErrTooShort is returned for names with fewer than MinFields fields.
var ErrTooShort = errors.NewStd("not enough elements in dataset name to be parsed")

// Meta is what a dataset name encodes.
type Meta struct {
	Date     time.Time
	Scanner  string
	BugRaw   string
	BugID    *uint // nil when BugRaw is not a number
	Operator string
	SampleID string // empty when the fifth field is not a valid XRH ID
	Other    string // free text, fields joined back with "_"
}

// Parse splits a dataset name (a file stem). The date must be valid; an
// unparsable bug or sample field is kept as free text rather than rejected.
func Parse(name string) (Meta, error) {
	fields := strings.Split(strings.Trim(name, `\`), "_")
	if len(fields) < MinFields {
		return Meta{}, errors.New(fmt.Errorf("%w: %q has %d fields", ErrTooShort, name, len(fields))).
			Component("naming").
			Category(errors.CategoryValidation).
			Build()
	}

	date, err := time.Parse(DateLayout, fields[0])
	if err != nil {
		return Meta{}, errors.New(err).
			Component("naming").
			Category(errors.CategoryValidation).
			Context("field", "date").
			Context("value", fields[0]).
			Build()
	}

	meta := Meta{
		Date:     date,
		Scanner:  fields[1],
		BugRaw:   fields[2],
		Operator: fields[3],
	}
	if bug, err := strconv.ParseUint(fields[2], 10, 32); err == nil {
		id := uint(bug)
		meta.BugID = &id
	}

	if xrhid.Validate(fields[4]) == nil {
		meta.SampleID = fields[4]
		meta.Other = strings.Join(fields[5:], "_")
	} else {
		meta.Other = strings.Join(fields[4:], "_")
	}
	return meta, nil
}
