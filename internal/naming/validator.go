package naming

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/xrhid"
)

// Lookup is the part of the datastore a Validator needs.
type Lookup interface {
	FindMachine(ctx context.Context, name string) (*datastore.Machine, error)
	GetBug(ctx context.Context, id uint) (*datastore.Bug, error)
	FindSampleByXrhID(ctx context.Context, fullID string) (*datastore.Sample, error)
}

// Validator checks a proposed dataset name against the reference tables.
type Validator struct {
	store Lookup
	log   logger.Logger
}

func NewValidator(store Lookup, log logger.Logger) *Validator {
	if log == nil {
		log = logger.Global().Module("naming")
	}
	return &Validator{store: store, log: log}
}

// Validate reports whether name is acceptable. Every problem is logged.
func (v *Validator) Validate(ctx context.Context, name string) bool {
	problems, err := v.Problems(ctx, name)
	if err != nil {
		v.log.Error("name validation failed", logger.String("name", name), logger.Error(err))
		return false
	}
	for _, p := range problems {
		v.log.Error(p, logger.String("name", name))
	}
	return len(problems) == 0
}

// Problems lists what is wrong with name. Every field is checked so the
// operator sees all mistakes at once. err is only set for lookup failures.
func (v *Validator) Problems(ctx context.Context, name string) ([]string, error) {
	fields := strings.Split(name, "_")
	if len(fields) < MinFields {
		return []string{"name too short, it must contain at least 5 sections separated by _"}, nil
	}

	var problems []string

	if len(fields[0]) != len(DateLayout) {
		problems = append(problems, "date has the wrong number of characters, it should be YYYYMMDD e.g. 20210401")
	} else if _, err := time.Parse(DateLayout, fields[0]); err != nil {
		problems = append(problems, "date invalid: "+err.Error())
	}

	machine, err := v.store.FindMachine(ctx, fields[1])
	if err != nil {
		return nil, err
	}
	if machine == nil {
		problems = append(problems, "unable to find machine "+fields[1])
	}

	if fields[2] != NoBug {
		bugID, convErr := strconv.ParseUint(fields[2], 10, 32)
		switch {
		case convErr != nil:
			problems = append(problems, "bug ID is not a number")
		default:
			bug, err := v.store.GetBug(ctx, uint(bugID))
			if err != nil {
				return nil, err
			}
			if bug == nil {
				problems = append(problems, "unable to find bug "+fields[2])
			}
		}
	} else {
		v.log.Warn("bug deliberately unset", logger.String("name", name))
	}

	if !xrhid.CheckDigitOK(fields[4]) {
		problems = append(problems, "XRH ID fails check")
	} else {
		sample, err := v.store.FindSampleByXrhID(ctx, fields[4])
		if err != nil {
			return nil, err
		}
		if sample == nil {
			problems = append(problems, "sample "+fields[4]+" does not exist")
		}
	}

	return problems, nil
}
