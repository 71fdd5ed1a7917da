package datastore

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// ListShares returns every share ordered by key.
func (ds *DataStore) ListShares(ctx context.Context) ([]Share, error) {
	var shares []Share
	if err := ds.DB.WithContext(ctx).Order("id").Find(&shares).Error; err != nil {
		return nil, dbError(err, "list_shares")
	}
	return shares, nil
}

func (ds *DataStore) GetShare(ctx context.Context, id uint) (*Share, error) {
	var share Share
	if err := ds.DB.WithContext(ctx).First(&share, id).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "get_share", "share_id", id)
	}
	return &share, nil
}

func (ds *DataStore) SaveShare(ctx context.Context, share *Share) error {
	if share.DefaultStatus == "" {
		share.DefaultStatus = StatusOnline
	}
	if err := ds.DB.WithContext(ctx).Omit("Server").Save(share).Error; err != nil {
		return dbError(err, "save_share", "name", share.Name)
	}
	return nil
}

// FindMachine matches the machine name exactly.
func (ds *DataStore) FindMachine(ctx context.Context, name string) (*Machine, error) {
	var machine Machine
	if err := ds.DB.WithContext(ctx).Where("name = ?", name).First(&machine).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_machine", "name", name)
	}
	return &machine, nil
}

// FindMachineContaining returns the single machine whose name contains token,
// ignoring case. More than one match is an error.
func (ds *DataStore) FindMachineContaining(ctx context.Context, token string) (*Machine, error) {
	if token == "" {
		return nil, validationError("scanner token is empty", "scanner", token)
	}

	var machines []Machine
	err := ds.DB.WithContext(ctx).
		Where("LOWER(name) LIKE ?", "%"+strings.ToLower(token)+"%").
		Order("id").
		Limit(2).
		Find(&machines).Error
	if err != nil {
		return nil, dbError(err, "find_machine_containing", "token", token)
	}

	switch len(machines) {
	case 0:
		return nil, nil
	case 1:
		return &machines[0], nil
	default:
		return nil, validationError("scanner name matches more than one machine", "scanner", token)
	}
}

func (ds *DataStore) SaveMachine(ctx context.Context, machine *Machine) error {
	if err := ds.DB.WithContext(ctx).Save(machine).Error; err != nil {
		return dbError(err, "save_machine", "name", machine.Name)
	}
	return nil
}

func (ds *DataStore) GetBug(ctx context.Context, id uint) (*Bug, error) {
	var bug Bug
	if err := ds.DB.WithContext(ctx).First(&bug, id).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "get_bug", "bug_id", id)
	}
	return &bug, nil
}

func (ds *DataStore) SaveBug(ctx context.Context, bug *Bug) error {
	if bug.ID == 0 {
		return validationError("bug id must be set", "id", bug.ID)
	}
	if err := ds.DB.WithContext(ctx).Save(bug).Error; err != nil {
		return dbError(err, "save_bug", "bug_id", bug.ID)
	}
	return nil
}

// FindSample resolves a sample from the numeric part of its XRH ID (without
// check digit) and suffix. A sample stored with its own suffix wins; otherwise
// a suffix-less sample of the type owning that suffix is used.
func (ds *DataStore) FindSample(ctx context.Context, number int, suffix *string) (*Sample, error) {
	samples := func() *gorm.DB { return ds.DB.WithContext(ctx).Preload("SampleType") }

	var sample Sample
	query := samples().Where("xrh_id_number = ?", number)
	if suffix == nil {
		query = query.Where("xrh_id_suffix IS NULL")
	} else {
		query = query.Where("xrh_id_suffix = ?", *suffix)
	}
	err := query.Order("id").First(&sample).Error
	if err == nil {
		return &sample, nil
	}
	if !notFound(err) {
		return nil, dbError(err, "find_sample", "number", number)
	}
	if suffix == nil {
		return nil, nil
	}

	var sampleType SampleType
	if err := ds.DB.WithContext(ctx).Where("suffix = ?", *suffix).First(&sampleType).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_sample_type", "suffix", *suffix)
	}

	sample = Sample{}
	err = samples().Where("xrh_id_number = ? AND sample_type_id = ? AND xrh_id_suffix IS NULL", number, sampleType.ID).
		Order("id").
		First(&sample).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_sample", "number", number, "sample_type", sampleType.ID)
	}
	return &sample, nil
}

// FindSampleByXrhID matches the stored full identifier.
func (ds *DataStore) FindSampleByXrhID(ctx context.Context, fullID string) (*Sample, error) {
	var sample Sample
	err := ds.DB.WithContext(ctx).Preload("SampleType").Where("full_xrh_id = ?", fullID).First(&sample).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, dbError(err, "find_sample_by_xrh_id", "xrh_id", fullID)
	}
	return &sample, nil
}

// SaveSample stores the sample and refreshes FullXrhID.
func (ds *DataStore) SaveSample(ctx context.Context, sample *Sample) error {
	if sample.SampleType == nil && sample.SampleTypeID != 0 {
		var sampleType SampleType
		if err := ds.DB.WithContext(ctx).First(&sampleType, sample.SampleTypeID).Error; err == nil {
			sample.SampleType = &sampleType
		}
	}
	sample.FullXrhID = sample.XrhID()

	if err := ds.DB.WithContext(ctx).Omit("SampleType").Save(sample).Error; err != nil {
		return dbError(err, "save_sample", "xrh_id", sample.FullXrhID)
	}
	return nil
}

func (ds *DataStore) SaveSampleType(ctx context.Context, sampleType *SampleType) error {
	if err := ds.DB.WithContext(ctx).Save(sampleType).Error; err != nil {
		return dbError(err, "save_sample_type", "name", sampleType.Name)
	}
	return nil
}

func (ds *DataStore) SampleAttachments(ctx context.Context, sampleID uint) ([]SampleAttachment, error) {
	var attachments []SampleAttachment
	if err := ds.DB.WithContext(ctx).Where("sample_id = ?", sampleID).Order("id").Find(&attachments).Error; err != nil {
		return nil, dbError(err, "sample_attachments", "sample_id", sampleID)
	}
	return attachments, nil
}

func (ds *DataStore) SaveSampleAttachment(ctx context.Context, attachment *SampleAttachment) error {
	if err := ds.DB.WithContext(ctx).Save(attachment).Error; err != nil {
		return dbError(err, "save_sample_attachment", "sample_id", attachment.SampleID)
	}
	return nil
}
