package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to DatasetStatus
		want     bool
	}{
		{StatusOnline, StatusMoving, true},
		{StatusMoving, StatusArchivedDisk, true},
		{StatusOnline, StatusMissing, true},
		{StatusMissing, StatusDeleted, true},
		{StatusMissing, StatusOnline, true},
		{StatusOnline, StatusArchivedMuvis, true},
		{StatusOnline, StatusOnline, true},
		{StatusMoving, StatusMoving, true},
		{StatusMissing, StatusMoving, false},
		{StatusDeleted, StatusMissing, false},
		{StatusOnline, StatusDeleted, false},
		{"ZZ", "ZZ", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestDatasetStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Archived to Disk", StatusArchivedDisk.String())
	assert.Equal(t, "XX", DatasetStatus("XX").String())
	assert.True(t, StatusArchivedMuvis.IsArchived())
	assert.False(t, StatusMissing.IsArchived())
}
