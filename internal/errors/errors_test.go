package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("moving %s", "scan").
		Component("processor").
		Category(CategoryMove).
		Priority(PriorityHigh).
		Context("scan_id", 42).
		Build()

	assert.Equal(t, "processor", ee.GetComponent())
	assert.Equal(t, CategoryMove, ee.Category)
	assert.Equal(t, PriorityHigh, ee.GetPriority())
	assert.Equal(t, 42, ee.GetContext()["scan_id"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := NewStdBuilder("x").Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())
}

func TestIsMatchesWrappedSentinel(t *testing.T) {
	sentinel := NewStd("insufficient space")
	ee := New(fmt.Errorf("moving subtree: %w", sentinel)).
		Category(CategoryDiskUsage).
		Build()

	require.ErrorIs(t, ee, sentinel)
	assert.True(t, IsCategory(ee, CategoryDiskUsage))
	assert.True(t, Is(ee, &EnhancedError{Category: CategoryDiskUsage}))
	assert.False(t, IsNotFound(ee))
}

func TestReporterReceivesBuiltErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("lock wait expired")).Component("lock").Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.Equal(t, CategoryLock, ee.Category)
	assert.True(t, ee.IsReported())
}

func TestFileContextKeepsOnlyBaseName(t *testing.T) {
	ee := New(NewStd("bad file")).FileContext("/mnt/share1/proj/scan.XTEKCT").Build()

	ctx := ee.GetContext()
	assert.Equal(t, "scan.XTEKCT", ctx["file_name"])
	assert.Equal(t, "xtekct", ctx["file_extension"])
}

func TestScrubMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"home folder", "open /home/alice/data.txt failed", "open /home/[USER]/data.txt failed"},
		{"password", "connect password=hunter2 failed", "connect password=[REDACTED] failed"},
		{"dsn", "dial xrh:pw@tcp(db:3306)/xrhms", "dial [CREDENTIALS]@tcp(db:3306)/xrhms"},
		{"untouched", "/mnt/share1/scan.xtekct missing", "/mnt/share1/scan.xtekct missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScrubMessage(tt.in))
		})
	}
}

// NewStdBuilder is a small helper for tests that only need a message.
func NewStdBuilder(msg string) *ErrorBuilder {
	return New(NewStd(msg))
}
