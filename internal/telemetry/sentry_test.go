package telemetry

import (
	"bytes"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

func TestInitSentryDisabledIsNoop(t *testing.T) {
	var buf bytes.Buffer
	settings := &conf.Settings{}

	require.NoError(t, InitSentry(settings, logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC)))
	assert.Contains(t, buf.String(), "sentry telemetry disabled")
}

func TestCapturedErrorsAreScrubbed(t *testing.T) {
	transport := NewMockTransport()
	settings := &conf.Settings{}
	settings.Sentry.Enabled = true
	settings.Sentry.DSN = "https://public@example.invalid/1"
	settings.Sentry.Environment = "test"

	var buf bytes.Buffer
	require.NoError(t, initSentry(settings, logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC), transport))
	t.Cleanup(func() {
		errors.SetTelemetryReporter(nil)
		sentry.CurrentHub().BindClient(nil)
	})

	sentry.CaptureMessage("copy failed for /home/jdoe/scan.xtekct")
	require.True(t, sentry.Flush(time.Second))

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "copy failed for /home/[USER]/scan.xtekct", events[0].Message)
	assert.Equal(t, "test", events[0].Environment)
}
