package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("visible", logger.String("share", "raw01"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "share=raw01")
}

func TestSlogLoggerTraceLevelName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelTrace, time.UTC)
	log.Trace("select 1")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleAndWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC)
	log := base.Module("processor").Module("move").With(logger.Uint("pk", 42))

	log.Warn("moving", logger.Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=processor.move")
	assert.Contains(t, out, "pk=42")
	assert.Contains(t, out, "error=boom")
}

func TestWithContextAddsJobID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithJobID(context.Background(), "job-123")
	log.WithContext(ctx).Info("started")
	log.WithContext(context.Background()).Info("no job")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "job_id=job-123")
	assert.NotContains(t, lines[1], "job_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "xrhms.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "error"},
	})
	require.NoError(t, err)

	cl.Module("scan").Info("indexed", logger.Int("records", 3))
	cl.Module("datastore").Info("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "indexed", rec["msg"])
	assert.Equal(t, "scan", rec["module"])
	assert.InDelta(t, 3, rec["records"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestNewCentralLoggerNilConfig(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(nil)
	require.Error(t, err)
}

func TestSQLLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sql := logger.NewSQLLogger(logger.NewSlogLogger(&buf, logger.LogLevelTrace, time.UTC), time.Second)
	ctx := context.Background()

	sql.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT * FROM scans", 1 }, nil)
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), `statement="SELECT * FROM scans"`)

	buf.Reset()
	sql.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT * FROM shares", 0 }, gorm.ErrRecordNotFound)
	assert.Contains(t, buf.String(), "level=TRACE", "a missing row is not a failure")

	buf.Reset()
	sql.Trace(ctx, time.Now(), func() (string, int64) { return "UPDATE scans", 0 }, errors.New("database is locked"))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "statement failed")
	assert.Contains(t, buf.String(), `error="database is locked"`)

	buf.Reset()
	sql.Trace(ctx, time.Now().Add(-2*time.Second), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Contains(t, buf.String(), "slow statement")

	buf.Reset()
	long := "INSERT INTO scans VALUES " + strings.Repeat("(?),", 1000)
	sql.Trace(ctx, time.Now(), func() (string, int64) { return long, 1000 }, nil)
	assert.Contains(t, buf.String(), "bytes)")
	assert.Less(t, buf.Len(), len(long))
}
