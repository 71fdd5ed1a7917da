package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFanoutRespectsEachLevel(t *testing.T) {
	t.Parallel()

	var console, file bytes.Buffer
	h := newFanout(
		slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn}),
		nil,
		slog.NewJSONHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	log := slog.New(h).With("job", "scan")

	log.Debug("walking share")
	log.Warn("sidecar unreadable")

	assert.NotContains(t, console.String(), "walking share")
	assert.Contains(t, console.String(), "sidecar unreadable")
	assert.Contains(t, console.String(), "job=scan")
	assert.Contains(t, file.String(), `"msg":"walking share"`)
	assert.Contains(t, file.String(), `"job":"scan"`)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug-4))
}

func TestFanoutSingleHandlerIsUnwrapped(t *testing.T) {
	t.Parallel()

	only := newTextHandler(&bytes.Buffer{}, slog.LevelInfo, time.UTC)
	assert.Equal(t, only, newFanout(nil, only))
}
