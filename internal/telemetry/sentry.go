// Package telemetry wires error reporting to Sentry for batch jobs.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// flushTimeout bounds how long a job waits for queued events at exit.
const flushTimeout = 5 * time.Second

// InitSentry initializes the Sentry SDK and connects it to the errors package.
// Nothing happens unless Sentry is enabled in the configuration.
func InitSentry(settings *conf.Settings, log logger.Logger) error {
	return initSentry(settings, log, nil)
}

func initSentry(settings *conf.Settings, log logger.Logger, transport sentry.Transport) error {
	if !settings.Sentry.Enabled {
		log.Debug("sentry telemetry disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Sentry.Environment,
		ServerName:       settings.Main.Name,
		Release:          fmt.Sprintf("xrhms@%s", settings.Version),
		BeforeSend:       beforeSend,
		Transport:        transport,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	configureScope(settings)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry enabled",
		logger.String("environment", settings.Sentry.Environment))
	return nil
}

// beforeSend strips user data and scrubs paths and credentials from messages.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	if event.Tags != nil {
		delete(event.Tags, "hostname")
	}
	return event
}

func configureScope(settings *conf.Settings) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("node", settings.Main.Name)
		scope.SetTag("os", runtime.GOOS)
		scope.SetContext("application", map[string]any{
			"name":       "xrhms",
			"version":    settings.Version,
			"go_version": runtime.Version(),
		})
	})
}

// Flush waits for queued events. Jobs call it before exiting.
func Flush() bool {
	return sentry.Flush(flushTimeout)
}
