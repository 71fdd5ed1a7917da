// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with user paths scrubbed
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()
	title := errorTitle(component, ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = ScrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := levelForCategory(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func errorTitle(component string, category ErrorCategory) string {
	parts := make([]string, 0, 2)
	if component != "" && component != ComponentUnknown {
		parts = append(parts, component)
	}
	parts = append(parts, strings.ReplaceAll(string(category), "-", " "))
	return strings.Join(parts, " ")
}

func levelForCategory(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryDatabase, CategoryMove, CategoryState:
		return sentry.LevelError
	case CategoryValidation, CategoryNotFound:
		return sentry.LevelInfo
	default:
		return sentry.LevelWarning
	}
}

var (
	userFolderPattern = regexp.MustCompile(`/(home|Users|users)/[^/\s]+`)
	credentialPattern = regexp.MustCompile(`(?i)(password|passwd|token|secret)=[^\s&@]+`)
	dsnPattern        = regexp.MustCompile(`[^\s:/]+:[^\s@/]+@tcp\(`)
)

// ScrubMessage removes user folders and credentials from a message before it leaves the host.
func ScrubMessage(message string) string {
	message = userFolderPattern.ReplaceAllString(message, "/$1/[USER]")
	message = credentialPattern.ReplaceAllString(message, "$1=[REDACTED]")
	message = dsnPattern.ReplaceAllString(message, "[CREDENTIALS]@tcp(")
	return message
}
