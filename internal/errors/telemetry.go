package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporterMu     sync.RWMutex
	globalReporter TelemetryReporter
)

// SetTelemetryReporter installs the process-wide reporter. Passing nil
// disables reporting and puts Build back on its fast path.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	r := globalReporter
	reporterMu.RUnlock()

	if r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
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

// ReportError sends a scrubbed event to Sentry once per error.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := errorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func errorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != ComponentUnknown {
		parts = append(parts, c)
	}
	parts = append(parts, string(ee.Category))
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, strings.ReplaceAll(op, "_", " "))
	}
	return strings.Join(parts, " ")
}

func errorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryHTTP, CategoryMQTTConnect, CategoryMQTTPublish, CategoryTimeout:
		return sentry.LevelWarning
	case CategoryAudio, CategoryAudioSource, CategoryCodec:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	urlQueryRegex = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	credRegex     = regexp.MustCompile(`(?i)(password|passwd|token|api[_-]?key|dsn)[=:]\S+`)
	userinfoRegex = regexp.MustCompile(`(\w+://)[^/@\s]+@`)
)

// scrubMessage removes query strings, credentials and URL userinfo.
func scrubMessage(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = userinfoRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	return credRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
}
