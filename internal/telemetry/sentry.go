// Package telemetry wires opt-in Sentry error reporting.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/streamhub/internal/buildinfo"
	"github.com/tphakala/streamhub/internal/conf"
	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
)

const flushTimeout = 2 * time.Second

// Init starts Sentry when enabled and routes enhanced errors to it. The
// returned function flushes pending events and detaches the reporter; it is
// safe to call when telemetry is disabled.
func Init(settings conf.SentrySettings, bi *buildinfo.Context, log logger.Logger) (func(), error) {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}
	if !settings.Enabled {
		log.Debug("sentry telemetry disabled")
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          bi.Release(),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return func() {}, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", bi.SystemID())
	})
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry enabled",
		logger.String("environment", settings.Environment),
		logger.String("release", bi.Release()))

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
