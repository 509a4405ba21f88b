// Package telemetry reports runtime trouble to Sentry. Until Init is called
// with a DSN every function is a no-op, so callers never need to check.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init configures the Sentry client. An empty dsn leaves telemetry off. The
// returned flush func should be deferred by main.
func Init(dsn, release string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return func() {}, fmt.Errorf("cannot init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Enabled reports whether a client is configured.
func Enabled() bool {
	return sentry.CurrentHub().Client() != nil
}

// Breadcrumb records a low-importance event attached to the next capture.
func Breadcrumb(category, message string, data map[string]any) {
	if !Enabled() {
		return
	}
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Data:      data,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	})
}

// Overrun records a scheduling callback that ran late.
func Overrun(late time.Duration) {
	Breadcrumb("scheduler", "overrun", map[string]any{"late_ms": late.Milliseconds()})
}

// DeviceUnavailable captures a missing or failing output.
func DeviceUnavailable(port string) {
	if !Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("port", port)
		scope.SetLevel(sentry.LevelWarning)
		sentry.CaptureMessage("MIDI output unavailable")
	})
}

// CaptureError reports err.
func CaptureError(err error) {
	if err == nil || !Enabled() {
		return
	}
	sentry.CaptureException(err)
}

// Span times op. The returned func finishes the span, marking it failed when
// err is non-nil.
func Span(ctx context.Context, op, description string) (context.Context, func(err error)) {
	if !Enabled() {
		return ctx, func(error) {}
	}
	span := sentry.StartSpan(ctx, op)
	span.Description = description
	return span.Context(), func(err error) {
		if err != nil {
			span.Status = sentry.SpanStatusInternalError
			span.SetData("error", err.Error())
		} else {
			span.Status = sentry.SpanStatusOK
		}
		span.Finish()
	}
}
