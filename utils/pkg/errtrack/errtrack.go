// Package errtrack reports unexpected errors to an error-tracking backend.
package errtrack

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Tags attached to a report, e.g. {"section": "onStake"}.
type Tags map[string]string

// Reporter is the error-reporting sink.
type Reporter interface {
	Report(ctx context.Context, err error, tags Tags)
}

// NopReporter drops every report.
type NopReporter struct{}

func (NopReporter) Report(context.Context, error, Tags) {}

// Config configures sentry initialisation. An empty DSN disables sending but keeps the
// reporter usable.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Init initialises the global sentry client and returns a flush function to defer.
func Init(cfg Config) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// SentryReporter sends reports through a sentry hub, one scope per report so tags
// never leak between reports.
type SentryReporter struct {
	hub *sentry.Hub
	log *slog.Logger
}

// NewSentryReporter returns a reporter bound to hub, or the current hub when nil.
func NewSentryReporter(hub *sentry.Hub, log *slog.Logger) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub, log: log}
}

func (r *SentryReporter) Report(ctx context.Context, err error, tags Tags) {
	if err == nil {
		return
	}
	hub := r.hub
	if h := sentry.GetHubFromContext(ctx); h != nil {
		hub = h
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
	if r.log != nil {
		r.log.Error("errtrack: reported error", "error", err, "tags", map[string]string(tags))
	}
}
