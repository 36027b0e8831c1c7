// Package sentry provides error tracking and monitoring using Sentry.
package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	LevelDebug   Level = sentry.LevelDebug
	LevelInfo    Level = sentry.LevelInfo
	LevelWarning Level = sentry.LevelWarning
	LevelError   Level = sentry.LevelError
	LevelFatal   Level = sentry.LevelFatal
)

type Scope = sentry.Scope
type Level = sentry.Level

type Service struct {
	DSN         string
	Environment string
}

// NewService initializes Sentry and returns the service. An empty DSN
// disables reporting, which is how tests and local development run.
func NewService(dsn, environment string) *Service {
	_ = sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Debug:       environment == "development",
		SampleRate:  1.0,
	})

	return &Service{
		DSN:         dsn,
		Environment: environment,
	}
}

// CaptureException sends an error to Sentry.
func (s *Service) CaptureException(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureMessage sends a message to Sentry.
func (s *Service) CaptureMessage(message string) {
	sentry.CaptureMessage(message)
}

// Flush waits for all events to be sent to Sentry.
func (s *Service) Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// Close flushes pending events and shuts down the Sentry client.
func (s *Service) Close() {
	s.Flush(2 * time.Second)
}

// WithScope allows modifying the Sentry scope for a specific operation.
func (s *Service) WithScope(fn func(scope *Scope)) {
	sentry.WithScope(fn)
}
