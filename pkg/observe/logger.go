// Package observe holds the ambient logging and metrics wiring shared
// by cmd/server and cmd/agent: a log/slog-backed ingest.Logger and an
// OpenTelemetry metrics bridge exposed over Prometheus, following the
// shape of MrWong99-glyphoxa's internal/observe package.
package observe

import (
	"log/slog"
)

// SlogLogger adapts *slog.Logger to the ingest.Logger interface every
// pipeline component accepts. The teacher ships only NoOpLogger; slog
// is the structured logger used throughout the rest of the retrieved
// pack (e.g. MrWong99-glyphoxa's internal/app, internal/observe), so
// it is the concrete logger cmd/server and cmd/agent construct.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l. A nil l falls back to slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, args ...interface{}) { s.l.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...interface{})  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...interface{})  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...interface{}) { s.l.Error(msg, args...) }

// With returns a SlogLogger scoped with the given key/value pairs,
// e.g. observe.NewSlogLogger(nil).With("session_id", id).
func (s *SlogLogger) With(args ...interface{}) *SlogLogger {
	return &SlogLogger{l: s.l.With(args...)}
}
