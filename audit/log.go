// Package audit provides core.AuthEventLogger sinks.
package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/spinauth/core"
)

// LogSink writes auth events as structured log lines.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink returns a sink writing to l; nil uses the standard logger.
func NewLogSink(l logrus.FieldLogger) *LogSink {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogSink{log: l}
}

func (s *LogSink) LogAuthAttempt(_ context.Context, ev core.AuthEvent) error {
	s.log.WithFields(logrus.Fields{
		"event_id":       ev.ID.String(),
		"environment_id": ev.EnvironmentID,
		"outcome":        ev.Outcome,
		"sub":            ev.Subject,
		"kid":            ev.KeyID,
		"token_fp":       ev.TokenFingerprint,
		"client_ip":      ev.ClientIP,
		"request_id":     ev.RequestID,
	}).Info("audit: auth attempt")
	return nil
}

// Multi fans an event out to several sinks. Every sink is called; the first
// error is returned.
type Multi []core.AuthEventLogger

func (m Multi) LogAuthAttempt(ctx context.Context, ev core.AuthEvent) error {
	var first error
	for _, s := range m {
		if err := s.LogAuthAttempt(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
