package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuthEventLogger records authentication attempts to an external sink.
// Implementations should be non-blocking and best-effort.
type AuthEventLogger interface {
	LogAuthAttempt(ctx context.Context, ev AuthEvent) error
}

// AuthEvent is one authentication attempt. It never carries the token itself;
// TokenFingerprint correlates attempts made with the same token.
type AuthEvent struct {
	ID               uuid.UUID
	OccurredAt       time.Time
	EnvironmentID    string
	Outcome          string // "ok" or an autherr kind name
	Detail           string
	Subject          string
	KeyID            string
	TokenFingerprint string
	ClientIP         string
	UserAgent        string
	RequestID        string
}

// Succeeded reports whether the attempt authenticated.
func (e AuthEvent) Succeeded() bool { return e.Outcome == OutcomeOK }
