// Package storage defines session persistence for the step-up service.
package storage

import (
	"context"

	"github.com/strongholdauth/stronghold/internal/platform/errors"
	"github.com/strongholdauth/stronghold/internal/stepup/session"
)

// ErrNotFound indicates a requested session record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "session not found")

// Store persists session records keyed by session id.
//
// Implementations must tolerate concurrent calls; the lifecycle service
// serializes writes per session id on top of this interface. DeleteSession
// on a missing id is a no-op, matching the delete contract of the HTTP
// surface.
type Store interface {
	CreateSession(ctx context.Context, record session.Session) error
	GetSession(ctx context.Context, sessionID string) (session.Session, error)
	UpdateSession(ctx context.Context, record session.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
