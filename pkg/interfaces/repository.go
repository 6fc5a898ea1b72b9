package interfaces

import (
	"context"
	"time"

	"liveclass/pkg/types"
)

// SessionRepository is the persistence boundary for sessions and their
// embedded roster and attendance collections. Every mutating method is a
// single conditional write so concurrent callers cannot break the capacity,
// uniqueness or status invariants.
type SessionRepository interface {
	// CreateSession persists a new session with an empty roster.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession loads a session with roster and attendance, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// ListSessions returns sessions matching filter ordered by scheduled start.
	// Rosters are populated; attendance is not.
	ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error)

	// UpdateSessionDetails applies update only while the session is
	// scheduled, unexpired and has not started at now. When update.Window is
	// set, start, duration, end and expiry are written by the same statement.
	UpdateSessionDetails(ctx context.Context, sessionID string, update types.SessionUpdate, now time.Time) error

	// TransitionStatus moves the session from -> to, failing with
	// ErrStaleStatus when the stored status is no longer from.
	TransitionStatus(ctx context.Context, sessionID string, from, to types.Status, now time.Time) error

	// AddRegistration appends to the roster if the session is open for
	// registration at now, the participant is absent and the roster is
	// below capacity, all as one unit.
	AddRegistration(ctx context.Context, sessionID string, reg types.Registration, now time.Time) error

	// RemoveRegistration deletes a roster entry while the session has not started.
	RemoveRegistration(ctx context.Context, sessionID, participantID string, now time.Time) error

	// AppendAttendance appends one attendance event.
	AppendAttendance(ctx context.Context, sessionID string, event types.AttendanceEvent) error

	// ListDueTransitions returns unexpired sessions that are scheduled with
	// start <= now, or live with end < now.
	ListDueTransitions(ctx context.Context, now time.Time, limit int) ([]*types.Session, error)

	// ListExpired returns sessions with expires_at <= now that are not yet marked expired.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.Session, error)

	// MarkExpired sets is_expired once. Marking an expired or missing session is not an error.
	MarkExpired(ctx context.Context, sessionID string, now time.Time) (bool, error)

	// DeleteSession removes the session row and its collections.
	DeleteSession(ctx context.Context, sessionID string) error

	// PurgeExpired deletes sessions already marked expired whose expiry is before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
