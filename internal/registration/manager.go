// Package registration manages session rosters and the attendance log.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"liveclass/internal/apperror"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Manager is the only writer of rosters. Capacity, uniqueness and the
// registration deadline are enforced by one conditional repository write.
type Manager struct {
	repo   interfaces.SessionRepository
	events interfaces.EventPublisher
	now    func() time.Time
	logger *slog.Logger
}

func NewManager(repo interfaces.SessionRepository, events interfaces.EventPublisher, logger *slog.Logger) *Manager {
	if events == nil {
		events = interfaces.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		events: events,
		now:    time.Now,
		logger: logger.With(slog.String("component", "registration")),
	}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Register adds participantID to the roster. A second attempt fails with
// ErrAlreadyRegistered; a full roster fails with ErrSessionFull.
func (m *Manager) Register(ctx context.Context, sessionID, participantID string) error {
	if !types.IsValidUserID(participantID) {
		return types.ErrInvalidUserID
	}

	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	if s.IsExpired {
		return interfaces.ErrSessionExpired
	}
	if !session.RegistrationOpen(s, now) {
		return interfaces.ErrRegistrationClosed
	}

	reg := types.Registration{ParticipantID: participantID, RegisteredAt: now}
	if err := m.repo.AddRegistration(ctx, sessionID, reg, now); err != nil {
		return err
	}

	m.publishRoster(sessionID, participantID, "registered", now)
	m.logger.Info("participant registered",
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID))
	return nil
}

// Unregister removes participantID while the session has not started.
func (m *Manager) Unregister(ctx context.Context, sessionID, participantID string) error {
	if !types.IsValidUserID(participantID) {
		return types.ErrInvalidUserID
	}

	now := m.now().UTC()
	if err := m.repo.RemoveRegistration(ctx, sessionID, participantID, now); err != nil {
		return err
	}

	m.publishRoster(sessionID, participantID, "unregistered", now)
	m.logger.Info("participant unregistered",
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID))
	return nil
}

// RecordAttendance appends a joined or left event. It does not consult the
// roster: public sessions log attendance for unregistered viewers.
func (m *Manager) RecordAttendance(ctx context.Context, sessionID, participantID string, kind types.AttendanceKind) error {
	if !types.IsValidUserID(participantID) {
		return types.ErrInvalidUserID
	}
	if !types.IsValidAttendanceKind(kind) {
		return types.ErrInvalidAttendance
	}

	return m.repo.AppendAttendance(ctx, sessionID, types.AttendanceEvent{
		ParticipantID: participantID,
		Kind:          kind,
		At:            m.now().UTC(),
	})
}

// Report is the host's attendance summary.
type Report struct {
	SessionID  string                   `json:"session_id"`
	Registered int                      `json:"registered"`
	Attended   int                      `json:"attended"`
	Records    []types.AttendanceRecord `json:"records"`
}

// Attendance returns the paired attendance records. Only the owner or an
// admin may read it.
func (m *Manager) Attendance(ctx context.Context, sessionID string, actor types.Actor) (*Report, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(s) {
		return nil, apperror.Forbidden("only the session owner can read attendance")
	}

	records := types.PairAttendance(s.Attendance)
	attended := make(map[string]struct{}, len(records))
	for _, r := range records {
		attended[r.ParticipantID] = struct{}{}
	}

	return &Report{
		SessionID:  sessionID,
		Registered: len(s.Roster),
		Attended:   len(attended),
		Records:    records,
	}, nil
}

func (m *Manager) publishRoster(sessionID, participantID, action string, now time.Time) {
	m.events.Publish(types.SessionEvent{
		Type:      types.EventRosterChanged,
		SessionID: sessionID,
		Data: map[string]any{
			"participant_id": participantID,
			"action":         action,
		},
		Timestamp: now,
	})
}

// String is used in logs.
func (r *Report) String() string {
	return fmt.Sprintf("session=%s registered=%d attended=%d", r.SessionID, r.Registered, r.Attended)
}
