// Package session owns the session lifecycle: creation against a video
// provider, clock-driven status advancement, owner commands and joining.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/apperror"
	"liveclass/internal/credential"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Config holds the lifecycle durations.
type Config struct {
	JoinWindow  time.Duration
	GracePeriod time.Duration
	// StartSkew tolerates clients whose clock runs slightly behind when a
	// start instant is checked against now.
	StartSkew       time.Duration
	DefaultProvider types.ProviderKind
}

// DefaultConfig returns a 15 minute join window and a 24 hour grace period.
func DefaultConfig() Config {
	return Config{
		JoinWindow:      DefaultJoinWindow,
		GracePeriod:     24 * time.Hour,
		StartSkew:       time.Minute,
		DefaultProvider: types.ProviderHosted,
	}
}

// maxAdvanceAttempts bounds reloads after a concurrent status change.
// Status is monotonic, so at most three edges can be observed.
const maxAdvanceAttempts = 3

// Manager is the single gate for session status and schedule changes.
type Manager struct {
	repo      interfaces.SessionRepository
	providers interfaces.ProviderResolver
	issuer    *credential.Issuer
	events    interfaces.EventPublisher
	config    Config
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a session manager. A nil publisher discards events.
func NewManager(
	repo interfaces.SessionRepository,
	providers interfaces.ProviderResolver,
	issuer *credential.Issuer,
	events interfaces.EventPublisher,
	config Config,
	logger *slog.Logger,
) *Manager {
	if events == nil {
		events = interfaces.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.JoinWindow <= 0 {
		config.JoinWindow = DefaultJoinWindow
	}
	if config.DefaultProvider == "" {
		config.DefaultProvider = types.ProviderHosted
	}
	return &Manager{
		repo:      repo,
		providers: providers,
		issuer:    issuer,
		events:    events,
		config:    config,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "session")),
	}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Config returns the lifecycle configuration in effect.
func (m *Manager) Config() Config {
	return m.config
}

// CreateRequest carries the owner-supplied fields of a new session.
type CreateRequest struct {
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	CourseID        *string            `json:"course_id"`
	ScheduledStart  time.Time          `json:"scheduled_start"`
	DurationMinutes int                `json:"duration_minutes"`
	MaxParticipants int                `json:"max_participants"`
	IsPublic        bool               `json:"is_public"`
	Provider        types.ProviderKind `json:"provider"`
}

// CreateSession creates the provider meeting first and persists the session
// only once the binding exists. A provider failure aborts creation.
func (m *Manager) CreateSession(ctx context.Context, actor types.Actor, req CreateRequest) (*types.Session, error) {
	if actor.ID == "" {
		return nil, apperror.Unauthenticated("actor identity is required")
	}
	if !actor.IsStaff() {
		return nil, apperror.Forbidden("only instructors can create sessions")
	}

	now := m.now().UTC()
	kind := req.Provider
	if kind == "" {
		kind = m.config.DefaultProvider
	}

	session := &types.Session{
		ID:              uuid.New().String(),
		Title:           req.Title,
		Description:     req.Description,
		OwnerID:         actor.ID,
		CourseID:        req.CourseID,
		MaxParticipants: req.MaxParticipants,
		IsPublic:        req.IsPublic,
		Status:          types.StatusScheduled,
		ProviderKind:    kind,
		Roster:          []types.Registration{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	session.ApplyWindow(types.ComputeWindow(req.ScheduledStart, req.DurationMinutes, m.config.GracePeriod))

	if err := session.Validate(); err != nil {
		return nil, err
	}
	if session.ScheduledStart.Before(now.Add(-m.config.StartSkew)) {
		return nil, types.ErrStartInPast
	}

	adapter, err := m.providers.Get(kind)
	if err != nil {
		return nil, err
	}

	meeting, err := adapter.CreateMeeting(ctx, types.MeetingSpec{
		SessionID:       session.ID,
		Title:           session.Title,
		Start:           session.ScheduledStart,
		DurationMinutes: session.DurationMinutes,
		HostID:          session.OwnerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider meeting: %w", err)
	}

	session.ProviderMeetingID = meeting.ProviderMeetingID
	session.HostJoinRef = meeting.HostJoinRef
	session.ParticipantJoinRef = meeting.ParticipantJoinRef
	session.AccessSecret = meeting.Secret

	if err := m.repo.CreateSession(ctx, session); err != nil {
		m.deleteMeeting(ctx, session, "create_rollback")
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.logger.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("owner_id", session.OwnerID),
		slog.String("provider", string(kind)),
		slog.Time("scheduled_start", session.ScheduledStart))

	return session, nil
}

// GetSession loads a session and persists any status transition the clock
// has made due.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.Advance(ctx, session)
}

// Advance applies the pending clock-driven transitions of session through
// compare-and-set writes. When another writer got there first the session
// is reloaded and re-evaluated, so a cancel is never overwritten.
func (m *Manager) Advance(ctx context.Context, session *types.Session) (*types.Session, error) {
	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		now := m.now().UTC()
		steps := PendingTransitions(session, now)
		if len(steps) == 0 {
			return session, nil
		}

		stale := false
		for _, step := range steps {
			err := m.repo.TransitionStatus(ctx, session.ID, step.From, step.To, now)
			if errors.Is(err, interfaces.ErrStaleStatus) || errors.Is(err, interfaces.ErrSessionExpired) {
				stale = true
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to advance session status: %w", err)
			}
			session.Status = step.To
			session.UpdatedAt = now
			m.publishStatus(session, now)
			m.logger.Info("session status advanced",
				slog.String("session_id", session.ID),
				slog.String("from", string(step.From)),
				slog.String("to", string(step.To)))
		}
		if !stale {
			return session, nil
		}

		fresh, err := m.repo.GetSession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		session = fresh
	}
	return session, nil
}

// ViewSession returns the role-aware projection of a session for actor.
func (m *Manager) ViewSession(ctx context.Context, sessionID string, actor types.Actor) (*types.SessionView, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return BuildView(session, actor, m.now().UTC(), m.config.JoinWindow), nil
}

// ListSessions returns views of the matching sessions. Statuses are the
// clock-implied ones; the sweep persists them.
func (m *Manager) ListSessions(ctx context.Context, filter types.SessionFilter, actor types.Actor) ([]*types.SessionView, error) {
	if filter.Status != "" && !types.IsValidStatus(filter.Status) {
		return nil, types.ErrInvalidStatus
	}
	sessions, err := m.repo.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	views := make([]*types.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, BuildView(s, actor, now, m.config.JoinWindow))
	}
	return views, nil
}

// UpdateSession applies owner edits while the session is scheduled. A
// schedule change recomputes end and expiry and writes them with the start
// in one statement.
func (m *Manager) UpdateSession(ctx context.Context, sessionID string, actor types.Actor, update types.SessionUpdate) (*types.Session, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(session) {
		return nil, apperror.Forbidden("only the session owner can update it")
	}

	now := m.now().UTC()
	if err := update.Validate(now, m.config.StartSkew); err != nil {
		return nil, err
	}
	if session.IsExpired {
		return nil, interfaces.ErrSessionExpired
	}
	if session.Status != types.StatusScheduled || !session.ScheduledStart.After(now) {
		return nil, interfaces.ErrNotEditable
	}

	update.Window = nil
	if update.ChangesSchedule() {
		start := session.ScheduledStart
		if update.ScheduledStart != nil {
			start = *update.ScheduledStart
		}
		duration := session.DurationMinutes
		if update.DurationMinutes != nil {
			duration = *update.DurationMinutes
		}
		window := types.ComputeWindow(start, duration, m.config.GracePeriod)
		update.Window = &window
	}

	if err := m.repo.UpdateSessionDetails(ctx, sessionID, update, now); err != nil {
		return nil, err
	}

	if update.Title != nil || update.Window != nil {
		m.syncMeeting(ctx, session, update)
	}

	updated, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.events.Publish(types.SessionEvent{
		Type:      types.EventUpdated,
		SessionID: sessionID,
		Status:    updated.Status,
		Timestamp: now,
	})
	m.logger.Info("session updated",
		slog.String("session_id", sessionID),
		slog.Bool("rescheduled", update.Window != nil))

	return updated, nil
}

// CancelSession moves a scheduled or live session to cancelled.
func (m *Manager) CancelSession(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error) {
	return m.command(ctx, sessionID, actor, types.StatusCancelled)
}

// EndSession completes a live session before its scheduled end.
func (m *Manager) EndSession(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error) {
	return m.command(ctx, sessionID, actor, types.StatusCompleted)
}

// command applies an owner-initiated transition with compare-and-set,
// re-reading on a concurrent change until the edge is applied or illegal.
func (m *Manager) command(ctx context.Context, sessionID string, actor types.Actor, to types.Status) (*types.Session, error) {
	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		session, err := m.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !actor.CanManage(session) {
			return nil, apperror.Forbidden("only the session owner can change its status")
		}
		if session.IsExpired {
			return nil, interfaces.ErrSessionExpired
		}
		if !CanTransition(session.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", interfaces.ErrIllegalTransition, session.Status, to)
		}

		now := m.now().UTC()
		err = m.repo.TransitionStatus(ctx, sessionID, session.Status, to, now)
		if errors.Is(err, interfaces.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, err
		}

		from := session.Status
		session.Status = to
		session.UpdatedAt = now
		m.publishStatus(session, now)
		m.logger.Info("session status changed by owner",
			slog.String("session_id", sessionID),
			slog.String("actor_id", actor.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return session, nil
	}
	return nil, interfaces.ErrStaleStatus
}

// DeleteSession removes a session on owner request. The provider meeting is
// deleted best effort; the database row is removed regardless.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string, actor types.Actor) error {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !actor.CanManage(session) {
		return apperror.Forbidden("only the session owner can delete it")
	}

	m.deleteMeeting(ctx, session, "owner_delete")

	if err := m.repo.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	m.events.Publish(types.SessionEvent{
		Type:      types.EventDeleted,
		SessionID: sessionID,
		Timestamp: m.now().UTC(),
	})
	m.logger.Info("session deleted", slog.String("session_id", sessionID), slog.String("actor_id", actor.ID))
	return nil
}

// Join checks eligibility, issues a fresh credential and records a joined
// attendance event.
func (m *Manager) Join(ctx context.Context, sessionID string, actor types.Actor) (*types.Credential, error) {
	if actor.ID == "" {
		return nil, apperror.Unauthenticated("actor identity is required")
	}
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if !CanJoin(session, now, actor.ID, m.config.JoinWindow) {
		return nil, apperror.Conflict(apperror.ReasonNotJoinable, notJoinableReason(session, now, actor.ID, m.config.JoinWindow))
	}

	cred, err := m.issuer.Issue(ctx, session, actor.ID, now)
	if err != nil {
		return nil, err
	}

	err = m.repo.AppendAttendance(ctx, sessionID, types.AttendanceEvent{
		ParticipantID: actor.ID,
		Kind:          types.AttendanceJoined,
		At:            now,
	})
	if err != nil {
		m.logger.Warn("failed to record join",
			slog.String("session_id", sessionID),
			slog.String("participant_id", actor.ID),
			slog.String("err", err.Error()))
	}

	return cred, nil
}

// Leave records a left attendance event.
func (m *Manager) Leave(ctx context.Context, sessionID string, actor types.Actor) error {
	if actor.ID == "" {
		return apperror.Unauthenticated("actor identity is required")
	}
	return m.repo.AppendAttendance(ctx, sessionID, types.AttendanceEvent{
		ParticipantID: actor.ID,
		Kind:          types.AttendanceLeft,
		At:            m.now().UTC(),
	})
}

// ValidateSubscription checks that actor may receive the session's events.
func (m *Manager) ValidateSubscription(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired {
		return nil, interfaces.ErrSessionExpired
	}
	if !actor.CanManage(session) && !CanSubscribe(session, actor.ID) {
		return nil, interfaces.ErrUnauthorized
	}
	return session, nil
}

// ReclaimMeeting deletes the provider meeting of session, logging and
// suppressing any failure. It reports whether the delete succeeded.
func (m *Manager) ReclaimMeeting(ctx context.Context, session *types.Session) bool {
	return m.deleteMeeting(ctx, session, "expiry")
}

// PublishExpired announces that session was marked expired.
func (m *Manager) PublishExpired(session *types.Session, now time.Time) {
	m.events.Publish(types.SessionEvent{
		Type:      types.EventExpired,
		SessionID: session.ID,
		Status:    session.Status,
		Timestamp: now,
	})
}

func (m *Manager) deleteMeeting(ctx context.Context, session *types.Session, reason string) bool {
	if session.ProviderMeetingID == "" {
		return true
	}
	adapter, err := m.providers.Get(session.ProviderKind)
	if err == nil {
		err = adapter.DeleteMeeting(ctx, session.ProviderMeetingID)
	}
	if err != nil {
		m.logger.Warn("provider meeting delete failed",
			slog.String("session_id", session.ID),
			slog.String("meeting_id", session.ProviderMeetingID),
			slog.String("reason", reason),
			slog.String("err", err.Error()))
		return false
	}
	return true
}

// syncMeeting pushes title and schedule edits to the provider. The stored
// session is authoritative, so a failure is logged and not returned.
func (m *Manager) syncMeeting(ctx context.Context, session *types.Session, update types.SessionUpdate) {
	adapter, err := m.providers.Get(session.ProviderKind)
	if err != nil {
		m.logger.Warn("provider lookup failed", slog.String("session_id", session.ID), slog.String("err", err.Error()))
		return
	}

	patch := types.MeetingPatch{Title: update.Title}
	if update.Window != nil {
		start := update.Window.Start
		duration := update.Window.DurationMinutes
		patch.Start = &start
		patch.DurationMinutes = &duration
	}

	if err := adapter.UpdateMeeting(ctx, session.ProviderMeetingID, patch); err != nil {
		m.logger.Warn("provider meeting update failed",
			slog.String("session_id", session.ID),
			slog.String("meeting_id", session.ProviderMeetingID),
			slog.String("err", err.Error()))
	}
}

func (m *Manager) publishStatus(session *types.Session, now time.Time) {
	m.events.Publish(types.SessionEvent{
		Type:      types.EventStatusChanged,
		SessionID: session.ID,
		Status:    session.Status,
		Timestamp: now,
	})
}

func notJoinableReason(s *types.Session, now time.Time, participantID string, joinWindow time.Duration) string {
	switch {
	case s.IsExpired:
		return "session has expired"
	case s.Status == types.StatusCancelled:
		return "session was cancelled"
	case s.Status == types.StatusCompleted || now.After(s.ScheduledEnd):
		return "session has ended"
	case now.Before(s.ScheduledStart.Add(-joinWindow)):
		return "session is not open for joining yet"
	default:
		return "participant is not on the roster"
	}
}
