// Package testutil provides in-memory fakes and fixtures shared by the
// lifecycle package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// MemoryRepository is an in-memory SessionRepository with the same
// conditional-write semantics as the SQLite repository.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*types.Session

	// Err, when set, is returned by every method.
	Err error
}

var _ interfaces.SessionRepository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*types.Session)}
}

func (r *MemoryRepository) CreateSession(ctx context.Context, session *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sessions[session.ID] = clone(session)
	return nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return clone(s), nil
}

func (r *MemoryRepository) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	var out []*types.Session
	for _, s := range r.sessions {
		if filter.OwnerID != "" && s.OwnerID != filter.OwnerID {
			continue
		}
		if filter.CourseID != "" && (s.CourseID == nil || *s.CourseID != filter.CourseID) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if !filter.IncludeExpired && s.IsExpired {
			continue
		}
		c := clone(s)
		c.Attendance = nil
		out = append(out, c)
	}
	sortByStart(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateSessionDetails(ctx context.Context, sessionID string, update types.SessionUpdate, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	if s.IsExpired {
		return interfaces.ErrSessionExpired
	}
	if s.Status != types.StatusScheduled || !s.ScheduledStart.After(now) {
		return interfaces.ErrNotEditable
	}
	if update.MaxParticipants != nil && len(s.Roster) > *update.MaxParticipants {
		return interfaces.ErrCapacityBelowRoster
	}

	if update.Title != nil {
		s.Title = *update.Title
	}
	if update.Description != nil {
		s.Description = *update.Description
	}
	if update.IsPublic != nil {
		s.IsPublic = *update.IsPublic
	}
	if update.MaxParticipants != nil {
		s.MaxParticipants = *update.MaxParticipants
	}
	if update.Window != nil {
		s.ApplyWindow(*update.Window)
	}
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) TransitionStatus(ctx context.Context, sessionID string, from, to types.Status, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	if s.IsExpired {
		return interfaces.ErrSessionExpired
	}
	if s.Status != from {
		return interfaces.ErrStaleStatus
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) AddRegistration(ctx context.Context, sessionID string, reg types.Registration, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	if s.IsExpired {
		return interfaces.ErrSessionExpired
	}
	if s.Status != types.StatusScheduled || now.After(s.ScheduledStart) {
		return interfaces.ErrRegistrationClosed
	}
	if s.IsRegistered(reg.ParticipantID) {
		return interfaces.ErrAlreadyRegistered
	}
	if len(s.Roster) >= s.MaxParticipants {
		return interfaces.ErrSessionFull
	}
	s.Roster = append(s.Roster, reg)
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) RemoveRegistration(ctx context.Context, sessionID, participantID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	if s.IsExpired {
		return interfaces.ErrSessionExpired
	}
	if s.Status == types.StatusLive || s.Status == types.StatusCompleted ||
		(s.Status == types.StatusScheduled && !now.Before(s.ScheduledStart)) {
		return interfaces.ErrRegistrationClosed
	}
	for i, reg := range s.Roster {
		if reg.ParticipantID == participantID {
			s.Roster = append(s.Roster[:i], s.Roster[i+1:]...)
			s.UpdatedAt = now
			return nil
		}
	}
	return interfaces.ErrNotRegistered
}

func (r *MemoryRepository) AppendAttendance(ctx context.Context, sessionID string, event types.AttendanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	if s.IsExpired {
		return interfaces.ErrSessionExpired
	}
	s.Attendance = append(s.Attendance, event)
	return nil
}

func (r *MemoryRepository) ListDueTransitions(ctx context.Context, now time.Time, limit int) ([]*types.Session, error) {
	return r.collect(limit, func(s *types.Session) bool {
		if s.IsExpired {
			return false
		}
		return (s.Status == types.StatusScheduled && !s.ScheduledStart.After(now)) ||
			(s.Status == types.StatusLive && s.ScheduledEnd.Before(now))
	})
}

func (r *MemoryRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.Session, error) {
	return r.collect(limit, func(s *types.Session) bool {
		return !s.IsExpired && !s.ExpiresAt.After(now)
	})
}

func (r *MemoryRepository) MarkExpired(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	s, ok := r.sessions[sessionID]
	if !ok || s.IsExpired {
		return false, nil
	}
	s.IsExpired = true
	s.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepository) DeleteSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.lookup(sessionID); err != nil {
		return err
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *MemoryRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	n := 0
	for id, s := range r.sessions {
		if s.IsExpired && s.ExpiresAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) HealthCheck(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Err
}

func (r *MemoryRepository) Close() error { return nil }

// Len returns the number of stored sessions.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Mutate edits a stored session in place, bypassing every rule.
func (r *MemoryRepository) Mutate(sessionID string, fn func(s *types.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		fn(s)
	}
}

func (r *MemoryRepository) lookup(sessionID string) (*types.Session, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (r *MemoryRepository) collect(limit int, match func(*types.Session) bool) ([]*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*types.Session
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, clone(s))
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByStart(sessions []*types.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ScheduledStart.Equal(sessions[j].ScheduledStart) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ScheduledStart.Before(sessions[j].ScheduledStart)
	})
}

func clone(s *types.Session) *types.Session {
	c := *s
	c.Roster = append([]types.Registration{}, s.Roster...)
	c.Attendance = append([]types.AttendanceEvent(nil), s.Attendance...)
	if s.CourseID != nil {
		course := *s.CourseID
		c.CourseID = &course
	}
	return &c
}
