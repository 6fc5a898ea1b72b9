package session

import (
	"time"

	"liveclass/pkg/types"
)

// DefaultJoinWindow is how early before the start joining opens.
const DefaultJoinWindow = 15 * time.Minute

// transitions is the complete edge set. Nothing re-enters scheduled.
var transitions = map[types.Status][]types.Status{
	types.StatusScheduled: {types.StatusLive, types.StatusCancelled},
	types.StatusLive:      {types.StatusCompleted, types.StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to types.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Step is one clock-driven transition.
type Step struct {
	From types.Status
	To   types.Status
}

// PendingTransitions lists the clock-driven steps the stored status lags
// behind at now, in order. Scheduled goes live at the start instant; live
// completes once now is past the scheduled end.
func PendingTransitions(s *types.Session, now time.Time) []Step {
	if s.IsExpired {
		return nil
	}

	var steps []Step
	status := s.Status
	if status == types.StatusScheduled && !now.Before(s.ScheduledStart) {
		steps = append(steps, Step{From: types.StatusScheduled, To: types.StatusLive})
		status = types.StatusLive
	}
	if status == types.StatusLive && now.After(s.ScheduledEnd) {
		steps = append(steps, Step{From: types.StatusLive, To: types.StatusCompleted})
	}
	return steps
}

// EffectiveStatus is the status the clock implies at now.
func EffectiveStatus(s *types.Session, now time.Time) types.Status {
	steps := PendingTransitions(s, now)
	if len(steps) == 0 {
		return s.Status
	}
	return steps[len(steps)-1].To
}

// CanJoin is derived on every call and never stored. The host can always
// join inside the window; others need the roster unless the session is public.
func CanJoin(s *types.Session, now time.Time, participantID string, joinWindow time.Duration) bool {
	if s.IsExpired || s.Status == types.StatusCancelled || s.Status == types.StatusCompleted {
		return false
	}
	if now.Before(s.ScheduledStart.Add(-joinWindow)) || now.After(s.ScheduledEnd) {
		return false
	}
	if s.IsOwner(participantID) {
		return true
	}
	return s.IsPublic || s.IsRegistered(participantID)
}

// RegistrationOpen reports whether the roster may still grow at now.
func RegistrationOpen(s *types.Session, now time.Time) bool {
	return !s.IsExpired && s.Status == types.StatusScheduled && !now.After(s.ScheduledStart)
}

// CanSubscribe reports whether userID may watch the session's events.
func CanSubscribe(s *types.Session, userID string) bool {
	return s.IsOwner(userID) || s.IsPublic || s.IsRegistered(userID)
}
