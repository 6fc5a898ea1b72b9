package session

import (
	"time"

	"liveclass/pkg/types"
)

// BuildView projects a session for actor. The owner and admins see the
// roster and meeting id; the start URL and access secret are the owner's.
func BuildView(s *types.Session, actor types.Actor, now time.Time, joinWindow time.Duration) *types.SessionView {
	view := &types.SessionView{
		ID:              s.ID,
		Title:           s.Title,
		Description:     s.Description,
		OwnerID:         s.OwnerID,
		CourseID:        s.CourseID,
		Status:          EffectiveStatus(s, now),
		IsExpired:       s.IsExpired,
		IsPublic:        s.IsPublic,
		ScheduledStart:  s.ScheduledStart,
		DurationMinutes: s.DurationMinutes,
		ScheduledEnd:    s.ScheduledEnd,
		ExpiresAt:       s.ExpiresAt,
		MaxParticipants: s.MaxParticipants,
		RegisteredCount: len(s.Roster),
		IsRegistered:    s.IsRegistered(actor.ID),
		CanJoin:         CanJoin(s, now, actor.ID, joinWindow),
		Provider:        s.ProviderKind,
		ViewerRole:      types.RoleParticipant,
	}

	if actor.CanManage(s) {
		view.Roster = append([]types.Registration{}, s.Roster...)
		view.JoinURL = s.ParticipantJoinRef
		view.MeetingID = s.ProviderMeetingID
	}
	if s.IsOwner(actor.ID) {
		view.ViewerRole = types.RoleHost
		view.StartURL = s.HostJoinRef
		view.AccessSecret = s.AccessSecret
	}
	return view
}
