package testutil

import (
	"time"

	"liveclass/pkg/types"
)

// BaseTime is the fixed "now" most tests start from.
var BaseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Standard actors.
var (
	Instructor = types.Actor{ID: "instructor_1", Role: types.ActorInstructor}
	OtherStaff = types.Actor{ID: "instructor_2", Role: types.ActorInstructor}
	Admin      = types.Actor{ID: "admin_1", Role: types.ActorAdmin}
	StudentA   = types.Actor{ID: "student_a", Role: types.ActorStudent}
	StudentB   = types.Actor{ID: "student_b", Role: types.ActorStudent}
	StudentC   = types.Actor{ID: "student_c", Role: types.ActorStudent}
)

// NewSession returns a scheduled hosted session owned by Instructor.
func NewSession(id string, start time.Time, durationMinutes, capacity int) *types.Session {
	s := &types.Session{
		ID:                 id,
		Title:              "Session " + id,
		OwnerID:            Instructor.ID,
		MaxParticipants:    capacity,
		Status:             types.StatusScheduled,
		ProviderKind:       types.ProviderHosted,
		ProviderMeetingID:  "mtg-" + id,
		HostJoinRef:        "https://meet.example/s/mtg-" + id,
		ParticipantJoinRef: "https://meet.example/j/mtg-" + id,
		AccessSecret:       "secret-" + id,
		Roster:             []types.Registration{},
		CreatedAt:          BaseTime,
		UpdatedAt:          BaseTime,
	}
	s.ApplyWindow(types.ComputeWindow(start, durationMinutes, 24*time.Hour))
	return s
}
