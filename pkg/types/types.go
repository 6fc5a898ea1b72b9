package types

import (
	"time"
)

// Status is the lifecycle state of a live session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ProviderKind names a video-conferencing backend family.
type ProviderKind string

const (
	// ProviderHosted is the hosted-meeting family: durable join/start URLs.
	ProviderHosted ProviderKind = "hosted"
	// ProviderRTC is the token-based real-time family: channel + signed credential.
	ProviderRTC ProviderKind = "rtc"
)

// Role is the access role a credential is issued for.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Actor roles as asserted by the upstream gateway.
const (
	ActorInstructor = "instructor"
	ActorStudent    = "student"
	ActorAdmin      = "admin"
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   string
	Role string
}

// IsStaff reports whether the actor may create and manage sessions.
func (a Actor) IsStaff() bool {
	return a.Role == ActorInstructor || a.Role == ActorAdmin
}

// CanManage reports whether the actor may change s: its owner or an admin.
func (a Actor) CanManage(s *Session) bool {
	return s.IsOwner(a.ID) || a.Role == ActorAdmin
}

// Scheduling and capacity limits.
const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 480
	MinParticipants    = 1
	MaxParticipants    = 1000
	MaxTitleLength     = 200
)

// Session is one scheduled, time-boxed video meeting bound to an owner and
// optionally a course. ScheduledEnd and ExpiresAt are derived by
// ComputeWindow and only change when the schedule changes.
type Session struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	OwnerID         string  `json:"owner_id"`
	CourseID        *string `json:"course_id,omitempty"`
	MaxParticipants int     `json:"max_participants"`
	IsPublic        bool    `json:"is_public"`
	Status          Status  `json:"status"`
	IsExpired       bool    `json:"is_expired"`

	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
	ScheduledEnd    time.Time `json:"scheduled_end"`
	ExpiresAt       time.Time `json:"expires_at"`

	ProviderKind       ProviderKind `json:"provider_kind"`
	ProviderMeetingID  string       `json:"provider_meeting_id"`
	HostJoinRef        string       `json:"-"`
	ParticipantJoinRef string       `json:"-"`
	AccessSecret       string       `json:"-"`

	Roster     []Registration    `json:"roster"`
	Attendance []AttendanceEvent `json:"attendance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registration is one roster entry.
type Registration struct {
	ParticipantID string    `json:"participant_id"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// AttendanceKind distinguishes the two attendance events.
type AttendanceKind string

const (
	AttendanceJoined AttendanceKind = "joined"
	AttendanceLeft   AttendanceKind = "left"
)

// AttendanceEvent is one append-only attendance log entry.
type AttendanceEvent struct {
	ParticipantID string         `json:"participant_id"`
	Kind          AttendanceKind `json:"kind"`
	At            time.Time      `json:"at"`
}

// AttendanceRecord pairs a join with the leave that closed it, if any.
type AttendanceRecord struct {
	ParticipantID string     `json:"participant_id"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
}

// SessionFilter narrows ListSessions. Zero values mean "any".
type SessionFilter struct {
	OwnerID        string
	CourseID       string
	Status         Status
	IncludeExpired bool
	Limit          int
	Offset         int
}

// SessionUpdate carries the owner-editable fields. Nil means unchanged.
type SessionUpdate struct {
	Title           *string
	Description     *string
	MaxParticipants *int
	IsPublic        *bool
	ScheduledStart  *time.Time
	DurationMinutes *int

	// Window is filled in by the session manager whenever the schedule
	// changes so the repository writes start, duration, end and expiry
	// together.
	Window *Window
}

// ChangesSchedule reports whether the update touches schedule fields.
func (u SessionUpdate) ChangesSchedule() bool {
	return u.ScheduledStart != nil || u.DurationMinutes != nil
}

// Window is the derived time window of a session.
type Window struct {
	Start           time.Time
	DurationMinutes int
	End             time.Time
	ExpiresAt       time.Time
}

// ComputeWindow derives the scheduled end and expiry instant from a start
// and duration. It is the only place these values are computed.
func ComputeWindow(start time.Time, durationMinutes int, grace time.Duration) Window {
	start = start.UTC().Truncate(time.Millisecond)
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return Window{
		Start:           start,
		DurationMinutes: durationMinutes,
		End:             end,
		ExpiresAt:       end.Add(grace),
	}
}

// ApplyWindow copies a computed window onto the session.
func (s *Session) ApplyWindow(w Window) {
	s.ScheduledStart = w.Start
	s.DurationMinutes = w.DurationMinutes
	s.ScheduledEnd = w.End
	s.ExpiresAt = w.ExpiresAt
}

// IsRegistered reports whether participantID is on the roster.
func (s *Session) IsRegistered(participantID string) bool {
	for _, r := range s.Roster {
		if r.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// IsOwner reports whether userID hosts the session.
func (s *Session) IsOwner(userID string) bool {
	return userID != "" && s.OwnerID == userID
}

// MeetingSpec describes a meeting to create on a provider.
type MeetingSpec struct {
	SessionID       string
	Title           string
	Start           time.Time
	DurationMinutes int
	HostID          string
}

// Meeting is the provider-side binding returned by CreateMeeting.
type Meeting struct {
	ProviderMeetingID  string
	HostJoinRef        string
	ParticipantJoinRef string
	Secret             string
}

// MeetingPatch carries provider-side changes. Nil means unchanged.
type MeetingPatch struct {
	Title           *string
	Start           *time.Time
	DurationMinutes *int
}

// RealtimeCredentialRequest asks a token-based backend for a signed credential.
type RealtimeCredentialRequest struct {
	SessionID     string
	Channel       string
	ParticipantID string
	Role          Role
	TTL           time.Duration
}

// RealtimeCredential is a signed, short-lived channel credential.
type RealtimeCredential struct {
	Token     string
	UID       uint32
	ExpiresAt time.Time
}

// Credential is what a caller needs to join a session with a given role.
type Credential struct {
	SessionID string       `json:"session_id"`
	Provider  ProviderKind `json:"provider"`
	Role      Role         `json:"role"`

	JoinURL  string `json:"join_url,omitempty"`
	StartURL string `json:"start_url,omitempty"`
	Password string `json:"password,omitempty"`

	Channel string `json:"channel,omitempty"`
	Token   string `json:"token,omitempty"`
	UID     uint32 `json:"uid,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SessionView is the role-aware projection returned to API callers.
type SessionView struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	OwnerID         string       `json:"owner_id"`
	CourseID        *string      `json:"course_id,omitempty"`
	Status          Status       `json:"status"`
	IsExpired       bool         `json:"is_expired"`
	IsPublic        bool         `json:"is_public"`
	ScheduledStart  time.Time    `json:"scheduled_start"`
	DurationMinutes int          `json:"duration_minutes"`
	ScheduledEnd    time.Time    `json:"scheduled_end"`
	ExpiresAt       time.Time    `json:"expires_at"`
	MaxParticipants int          `json:"max_participants"`
	RegisteredCount int          `json:"registered_count"`
	IsRegistered    bool         `json:"is_registered"`
	CanJoin         bool         `json:"can_join"`
	Provider        ProviderKind `json:"provider"`
	ViewerRole      Role         `json:"viewer_role"`

	// Host-only fields.
	Roster       []Registration `json:"roster,omitempty"`
	StartURL     string         `json:"start_url,omitempty"`
	JoinURL      string         `json:"join_url,omitempty"`
	AccessSecret string         `json:"access_secret,omitempty"`
	MeetingID    string         `json:"provider_meeting_id,omitempty"`
}

// SessionEvent is a lifecycle notification pushed to subscribers.
type SessionEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Status    Status         `json:"status,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session event types.
const (
	EventStatusChanged = "status_changed"
	EventUpdated       = "session_updated"
	EventRosterChanged = "roster_changed"
	EventDeleted       = "session_deleted"
	EventExpired       = "session_expired"
)

// HostOnly reports whether an event may only be delivered to the host.
func (e SessionEvent) HostOnly() bool {
	return e.Type == EventRosterChanged
}
