package types

import (
	"regexp"
	"time"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the creation-time invariants of a session.
func (s *Session) Validate() error {
	if err := ValidateTitle(s.Title); err != nil {
		return err
	}
	if !IsValidUserID(s.OwnerID) {
		return ErrInvalidOwner
	}
	if s.CourseID != nil && !IsValidUserID(*s.CourseID) {
		return ErrInvalidCourseID
	}
	if s.ScheduledStart.IsZero() {
		return ErrInvalidStart
	}
	if err := ValidateDuration(s.DurationMinutes); err != nil {
		return err
	}
	if err := ValidateCapacity(s.MaxParticipants); err != nil {
		return err
	}
	if !IsValidProviderKind(s.ProviderKind) {
		return ErrInvalidProvider
	}
	return nil
}

// Validate checks the fields an update sets. It does not consult the
// current session state.
func (u SessionUpdate) Validate(now time.Time, startSkew time.Duration) error {
	if u.Title == nil && u.Description == nil && u.MaxParticipants == nil &&
		u.IsPublic == nil && u.ScheduledStart == nil && u.DurationMinutes == nil {
		return ErrEmptySessionUpdate
	}
	if u.Title != nil {
		if err := ValidateTitle(*u.Title); err != nil {
			return err
		}
	}
	if u.MaxParticipants != nil {
		if err := ValidateCapacity(*u.MaxParticipants); err != nil {
			return err
		}
	}
	if u.DurationMinutes != nil {
		if err := ValidateDuration(*u.DurationMinutes); err != nil {
			return err
		}
	}
	if u.ScheduledStart != nil {
		if u.ScheduledStart.IsZero() {
			return ErrInvalidStart
		}
		if u.ScheduledStart.Before(now.Add(-startSkew)) {
			return ErrStartInPast
		}
	}
	return nil
}

// ValidateTitle checks the 1-200 character rule.
func ValidateTitle(title string) error {
	if len(title) < 1 || len(title) > MaxTitleLength {
		return ErrInvalidTitle
	}
	return nil
}

// ValidateDuration checks the 15-480 minute rule.
func ValidateDuration(minutes int) error {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return ErrInvalidDuration
	}
	return nil
}

// ValidateCapacity checks the 1-1000 participant rule.
func ValidateCapacity(n int) error {
	if n < MinParticipants || n > MaxParticipants {
		return ErrInvalidCapacity
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidStatus reports whether s is a known lifecycle status.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusScheduled, StatusLive, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidProviderKind reports whether k is a supported backend family.
func IsValidProviderKind(k ProviderKind) bool {
	return k == ProviderHosted || k == ProviderRTC
}

// IsValidAttendanceKind reports whether k is joined or left.
func IsValidAttendanceKind(k AttendanceKind) bool {
	return k == AttendanceJoined || k == AttendanceLeft
}
