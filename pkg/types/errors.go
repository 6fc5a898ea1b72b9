package types

import "errors"

// Validation errors returned by the type-level checks.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidTitle       = errors.New("title must be 1-200 characters")
	ErrInvalidOwner       = errors.New("owner_id must be a valid user ID")
	ErrInvalidCourseID    = errors.New("course_id must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDuration    = errors.New("duration_minutes must be between 15 and 480")
	ErrInvalidCapacity    = errors.New("max_participants must be between 1 and 1000")
	ErrInvalidStart       = errors.New("scheduled_start is required")
	ErrStartInPast        = errors.New("scheduled_start must not be in the past")
	ErrInvalidStatus      = errors.New("status must be one of scheduled, live, completed, cancelled")
	ErrInvalidProvider    = errors.New("provider must be 'hosted' or 'rtc'")
	ErrInvalidRole        = errors.New("role must be 'host' or 'participant'")
	ErrInvalidAttendance  = errors.New("attendance event must be 'joined' or 'left'")
	ErrEmptySessionUpdate = errors.New("update must change at least one field")
)
