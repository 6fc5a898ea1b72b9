package interfaces

import "errors"

// Repository outcome errors shared by every SessionRepository implementation.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session is expired and read-only")
	ErrAlreadyRegistered   = errors.New("participant is already registered")
	ErrSessionFull         = errors.New("session is at capacity")
	ErrRegistrationClosed  = errors.New("session is not open for registration")
	ErrNotRegistered       = errors.New("participant is not registered")
	ErrStaleStatus         = errors.New("session status changed concurrently")
	ErrNotEditable         = errors.New("session can only be changed while scheduled")
	ErrCapacityBelowRoster = errors.New("capacity cannot drop below the current roster size")
	ErrIllegalTransition   = errors.New("status transition is not allowed")
	ErrUnauthorized        = errors.New("unauthorized access")
)
