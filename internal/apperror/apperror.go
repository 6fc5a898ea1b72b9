// Package apperror maps domain failures onto the caller-facing taxonomy:
// a kind with an HTTP status, a stable reason code and a safe message.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Kind is one class of the error taxonomy.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindProvider        Kind = "provider"
	KindInternal        Kind = "internal"
)

// Stable reason codes.
const (
	ReasonValidation          = "validation_failed"
	ReasonUnauthenticated     = "unauthenticated"
	ReasonForbidden           = "forbidden"
	ReasonNotFound            = "not_found"
	ReasonAlreadyRegistered   = "already_registered"
	ReasonSessionFull         = "session_full"
	ReasonNotOpen             = "not_open_for_registration"
	ReasonNotRegistered       = "not_registered"
	ReasonIllegalTransition   = "illegal_transition"
	ReasonSessionExpired      = "session_expired"
	ReasonCapacityBelowRoster = "capacity_below_roster"
	ReasonNotJoinable         = "not_joinable"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonProviderRejected    = "provider_rejected"
	ReasonRateLimited         = "rate_limited"
	ReasonInternal            = "internal"
)

// Error is a classified failure. Message is safe to show to callers; Err
// is kept for logs only.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code for the error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Exposed reports whether Message may be returned verbatim.
func (e *Error) Exposed() bool {
	return e.Kind != KindInternal
}

func newError(kind Kind, reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

func Validation(err error) *Error {
	return newError(KindValidation, ReasonValidation, err.Error(), err)
}

func Unauthenticated(message string) *Error {
	return newError(KindUnauthenticated, ReasonUnauthenticated, message, nil)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, ReasonForbidden, message, nil)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, ReasonNotFound, message, nil)
}

func Conflict(reason, message string) *Error {
	return newError(KindConflict, reason, message, nil)
}

func RateLimited() *Error {
	return newError(KindRateLimited, ReasonRateLimited, "too many requests, slow down", nil)
}

func Internal(err error) *Error {
	return newError(KindInternal, ReasonInternal, "internal error", err)
}

// From classifies any error returned by the lifecycle packages. Errors that
// are already classified pass through unchanged.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var provErr *types.ProviderError
	if errors.As(err, &provErr) {
		reason := ReasonProviderRejected
		message := "video provider rejected the request"
		if provErr.Retryable {
			reason = ReasonProviderUnavailable
			message = "video provider is unavailable"
		}
		return newError(KindProvider, reason, message, err)
	}

	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return newError(KindNotFound, ReasonNotFound, "session not found", err)
	case errors.Is(err, interfaces.ErrAlreadyRegistered):
		return newError(KindConflict, ReasonAlreadyRegistered, "participant is already registered", err)
	case errors.Is(err, interfaces.ErrSessionFull):
		return newError(KindConflict, ReasonSessionFull, "session is full", err)
	case errors.Is(err, interfaces.ErrRegistrationClosed):
		return newError(KindConflict, ReasonNotOpen, "session is not open for registration changes", err)
	case errors.Is(err, interfaces.ErrNotRegistered):
		return newError(KindConflict, ReasonNotRegistered, "participant is not registered", err)
	case errors.Is(err, interfaces.ErrStaleStatus), errors.Is(err, interfaces.ErrNotEditable),
		errors.Is(err, interfaces.ErrIllegalTransition):
		return newError(KindConflict, ReasonIllegalTransition, err.Error(), err)
	case errors.Is(err, interfaces.ErrSessionExpired):
		return newError(KindConflict, ReasonSessionExpired, "session has expired", err)
	case errors.Is(err, interfaces.ErrCapacityBelowRoster):
		return newError(KindConflict, ReasonCapacityBelowRoster, err.Error(), err)
	case errors.Is(err, interfaces.ErrUnauthorized):
		return newError(KindForbidden, ReasonForbidden, "not allowed for this actor", err)
	case isValidation(err):
		return Validation(err)
	}

	return Internal(err)
}

var validationErrors = []error{
	types.ErrInvalidUserID,
	types.ErrInvalidTitle,
	types.ErrInvalidOwner,
	types.ErrInvalidCourseID,
	types.ErrInvalidDuration,
	types.ErrInvalidCapacity,
	types.ErrInvalidStart,
	types.ErrStartInPast,
	types.ErrInvalidStatus,
	types.ErrInvalidProvider,
	types.ErrInvalidRole,
	types.ErrInvalidAttendance,
	types.ErrEmptySessionUpdate,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	e := From(err)
	return e != nil && e.Kind == kind
}
