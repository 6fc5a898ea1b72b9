package router

import "errors"

var (
	ErrMissingSessionID = errors.New("event has no session id")
	ErrUnknownEventType = errors.New("unknown event type")
)
