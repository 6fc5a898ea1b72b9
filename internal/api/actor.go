package api

import (
	"net/http"

	"liveclass/internal/apperror"
	"liveclass/pkg/types"
)

// Identity headers set by the trusted gateway in front of the service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// ActorFromRequest reads the caller identity asserted by the gateway.
func ActorFromRequest(r *http.Request) (types.Actor, error) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		return types.Actor{}, apperror.Unauthenticated("missing " + HeaderUserID + " header")
	}
	if !types.IsValidUserID(id) {
		return types.Actor{}, apperror.Unauthenticated("invalid " + HeaderUserID + " header")
	}

	role := r.Header.Get(HeaderUserRole)
	switch role {
	case types.ActorInstructor, types.ActorStudent, types.ActorAdmin:
	case "":
		role = types.ActorStudent
	default:
		return types.Actor{}, apperror.Unauthenticated("unknown role " + role)
	}

	return types.Actor{ID: id, Role: role}, nil
}
