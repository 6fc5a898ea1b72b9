// Package credential builds role-scoped join credentials. Nothing it
// returns is cached or persisted.
package credential

import (
	"context"
	"fmt"
	"time"

	"liveclass/internal/apperror"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// DefaultMaxTTL caps realtime credentials when no limit is configured.
const DefaultMaxTTL = 2 * time.Hour

// Issuer hands out the host or participant reference for a session.
type Issuer struct {
	providers interfaces.ProviderResolver
	maxTTL    time.Duration
}

// NewIssuer creates an issuer. maxTTL <= 0 selects DefaultMaxTTL.
func NewIssuer(providers interfaces.ProviderResolver, maxTTL time.Duration) *Issuer {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	return &Issuer{providers: providers, maxTTL: maxTTL}
}

// RoleFor returns host for the session owner and participant for anyone else.
func RoleFor(session *types.Session, actorID string) types.Role {
	if session.IsOwner(actorID) {
		return types.RoleHost
	}
	return types.RoleParticipant
}

// TTL is the remaining validity window capped at maxTTL.
func (i *Issuer) TTL(session *types.Session, now time.Time) time.Duration {
	return min(session.ScheduledEnd.Sub(now), i.maxTTL)
}

// Issue returns a fresh credential for actorID. The host secret and start
// URL are only ever attached to the host credential.
func (i *Issuer) Issue(ctx context.Context, session *types.Session, actorID string, now time.Time) (*types.Credential, error) {
	ttl := i.TTL(session, now)
	if ttl <= 0 {
		return nil, apperror.Conflict(apperror.ReasonNotJoinable, "session has already ended")
	}

	role := RoleFor(session, actorID)
	cred := &types.Credential{
		SessionID: session.ID,
		Provider:  session.ProviderKind,
		Role:      role,
	}

	switch session.ProviderKind {
	case types.ProviderHosted:
		cred.JoinURL = session.ParticipantJoinRef
		if role == types.RoleHost {
			cred.StartURL = session.HostJoinRef
			cred.Password = session.AccessSecret
		}
		return cred, nil

	case types.ProviderRTC:
		adapter, err := i.providers.Get(session.ProviderKind)
		if err != nil {
			return nil, err
		}
		rtc, err := adapter.IssueRealtimeCredential(ctx, types.RealtimeCredentialRequest{
			SessionID:     session.ID,
			Channel:       session.ProviderMeetingID,
			ParticipantID: actorID,
			Role:          role,
			TTL:           ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("issue realtime credential: %w", err)
		}
		cred.Channel = session.ProviderMeetingID
		cred.Token = rtc.Token
		cred.UID = rtc.UID
		expires := rtc.ExpiresAt
		cred.ExpiresAt = &expires
		return cred, nil

	default:
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidProvider, session.ProviderKind)
	}
}
