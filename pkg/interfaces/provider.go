package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// ProviderAdapter is the uniform contract over video backends. Failures are
// reported as *types.ProviderError.
type ProviderAdapter interface {
	Kind() types.ProviderKind

	CreateMeeting(ctx context.Context, spec types.MeetingSpec) (*types.Meeting, error)
	UpdateMeeting(ctx context.Context, meetingID string, patch types.MeetingPatch) error

	// DeleteMeeting succeeds when the meeting is already gone.
	DeleteMeeting(ctx context.Context, meetingID string) error

	// IssueRealtimeCredential signs a channel credential. Hosted-meeting
	// backends return a terminal ProviderError.
	IssueRealtimeCredential(ctx context.Context, req types.RealtimeCredentialRequest) (*types.RealtimeCredential, error)
}

// ProviderResolver looks up the adapter bound to a session.
type ProviderResolver interface {
	Get(kind types.ProviderKind) (ProviderAdapter, error)
}
