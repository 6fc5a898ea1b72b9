package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liveclass/pkg/types"
)

// FakeProvider is a scriptable ProviderAdapter that records calls.
type FakeProvider struct {
	mu sync.Mutex

	ProviderKind types.ProviderKind
	CreateErr    error
	UpdateErr    error
	DeleteErr    error
	IssueErr     error

	Created []types.MeetingSpec
	Updated []string
	Deleted []string
	Issued  []types.RealtimeCredentialRequest
}

func NewFakeProvider(kind types.ProviderKind) *FakeProvider {
	return &FakeProvider{ProviderKind: kind}
}

func (p *FakeProvider) Kind() types.ProviderKind { return p.ProviderKind }

func (p *FakeProvider) CreateMeeting(ctx context.Context, spec types.MeetingSpec) (*types.Meeting, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.Created = append(p.Created, spec)
	id := fmt.Sprintf("mtg-%s", spec.SessionID)
	return &types.Meeting{
		ProviderMeetingID:  id,
		HostJoinRef:        "https://meet.example/s/" + id,
		ParticipantJoinRef: "https://meet.example/j/" + id,
		Secret:             "secret-" + id,
	}, nil
}

func (p *FakeProvider) UpdateMeeting(ctx context.Context, meetingID string, patch types.MeetingPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	p.Updated = append(p.Updated, meetingID)
	return nil
}

func (p *FakeProvider) DeleteMeeting(ctx context.Context, meetingID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Deleted = append(p.Deleted, meetingID)
	return p.DeleteErr
}

func (p *FakeProvider) IssueRealtimeCredential(ctx context.Context, req types.RealtimeCredentialRequest) (*types.RealtimeCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.IssueErr != nil {
		return nil, p.IssueErr
	}
	p.Issued = append(p.Issued, req)
	return &types.RealtimeCredential{
		Token:     fmt.Sprintf("token-%s-%d", req.ParticipantID, len(p.Issued)),
		UID:       uint32(len(p.Issued)),
		ExpiresAt: time.Now().Add(req.TTL),
	}, nil
}

// DeleteCount returns the number of DeleteMeeting calls.
func (p *FakeProvider) DeleteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Deleted)
}

// CreateCount returns the number of successful CreateMeeting calls.
func (p *FakeProvider) CreateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Created)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []types.SessionEvent
}

func (p *RecordingPublisher) Publish(event types.SessionEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

// Events returns a copy of the published events.
func (p *RecordingPublisher) Events() []types.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.SessionEvent(nil), p.events...)
}

// Types returns the event types in publish order.
func (p *RecordingPublisher) Types() []string {
	events := p.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
