package router

import (
	"errors"
	"testing"

	"liveclass/internal/websocket"
	"liveclass/pkg/types"
)

type fakeRecipients struct {
	all    []*websocket.Connection
	hosts  []*websocket.Connection
	closed []string
}

func (f *fakeRecipients) SessionConnections(string) []*websocket.Connection { return f.all }
func (f *fakeRecipients) SessionHosts(string) []*websocket.Connection       { return f.hosts }
func (f *fakeRecipients) CloseSession(id string) int {
	f.closed = append(f.closed, id)
	return len(f.all)
}

func TestRouter_GetRecipients(t *testing.T) {
	host := &websocket.Connection{}
	student := &websocket.Connection{}
	recipients := &fakeRecipients{all: []*websocket.Connection{host, student}, hosts: []*websocket.Connection{host}}
	r := NewRouter(recipients, nil)

	tests := []struct {
		name    string
		event   types.SessionEvent
		want    int
		wantErr error
	}{
		{name: "status to everyone", event: types.SessionEvent{Type: types.EventStatusChanged, SessionID: "s1"}, want: 2},
		{name: "update to everyone", event: types.SessionEvent{Type: types.EventUpdated, SessionID: "s1"}, want: 2},
		{name: "roster to host only", event: types.SessionEvent{Type: types.EventRosterChanged, SessionID: "s1"}, want: 1},
		{name: "missing session", event: types.SessionEvent{Type: types.EventUpdated}, wantErr: ErrMissingSessionID},
		{name: "unknown type", event: types.SessionEvent{Type: "chat", SessionID: "s1"}, wantErr: ErrUnknownEventType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetRecipients(tt.event)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetRecipients() error = %v, want %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("Expected %d recipients, got %d", tt.want, len(got))
			}
		})
	}
}

func TestRouter_TerminalEventsCloseStreams(t *testing.T) {
	recipients := &fakeRecipients{}
	r := NewRouter(recipients, nil)

	if _, err := r.Route(types.SessionEvent{Type: types.EventUpdated, SessionID: "s1"}); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(recipients.closed) != 0 {
		t.Error("Non-terminal event must not close streams")
	}

	for _, typ := range []string{types.EventDeleted, types.EventExpired} {
		if _, err := r.Route(types.SessionEvent{Type: typ, SessionID: "s1"}); err != nil {
			t.Fatalf("Route(%s) failed: %v", typ, err)
		}
	}
	if len(recipients.closed) != 2 {
		t.Errorf("Expected streams closed after delete and expiry, got %v", recipients.closed)
	}
}
