package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type stubValidator struct {
	session *types.Session
	err     error
}

func (v *stubValidator) ValidateSubscription(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.session, nil
}

func headerActor(r *http.Request) (types.Actor, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return types.Actor{}, errors.New("missing user")
	}
	return types.Actor{ID: id, Role: r.Header.Get("X-User-Role")}, nil
}

func newHandlerServer(t *testing.T, validator SubscriptionValidator) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry()
	handler := NewHandler(registry, validator, headerActor, Config{}, nil)

	router := mux.NewRouter()
	router.Handle("/ws/sessions/{id}", handler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, registry
}

func dial(t *testing.T, server *httptest.Server, userID, role string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/s1"
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-ID", userID)
		header.Set("X-User-Role", role)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func testSession() *types.Session {
	return &types.Session{ID: "s1", OwnerID: "instructor_1", Status: types.StatusScheduled}
}

func TestHandler_Refusals(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		err      error
		wantCode int
	}{
		{name: "missing identity", userID: "", wantCode: http.StatusUnauthorized},
		{name: "unknown session", userID: "student_a", err: interfaces.ErrSessionNotFound, wantCode: http.StatusNotFound},
		{name: "expired session", userID: "student_a", err: interfaces.ErrSessionExpired, wantCode: http.StatusNotFound},
		{name: "not on roster", userID: "student_a", err: interfaces.ErrUnauthorized, wantCode: http.StatusForbidden},
		{name: "store failure", userID: "student_a", err: errors.New("disk"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newHandlerServer(t, &stubValidator{session: testSession(), err: tt.err})
			conn, resp, err := dial(t, server, tt.userID, types.ActorStudent)
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected dial to be refused")
			}
			if resp == nil || resp.StatusCode != tt.wantCode {
				t.Errorf("Expected status %d, got %v", tt.wantCode, resp)
			}
		})
	}
}

func TestHandler_SubscribesAndGreets(t *testing.T) {
	server, registry := newHandlerServer(t, &stubValidator{session: testSession()})

	host, _, err := dial(t, server, "instructor_1", types.ActorInstructor)
	if err != nil {
		t.Fatalf("Host dial failed: %v", err)
	}
	defer host.Close()

	student, _, err := dial(t, server, "student_a", types.ActorStudent)
	if err != nil {
		t.Fatalf("Student dial failed: %v", err)
	}
	defer student.Close()

	for name, c := range map[string]*websocket.Conn{"host": host, "student": student} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var greeting types.SessionEvent
		if err := c.ReadJSON(&greeting); err != nil {
			t.Fatalf("%s greeting read failed: %v", name, err)
		}
		if greeting.Type != EventSubscribed || greeting.Status != types.StatusScheduled {
			t.Errorf("%s: unexpected greeting %+v", name, greeting)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(registry.SessionConnections("s1")) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Subscribers never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hosts := registry.SessionHosts("s1")
	if len(hosts) != 1 || hosts[0].UserID() != "instructor_1" {
		t.Errorf("Expected the owner as the only host subscriber, got %d", len(hosts))
	}

	_ = student.Close()
	deadline = time.Now().Add(2 * time.Second)
	for len(registry.SessionConnections("s1")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Closed subscriber was never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
