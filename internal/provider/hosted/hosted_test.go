package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"liveclass/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "api key", cfg: Config{BaseURL: "https://meet.example", APIKey: "k"}},
		{name: "client credentials", cfg: Config{BaseURL: "https://meet.example", ClientID: "id", ClientSecret: "s", TokenURL: "https://auth.example/token"}},
		{name: "missing base url", cfg: Config{APIKey: "k"}, wantErr: true},
		{name: "no auth", cfg: Config{BaseURL: "https://meet.example"}, wantErr: true},
		{name: "partial client credentials", cfg: Config{BaseURL: "https://meet.example", ClientID: "id"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_CreateMeeting(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/meetings" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "s1" {
			t.Errorf("Expected idempotency key s1, got %q", got)
		}

		var body meetingRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if body.Topic != "Office hours" || body.Duration != 60 || body.StartTime != "2026-03-01T10:00:00Z" {
			t.Errorf("Unexpected body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 85746065, "join_url": "https://meet.example/j/1", "start_url": "https://meet.example/s/1", "password": "pw"}`))
	})

	m, err := c.CreateMeeting(context.Background(), types.MeetingSpec{
		SessionID: "s1", Title: "Office hours", Start: start, DurationMinutes: 60, HostID: "instructor_1",
	})
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if m.ProviderMeetingID != "85746065" {
		t.Errorf("Expected numeric id as string, got %q", m.ProviderMeetingID)
	}
	if m.HostJoinRef != "https://meet.example/s/1" || m.ParticipantJoinRef != "https://meet.example/j/1" || m.Secret != "pw" {
		t.Errorf("Unexpected meeting: %+v", m)
	}
}

func TestClient_CreateMeetingErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
	}{
		{name: "server error", status: 503, body: "down", wantRetryable: true},
		{name: "throttled", status: 429, body: "slow down", wantRetryable: true},
		{name: "bad credentials", status: 401, body: "invalid token", wantRetryable: false},
		{name: "validation", status: 400, body: "bad duration", wantRetryable: false},
		{name: "incomplete response", status: 201, body: `{"id": "m1"}`, wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.CreateMeeting(context.Background(), types.MeetingSpec{SessionID: "s1", Title: "t", Start: time.Now(), DurationMinutes: 30})
			var provErr *types.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("Expected ProviderError, got %v", err)
			}
			if provErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", provErr.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestClient_DeleteMeetingIdempotent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "meeting not found", http.StatusNotFound)
	})

	if err := c.DeleteMeeting(context.Background(), "m1"); err != nil {
		t.Errorf("First delete failed: %v", err)
	}
	if err := c.DeleteMeeting(context.Background(), "m1"); err != nil {
		t.Errorf("Deleting a missing meeting should succeed: %v", err)
	}
}

func TestClient_UpdateMeeting(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || !strings.HasSuffix(r.URL.Path, "/meetings/m1") {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["topic"]; ok {
			t.Error("Unchanged topic should be omitted")
		}
		if body["duration"] != float64(90) {
			t.Errorf("Expected duration 90, got %v", body["duration"])
		}
		w.WriteHeader(http.StatusNoContent)
	})

	dur := 90
	if err := c.UpdateMeeting(context.Background(), "m1", types.MeetingPatch{DurationMinutes: &dur}); err != nil {
		t.Errorf("UpdateMeeting failed: %v", err)
	}
}

func TestClient_ClientCredentials(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer cc-token" {
			t.Errorf("Expected client-credentials token, got %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer apiSrv.Close()

	c, err := New(context.Background(), Config{
		BaseURL:      apiSrv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.DeleteMeeting(context.Background(), "m1"); err != nil {
		t.Errorf("DeleteMeeting failed: %v", err)
	}
}

func TestClient_IssueRealtimeCredentialUnsupported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.IssueRealtimeCredential(context.Background(), types.RealtimeCredentialRequest{})
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) || provErr.Retryable {
		t.Errorf("Expected terminal ProviderError, got %v", err)
	}
}
