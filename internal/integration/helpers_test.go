package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/api"
	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/pkg/types"
)

var (
	instructor = types.Actor{ID: "instructor_1", Role: types.ActorInstructor}
	studentA   = types.Actor{ID: "student_a", Role: types.ActorStudent}
	studentB   = types.Actor{ID: "student_b", Role: types.ActorStudent}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig stores data under a temp dir and signs realtime credentials
// locally so no network provider is needed.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "liveclass.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Providers.Default = types.ProviderRTC
	cfg.Providers.RTC.AppID = "app-test"
	cfg.Providers.RTC.AppCertificate = "0123456789abcdef0123"
	cfg.Cleanup.Interval = time.Hour
	return cfg
}

type liveApp struct {
	app     *app.Application
	baseURL string
	wsURL   string
}

func startApp(t *testing.T, cfg *config.Config) *liveApp {
	t.Helper()
	ctx := context.Background()

	application, err := app.NewApplication(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("Failed to build application: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := application.Serve(ctx, listener); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			t.Logf("Application stop: %v", err)
		}
	})

	addr := listener.Addr().String()
	return &liveApp{app: application, baseURL: "http://" + addr, wsURL: "ws://" + addr}
}

func (a *liveApp) call(t *testing.T, method, path string, actor types.Actor, body any) (int, api.Envelope) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, a.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderUserID, actor.ID)
	req.Header.Set(api.HeaderUserRole, actor.Role)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (a *liveApp) subscribe(t *testing.T, sessionID string, actor types.Actor) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(api.HeaderUserID, actor.ID)
	header.Set(api.HeaderUserRole, actor.Role)

	conn, resp, err := websocket.DefaultDialer.Dial(a.wsURL+"/ws/sessions/"+sessionID, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Subscribe as %s failed (status %d): %v", actor.ID, status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	greeting := readEvent(t, conn)
	if greeting.Type != "subscribed" {
		t.Fatalf("Expected greeting, got %+v", greeting)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.SessionEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event types.SessionEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Read event failed: %v", err)
	}
	return event
}

// readUntil skips events until one of type eventType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) types.SessionEvent {
	t.Helper()
	for i := 0; i < 10; i++ {
		if event := readEvent(t, conn); event.Type == eventType {
			return event
		}
	}
	t.Fatalf("No %s event within 10 frames", eventType)
	return types.SessionEvent{}
}

func decodeInto(t *testing.T, data any, dst any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if err := json.NewDecoder(strings.NewReader(string(raw))).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
