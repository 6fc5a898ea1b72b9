package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func boundConnection(t *testing.T, userID, sessionID string, host bool) *Connection {
	t.Helper()
	conn, _ := newTestConnection(t)
	conn.Bind(userID, sessionID, host)
	return conn
}

func TestRegistry_SubscribeRequiresBinding(t *testing.T) {
	r := NewRegistry()

	if err := r.Subscribe(nil); !errors.Is(err, ErrNilConnection) {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	conn, _ := newTestConnection(t)
	if err := r.Subscribe(conn); !errors.Is(err, ErrConnectionNotSubscribed) {
		t.Errorf("Expected ErrConnectionNotSubscribed, got %v", err)
	}
}

func TestRegistry_SessionLookups(t *testing.T) {
	r := NewRegistry()
	host := boundConnection(t, "instructor_1", "s1", true)
	a := boundConnection(t, "student_a", "s1", false)
	a2 := boundConnection(t, "student_a", "s1", false)
	other := boundConnection(t, "student_b", "s2", false)

	for _, c := range []*Connection{host, a, a2, other} {
		if err := r.Subscribe(c); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	if got := len(r.SessionConnections("s1")); got != 3 {
		t.Errorf("Expected 3 subscribers on s1 (two tabs for one user), got %d", got)
	}
	hosts := r.SessionHosts("s1")
	if len(hosts) != 1 || hosts[0] != host {
		t.Errorf("Expected only the host connection, got %d", len(hosts))
	}

	stats := r.Stats()
	if stats["total_connections"] != 4 || stats["active_sessions"] != 2 {
		t.Errorf("Unexpected stats: %v", stats)
	}

	r.Unsubscribe(a)
	r.Unsubscribe(a)
	if got := len(r.SessionConnections("s1")); got != 2 {
		t.Errorf("Expected 2 subscribers after unsubscribe, got %d", got)
	}

	r.Unsubscribe(other)
	if r.Stats()["active_sessions"] != 1 {
		t.Error("Empty session should be dropped from the registry")
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	r := NewRegistry()
	a := boundConnection(t, "student_a", "s1", false)
	b := boundConnection(t, "student_b", "s1", false)
	_ = r.Subscribe(a)
	_ = r.Subscribe(b)

	if n := r.CloseSession("s1"); n != 2 {
		t.Errorf("Expected 2 connections closed, got %d", n)
	}
	if len(r.SessionConnections("s1")) != 0 {
		t.Error("Session should have no subscribers after CloseSession")
	}
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Error("Closed session connection should be closed")
	}
}

func TestRegistry_ConcurrentSubscribe(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Connection, 20)
	for i := range conns {
		conns[i] = boundConnection(t, "student_a", "s1", false)
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			_ = r.Subscribe(c)
			_ = r.SessionConnections("s1")
		}(c)
	}
	wg.Wait()

	if got := len(r.SessionConnections("s1")); got != 20 {
		t.Errorf("Expected 20 subscribers, got %d", got)
	}
}
