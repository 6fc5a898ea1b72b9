package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveclass/internal/apperror"
	"liveclass/internal/provider"
	"liveclass/internal/provider/rtc"
	"liveclass/pkg/types"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func hostedSession() *types.Session {
	s := &types.Session{
		ID:                 "s1",
		OwnerID:            "instructor_1",
		ProviderKind:       types.ProviderHosted,
		ProviderMeetingID:  "m1",
		HostJoinRef:        "https://meet.example/s/m1",
		ParticipantJoinRef: "https://meet.example/j/m1",
		AccessSecret:       "pw",
	}
	s.ApplyWindow(types.ComputeWindow(now, 60, 24*time.Hour))
	return s
}

func newRTCIssuer(t *testing.T, maxTTL time.Duration) (*Issuer, *rtc.Adapter) {
	t.Helper()
	adapter, err := rtc.New(rtc.Config{AppID: "app", AppCertificate: "0123456789abcdef"})
	if err != nil {
		t.Fatalf("rtc.New failed: %v", err)
	}
	adapter.WithClock(func() time.Time { return now })
	return NewIssuer(provider.NewRegistry(adapter), maxTTL), adapter
}

func TestIssue_HostedRoles(t *testing.T) {
	issuer := NewIssuer(provider.NewRegistry(), time.Hour)
	s := hostedSession()

	host, err := issuer.Issue(context.Background(), s, "instructor_1", now)
	if err != nil {
		t.Fatalf("Issue(host) failed: %v", err)
	}
	if host.Role != types.RoleHost || host.StartURL == "" || host.Password != "pw" {
		t.Errorf("Host credential incomplete: %+v", host)
	}

	student, err := issuer.Issue(context.Background(), s, "student_1", now)
	if err != nil {
		t.Fatalf("Issue(participant) failed: %v", err)
	}
	if student.Role != types.RoleParticipant || student.JoinURL != s.ParticipantJoinRef {
		t.Errorf("Participant credential wrong: %+v", student)
	}
	if student.StartURL != "" || student.Password != "" {
		t.Errorf("Host material leaked to participant: %+v", student)
	}
}

func TestIssue_RTCFreshTokenWithBoundedTTL(t *testing.T) {
	issuer, adapter := newRTCIssuer(t, 2*time.Hour)
	s := hostedSession()
	s.ProviderKind = types.ProviderRTC
	s.ProviderMeetingID = "session-s1"

	at := now.Add(40 * time.Minute)
	first, err := issuer.Issue(context.Background(), s, "student_1", at)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if first.Channel != "session-s1" || first.Token == "" || first.ExpiresAt == nil {
		t.Fatalf("Incomplete rtc credential: %+v", first)
	}

	claims, err := adapter.Verify(first.Token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	// 20 minutes remain in the session, less than the 2h cap.
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 20*time.Minute {
		t.Errorf("Expected ttl of 20m, got %v", got)
	}
	if claims.Role != rtc.RoleSubscriber {
		t.Errorf("Participant should subscribe, got %s", claims.Role)
	}
}

func TestIssuer_TTL(t *testing.T) {
	issuer := NewIssuer(provider.NewRegistry(), 10*time.Minute)
	s := hostedSession()

	if got := issuer.TTL(s, now); got != 10*time.Minute {
		t.Errorf("Expected cap of 10m, got %v", got)
	}
	if got := issuer.TTL(s, now.Add(55*time.Minute)); got != 5*time.Minute {
		t.Errorf("Expected remaining 5m, got %v", got)
	}
	if NewIssuer(nil, 0).maxTTL != DefaultMaxTTL {
		t.Error("Zero max ttl should use the default")
	}
}

func TestIssue_AfterEndNotJoinable(t *testing.T) {
	issuer := NewIssuer(provider.NewRegistry(), time.Hour)
	s := hostedSession()

	_, err := issuer.Issue(context.Background(), s, "student_1", s.ScheduledEnd)
	var appErr *apperror.Error
	if !errors.As(err, &appErr) || appErr.Reason != apperror.ReasonNotJoinable {
		t.Errorf("Expected not_joinable conflict, got %v", err)
	}
}
