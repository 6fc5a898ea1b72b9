// Package rtc implements the token-based real-time backend. Meetings are
// plain channel names; access is a locally signed, short-lived JWT.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Channel roles carried in the credential.
const (
	RolePublisher  = "publisher"
	RoleSubscriber = "subscriber"
)

// Config holds the application identity and signing secret.
type Config struct {
	AppID          string `yaml:"app_id" env:"LIVECLASS_RTC_APP_ID"`
	AppCertificate string `yaml:"app_certificate" env:"LIVECLASS_RTC_APP_CERTIFICATE"`
	ChannelPrefix  string `yaml:"channel_prefix" env:"LIVECLASS_RTC_CHANNEL_PREFIX"`
}

// Enabled reports whether the backend has been configured at all.
func (c Config) Enabled() bool {
	return c.AppID != "" || c.AppCertificate != ""
}

func (c Config) Validate() error {
	if c.AppID == "" {
		return errors.New("rtc app_id is required")
	}
	if len(c.AppCertificate) < 16 {
		return errors.New("rtc app_certificate must be at least 16 characters")
	}
	return nil
}

// Claims is the signed payload of a channel credential.
type Claims struct {
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Adapter signs channel credentials. It makes no network calls.
type Adapter struct {
	cfg Config
	now func() time.Time
}

var _ interfaces.ProviderAdapter = (*Adapter)(nil)

// New returns an adapter using the wall clock.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, now: time.Now}, nil
}

// WithClock replaces the clock used for iat/nbf/exp.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

func (a *Adapter) Kind() types.ProviderKind { return types.ProviderRTC }

// ChannelName returns the channel bound to a session.
func (a *Adapter) ChannelName(sessionID string) string {
	prefix := a.cfg.ChannelPrefix
	if prefix == "" {
		prefix = "session"
	}
	return prefix + "-" + sessionID
}

// CreateMeeting allocates the channel name. Nothing is created remotely.
func (a *Adapter) CreateMeeting(ctx context.Context, spec types.MeetingSpec) (*types.Meeting, error) {
	if spec.SessionID == "" {
		return nil, &types.ProviderError{Provider: types.ProviderRTC, Op: "create_meeting", Err: errors.New("session id is required")}
	}
	channel := a.ChannelName(spec.SessionID)
	return &types.Meeting{
		ProviderMeetingID:  channel,
		HostJoinRef:        channel,
		ParticipantJoinRef: channel,
	}, nil
}

func (a *Adapter) UpdateMeeting(ctx context.Context, meetingID string, patch types.MeetingPatch) error {
	return nil
}

// DeleteMeeting always succeeds: channels have no server-side lifetime.
func (a *Adapter) DeleteMeeting(ctx context.Context, meetingID string) error {
	return nil
}

// IssueRealtimeCredential signs a fresh HS256 credential for one
// participant. Hosts publish; everyone else subscribes.
func (a *Adapter) IssueRealtimeCredential(ctx context.Context, req types.RealtimeCredentialRequest) (*types.RealtimeCredential, error) {
	if req.Channel == "" {
		return nil, &types.ProviderError{Provider: types.ProviderRTC, Op: "issue_credential", Err: errors.New("channel is required")}
	}
	if req.TTL <= 0 {
		return nil, &types.ProviderError{Provider: types.ProviderRTC, Op: "issue_credential", Err: errors.New("ttl must be positive")}
	}

	role := RoleSubscriber
	if req.Role == types.RoleHost {
		role = RolePublisher
	}

	now := a.now().UTC().Truncate(time.Second)
	expires := now.Add(req.TTL)
	uid := CoerceUID(req.ParticipantID)

	claims := Claims{
		AppID:   a.cfg.AppID,
		Channel: req.Channel,
		UID:     uid,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.ParticipantID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.AppCertificate))
	if err != nil {
		return nil, &types.ProviderError{Provider: types.ProviderRTC, Op: "issue_credential", Err: fmt.Errorf("sign token: %w", err)}
	}

	return &types.RealtimeCredential{Token: token, UID: uid, ExpiresAt: expires}, nil
}

// Verify parses and validates a credential signed by this adapter.
func (a *Adapter) Verify(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(a.cfg.AppCertificate), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid rtc credential: %w", err)
	}
	if claims.AppID != a.cfg.AppID {
		return nil, errors.New("invalid rtc credential: app_id mismatch")
	}
	return &claims, nil
}

// CoerceUID maps a participant identifier to a numeric channel uid. Decimal
// identifiers in [0, 2^32-1] are used as is; anything else gets a random
// non-zero uid.
func CoerceUID(participantID string) uint32 {
	if n, err := strconv.ParseUint(participantID, 10, 32); err == nil {
		return uint32(n)
	}
	for {
		if uid := rand.Uint32(); uid != 0 {
			return uid
		}
	}
}
