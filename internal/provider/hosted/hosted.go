// Package hosted implements the hosted-meeting backend: a REST meeting
// resource with durable join and start URLs.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Config configures the hosted-meeting REST client. Either APIKey or the
// client-credentials triple must be set.
type Config struct {
	BaseURL      string        `yaml:"base_url" env:"LIVECLASS_HOSTED_BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"LIVECLASS_HOSTED_API_KEY"`
	ClientID     string        `yaml:"client_id" env:"LIVECLASS_HOSTED_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"LIVECLASS_HOSTED_CLIENT_SECRET"`
	TokenURL     string        `yaml:"token_url" env:"LIVECLASS_HOSTED_TOKEN_URL"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout" env:"LIVECLASS_HOSTED_TIMEOUT"`
}

// Enabled reports whether the backend has been configured at all.
func (c Config) Enabled() bool {
	return c.BaseURL != ""
}

// Validate checks that a configured backend can authenticate.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("hosted base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("hosted base_url is invalid: %w", err)
	}
	usesOAuth := c.ClientID != "" || c.ClientSecret != "" || c.TokenURL != ""
	if usesOAuth && (c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "") {
		return errors.New("hosted client_id, client_secret and token_url must be set together")
	}
	if !usesOAuth && c.APIKey == "" {
		return errors.New("hosted api_key or client credentials are required")
	}
	return nil
}

// Client talks to the hosted-meeting REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ interfaces.ProviderAdapter = (*Client)(nil)

// New builds a client. Client credentials take precedence over a static key.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var httpClient *http.Client
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
	} else {
		httpClient = &http.Client{Transport: &bearerTransport{token: cfg.APIKey, next: http.DefaultTransport}}
	}
	httpClient.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(r)
}

func (c *Client) Kind() types.ProviderKind { return types.ProviderHosted }

type meetingRequest struct {
	Topic     string `json:"topic,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	HostID    string `json:"host_id,omitempty"`
	Reference string `json:"external_reference,omitempty"`
}

type meetingResponse struct {
	ID       meetingID `json:"id"`
	JoinURL  string    `json:"join_url"`
	StartURL string    `json:"start_url"`
	Password string    `json:"password"`
}

// meetingID accepts both numeric and string identifiers.
type meetingID string

func (m *meetingID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = meetingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("meeting id must be a string or number: %w", err)
	}
	*m = meetingID(n.String())
	return nil
}

// CreateMeeting creates the meeting resource. The session id doubles as the
// idempotency key so a retried create does not produce a second meeting.
func (c *Client) CreateMeeting(ctx context.Context, spec types.MeetingSpec) (*types.Meeting, error) {
	body := meetingRequest{
		Topic:     spec.Title,
		StartTime: spec.Start.UTC().Format(time.RFC3339),
		Duration:  spec.DurationMinutes,
		HostID:    spec.HostID,
		Reference: spec.SessionID,
	}

	key := spec.SessionID
	if key == "" {
		key = uuid.NewString()
	}

	var resp meetingResponse
	if err := c.do(ctx, "create_meeting", http.MethodPost, "/meetings", body, key, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.JoinURL == "" || resp.StartURL == "" {
		return nil, &types.ProviderError{
			Provider: types.ProviderHosted,
			Op:       "create_meeting",
			Err:      errors.New("response is missing id, join_url or start_url"),
		}
	}

	return &types.Meeting{
		ProviderMeetingID:  string(resp.ID),
		HostJoinRef:        resp.StartURL,
		ParticipantJoinRef: resp.JoinURL,
		Secret:             resp.Password,
	}, nil
}

// UpdateMeeting patches title and schedule on the provider.
func (c *Client) UpdateMeeting(ctx context.Context, id string, patch types.MeetingPatch) error {
	var body meetingRequest
	if patch.Title != nil {
		body.Topic = *patch.Title
	}
	if patch.Start != nil {
		body.StartTime = patch.Start.UTC().Format(time.RFC3339)
	}
	if patch.DurationMinutes != nil {
		body.Duration = *patch.DurationMinutes
	}
	return c.do(ctx, "update_meeting", http.MethodPatch, "/meetings/"+url.PathEscape(id), body, "", nil)
}

// DeleteMeeting deletes the meeting. A meeting that is already gone counts
// as deleted.
func (c *Client) DeleteMeeting(ctx context.Context, id string) error {
	err := c.do(ctx, "delete_meeting", http.MethodDelete, "/meetings/"+url.PathEscape(id), nil, "", nil)
	var provErr *types.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// IssueRealtimeCredential is not supported: hosted meetings are joined by URL.
func (c *Client) IssueRealtimeCredential(ctx context.Context, req types.RealtimeCredentialRequest) (*types.RealtimeCredential, error) {
	return nil, &types.ProviderError{
		Provider: types.ProviderHosted,
		Op:       "issue_credential",
		Err:      errors.New("hosted meetings do not use realtime credentials"),
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &types.ProviderError{Provider: types.ProviderHosted, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &types.ProviderError{Provider: types.ProviderHosted, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &types.ProviderError{
			Provider:  types.ProviderHosted,
			Op:        op,
			Retryable: isTransient(ctx, err),
			Err:       err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &types.ProviderError{
			Provider:   types.ProviderHosted,
			Op:         op,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.ProviderError{
			Provider:   types.ProviderHosted,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// isTransient treats timeouts and connection failures as retryable unless
// the caller's own context was cancelled.
func isTransient(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
