package provider

import (
	"context"
	"errors"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// RetryPolicy bounds every provider call.
type RetryPolicy struct {
	Attempts       int           `yaml:"attempts" json:"attempts" env:"LIVECLASS_PROVIDER_RETRY_ATTEMPTS"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout" env:"LIVECLASS_PROVIDER_ATTEMPT_TIMEOUT"`
	BaseDelay      time.Duration `yaml:"base_delay" json:"base_delay" env:"LIVECLASS_PROVIDER_RETRY_BASE_DELAY"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay" env:"LIVECLASS_PROVIDER_RETRY_MAX_DELAY"`
}

// DefaultRetryPolicy returns three attempts of at most ten seconds each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		AttemptTimeout: 10 * time.Second,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
	}
}

// Call runs fn with a per-attempt timeout and retries only errors that are
// retryable ProviderErrors. The parent context bounds the whole call.
func Call[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(policy.Attempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(policy, attempt)); err != nil {
				return zero, lastErr
			}
		}

		result, err := callOnce(ctx, policy.AttemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Do is Call for operations without a result.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// IsRetryable reports whether err is a retryable ProviderError.
func IsRetryable(err error) bool {
	var provErr *types.ProviderError
	return errors.As(err, &provErr) && provErr.Retryable
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.BaseDelay << (attempt - 1)
	if policy.MaxDelay > 0 && (delay > policy.MaxDelay || delay <= 0) {
		delay = policy.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retrying applies a RetryPolicy to every call of the wrapped adapter.
type retrying struct {
	next   interfaces.ProviderAdapter
	policy RetryPolicy
}

// WithRetry wraps adapter so each operation runs under policy.
func WithRetry(adapter interfaces.ProviderAdapter, policy RetryPolicy) interfaces.ProviderAdapter {
	return &retrying{next: adapter, policy: policy}
}

func (r *retrying) Kind() types.ProviderKind { return r.next.Kind() }

func (r *retrying) CreateMeeting(ctx context.Context, spec types.MeetingSpec) (*types.Meeting, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (*types.Meeting, error) {
		return r.next.CreateMeeting(ctx, spec)
	})
}

func (r *retrying) UpdateMeeting(ctx context.Context, meetingID string, patch types.MeetingPatch) error {
	return Do(ctx, r.policy, func(ctx context.Context) error {
		return r.next.UpdateMeeting(ctx, meetingID, patch)
	})
}

func (r *retrying) DeleteMeeting(ctx context.Context, meetingID string) error {
	return Do(ctx, r.policy, func(ctx context.Context) error {
		return r.next.DeleteMeeting(ctx, meetingID)
	})
}

func (r *retrying) IssueRealtimeCredential(ctx context.Context, req types.RealtimeCredentialRequest) (*types.RealtimeCredential, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (*types.RealtimeCredential, error) {
		return r.next.IssueRealtimeCredential(ctx, req)
	})
}
