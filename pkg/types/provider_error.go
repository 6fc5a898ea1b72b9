package types

import (
	"fmt"
)

// ProviderError is a failure reported by a video backend. Retryable covers
// timeouts, throttling and 5xx responses; everything else is terminal.
type ProviderError struct {
	Provider   ProviderKind
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s failed (%s, status %d): %v", e.Provider, e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s failed (%s): %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
