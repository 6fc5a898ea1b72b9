package interfaces

import (
	"context"
	"time"
)

// Locker grants short-lived exclusive leases. TryLock never waits: ok is
// false when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
