// Package lock provides the sweep lease used to keep a single cleanup pass
// running across nodes.
package lock

import (
	"context"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
)

// LocalLocker grants leases within one process.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	seq    uint64
	now    func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

var _ interfaces.Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: make(map[string]lease), now: time.Now}
}

// TryLock grants key unless an unexpired lease exists.
func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
