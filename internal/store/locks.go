package store

import (
	"context"
	"sync"
	"time"
)

// resourceLocks serializes mutations per resource key. Each key owns a
// one-slot channel; holding the token means holding the lock. Waits are
// bounded so a stuck caller cannot hold others hostage.
type resourceLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{slots: make(map[string]chan struct{})}
}

func (l *resourceLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *resourceLocks) acquire(ctx context.Context, key string, wait time.Duration) error {
	s := l.slot(key)

	select {
	case s <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}

func (l *resourceLocks) release(key string) {
	select {
	case <-l.slot(key):
	default:
		// release without acquire is a programming error; don't block
	}
}
