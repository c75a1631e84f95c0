package memory

import (
	"context"
	"sync"
	"time"
)

// PassLock is an in-process matching pass lock. The ttl is ignored: the
// holder always releases.
type PassLock struct {
	mu   sync.Mutex
	held bool
}

// NewPassLock creates an unlocked pass lock.
func NewPassLock() *PassLock {
	return &PassLock{}
}

// TryLock takes the lock without blocking.
func (l *PassLock) TryLock(_ context.Context, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil, false, nil
	}
	l.held = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}
	return release, true, nil
}
