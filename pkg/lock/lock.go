// Package lock enforces at most one in-flight provisioning saga per
// destination instance. Interleaved sagas against the same destination
// would make arrival verification ambiguous: the observed cycle delta
// could not be attributed to either request.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrTargetBusy means a saga already holds the destination.
var ErrTargetBusy = errors.New("provisioning already in flight for target")

// Locker hands out per-target exclusivity. Acquire returns a release
// function on success and ErrTargetBusy when the target is held.
type Locker interface {
	Acquire(ctx context.Context, targetID string) (release func(), err error)
}

// Local is a process-local locker for single-replica deployments and
// tests.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(ctx context.Context, targetID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[targetID]; busy {
		return nil, ErrTargetBusy
	}
	l.held[targetID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, targetID)
			l.mu.Unlock()
		})
	}, nil
}
