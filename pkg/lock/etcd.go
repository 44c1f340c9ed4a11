package lock

import (
	"context"
	"errors"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Etcd is a locker backed by etcd mutexes, for deployments running
// more than one provisioner replica. The session lease expires if the
// holder dies, so a crashed replica cannot wedge a target forever.
type Etcd struct {
	client   *clientv3.Client
	prefix   string
	leaseTTL int
}

// NewEtcd creates an etcd-backed locker. leaseTTL is in seconds; it
// should comfortably exceed the longest saga phase.
func NewEtcd(client *clientv3.Client, prefix string, leaseTTL int) *Etcd {
	if prefix == "" {
		prefix = "/cyclemint/targets"
	}
	if leaseTTL <= 0 {
		leaseTTL = 180
	}
	return &Etcd{client: client, prefix: prefix, leaseTTL: leaseTTL}
}

func (e *Etcd) Acquire(ctx context.Context, targetID string) (func(), error) {
	session, err := concurrency.NewSession(e.client, concurrency.WithTTL(e.leaseTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to open etcd session: %w", err)
	}

	mutex := concurrency.NewMutex(session, e.prefix+"/"+targetID)
	if err := mutex.TryLock(ctx); err != nil {
		session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, ErrTargetBusy
		}
		return nil, fmt.Errorf("failed to acquire target lock: %w", err)
	}

	return func() {
		// Unlock on a fresh context: the saga's context may already
		// be done by the time the lock is released.
		mutex.Unlock(context.Background())
		session.Close()
	}, nil
}
