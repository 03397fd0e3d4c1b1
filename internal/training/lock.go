package training

import (
	"context"
	"sync"
)

// Lease is a held training lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker guards against concurrent training runs. TryLock returns false
// without error when the lock is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context) (Lease, bool, error)
}

// LocalLocker is an in-process Locker
type LocalLocker struct {
	mu sync.Mutex
}

// TryLock acquires the lock if it is free
func (l *LocalLocker) TryLock(ctx context.Context) (Lease, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return localLease{l}, true, nil
}

type localLease struct {
	l *LocalLocker
}

func (lease localLease) Release(ctx context.Context) error {
	lease.l.mu.Unlock()
	return nil
}
