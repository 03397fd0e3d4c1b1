package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"

	"github.com/sawpanic/riskengine/internal/training"
)

// TrainingLockKey is the Redis key guarding training runs across processes
const TrainingLockKey = "riskengine:lock:training"

type obtainFunc func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)

// TrainingLock is a distributed training.Locker backed by redislock
type TrainingLock struct {
	obtain obtainFunc
	key    string
	ttl    time.Duration
}

// NewTrainingLock creates a lock on the shared training key. The ttl bounds
// how long a crashed holder can block other runs.
func NewTrainingLock(client redislock.RedisClient, ttl time.Duration) *TrainingLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TrainingLock{
		obtain: redislock.New(client).Obtain,
		key:    TrainingLockKey,
		ttl:    ttl,
	}
}

// TryLock makes a single attempt to obtain the lock
func (l *TrainingLock) TryLock(ctx context.Context) (training.Lease, bool, error) {
	lock, err := l.obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to obtain training lock: %w", err)
	}
	return lock, true, nil
}
