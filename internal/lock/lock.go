// Package lock serializes work on one key across processes.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"marketmod/pkg/errors"
)

// Locker obtains an exclusive lock on key. The returned func releases it.
// Contention past the retry budget returns errors.ErrLockNotObtained.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// RedisLocker is a Locker backed by bsm/redislock.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
	prefix  string
}

// NewRedisLocker builds a RedisLocker. Locks expire after ttl even if the
// holder never releases them.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		retries: 10,
		backoff: 50 * time.Millisecond,
		prefix:  "marketmod:lock:",
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string) (func(context.Context) error, error) {
	lk, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("%s: %w", key, errors.ErrLockNotObtained)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain lock")
	}
	return func(ctx context.Context) error {
		err := lk.Release(ctx)
		if err == redislock.ErrLockNotHeld {
			return nil
		}
		return err
	}, nil
}

// LocalLocker is an in-process Locker for single-instance runs and tests.
// It blocks until the key is free or ctx is done.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", key, errors.ErrLockNotObtained)
		}
	}
}
