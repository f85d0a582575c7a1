// Package locking serializes work on one aggregate (a customer's cart, an
// order, a return) across requests and, with Redis, across processes.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"libreria/internal/models"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker hands out exclusive per-key locks. Unlock must be called once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func CartKey(customerID string) string { return "cart:" + customerID }
func OrderKey(orderID string) string { return "order:" + orderID }
func ReturnKey(returnID string) string { return "return:" + returnID }

// MemoryLocker is an in-process Locker. A key's slot lives only while some
// caller holds or waits on it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

// Lock waits until key is free or ctx is done.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, &models.ConflictError{Entity: "lock", ID: key}
	}
}

func (l *MemoryLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// RedisLocker is a Locker backed by bsm/redislock.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, backoff: 50 * time.Millisecond}
}

// Lock retries until the lock is obtained or ctx is done. The lock expires
// after the configured TTL if the holder dies.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, &models.ConflictError{Entity: "lock", ID: key}
	}
	if err != nil {
		return nil, &models.StorageError{Operation: "lock " + key, Err: err}
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}
