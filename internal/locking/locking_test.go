package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"libreria/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotCount(l *MemoryLocker) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func TestMemoryLockerIsExclusive(t *testing.T) {
	l := NewMemoryLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), OrderKey("o-1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, slotCount(l))
}

func TestMemoryLockerTimesOut(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), CartKey("c-1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, CartKey("c-1"))
	assert.True(t, errors.Is(err, models.ErrConflict))

	// Other keys are independent.
	unlockOther, err := l.Lock(context.Background(), CartKey("c-2"))
	require.NoError(t, err)
	unlockOther()
}

func TestMemoryLockerUnlockIsIdempotent(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), ReturnKey("r-1"))
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), ReturnKey("r-1"))
	require.NoError(t, err)
	unlock()
}

func TestMemoryLockerForgetsReleasedKeys(t *testing.T) {
	l := NewMemoryLocker()
	for i := 0; i < 100; i++ {
		unlock, err := l.Lock(context.Background(), OrderKey(fmt.Sprintf("o-%d", i)))
		require.NoError(t, err)
		unlock()
	}
	assert.Zero(t, slotCount(l))

	unlock, err := l.Lock(context.Background(), CartKey("c-1"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, CartKey("c-1"))
	require.Error(t, err)
	assert.Equal(t, 1, slotCount(l))
	unlock()
	assert.Zero(t, slotCount(l))
}

func TestRedisLockerClassifiesConnectionErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	defer rdb.Close()
	l := NewRedisLocker(rdb, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Lock(ctx, OrderKey("o-1"))
	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	assert.False(t, errors.Is(err, models.ErrConflict))
}
