package redislock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/billing"
)

// These tests need a live server: REDIS_URL=redis://localhost:6379/15
func newTestLocker(t *testing.T, opts ...Option) *Locker {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	l, client, err := Connect(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return l
}

func TestLocker_MutualExclusion(t *testing.T) {
	l := newTestLocker(t)
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_TimeoutIsUnavailable(t *testing.T) {
	l := newTestLocker(t, WithTimeout(50*time.Millisecond))
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), key)
	assert.ErrorIs(t, err, billing.ErrUnavailable)
	assert.True(t, billing.IsRetryable(err))
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	l := newTestLocker(t)
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	again()
}
