// Package redislock implements billing.Locker on Redis so that several
// server instances serialize writes to the same lease.
//
// A lock is a key set with SET NX PX holding a random token. Release runs a
// compare-and-delete script so an instance never frees a lock it no longer
// owns (for example after its TTL expired). The lock is advisory: the
// conditional update in the store is still what guarantees correctness.
package redislock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/rent-ledger/billing"
)

const (
	defaultTTL     = 10 * time.Second
	defaultTimeout = 5 * time.Second
	defaultRetry   = 25 * time.Millisecond
	keyPrefix      = "rent-ledger:lock:"
)

var errLockTimeout = errors.New("timed out waiting for lock")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires per-key locks in Redis.
type Locker struct {
	client  redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets how long a lock survives a crashed holder.
func WithTTL(d time.Duration) Option {
	return func(l *Locker) {
		l.ttl = d
	}
}

// WithTimeout bounds how long Lock waits for a busy key.
func WithTimeout(d time.Duration) Option {
	return func(l *Locker) {
		l.timeout = d
	}
}

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:  client,
		ttl:     defaultTTL,
		timeout: defaultTimeout,
		retry:   defaultRetry,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, redisURL string, opts ...Option) (*Locker, *redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	return New(client, opts...), client, nil
}

// Lock blocks until key is acquired, ctx is done, or the timeout passes.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	redisKey := keyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, billing.Unavailable("lock "+key, err)
		}
		if ok {
			return l.unlockFunc(redisKey, token), nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, billing.Unavailable("lock "+key, errLockTimeout)
			}
			return nil, billing.Unavailable("lock "+key, ctx.Err())
		}
	}
}

func (l *Locker) unlockFunc(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled; release regardless
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			releaseScript.Run(ctx, l.client, []string{redisKey}, token)
		})
	}
}
