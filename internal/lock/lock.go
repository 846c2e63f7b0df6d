package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means the lock is held elsewhere; callers retry or back off.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a single watch-session key. Both live ingestion
// and the finalization sweep take the same lock so a report never races a
// concurrent close.
type Locker interface {
	// Acquire takes the lock for key, returning a release func.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Memory is a per-key mutex table for tests and single-instance deployments.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the per-key mutex is held.
func (m *Memory) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a SET NX PX lease locker for multi-instance deployments.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates a redis-backed locker. Leases expire after ttl so a
// crashed holder cannot wedge a key.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire polls SET NX until the lease is taken or the context ends.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "videoattend:lock:" + key
	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(r.retry):
		}
	}
}
