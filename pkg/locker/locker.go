// Package locker provides best-effort mutual exclusion for background jobs,
// either within one process or across replicas through Redis.
package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLocked      = errors.New("lock is held by another owner")
	ErrLockFailure = errors.New("lock backend failure")
)

// Unlock releases a lock. Releasing an expired or foreign lock is a no-op.
type Unlock func(ctx context.Context) error

// Locker acquires named locks with a time to live.
type Locker interface {
	// TryLock returns ErrLocked when the key is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]memoryLock), now: time.Now}
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[key]; ok && now.Before(l.expires) {
		return nil, ErrLocked
	}

	token := uuid.NewString()
	m.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.locks[key]; ok && l.token == token {
			delete(m.locks, key)
		}
		return nil
	}, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis locker. Keys are stored under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	k := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, errors.Join(ErrLockFailure, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
			return errors.Join(ErrLockFailure, err)
		}
		return nil
	}, nil
}
