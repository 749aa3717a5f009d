// Package lock serializes detection runs across processes. Locks are best
// effort: callers decide whether an unavailable backend blocks the run.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/agentstation/zenginsync/pkg/errors"
)

// DetectionKey is the lock key of the detection run.
const DetectionKey = "lock:zengin-diff-detection"

// Locker obtains named locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Redis obtains locks from a Redis server.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
}

// NewRedis connects to the server at url (redis://host:port/db).
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.NewConfigError("lock", "invalid redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewTransientError("redis ping", err)
	}
	return &Redis{client: client, locker: redislock.New(client)}, nil
}

// Obtain implements Locker. A held lock reports ErrLocked.
func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l, err := r.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.WrapResource("obtain", "lock", key, errors.ErrLocked)
	}
	if err != nil {
		return nil, errors.WrapResource("obtain", "lock", key, err)
	}
	return l, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory holds locks in process.
type Memory struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewMemory returns an in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time), now: time.Now}
}

// Obtain implements Locker.
func (m *Memory) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.held[key]; ok && m.now().Before(until) {
		return nil, errors.WrapResource("obtain", "lock", key, errors.ErrLocked)
	}
	until := m.now().Add(ttl)
	m.held[key] = until
	return &memoryLock{m: m, key: key, until: until}, nil
}

type memoryLock struct {
	m     *Memory
	key   string
	until time.Time
}

func (l *memoryLock) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.m.held[l.key].Equal(l.until) {
		delete(l.m.held, l.key)
	}
	return nil
}

// Noop grants every lock.
type Noop struct{}

// Obtain implements Locker.
func (Noop) Obtain(context.Context, string, time.Duration) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }
