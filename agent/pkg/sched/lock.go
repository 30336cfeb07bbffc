package sched

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Locker is the advisory-lock election primitive. TryAcquire returns true
// when this process holds the named lock for the lease duration.
type Locker interface {
	TryAcquire(ctx context.Context, name string, lease time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// RedisLocker elects via SET NX PX. The lock value is a per-process token so
// Release never drops a lease another instance has since taken over.
type RedisLocker struct {
	client redis.UniversalClient
	token  string
}

// NewRedisLocker creates a RedisLocker with a fresh process token.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, token: uuid.NewString()}
}

func lockKey(name string) string { return "lock:" + name }

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, lease time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(name), l.token, lease).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	// Holding the lock already: extend the lease instead of skipping a tick.
	current, err := l.client.Get(ctx, lockKey(name)).Result()
	if err == nil && current == l.token {
		return l.client.Expire(ctx, lockKey(name), lease).Result()
	}
	return false, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

func (l *RedisLocker) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, l.client, []string{lockKey(name)}, l.token).Err()
}

// lockTable is the shared state behind MemoryLocker instances.
type lockTable struct {
	clock clockwork.Clock
	mu    sync.Mutex
	held  map[string]memoryLease
}

type memoryLease struct {
	owner string
	until time.Time
}

// MemoryLocker is an in-process Locker for tests and cache-less deployments.
// Instances created from the same table compete for the same leases.
type MemoryLocker struct {
	table *lockTable
	owner string
}

// NewMemoryLocker creates a MemoryLocker over a fresh table.
func NewMemoryLocker(clock clockwork.Clock) *MemoryLocker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLocker{
		table: &lockTable{clock: clock, held: make(map[string]memoryLease)},
		owner: uuid.NewString(),
	}
}

// Instance returns a Locker with its own identity competing on the same
// table, mimicking a second process.
func (l *MemoryLocker) Instance() *MemoryLocker {
	return &MemoryLocker{table: l.table, owner: uuid.NewString()}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, name string, lease time.Duration) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	now := l.table.clock.Now()
	if cur, ok := l.table.held[name]; ok && cur.owner != l.owner && now.Before(cur.until) {
		return false, nil
	}
	l.table.held[name] = memoryLease{owner: l.owner, until: now.Add(lease)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, name string) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if cur, ok := l.table.held[name]; ok && cur.owner == l.owner {
		delete(l.table.held, name)
	}
	return nil
}
