package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/landmarklabs/sqlchat/api/metrics"
)

// RedisStore is the production Store backed by Redis. Backend failures are
// logged and degrade to misses on read and no-ops on write; the cache is
// never a correctness dependency.
type RedisStore struct {
	client redis.UniversalClient
	log    *slog.Logger
}

// NewRedisStore creates a RedisStore around an existing client.
func NewRedisStore(client redis.UniversalClient, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

// redisKey maps (namespace, key) onto the persisted layout: session and
// result records use their dedicated prefixes, everything else lives under
// the generic cache prefix.
func redisKey(ns Namespace, key string) string {
	switch ns {
	case NSSession, NSResult:
		return fmt.Sprintf("%s:%s", ns, key)
	default:
		return fmt.Sprintf("cache:%s:%s", ns, key)
	}
}

func (s *RedisStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, redisKey(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss(string(ns))
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheError(string(ns))
		s.log.Debug("cache: get failed, degrading to miss", "namespace", ns, "error", err)
		return nil, false, nil
	}
	metrics.RecordCacheHit(string(ns))
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(ns, key), value, ttl).Err(); err != nil {
		metrics.RecordCacheError(string(ns))
		s.log.Debug("cache: put discarded", "namespace", ns, "error", err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.Del(ctx, redisKey(ns, key)).Err(); err != nil {
		metrics.RecordCacheError(string(ns))
		s.log.Debug("cache: invalidate failed", "namespace", ns, "error", err)
	}
	return nil
}

// Ping reports backend health for the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
