package replay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces replay keys in a shared Redis.
const DefaultRedisPrefix = "authsig:replay:"

// redisStore records identifiers with SET NX and a TTL. Redis expires the
// keys, so Cleanup has nothing to do. The client is owned by the caller.
type redisStore struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
	now    func() time.Time
}

// NewRedisStore creates a store backed by client. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) Store {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *redisStore) key(id string) string {
	return r.prefix + id
}

func (r *redisStore) MarkOnce(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if r.closed.Load() {
		return false, ErrStoreClosed
	}

	ttl := expiresAt.Sub(r.now())
	if ttl < time.Millisecond {
		// Already expired entries still occupy the key briefly so that a
		// concurrent duplicate is rejected.
		ttl = time.Millisecond
	}
	ok, err := r.client.SetNX(ctx, r.key(id), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis set nx: %w", err)
	}
	return ok, nil
}

func (r *redisStore) Contains(ctx context.Context, id string) (bool, error) {
	if r.closed.Load() {
		return false, ErrStoreClosed
	}
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *redisStore) Cleanup(context.Context) (int, error) {
	if r.closed.Load() {
		return 0, ErrStoreClosed
	}
	return 0, nil
}

func (r *redisStore) Size(ctx context.Context) (int, error) {
	if r.closed.Load() {
		return 0, ErrStoreClosed
	}
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (r *redisStore) Close() error {
	r.closed.Store(true)
	return nil
}
