package authsig

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cybergodev/authsig/internal/replay"
)

// ReplayGuard admits a detached signature once within its freshness window.
type ReplayGuard interface {
	// MarkUsed records id until expiresAt and reports whether this is the
	// first time id was seen.
	MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// ReplayCache is a ReplayGuard backed by memory or Redis. Close it when done.
type ReplayCache struct {
	guard *replay.Guard
}

// NewMemoryReplayGuard keeps used signatures in memory and purges expired
// entries every cleanupInterval.
func NewMemoryReplayGuard(cleanupInterval time.Duration, log logrus.FieldLogger) *ReplayCache {
	return &ReplayCache{
		guard: replay.NewGuard(replay.NewMemoryStore(replay.DefaultMaxSize), replay.Config{CleanupInterval: cleanupInterval}, log),
	}
}

// NewRedisReplayGuard keeps used signatures in Redis under prefix so that
// several verifiers share one window. The client is not closed by Close.
func NewRedisReplayGuard(client redis.UniversalClient, prefix string) *ReplayCache {
	return &ReplayCache{
		guard: replay.NewGuard(replay.NewRedisStore(client, prefix), replay.Config{}, nil),
	}
}

func (c *ReplayCache) MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	return c.guard.MarkUsed(ctx, id, expiresAt)
}

// Close stops background cleanup and releases the store.
func (c *ReplayCache) Close() error {
	return c.guard.Close()
}
