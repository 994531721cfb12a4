package authsig

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds how often a single key id may be verified.
type RateLimitConfig struct {
	// MaxRate is the number of verifications allowed per Window.
	MaxRate int `yaml:"max_rate" json:"max_rate"`
	// Window is the period over which MaxRate is replenished.
	Window time.Duration `yaml:"window" json:"window"`
	// MaxKeys bounds the number of tracked key ids.
	MaxKeys int `yaml:"max_keys" json:"max_keys"`
}

// DefaultRateLimitConfig allows 100 verifications per minute per kid.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRate: 100, Window: time.Minute, MaxKeys: 10000}
}

// RateLimiter limits operations per key. Each key gets a token bucket that
// holds MaxRate tokens and refills them evenly over Window.
// It is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	maxKeys int
	closed  bool
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing maxRate operations per window
// for each key. Invalid values fall back to 100 per minute.
func NewRateLimiter(maxRate int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithConfig(RateLimitConfig{MaxRate: maxRate, Window: window})
}

// NewRateLimiterWithConfig creates a limiter from cfg.
func NewRateLimiterWithConfig(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = def.MaxRate
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = def.MaxKeys
	}

	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(cfg.MaxRate) / cfg.Window.Seconds()),
		burst:   cfg.MaxRate,
		maxKeys: cfg.MaxKeys,
		now:     time.Now,
	}
}

// Allow reports whether one operation for key may proceed now.
// An empty key is never allowed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.AllowN(key, 1)
}

// AllowN reports whether n operations for key may proceed now. n <= 0 is
// always allowed.
func (rl *RateLimiter) AllowN(key string, n int) bool {
	if n <= 0 {
		return true
	}
	if key == "" {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.closed {
		return false
	}

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		if len(rl.buckets) >= rl.maxKeys {
			rl.evictOldestUnsafe()
		}
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, n)
}

// Reset forgets the bucket of key.
func (rl *RateLimiter) Reset(key string) {
	if key == "" {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// Close releases all buckets. Allow returns false afterwards.
// It is safe to call Close multiple times.
func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.closed {
		return
	}

	rl.closed = true
	clear(rl.buckets)
	rl.buckets = nil
}

func (rl *RateLimiter) evictOldestUnsafe() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, b := range rl.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldestTime) {
			oldestKey = key
			oldestTime = b.lastSeen
		}
	}
	if oldestKey != "" {
		delete(rl.buckets, oldestKey)
	}
}
