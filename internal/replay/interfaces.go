package replay

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("replay store is closed")
	// ErrEmptyID is returned when an empty identifier is marked.
	ErrEmptyID = errors.New("replay id cannot be empty")
)

// Store records identifiers that may be used once until they expire.
type Store interface {
	// MarkOnce records id until expiresAt. It returns false when id was
	// already recorded and has not expired.
	MarkOnce(ctx context.Context, id string, expiresAt time.Time) (bool, error)

	// Contains reports whether id is recorded and unexpired.
	Contains(ctx context.Context, id string) (bool, error)

	// Cleanup removes expired identifiers and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)

	// Size returns the number of recorded identifiers.
	Size(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Config controls the background cleanup of a Guard.
type Config struct {
	// CleanupInterval defines how often expired identifiers are purged.
	// Zero disables the background loop.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// MaxSize bounds the in-memory store. Zero selects DefaultMaxSize.
	MaxSize int `json:"max_size" yaml:"max_size"`
}

// DefaultMaxSize is the in-memory capacity used when Config.MaxSize is zero.
const DefaultMaxSize = 100_000
