package authsig

import (
	"time"
)

// RevocationConfig controls the in-memory list of revoked token ids.
type RevocationConfig struct {
	// CleanupInterval specifies how often expired ids are removed.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// MaxSize bounds the number of revoked ids kept in memory.
	MaxSize int `yaml:"max_size" json:"max_size"`

	// EnableAutoCleanup runs the cleanup loop in the background.
	EnableAutoCleanup bool `yaml:"enable_auto_cleanup" json:"enable_auto_cleanup"`
}

// DefaultRevocationConfig returns a configuration suited for production use.
func DefaultRevocationConfig() RevocationConfig {
	return RevocationConfig{
		CleanupInterval:   5 * time.Minute,
		MaxSize:           100000,
		EnableAutoCleanup: true,
	}
}
