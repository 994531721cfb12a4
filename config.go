package authsig

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybergodev/authsig/internal/core"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds defaults shared by signing and verification.
type Config struct {
	// DefaultExpiry is the token lifetime used when a request sets none.
	DefaultExpiry time.Duration `yaml:"default_expiry" json:"default_expiry"`

	// MaxTokenAge bounds the age of detached signatures.
	MaxTokenAge time.Duration `yaml:"max_token_age" json:"max_token_age"`

	// ClockSkew tolerates drift between signer and verifier clocks.
	ClockSkew time.Duration `yaml:"clock_skew" json:"clock_skew"`

	// MaxTokenSize bounds the length of accepted compact tokens.
	MaxTokenSize int `yaml:"max_token_size" json:"max_token_size"`

	// Issuer, when set, is required of verified tokens.
	Issuer string `yaml:"issuer" json:"issuer"`

	// Logger receives verification diagnostics. Nil discards them.
	Logger logrus.FieldLogger `yaml:"-" json:"-"`
}

// DefaultConfig returns the defaults: 2h expiry, 5m detached signature age,
// 30s clock skew and 64 KiB tokens.
func DefaultConfig() Config {
	return Config{
		DefaultExpiry: DefaultExpiry,
		MaxTokenAge:   DefaultJWSDMaxAge,
		ClockSkew:     30 * time.Second,
		MaxTokenSize:  core.DefaultMaxTokenSize,
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.DefaultExpiry <= 0 {
		return fmt.Errorf("%w: default expiry must be positive", ErrInvalidConfig)
	}
	if c.MaxTokenAge <= 0 {
		return fmt.Errorf("%w: max token age must be positive", ErrInvalidConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew cannot be negative", ErrInvalidConfig)
	}
	if c.ClockSkew >= c.MaxTokenAge {
		return fmt.Errorf("%w: clock skew must be less than max token age", ErrInvalidConfig)
	}
	if c.MaxTokenSize <= 0 {
		return fmt.Errorf("%w: max token size must be positive", ErrInvalidConfig)
	}
	return nil
}

// VerifyOptions returns options for VerifyJWT seeded from c.
func (c *Config) VerifyOptions() VerifyOptions {
	return VerifyOptions{
		Issuer:       c.Issuer,
		MaxTokenSize: c.MaxTokenSize,
		ClockSkew:    c.ClockSkew,
		Logger:       c.Logger,
	}
}

// JWSDOptions returns options for VerifyJWSD seeded from c. The caller
// fills in Method and URI from the inbound request.
func (c *Config) JWSDOptions() JWSDOptions {
	return JWSDOptions{
		MaxTokenAge:  c.MaxTokenAge,
		MaxTokenSize: c.MaxTokenSize,
		ClockSkew:    c.ClockSkew,
		Logger:       c.Logger,
	}
}

// SignRequest returns a request carrying c's expiry. Request and Payload are
// left for the caller.
func (c *Config) SignRequest() SignRequest {
	return SignRequest{ExpiresIn: c.DefaultExpiry}
}
