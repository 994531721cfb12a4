package authsig

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cybergodev/authsig/internal/replay"
)

var (
	ErrProcessorClosed   = errors.New("processor is closed")
	ErrUnknownKey        = errors.New("no key with the token's kid")
	ErrRateLimitExceeded = errors.New("verification rate limit exceeded")
	ErrTokenRevoked      = errors.New("token has been revoked")
)

// Processor verifies tokens against a key set with shared defaults. It adds
// revocation by jti and per-kid rate limiting on top of VerifyJWT and
// VerifyJWSD. The underlying functions stay stateless; all state lives here.
// A Processor is safe for concurrent use.
type Processor struct {
	keys    *KeySet
	config  Config
	revoked *replay.Guard
	limiter *RateLimiter
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	revocation  *RevocationConfig
	redisClient redis.UniversalClient
	redisPrefix string
	rateLimit   *RateLimitConfig
}

// WithRevocation keeps revoked token ids in memory.
func WithRevocation(cfg RevocationConfig) ProcessorOption {
	return func(o *processorOptions) { o.revocation = &cfg }
}

// WithRedisRevocation keeps revoked token ids in Redis under prefix so that
// several processors share them. The client is not closed by Close.
func WithRedisRevocation(client redis.UniversalClient, prefix string) ProcessorOption {
	return func(o *processorOptions) {
		o.redisClient = client
		o.redisPrefix = prefix
	}
}

// WithRateLimit limits verifications per kid.
func WithRateLimit(cfg RateLimitConfig) ProcessorOption {
	return func(o *processorOptions) { o.rateLimit = &cfg }
}

// NewProcessor creates a Processor that selects verification keys from keys.
func NewProcessor(keys *KeySet, cfg Config, opts ...ProcessorOption) (*Processor, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: key set is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	var o processorOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := &Processor{
		keys:   keys,
		config: cfg,
		log:    loggerOrDiscard(cfg.Logger),
	}

	switch {
	case o.redisClient != nil:
		p.revoked = replay.NewGuard(replay.NewRedisStore(o.redisClient, o.redisPrefix), replay.Config{}, p.log)
	case o.revocation != nil:
		rc := replay.Config{MaxSize: o.revocation.MaxSize}
		if o.revocation.EnableAutoCleanup {
			rc.CleanupInterval = o.revocation.CleanupInterval
		}
		p.revoked = replay.NewGuard(replay.NewMemoryStore(rc.MaxSize), rc, p.log)
	}
	if o.rateLimit != nil {
		p.limiter = NewRateLimiterWithConfig(*o.rateLimit)
	}

	runtime.SetFinalizer(p, (*Processor).finalize)
	return p, nil
}

// Keys returns the processor's key set.
func (p *Processor) Keys() *KeySet { return p.keys }

// Sign signs req with signer, filling the issuer and expiry from the
// processor's configuration when the request leaves them unset.
func (p *Processor) Sign(ctx context.Context, signer Signer, req SignRequest, opts ...SignOption) (string, error) {
	if err := p.checkClosed(); err != nil {
		return "", err
	}
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = p.config.DefaultExpiry
	}
	if req.Payload.Issuer == "" {
		req.Payload.Issuer = p.config.Issuer
	}
	return Sign(ctx, signer, req, append([]SignOption{WithLogger(p.log)}, opts...)...)
}

// Verify verifies token with the key named by its kid header. Unset fields
// of opts are taken from the processor's configuration.
func (p *Processor) Verify(ctx context.Context, token string, opts VerifyOptions) (*Decoded, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.applyDefaults(&opts)
	key, err := p.selectKey(token, opts.MaxTokenSize)
	if err != nil {
		return nil, err
	}

	d, err := VerifyJWT(token, key, opts)
	if err != nil {
		return nil, err
	}
	if err := p.checkRevoked(ctx, d.Payload.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// VerifyJWSD verifies a detached signature with the key named by its kid
// header. Unset fields of opts are taken from the processor's configuration.
func (p *Processor) VerifyJWSD(ctx context.Context, jws string, body []byte, opts JWSDOptions) (*DecodedJWSD, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.MaxTokenAge <= 0 {
		opts.MaxTokenAge = p.config.MaxTokenAge
	}
	if opts.MaxTokenSize <= 0 {
		opts.MaxTokenSize = p.config.MaxTokenSize
	}
	if opts.ClockSkew == 0 {
		opts.ClockSkew = p.config.ClockSkew
	}
	if opts.Logger == nil {
		opts.Logger = p.log
	}

	key, err := p.selectKey(jws, opts.MaxTokenSize)
	if err != nil {
		return nil, err
	}
	return VerifyJWSD(ctx, jws, body, key, opts)
}

// Result is the outcome of verifying one token in a batch.
type Result struct {
	Token   string
	Decoded *Decoded
	Err     error
}

// VerifyAll verifies tokens concurrently and returns one Result per token
// in input order. A failure does not stop the other verifications; the
// caller decides whether one failure rejects the batch.
func (p *Processor) VerifyAll(ctx context.Context, tokens []string, opts VerifyOptions) []Result {
	results := make([]Result, len(tokens))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, token := range tokens {
		results[i].Token = token
		g.Go(func() error {
			results[i].Decoded, results[i].Err = p.Verify(ctx, token, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FirstError returns the first failed result's error, or nil.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Revoke decodes token and revokes its jti until its exp. The signature is
// not checked; revoking a forged token has no effect on genuine ones.
func (p *Processor) Revoke(ctx context.Context, token string) error {
	d, err := decode(token, p.config.MaxTokenSize)
	if err != nil {
		return err
	}
	if d.Payload.ID == "" {
		return newError(ErrInvalidPayload, "jti", "token has no id to revoke", nil)
	}
	expiresAt := time.Now().Add(p.config.DefaultExpiry)
	if d.Payload.ExpiresAt != nil {
		expiresAt = d.Payload.ExpiresAt.Time
	}
	return p.RevokeID(ctx, d.Payload.ID, expiresAt)
}

// RevokeID revokes token id until expiresAt.
func (p *Processor) RevokeID(ctx context.Context, id string, expiresAt time.Time) error {
	if err := p.checkClosed(); err != nil {
		return err
	}
	if p.revoked == nil {
		return fmt.Errorf("%w: revocation is not enabled", ErrInvalidConfig)
	}
	if _, err := p.revoked.MarkUsed(ctx, id, expiresAt.Add(p.config.ClockSkew)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	p.log.WithField("jti", id).Debug("token revoked")
	return nil
}

// IsRevoked reports whether token id has been revoked.
func (p *Processor) IsRevoked(ctx context.Context, id string) (bool, error) {
	if err := p.checkClosed(); err != nil {
		return false, err
	}
	if p.revoked == nil || id == "" {
		return false, nil
	}
	return p.revoked.Seen(ctx, id)
}

// Close releases the revocation store and the rate limiter.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	runtime.SetFinalizer(p, nil)

	if p.limiter != nil {
		p.limiter.Close()
	}
	if p.revoked != nil {
		return p.revoked.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (p *Processor) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Processor) finalize() {
	_ = p.Close()
}

func (p *Processor) checkClosed() error {
	if p.IsClosed() {
		return ErrProcessorClosed
	}
	return nil
}

func (p *Processor) applyDefaults(opts *VerifyOptions) {
	if opts.Issuer == "" {
		opts.Issuer = p.config.Issuer
	}
	if opts.MaxTokenSize <= 0 {
		opts.MaxTokenSize = p.config.MaxTokenSize
	}
	if opts.ClockSkew == 0 {
		opts.ClockSkew = p.config.ClockSkew
	}
	if opts.Logger == nil {
		opts.Logger = p.log
	}
}

// selectKey reads the kid header without verifying anything else, then
// applies the rate limit for that kid.
func (p *Processor) selectKey(token string, maxSize int) (Key, error) {
	kid, err := peekKeyID(token, maxSize)
	if err != nil {
		return nil, err
	}
	key, ok := p.keys.Lookup(kid)
	if !ok {
		return nil, newError(ErrInvalidKeyMaterial, "kid", fmt.Sprintf("%q is not in the key set", kid), ErrUnknownKey)
	}
	if p.limiter != nil && !p.limiter.Allow(kid) {
		p.log.WithField("kid", kid).Warn("verification rate limit exceeded")
		return nil, fmt.Errorf("%w for kid %q", ErrRateLimitExceeded, kid)
	}
	return key, nil
}

func (p *Processor) checkRevoked(ctx context.Context, id string) error {
	revoked, err := p.IsRevoked(ctx, id)
	if err != nil {
		return fmt.Errorf("revocation check failed: %w", err)
	}
	if revoked {
		return newError(ErrInvalidPayload, "jti", "token has been revoked", ErrTokenRevoked)
	}
	return nil
}
