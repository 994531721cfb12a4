package authsig

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybergodev/authsig/internal/core"
	"github.com/cybergodev/authsig/internal/signing"
)

// DefaultExpiry is the token lifetime used by Sign when none is given.
const DefaultExpiry = 2 * time.Hour

// Signer produces the base64url signature of a JWS signing input.
// Implementations may delegate to a hardware key, a remote KMS or a wallet;
// Sign is a suspension point and should honor ctx.
type Signer interface {
	Algorithm() Algorithm
	KeyID() string
	Sign(ctx context.Context, signingInput string) (string, error)
}

// SignFunc signs a JWS signing input and returns the base64url signature.
type SignFunc func(ctx context.Context, signingInput string) (string, error)

type externalSigner struct {
	alg Algorithm
	kid string
	fn  SignFunc
}

// NewExternalSigner adapts fn as a Signer for alg and kid.
func NewExternalSigner(alg Algorithm, kid string, fn SignFunc) (Signer, error) {
	if !alg.valid() {
		return nil, newError(ErrUnsupportedAlgorithm, "alg", string(alg), nil)
	}
	if kid == "" {
		return nil, newError(ErrInvalidHeader, "kid", "key id is required", nil)
	}
	if fn == nil {
		return nil, newError(ErrInvalidKeyMaterial, "", "sign function is nil", nil)
	}
	return &externalSigner{alg: alg, kid: kid, fn: fn}, nil
}

func (s *externalSigner) Algorithm() Algorithm { return s.alg }
func (s *externalSigner) KeyID() string        { return s.kid }

func (s *externalSigner) Sign(ctx context.Context, signingInput string) (string, error) {
	return s.fn(ctx, signingInput)
}

type keySigner struct {
	key    Key
	alg    Algorithm
	method signing.Method
}

// NewKeySigner returns an in-process signer for a private key. An empty alg
// selects the key's default algorithm.
func NewKeySigner(key Key, alg Algorithm) (Signer, error) {
	if key == nil {
		return nil, newError(ErrInvalidKeyMaterial, "", "key is nil", nil)
	}
	if alg == "" {
		alg = key.Algorithm()
	}
	if !key.supports(alg) {
		return nil, newError(ErrUnsupportedAlgorithm, "alg", fmt.Sprintf("%s cannot sign with %T", alg, key), nil)
	}
	if !key.IsPrivate() {
		return nil, newError(ErrInvalidKeyMaterial, "d", "signing requires a private key", nil)
	}
	method, err := signing.Get(string(alg))
	if err != nil {
		return nil, newError(ErrUnsupportedAlgorithm, "alg", string(alg), err)
	}
	return &keySigner{key: key, alg: alg, method: method}, nil
}

func (s *keySigner) Algorithm() Algorithm { return s.alg }
func (s *keySigner) KeyID() string        { return s.key.KeyID() }

func (s *keySigner) Sign(ctx context.Context, signingInput string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	priv := s.key.signingKey()
	if priv == nil {
		return "", newError(ErrInvalidKeyMaterial, "d", "private key has been destroyed", nil)
	}
	sig, err := s.method.Sign([]byte(signingInput), priv)
	if err != nil {
		return "", newError(ErrInvalidKeyMaterial, "", "sign", err)
	}
	return core.EncodeSegment(sig), nil
}

// NewEIP191Signer signs with a raw hex Ethereum private key using EIP-191.
func NewEIP191Signer(hexKey, kid string) (Signer, error) {
	key, err := PrivateKeyFromHex(hexKey, EIP191, kid)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key, EIP191)
}

// NewES256KSigner signs with a raw hex secp256k1 private key using ES256K.
func NewES256KSigner(hexKey, kid string) (Signer, error) {
	key, err := PrivateKeyFromHex(hexKey, ES256K, kid)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key, ES256K)
}

type signOptions struct {
	typ    string
	crit   []string
	extra  map[string]any
	logger logrus.FieldLogger
}

// SignOption customizes the protected header built by SignJWT.
type SignOption func(*signOptions)

// WithHeaderType overrides the typ header. Only JWT and gnap-binding-jwsd
// are accepted.
func WithHeaderType(typ string) SignOption {
	return func(o *signOptions) { o.typ = typ }
}

// WithCritical marks header parameters as critical. Each named parameter
// must also be set, for example with WithHeaderField.
func WithCritical(names ...string) SignOption {
	return func(o *signOptions) { o.crit = append(o.crit, names...) }
}

// WithHeaderField adds a private header parameter.
func WithHeaderField(name string, value any) SignOption {
	return func(o *signOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any)
		}
		o.extra[name] = value
	}
}

// WithLogger sets the logger used for signing diagnostics.
func WithLogger(l logrus.FieldLogger) SignOption {
	return func(o *signOptions) { o.logger = l }
}

// SignJWT builds the header {alg, kid, typ}, encodes header and payload, and
// asks signer for the signature.
func SignJWT(ctx context.Context, payload Payload, signer Signer, opts ...SignOption) (string, error) {
	if signer == nil {
		return "", newError(ErrInvalidKeyMaterial, "", "signer is nil", nil)
	}
	o := signOptions{typ: TypeJWT}
	for _, opt := range opts {
		opt(&o)
	}
	header := Header{
		Alg:   signer.Algorithm(),
		Kid:   signer.KeyID(),
		Typ:   o.typ,
		Crit:  o.crit,
		Extra: o.extra,
	}
	if err := validatePayload(&payload); err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", newError(ErrSerialization, "", "encode payload", err)
	}
	return signCompact(ctx, header, payloadJSON, signer, loggerOrDiscard(o.logger))
}

func signCompact(ctx context.Context, header Header, payloadJSON []byte, signer Signer, log logrus.FieldLogger) (string, error) {
	if !header.Alg.valid() {
		return "", newError(ErrUnsupportedAlgorithm, "alg", string(header.Alg), nil)
	}
	if header.Kid == "" {
		return "", newError(ErrInvalidHeader, "kid", "key id is required", nil)
	}
	for _, name := range header.Crit {
		if slices.Contains(registeredHeaders, name) {
			return "", newError(ErrUnrecognizedExtension, "crit", name+" is a registered header", nil)
		}
	}

	if err := validateHeader(&header); err != nil {
		return "", err
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", newError(ErrSerialization, "", "encode header", err)
	}

	input := core.SigningInput(headerJSON, payloadJSON)
	sig, err := signer.Sign(ctx, input)
	if err != nil {
		log.WithFields(logrus.Fields{"kid": header.Kid, "alg": header.Alg}).WithError(err).Debug("signing failed")
		return "", fmt.Errorf("sign %s token: %w", header.Alg, err)
	}
	if _, err := core.DecodeSegment(sig); err != nil {
		return "", newError(ErrSerialization, "signature", "signer returned invalid base64url", err)
	}
	return core.Join(input, sig), nil
}

// SignRequest describes a token bound to a request object.
type SignRequest struct {
	// Request is hashed into the requestHash claim. Ignored when
	// Payload.RequestHash is already set.
	Request any
	// HashWildcard lists request paths excluded from the hash.
	HashWildcard []string

	// Payload supplies the other claims. iat, exp and jti are filled in when
	// unset.
	Payload Payload

	// ExpiresIn overrides DefaultExpiry when Payload.ExpiresAt is unset.
	ExpiresIn time.Duration
	// Now overrides the clock used for iat.
	Now func() time.Time
}

// Sign embeds requestHash, iat, exp and jti into req.Payload and signs it
// with SignJWT.
func Sign(ctx context.Context, signer Signer, req SignRequest, opts ...SignOption) (string, error) {
	p := req.Payload

	if p.RequestHash == "" && req.Request != nil {
		var h Hex
		var err error
		if len(req.HashWildcard) > 0 {
			h, err = HashWithoutWildcardFields(req.Request, req.HashWildcard, req.HashWildcard)
		} else {
			h, err = Hash(req.Request)
		}
		if err != nil {
			return "", err
		}
		p.RequestHash = h.String()
		p.HashWildcard = slices.Clone(req.HashWildcard)
	}

	now := time.Now
	if req.Now != nil {
		now = req.Now
	}
	if p.IssuedAt == nil {
		p.IssuedAt = NewNumericDate(now())
	}
	if p.ExpiresAt == nil {
		ttl := req.ExpiresIn
		if ttl <= 0 {
			ttl = DefaultExpiry
		}
		p.ExpiresAt = NewNumericDate(p.IssuedAt.Add(ttl))
	}
	if p.ID == "" {
		p.ID = core.NewTokenID()
	}

	return SignJWT(ctx, p, signer, opts...)
}

func loggerOrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	return discardLogger
}
