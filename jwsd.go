package authsig

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybergodev/authsig/internal/core"
	"github.com/cybergodev/authsig/internal/security"
)

// DefaultJWSDMaxAge bounds how old a detached signature's created header may be.
const DefaultJWSDMaxAge = 5 * time.Minute

// JWSDRequest describes the HTTP request a detached signature is bound to.
type JWSDRequest struct {
	Method string
	URI    string
	Body   []byte

	// AccessToken, when set, is bound through the ath header.
	AccessToken string

	// Created defaults to the current time.
	Created time.Time

	// Detached returns "header..signature" instead of the full compact form.
	Detached bool
}

// SignJWSD signs req.Body with the htm, uri, created and ath headers that
// bind it to one HTTP request.
func SignJWSD(ctx context.Context, signer Signer, req JWSDRequest, opts ...SignOption) (string, error) {
	if signer == nil {
		return "", newError(ErrInvalidKeyMaterial, "", "signer is nil", nil)
	}
	if req.Method == "" || req.URI == "" {
		return "", newError(ErrInvalidHeader, "htm", "method and uri are required", nil)
	}
	o := signOptions{typ: TypeJWSD}
	for _, opt := range opts {
		opt(&o)
	}

	created := req.Created
	if created.IsZero() {
		created = time.Now()
	}
	header := Header{
		Alg:     signer.Algorithm(),
		Kid:     signer.KeyID(),
		Typ:     o.typ,
		Htm:     req.Method,
		URI:     req.URI,
		Created: created.Unix(),
		Crit:    o.crit,
		Extra:   o.extra,
	}
	if req.AccessToken != "" {
		header.Ath = AccessTokenHash(req.AccessToken)
	}

	token, err := signCompact(ctx, header, req.Body, signer, loggerOrDiscard(o.logger))
	if err != nil {
		return "", err
	}
	if !req.Detached || len(req.Body) == 0 {
		return token, nil
	}
	detached, err := core.Detach(token)
	if err != nil {
		return "", newError(ErrSerialization, "", "detach payload", err)
	}
	return detached, nil
}

// AccessTokenHash returns base64url(SHA-256(token)), the ath header value.
func AccessTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return core.EncodeSegment(sum[:])
}

// JWSDOptions holds the values the server derived from the inbound request.
type JWSDOptions struct {
	// Method and URI are compared exactly with htm and uri.
	Method string
	URI    string

	// MaxTokenAge bounds now - created. Zero selects DefaultJWSDMaxAge.
	MaxTokenAge time.Duration

	// AccessToken or ATH, when set, must match the ath header.
	AccessToken string
	ATH         string

	CriticalExtensions []string
	MaxTokenSize       int

	// ReplayGuard, when set, rejects a second use of the same signature.
	ReplayGuard ReplayGuard

	ClockSkew time.Duration
	Now       func() time.Time
	Logger    logrus.FieldLogger
}

func (o *JWSDOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// DecodedJWSD is a detached signature that passed verification.
type DecodedJWSD struct {
	Decoded

	// Body is the signed payload.
	Body []byte
	// Detached reports whether the payload segment was absent on the wire.
	Detached bool
	// Created is the created header as a time.
	Created time.Time
}

// VerifyJWSD verifies a detached JWS bound to an HTTP request. jws may be
// the full compact form or "header..signature", in which case body supplies
// the payload. Binding failures are ErrJwsdBindingMismatch.
func VerifyJWSD(ctx context.Context, jws string, body []byte, key Key, opts JWSDOptions) (*DecodedJWSD, error) {
	log := loggerOrDiscard(opts.Logger)

	d, err := verifyJWSD(ctx, jws, body, key, &opts)
	if err != nil {
		var decoded *Decoded
		if d != nil {
			decoded = &d.Decoded
		}
		logVerifyFailure(log, decoded, key, err)
		return nil, err
	}
	return d, nil
}

func verifyJWSD(ctx context.Context, jws string, body []byte, key Key, opts *JWSDOptions) (*DecodedJWSD, error) {
	parts, err := core.SplitDetached(jws, body, opts.MaxTokenSize)
	if err != nil {
		return nil, newError(ErrMalformedToken, "", "split token", err)
	}
	if !parts.Detached && body != nil && core.EncodeSegment(body) != parts.Payload {
		return nil, newError(ErrJwsdBindingMismatch, "body", "attached payload differs from the request body", nil)
	}

	decoded, err := decodeParts(parts, false)
	if err != nil {
		return nil, err
	}
	d := &DecodedJWSD{
		Decoded:  *decoded,
		Body:     parts.PayloadJSON,
		Detached: parts.Detached,
	}

	if err := checkCritical(&d.Decoded, opts.CriticalExtensions); err != nil {
		return d, err
	}
	if err := verifySignature(&d.Decoded, key); err != nil {
		return d, err
	}
	if err := checkBinding(d, opts); err != nil {
		return d, err
	}

	if opts.ReplayGuard != nil {
		maxAge := opts.MaxTokenAge
		if maxAge <= 0 {
			maxAge = DefaultJWSDMaxAge
		}
		id := d.Header.Kid + ":" + parts.Signature
		first, err := opts.ReplayGuard.MarkUsed(ctx, id, d.Created.Add(maxAge+opts.ClockSkew))
		if err != nil {
			return d, fmt.Errorf("replay guard: %w", err)
		}
		if !first {
			return d, newError(ErrJwsdBindingMismatch, "", "signature has already been used", nil)
		}
	}
	return d, nil
}

func checkBinding(d *DecodedJWSD, opts *JWSDOptions) error {
	h := &d.Header

	if h.Typ != TypeJWSD {
		return newError(ErrJwsdBindingMismatch, "typ", fmt.Sprintf("expected %s", TypeJWSD), nil)
	}
	if opts.Method == "" || opts.URI == "" {
		return newError(ErrJwsdBindingMismatch, "htm", "expected method and uri are required", nil)
	}
	if h.Htm != opts.Method {
		return newError(ErrJwsdBindingMismatch, "htm", fmt.Sprintf("signed for %q, request is %q", h.Htm, opts.Method), nil)
	}
	if h.URI != opts.URI {
		return newError(ErrJwsdBindingMismatch, "uri", "request uri differs", nil)
	}

	if !d.HasHeader("created") {
		return newError(ErrJwsdBindingMismatch, "created", "missing created", nil)
	}
	d.Created = time.Unix(h.Created, 0)
	maxAge := opts.MaxTokenAge
	if maxAge <= 0 {
		maxAge = DefaultJWSDMaxAge
	}
	now := opts.now()
	if now.Sub(d.Created) > maxAge+opts.ClockSkew {
		return newError(ErrJwsdBindingMismatch, "created", fmt.Sprintf("signature is older than %s", maxAge), nil)
	}
	if d.Created.After(now.Add(opts.ClockSkew)) {
		return newError(ErrJwsdBindingMismatch, "created", "created is in the future", nil)
	}

	want := opts.ATH
	if want == "" && opts.AccessToken != "" {
		want = AccessTokenHash(opts.AccessToken)
	}
	if want != "" && !security.SecureCompare([]byte(h.Ath), []byte(want)) {
		return newError(ErrJwsdBindingMismatch, "ath", "access token hash differs", nil)
	}
	return nil
}
