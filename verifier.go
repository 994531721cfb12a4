package authsig

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybergodev/authsig/internal/core"
	"github.com/cybergodev/authsig/internal/security"
	"github.com/cybergodev/authsig/internal/signing"
)

// registeredHeaders are JOSE header parameters that may not be marked critical.
var registeredHeaders = []string{
	"alg", "jku", "jwk", "kid", "x5u", "x5c", "x5t", "x5t#S256",
	"typ", "cty", "crit", "enc", "zip", "epk", "apu", "apv", "iv", "tag", "p2s", "p2c",
}

// builtinExtensions are the critical header parameters understood without
// configuration.
var builtinExtensions = []string{"htm", "uri", "created", "ath"}

// VerifyOptions holds the caller's expectations for VerifyJWT. The zero
// value checks structure, crit, signature and expiry only.
type VerifyOptions struct {
	Audience        string
	Issuer          string
	Subject         string
	AuthorizedParty string

	// MaxTokenAge rejects tokens whose iat is older than this. It requires iat.
	MaxTokenAge time.Duration

	// RequiredClaims must all be present in the payload.
	RequiredClaims []string

	// RequestHash is compared with the requestHash claim. When Request is set
	// instead, it is hashed first, omitting the intersection of
	// AllowWildcards and the token's hashWildcard claim.
	RequestHash    Hex
	Request        any
	AllowWildcards []string

	// DataHash, or the hash of Data, is compared with the data claim.
	DataHash Hex
	Data     any

	// CriticalExtensions are header parameters accepted in crit in addition
	// to htm, uri, created and ath.
	CriticalExtensions []string

	// MaxTokenSize bounds the compact token length. Zero uses 64 KiB.
	MaxTokenSize int

	ClockSkew time.Duration
	Now       func() time.Time
	Logger    logrus.FieldLogger
}

func (o *VerifyOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Decode parses a compact token without verifying it.
func Decode(token string) (*Decoded, error) {
	return decode(token, core.DefaultMaxTokenSize)
}

func decode(token string, maxSize int) (*Decoded, error) {
	parts, err := core.Split(token, maxSize)
	if err != nil {
		return nil, newError(ErrMalformedToken, "", "split token", err)
	}
	return decodeParts(parts, true)
}

// decodeParts parses the header and, when claims is set, the payload as a
// claim set.
func decodeParts(parts *core.Parts, claims bool) (*Decoded, error) {
	d := &Decoded{
		Signature:    parts.SignatureBytes,
		Raw:          parts.Raw,
		SigningInput: parts.SigningInput(),
	}

	if err := decodeObject(parts.HeaderJSON, &d.rawHeader, &d.Header); err != nil {
		return nil, newError(ErrInvalidHeader, "", "header is not a valid JOSE header", errors.Join(ErrMalformedToken, err))
	}
	if d.Header.Alg == "" {
		return nil, newError(ErrInvalidHeader, "alg", "missing algorithm", ErrMalformedToken)
	}
	if d.Header.Kid == "" {
		return nil, newError(ErrInvalidHeader, "kid", "missing key id", ErrMalformedToken)
	}

	if claims {
		if err := decodeObject(parts.PayloadJSON, &d.rawPayload, &d.Payload); err != nil {
			return nil, newError(ErrInvalidPayload, "", "payload is not a valid claim set", errors.Join(ErrMalformedToken, err))
		}
	}
	return d, nil
}

func decodeObject(data []byte, raw *map[string]json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, raw); err != nil {
		return err
	}
	if *raw == nil {
		return errors.New("expected a JSON object")
	}
	return json.Unmarshal(data, dst)
}

// VerifyJWT verifies token against key and opts. Checks run in order and
// stop at the first failure: structure, crit, signature, then claims.
func VerifyJWT(token string, key Key, opts VerifyOptions) (*Decoded, error) {
	log := loggerOrDiscard(opts.Logger)

	d, err := verifyJWT(token, key, &opts)
	if err != nil {
		logVerifyFailure(log, d, key, err)
		return nil, err
	}
	return d, nil
}

func verifyJWT(token string, key Key, opts *VerifyOptions) (*Decoded, error) {
	d, err := decode(token, opts.MaxTokenSize)
	if err != nil {
		return nil, err
	}
	if d.HasHeader("typ") && d.Header.Typ != TypeJWT {
		return d, newError(ErrInvalidHeader, "typ", "expected "+TypeJWT+", got "+d.Header.Typ, nil)
	}
	if err := checkCritical(d, opts.CriticalExtensions); err != nil {
		return d, err
	}
	if err := verifySignature(d, key); err != nil {
		return d, err
	}
	if err := checkClaims(d, opts); err != nil {
		return d, err
	}
	return d, nil
}

func checkCritical(d *Decoded, extra []string) error {
	if !d.HasHeader("crit") {
		return nil
	}
	if len(d.Header.Crit) == 0 {
		return newError(ErrInvalidHeader, "crit", "crit must be a non-empty list", nil)
	}
	for _, name := range d.Header.Crit {
		if slices.Contains(registeredHeaders, name) {
			return newError(ErrUnrecognizedExtension, "crit", name+" is a registered header", nil)
		}
		if !slices.Contains(builtinExtensions, name) && !slices.Contains(extra, name) {
			return newError(ErrUnrecognizedExtension, "crit", name+" is not understood", nil)
		}
		if !d.HasHeader(name) {
			return newError(ErrUnrecognizedExtension, "crit", name+" is critical but absent", nil)
		}
	}
	return nil
}

func verifySignature(d *Decoded, key Key) error {
	alg := d.Header.Alg
	if core.IsInsecureAlgorithm(string(alg)) || !alg.valid() {
		return newError(ErrUnsupportedAlgorithm, "alg", string(alg), nil)
	}
	if key == nil {
		return newError(ErrInvalidKeyMaterial, "", "verification key is nil", nil)
	}
	if !key.supports(alg) {
		return newError(ErrUnsupportedAlgorithm, "alg", fmt.Sprintf("%s cannot be verified with %T", alg, key), nil)
	}
	method, err := signing.Get(string(alg))
	if err != nil {
		return newError(ErrUnsupportedAlgorithm, "alg", string(alg), err)
	}

	input := []byte(d.SigningInput)
	for _, vk := range key.verificationKeys() {
		if err := method.Verify(input, d.Signature, vk); err != nil {
			if errors.Is(err, signing.ErrKeyType) {
				return newError(ErrUnsupportedAlgorithm, "alg", string(alg), err)
			}
			return newError(ErrSignatureMismatch, "", fmt.Sprintf("%s signature does not match key %s", alg, key.KeyID()), err)
		}
	}
	return nil
}

func checkClaims(d *Decoded, opts *VerifyOptions) error {
	p := &d.Payload
	now := opts.now()
	skew := opts.ClockSkew

	if p.ExpiresAt != nil && !now.Before(p.ExpiresAt.Add(skew)) {
		return newError(ErrExpired, "exp", fmt.Sprintf("token expired at %s", p.ExpiresAt.UTC().Format(time.RFC3339)), nil)
	}
	if p.NotBefore != nil && now.Add(skew).Before(p.NotBefore.Time) {
		return newError(ErrInvalidPayload, "nbf", "token is not valid yet", nil)
	}
	if p.IssuedAt != nil && now.Add(skew).Before(p.IssuedAt.Time) {
		return newError(ErrInvalidPayload, "iat", "token issued in the future", nil)
	}
	if opts.MaxTokenAge > 0 {
		if p.IssuedAt == nil {
			return newError(ErrInvalidPayload, "iat", "iat is required when a maximum token age is set", nil)
		}
		if now.Sub(p.IssuedAt.Time) > opts.MaxTokenAge+skew {
			return newError(ErrExpired, "iat", fmt.Sprintf("token is older than %s", opts.MaxTokenAge), nil)
		}
	}

	if opts.Audience != "" && !p.Audience.Contains(opts.Audience) {
		return newError(ErrInvalidPayload, "aud", "audience mismatch", nil)
	}
	if opts.Issuer != "" && p.Issuer != opts.Issuer {
		return newError(ErrInvalidPayload, "iss", "issuer mismatch", nil)
	}
	if opts.Subject != "" && p.Subject != opts.Subject {
		return newError(ErrInvalidPayload, "sub", "subject mismatch", nil)
	}
	if opts.AuthorizedParty != "" && p.AuthorizedParty != opts.AuthorizedParty {
		return newError(ErrInvalidPayload, "azp", "authorized party mismatch", nil)
	}
	for _, name := range opts.RequiredClaims {
		if !d.HasClaim(name) {
			return newError(ErrInvalidPayload, name, "required claim is missing", nil)
		}
	}

	if opts.RequestHash != "" || opts.Request != nil {
		want := opts.RequestHash
		if opts.Request != nil {
			var err error
			if want, err = HashWithoutWildcardFields(opts.Request, opts.AllowWildcards, p.HashWildcard); err != nil {
				return err
			}
		}
		if err := compareHash("requestHash", p.RequestHash, want); err != nil {
			return err
		}
	}

	if opts.DataHash != "" || opts.Data != nil {
		want := opts.DataHash
		if opts.Data != nil {
			var err error
			if want, err = Hash(opts.Data); err != nil {
				return err
			}
		}
		if err := compareHash("data", p.Data, want); err != nil {
			return err
		}
	}
	return nil
}

func compareHash(claim, got string, want Hex) error {
	if got == "" {
		return newError(ErrInvalidPayload, claim, "claim is missing", nil)
	}
	normalized, err := ParseHex(got)
	if err != nil {
		return newError(ErrInvalidPayload, claim, "claim is not a 0x hex digest", nil)
	}
	expected, err := ParseHex(string(want))
	if err != nil {
		return newError(ErrInvalidPayload, claim, "expected value is not a 0x hex digest", nil)
	}
	if !security.SecureCompare([]byte(normalized), []byte(expected)) {
		return newError(ErrInvalidPayload, claim, "hash mismatch", nil)
	}
	return nil
}

func logVerifyFailure(log logrus.FieldLogger, d *Decoded, key Key, err error) {
	fields := logrus.Fields{"kind": fmt.Sprint(KindOf(err))}
	if d != nil {
		fields["kid"] = d.Header.Kid
		fields["alg"] = d.Header.Alg
	} else if key != nil {
		fields["kid"] = key.KeyID()
	}
	log.WithFields(fields).WithError(err).Debug("token verification failed")
}
