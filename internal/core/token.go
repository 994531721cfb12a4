package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jws/jwsbb"
)

// DefaultMaxTokenSize bounds the length of a compact token accepted by Split.
const DefaultMaxTokenSize = 64 * 1024

var (
	ErrEmptyToken         = errors.New("empty token")
	ErrTokenTooLarge      = errors.New("token too large")
	ErrInvalidTokenFormat = errors.New("invalid token format: expected three segments")
	ErrEmptySegment       = errors.New("empty segment")
)

// Parts is a compact token split into its encoded and decoded segments.
type Parts struct {
	Raw string

	// Encoded segments as they appeared on the wire.
	Header    string
	Payload   string
	Signature string

	HeaderJSON     []byte
	PayloadJSON    []byte
	SignatureBytes []byte

	// Detached is set when the payload segment was empty on the wire and
	// supplied out of band.
	Detached bool
}

// SigningInput returns "header.payload" over which the signature is computed.
func (p *Parts) SigningInput() string {
	return p.Header + "." + p.Payload
}

// Split splits a compact token into three non-empty base64url segments and
// decodes each of them. maxSize <= 0 selects DefaultMaxTokenSize.
func Split(token string, maxSize int) (*Parts, error) {
	h, p, s, err := splitCompact(token, maxSize)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("%w: payload", ErrEmptySegment)
	}
	return decodeParts(token, h, p, s, false)
}

// SplitDetached accepts either a full compact token or the detached form
// "header..signature". For the detached form the payload segment is derived
// from payload.
func SplitDetached(token string, payload []byte, maxSize int) (*Parts, error) {
	h, p, s, err := splitCompact(token, maxSize)
	if err != nil {
		return nil, err
	}
	if p != "" {
		return decodeParts(token, h, p, s, false)
	}
	return decodeParts(token, h, EncodeSegment(payload), s, true)
}

func splitCompact(token string, maxSize int) (string, string, string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxTokenSize
	}
	if len(token) == 0 {
		return "", "", "", ErrEmptyToken
	}
	if len(token) > maxSize {
		return "", "", "", fmt.Errorf("%w: maximum %d characters allowed", ErrTokenTooLarge, maxSize)
	}

	h, p, s, err := jwsbb.SplitCompactString(token)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrInvalidTokenFormat, err)
	}
	if len(h) == 0 {
		return "", "", "", fmt.Errorf("%w: header", ErrEmptySegment)
	}
	if len(s) == 0 {
		return "", "", "", fmt.Errorf("%w: signature", ErrEmptySegment)
	}
	return string(h), string(p), string(s), nil
}

func decodeParts(raw, h, p, s string, detached bool) (*Parts, error) {
	parts := &Parts{
		Raw:       raw,
		Header:    h,
		Payload:   p,
		Signature: s,
		Detached:  detached,
	}

	var err error
	if parts.HeaderJSON, err = DecodeSegment(h); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if p != "" {
		if parts.PayloadJSON, err = DecodeSegment(p); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	if parts.SignatureBytes, err = DecodeSegment(s); err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	return parts, nil
}

// Join builds the compact serialization from encoded segments.
func Join(signingInput, signature string) string {
	var b strings.Builder
	b.Grow(len(signingInput) + 1 + len(signature))
	b.WriteString(signingInput)
	b.WriteByte('.')
	b.WriteString(signature)
	return b.String()
}

// Detach removes the payload segment from a compact token.
func Detach(token string) (string, error) {
	h, p, s, err := jwsbb.SplitCompactString(token)
	if err != nil || len(p) == 0 {
		return "", ErrInvalidTokenFormat
	}
	return string(h) + ".." + string(s), nil
}

var insecureAlgorithms = map[string]struct{}{
	"":      {},
	"NONE":  {},
	"NULL":  {},
	"PLAIN": {},
	"HS256": {},
	"HS384": {},
	"HS512": {},
	"RS1":   {},
	"ES1":   {},
}

// IsInsecureAlgorithm reports algorithms that must never be accepted for
// asymmetric verification, including "none" and HMAC variants.
func IsInsecureAlgorithm(alg string) bool {
	upper := strings.ToUpper(strings.TrimSpace(alg))
	_, exists := insecureAlgorithms[upper]
	return exists
}

// NewTokenID returns a random token identifier for the jti claim.
func NewTokenID() string {
	return uuid.NewString()
}
