package authsig

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these under errors.Is.
var (
	// Token structure errors
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidHeader  = errors.New("invalid header")
	ErrInvalidPayload = errors.New("invalid payload")

	// Header policy errors
	ErrUnrecognizedExtension = errors.New("unrecognized critical extension")
	ErrUnsupportedAlgorithm  = errors.New("unsupported algorithm")

	// Key and signature errors
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	ErrSignatureMismatch  = errors.New("signature mismatch")

	// Claim and binding errors
	ErrExpired             = errors.New("token expired")
	ErrJwsdBindingMismatch = errors.New("jwsd binding mismatch")

	// Encryption and serialization errors
	ErrEncryptionFailure = errors.New("encryption failure")
	ErrSerialization     = errors.New("serialization error")
)

var errorKinds = []error{
	ErrMalformedToken,
	ErrInvalidHeader,
	ErrInvalidPayload,
	ErrUnrecognizedExtension,
	ErrUnsupportedAlgorithm,
	ErrInvalidKeyMaterial,
	ErrSignatureMismatch,
	ErrExpired,
	ErrJwsdBindingMismatch,
	ErrEncryptionFailure,
	ErrSerialization,
}

// TokenError describes a failure with the field that caused it.
// It matches its Kind and its underlying error under errors.Is.
type TokenError struct {
	Kind    error  // One of the Err* kinds
	Field   string // The header, claim or key field involved, if any
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *TokenError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, field, message string, err error) *TokenError {
	return &TokenError{Kind: kind, Field: field, Message: message, Err: err}
}

// KindOf returns the Err* kind err matches, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
