package signing

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrSignatureInvalid is returned when a signature does not match.
	ErrSignatureInvalid = errors.New("signature verification failed")
	// ErrKeyType is returned when a key does not belong to the method's family.
	ErrKeyType = errors.New("key type does not match signing method")
	// ErrUnsupportedAlgorithm is returned for algorithms without a method.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// Method signs and verifies a JWS signing input with one algorithm.
// Keys are the raw Go key types of the method's family.
type Method interface {
	Alg() string
	Sign(signingInput []byte, key any) ([]byte, error)
	Verify(signingInput, signature []byte, key any) error
}

var methods = map[string]Method{}

func register(m Method) {
	methods[m.Alg()] = m
}

// Get returns the method registered for alg. Algorithm names are
// case-sensitive, as they are on the wire.
func Get(alg string) (Method, error) {
	if m, ok := methods[alg]; ok {
		return m, nil
	}
	if _, ok := methods[strings.ToUpper(alg)]; ok {
		return nil, fmt.Errorf("%w: %q (algorithm names are case-sensitive)", ErrUnsupportedAlgorithm, alg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

// Algorithms lists the registered algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func keyTypeError(alg string, key any) error {
	return fmt.Errorf("%w: %s cannot use %T", ErrKeyType, alg, key)
}
