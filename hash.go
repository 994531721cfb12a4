package authsig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/cybergodev/authsig/internal/canonical"
)

// Hex is a 0x-prefixed lowercase hexadecimal digest.
type Hex string

// ParseHex validates s as a 0x-prefixed hex string and lowercases it.
func ParseHex(s string) (Hex, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: hex value %q must start with 0x", ErrSerialization, s)
	}
	body := strings.ToLower(s[2:])
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Hex("0x" + body), nil
}

// Bytes decodes the digest.
func (h Hex) Bytes() ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(string(h), "0x"))
}

func (h Hex) String() string { return string(h) }

// BigInt is an integer carried as its decimal string, such as a wei amount.
// It canonicalizes to the same string as the equivalent *big.Int.
type BigInt string

// NewBigInt returns the decimal form of n.
func NewBigInt(n *big.Int) BigInt {
	return BigInt(n.String())
}

// Int parses b. ok is false when b is not a base-10 integer.
func (b BigInt) Int() (n *big.Int, ok bool) {
	return new(big.Int).SetString(string(b), 10)
}

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
// Maps, slices, structs, json.Marshaler values, json.Number and *big.Int
// are accepted. NaN and infinities are rejected.
func Canonicalize(v any) ([]byte, error) {
	data, err := canonical.Marshal(v)
	if err != nil {
		return nil, newError(ErrSerialization, "", "canonicalize", err)
	}
	return data, nil
}

// Hash returns the SHA-256 of the canonical encoding of v.
func Hash(v any) (Hex, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}

// HashWithoutWildcardFields hashes v after removing every path that is both
// allowed by the verifier and presented by the signer. Paths use dotted
// names with [n] array indexes, such as "tx.gas" or "items[0].price".
func HashWithoutWildcardFields(v any, allowed, presented []string) (Hex, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}

	omit := intersectPaths(allowed, presented)
	if len(omit) == 0 {
		return hashBytes(data), nil
	}

	trimmed, err := canonical.Omit(data, omit)
	if err != nil {
		return "", newError(ErrSerialization, "hashWildcard", "omit fields", err)
	}

	// sjson leaves the remaining members in place, so re-canonicalize.
	doc, err := canonical.Decode(trimmed)
	if err != nil {
		return "", newError(ErrSerialization, "hashWildcard", "decode", err)
	}
	return Hash(doc)
}

func intersectPaths(allowed, presented []string) []string {
	var out []string
	for _, p := range presented {
		if slices.Contains(allowed, p) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func hashBytes(data []byte) Hex {
	sum := sha256.Sum256(data)
	return Hex("0x" + hex.EncodeToString(sum[:]))
}
