package authsig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Algorithm is a JWS signing algorithm as it appears in the "alg" header.
type Algorithm string

const (
	// ES256K is ECDSA over secp256k1 with SHA-256 and a 64-byte r||s signature.
	ES256K Algorithm = "ES256K"

	// ES256 is ECDSA over P-256 with SHA-256.
	ES256 Algorithm = "ES256"

	// RS256 is RSASSA-PKCS1-v1_5 with SHA-256.
	RS256 Algorithm = "RS256"

	// EDDSA is Ed25519.
	EDDSA Algorithm = "EDDSA"

	// EIP191 is an Ethereum personal-sign signature over secp256k1 with a
	// 65-byte r||s||v signature.
	EIP191 Algorithm = "EIP191"
)

// Token types carried in the "typ" header.
const (
	TypeJWT  = "JWT"
	TypeJWSD = "gnap-binding-jwsd"
)

// Algorithms lists every supported signing algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{ES256K, ES256, RS256, EDDSA, EIP191}
}

func (a Algorithm) valid() bool {
	return slices.Contains(Algorithms(), a)
}

// Header is the protected header of a compact token. Fields not listed here
// are kept in Extra.
type Header struct {
	Alg     Algorithm `json:"alg"`
	Kid     string    `json:"kid"`
	Typ     string    `json:"typ,omitempty"`
	Htm     string    `json:"htm,omitempty"`
	URI     string    `json:"uri,omitempty"`
	Created int64     `json:"created,omitempty"`
	Ath     string    `json:"ath,omitempty"`
	Crit    []string  `json:"crit,omitempty"`

	Extra map[string]any `json:"-"`
}

type headerFields Header

var headerNames = []string{"alg", "kid", "typ", "htm", "uri", "created", "ath", "crit"}

func (h Header) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(headerFields(h), h.Extra, headerNames)
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var fields headerFields
	extra, err := unmarshalWithExtra(data, &fields, headerNames)
	if err != nil {
		return err
	}
	*h = Header(fields)
	h.Extra = extra
	return nil
}

// AccessGrant is a resource with the permissions requested on it.
type AccessGrant struct {
	Resource    string   `json:"resource"`
	Permissions []string `json:"permissions,omitempty"`
}

// Audience holds the "aud" claim, a single string or a list on the wire.
type Audience []string

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("aud must be a string or an array of strings")
	}
	*a = list
	return nil
}

// Contains reports whether aud is one of the audiences.
func (a Audience) Contains(aud string) bool {
	return slices.Contains(a, aud)
}

// Payload holds the recognized claims of a token. Unrecognized claims are
// kept in Extra and written back unchanged.
type Payload struct {
	RequestHash     string       `json:"requestHash,omitempty"`
	Subject         string       `json:"sub,omitempty"`
	Issuer          string       `json:"iss,omitempty"`
	Audience        Audience     `json:"aud,omitempty"`
	IssuedAt        *NumericDate `json:"iat,omitempty"`
	ExpiresAt       *NumericDate `json:"exp,omitempty"`
	NotBefore       *NumericDate `json:"nbf,omitempty"`
	ID              string       `json:"jti,omitempty"`
	AuthorizedParty string       `json:"azp,omitempty"`

	// Confirmation binds the token to the holder of a public key.
	Confirmation *JWK `json:"cnf,omitempty"`

	// HashWildcard lists the request paths left out of RequestHash.
	HashWildcard []string `json:"hashWildcard,omitempty"`

	Access []AccessGrant `json:"access,omitempty"`

	// Data is the hash of an arbitrary payload, distinct from RequestHash.
	Data string `json:"data,omitempty"`

	Extra map[string]any `json:"-"`
}

type payloadFields Payload

var payloadNames = []string{
	"requestHash", "sub", "iss", "aud", "iat", "exp", "nbf", "jti", "azp",
	"cnf", "hashWildcard", "access", "data",
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(payloadFields(p), p.Extra, payloadNames)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var fields payloadFields
	extra, err := unmarshalWithExtra(data, &fields, payloadNames)
	if err != nil {
		return err
	}
	*p = Payload(fields)
	p.Extra = extra
	return nil
}

// Decoded is a token that passed verification.
type Decoded struct {
	Header    Header
	Payload   Payload
	Signature []byte

	// Raw is the token as received.
	Raw string
	// SigningInput is "header.payload" as signed.
	SigningInput string

	rawHeader  map[string]json.RawMessage
	rawPayload map[string]json.RawMessage
}

// HasClaim reports whether the payload carries claim name.
func (d *Decoded) HasClaim(name string) bool {
	_, ok := d.rawPayload[name]
	return ok
}

// HasHeader reports whether the header carries parameter name.
func (d *Decoded) HasHeader(name string) bool {
	_, ok := d.rawHeader[name]
	return ok
}

func marshalWithExtra(known any, extra map[string]any, names []string) ([]byte, error) {
	data, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}

	merged := make(map[string]json.RawMessage, len(extra)+len(names))
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if slices.Contains(names, k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

func unmarshalWithExtra(data []byte, known any, names []string) (map[string]any, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	var extra map[string]any
	for k, raw := range all {
		if slices.Contains(names, k) {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra, nil
}
