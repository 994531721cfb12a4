package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cybergodev/authsig"
	"github.com/cybergodev/authsig/internal/security"
)

// readInput reads path, or the command's stdin when path is "" or "-".
func (a *app) readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(a.in)
	}
	return os.ReadFile(path)
}

// readJSON decodes a JSON document keeping numbers exact.
func (a *app) readJSON(path string) (any, error) {
	data, err := a.readInput(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", displayName(path), err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parse %s: trailing data after JSON value", displayName(path))
	}
	return v, nil
}

func (a *app) readText(path string) (string, error) {
	data, err := a.readInput(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) writeLine(s string) error {
	_, err := fmt.Fprintln(a.out, s)
	return err
}

func displayName(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}

// readSecret loads a key file into memory that is zeroed when the caller
// destroys it.
func readSecret(path string) (*security.SecureBytes, error) {
	if path == "" {
		return nil, errors.New("a key file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer security.ZeroBytes(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("key file %s is empty", path)
	}
	return security.NewSecureBytesFromSlice(trimmed), nil
}

// loadKey reads a JWK, or a hex secp256k1 private key for ES256K and EIP191.
func loadKey(path string, alg authsig.Algorithm) (authsig.Key, error) {
	secret, err := readSecret(path)
	if err != nil {
		return nil, err
	}
	defer secret.Destroy()

	raw := secret.Bytes()
	if secret.Len() > 0 && raw[0] == '{' {
		return authsig.ParseJWK(raw)
	}
	key, err := authsig.PrivateKeyFromHex(string(raw), alg, "")
	if err != nil {
		return nil, err
	}
	return key, nil
}

// verifier is either a single key or a key set selected by kid.
type verifier struct {
	key authsig.Key
	set *authsig.KeySet
}

func (v verifier) lookup(token string) (authsig.Key, error) {
	if v.key != nil {
		return v.key, nil
	}
	d, err := authsig.Decode(token)
	if err != nil {
		return nil, err
	}
	key, ok := v.set.Lookup(d.Header.Kid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", authsig.ErrUnknownKey, d.Header.Kid)
	}
	return key, nil
}

// loadVerifier reads a JWK, a JWK set, or builds an address-only key.
func loadVerifier(path, address string, alg authsig.Algorithm) (verifier, error) {
	if address != "" {
		if path != "" {
			return verifier{}, errors.New("--key and --address are mutually exclusive")
		}
		member, err := json.Marshal(address)
		if err != nil {
			return verifier{}, err
		}
		jwk := `{"kty":"EC","crv":"secp256k1","addr":` + string(member)
		if alg != "" {
			jwk += `,"alg":"` + string(alg) + `"`
		}
		key, err := authsig.ParseJWK([]byte(jwk + "}"))
		return verifier{key: key}, err
	}

	if path == "" {
		return verifier{}, errors.New("--key or --address is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return verifier{}, err
	}
	var probe struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Keys != nil {
		set, err := authsig.ParseJWKSet(data)
		return verifier{set: set}, err
	}
	key, err := authsig.ParseJWK(data)
	if err != nil {
		return verifier{}, err
	}
	return verifier{key: key.Public()}, nil
}
