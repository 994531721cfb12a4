package authsig

import (
	"context"
	"encoding/json"

	"github.com/cybergodev/authsig/internal/core"
)

// SignWithKey signs req with an in-process signer for key using the key's
// default algorithm. For remote or hardware keys build a Signer and call Sign.
func SignWithKey(ctx context.Context, key Key, req SignRequest, opts ...SignOption) (string, error) {
	signer, err := NewKeySigner(key, "")
	if err != nil {
		return "", err
	}
	return Sign(ctx, signer, req, opts...)
}

// VerifyWithKeySet selects the key named by the token's kid header from set
// and verifies the token with it.
func VerifyWithKeySet(token string, set *KeySet, opts VerifyOptions) (*Decoded, error) {
	kid, err := peekKeyID(token, opts.MaxTokenSize)
	if err != nil {
		return nil, err
	}
	key, ok := set.Lookup(kid)
	if !ok {
		return nil, newError(ErrInvalidKeyMaterial, "kid", "no key with kid "+kid, ErrUnknownKey)
	}
	return VerifyJWT(token, key, opts)
}

// SignData signs the hash of data in the data claim, for stores that
// publish signed documents. payload supplies any other claims.
func SignData(ctx context.Context, signer Signer, data any, payload Payload, opts ...SignOption) (string, error) {
	h, err := Hash(data)
	if err != nil {
		return "", err
	}
	payload.Data = h.String()
	return Sign(ctx, signer, SignRequest{Payload: payload}, opts...)
}

// VerifyData verifies token with key and checks that its data claim is the
// hash of data.
func VerifyData(token string, key Key, data any, opts VerifyOptions) (*Decoded, error) {
	opts.Data = data
	opts.DataHash = ""
	return VerifyJWT(token, key, opts)
}

// peekKeyID returns the kid header of a compact or detached token without
// verifying it.
func peekKeyID(token string, maxSize int) (string, error) {
	parts, err := core.SplitDetached(token, nil, maxSize)
	if err != nil {
		return "", newError(ErrMalformedToken, "", "split token", err)
	}
	var h struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(parts.HeaderJSON, &h); err != nil {
		return "", newError(ErrInvalidHeader, "", "header is not a valid JOSE header", err)
	}
	if h.Kid == "" {
		return "", newError(ErrInvalidHeader, "kid", "missing key id", nil)
	}
	return h.Kid, nil
}
