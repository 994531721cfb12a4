package authsig

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybergodev/authsig/internal/core"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	want, err := Hash(sampleRequest())
	require.NoError(t, err)

	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			token := signSample(t, alg)
			assert.Len(t, strings.Split(token, "."), 3)

			d, err := VerifyJWT(token, testKey(t, alg).Public(), VerifyOptions{
				Now:     clockAt(fixedNow.Add(time.Minute)),
				Request: sampleRequest(),
			})
			require.NoError(t, err)

			assert.Equal(t, want.String(), d.Payload.RequestHash)
			assert.Equal(t, alg, d.Header.Alg)
			assert.Equal(t, testKey(t, alg).KeyID(), d.Header.Kid)
			assert.Equal(t, TypeJWT, d.Header.Typ)
			assert.Equal(t, "user-1", d.Payload.Subject)
			assert.NotEmpty(t, d.Payload.ID)
			assert.Equal(t, fixedNow, d.Payload.IssuedAt.Time)
			assert.Equal(t, fixedNow.Add(DefaultExpiry), d.Payload.ExpiresAt.Time)
		})
	}
}

func TestSignatureEncoding(t *testing.T) {
	sizes := map[Algorithm]int{ES256K: 64, ES256: 64, EDDSA: 64, EIP191: 65, RS256: 256}

	for alg, size := range sizes {
		d, err := Decode(signSample(t, alg))
		require.NoError(t, err)
		assert.Lenf(t, d.Signature, size, "%s signature", alg)
	}

	d, err := Decode(signSample(t, EIP191))
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, d.Signature[64], "EIP-191 v is 27 or 28")
}

func TestSignCustomExpiry(t *testing.T) {
	token, err := Sign(context.Background(), testSigner(t, EDDSA), SignRequest{
		Request:   sampleRequest(),
		ExpiresIn: 10 * time.Minute,
		Now:       clockAt(fixedNow),
	})
	require.NoError(t, err)

	d, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(10*time.Minute), d.Payload.ExpiresAt.Time)
}

func TestSignKeepsGivenClaims(t *testing.T) {
	exp := NewNumericDate(fixedNow.Add(time.Hour))
	token, err := Sign(context.Background(), testSigner(t, ES256), SignRequest{
		Request: sampleRequest(),
		Payload: Payload{
			RequestHash: "0xABCD",
			ExpiresAt:   exp,
			ID:          "req-42",
			Extra:       map[string]any{"orgId": "org-1"},
		},
		Now: clockAt(fixedNow),
	})
	require.NoError(t, err)

	d, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "0xABCD", d.Payload.RequestHash, "an explicit hash is not recomputed")
	assert.Equal(t, exp.Time, d.Payload.ExpiresAt.Time)
	assert.Equal(t, "req-42", d.Payload.ID)
	assert.Equal(t, "org-1", d.Payload.Extra["orgId"])
}

func TestSignWithWildcards(t *testing.T) {
	token, err := Sign(context.Background(), testSigner(t, EIP191), SignRequest{
		Request:      sampleRequest(),
		HashWildcard: []string{"transactionRequest.gasPrice"},
		Now:          clockAt(fixedNow),
	})
	require.NoError(t, err)

	repriced := sampleRequest()
	repriced["transactionRequest"].(map[string]any)["gasPrice"] = "0x1"

	opts := VerifyOptions{
		Now:            clockAt(fixedNow),
		Request:        repriced,
		AllowWildcards: []string{"transactionRequest.gasPrice"},
	}
	d, err := VerifyJWT(token, testKey(t, EIP191).Public(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"transactionRequest.gasPrice"}, d.Payload.HashWildcard)

	// The verifier did not allow the wildcard, so the full request is hashed.
	opts.AllowWildcards = nil
	_, err = VerifyJWT(token, testKey(t, EIP191).Public(), opts)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// A change outside the wildcard is still detected.
	retargeted := sampleRequest()
	retargeted["transactionRequest"].(map[string]any)["to"] = "0x0000000000000000000000000000000000000001"
	opts.AllowWildcards = []string{"transactionRequest.gasPrice"}
	opts.Request = retargeted
	_, err = VerifyJWT(token, testKey(t, EIP191).Public(), opts)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestExternalSigner(t *testing.T) {
	key := testKey(t, EIP191)
	inner := testSigner(t, EIP191)

	var seen string
	signer, err := NewExternalSigner(EIP191, key.KeyID(), func(ctx context.Context, input string) (string, error) {
		seen = input
		return inner.Sign(ctx, input)
	})
	require.NoError(t, err)

	token, err := SignJWT(context.Background(), Payload{Subject: "wallet"}, signer)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	assert.Equal(t, parts[0]+"."+parts[1], seen, "the callback receives header.payload")

	_, err = VerifyJWT(token, key.Public(), VerifyOptions{})
	require.NoError(t, err)
}

func TestExternalSignerErrors(t *testing.T) {
	unplugged := errors.New("device unplugged")
	signer, err := NewExternalSigner(ES256K, "hw-1", func(context.Context, string) (string, error) {
		return "", unplugged
	})
	require.NoError(t, err)

	_, err = SignJWT(context.Background(), Payload{}, signer)
	assert.ErrorIs(t, err, unplugged)

	garbage, err := NewExternalSigner(ES256K, "hw-1", func(context.Context, string) (string, error) {
		return "not base64url!", nil
	})
	require.NoError(t, err)
	_, err = SignJWT(context.Background(), Payload{}, garbage)
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = NewExternalSigner("HS256", "k", func(context.Context, string) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	_, err = NewExternalSigner(ES256, "", func(context.Context, string) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrInvalidHeader)
	_, err = NewExternalSigner(ES256, "k", nil)
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestSignHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Sign(ctx, testSigner(t, ES256), SignRequest{Request: sampleRequest()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewKeySignerErrors(t *testing.T) {
	_, err := NewKeySigner(nil, ES256)
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)

	_, err = NewKeySigner(testKey(t, ES256).Public(), ES256)
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)

	_, err = NewKeySigner(testKey(t, ES256), RS256)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	// A secp256k1 key may sign with either Ethereum algorithm.
	for _, alg := range []Algorithm{ES256K, EIP191} {
		s, err := NewKeySigner(testKey(t, ES256K), alg)
		require.NoError(t, err)
		assert.Equal(t, alg, s.Algorithm())
	}
}

func TestHexKeySigners(t *testing.T) {
	const hexKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	eip, err := NewEIP191Signer(hexKey, "eth")
	require.NoError(t, err)
	assert.Equal(t, EIP191, eip.Algorithm())

	token, err := SignJWT(context.Background(), Payload{Subject: "s"}, eip)
	require.NoError(t, err)

	// Address of the key above.
	addrKey, err := ParseJWK([]byte(`{"kty":"EC","crv":"secp256k1","kid":"eth","addr":"0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"}`))
	require.NoError(t, err)
	_, err = VerifyJWT(token, addrKey, VerifyOptions{})
	require.NoError(t, err)

	es, err := NewES256KSigner(hexKey, "eth")
	require.NoError(t, err)
	assert.Equal(t, ES256K, es.Algorithm())

	_, err = NewEIP191Signer("0xnot-a-key", "eth")
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
	_, err = NewES256KSigner("12", "eth")
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestSignJWTHeaderOptions(t *testing.T) {
	signer := testSigner(t, EDDSA)

	token, err := SignJWT(context.Background(), Payload{}, signer,
		WithHeaderField("policyVersion", "7"),
		WithCritical("policyVersion"),
	)
	require.NoError(t, err)

	d, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, TypeJWT, d.Header.Typ)
	assert.Equal(t, "7", d.Header.Extra["policyVersion"])
	assert.Equal(t, []string{"policyVersion"}, d.Header.Crit)

	_, err = SignJWT(context.Background(), Payload{}, signer, WithHeaderType("at+jwt"))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	// Registered parameters may not be critical, and critical ones must be set.
	_, err = SignJWT(context.Background(), Payload{}, signer, WithCritical("alg"))
	assert.ErrorIs(t, err, ErrUnrecognizedExtension)
	_, err = SignJWT(context.Background(), Payload{}, signer, WithCritical("missing"))
	assert.ErrorIs(t, err, ErrUnrecognizedExtension)
}

func TestSignedSegmentsAreCompact(t *testing.T) {
	token := signSample(t, ES256K)
	parts, err := core.Split(token, 0)
	require.NoError(t, err)
	assert.NotContains(t, string(parts.HeaderJSON), " ")
	assert.NotContains(t, token, "=")
}

func TestSignNilSigner(t *testing.T) {
	_, err := SignJWT(context.Background(), Payload{}, nil)
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
	_, err = SignJWSD(context.Background(), nil, JWSDRequest{Method: "GET", URI: "https://a.example"})
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}
