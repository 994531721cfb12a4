package authsig

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cybergodev/authsig/internal/core"
)

// fixedNow is the signing time used by deterministic tests.
var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// generatedKeys holds one private key per algorithm. RSA generation is slow,
// so keys are shared by every test in the package.
var generatedKeys = sync.OnceValue(func() map[Algorithm]Key {
	keys := make(map[Algorithm]Key, len(Algorithms()))
	for _, alg := range Algorithms() {
		k, err := GenerateKey(alg)
		if err != nil {
			panic(err)
		}
		keys[alg] = k
	}
	return keys
})

func testKey(t testing.TB, alg Algorithm) Key {
	t.Helper()
	k, ok := generatedKeys()[alg]
	require.True(t, ok, "no key for %s", alg)
	return k
}

func testSigner(t testing.TB, alg Algorithm) Signer {
	t.Helper()
	s, err := NewKeySigner(testKey(t, alg), alg)
	require.NoError(t, err)
	return s
}

// sampleRequest is shaped like an authorization request for a transaction.
func sampleRequest() map[string]any {
	return map[string]any{
		"action":     "signTransaction",
		"nonce":      "a1b2c3",
		"resourceId": "eip155:eoa:0x0301e2724a40e934cce3345928b88956901aa127",
		"transactionRequest": map[string]any{
			"chainId":  1,
			"from":     "0x0301e2724a40e934cce3345928b88956901aa127",
			"to":       "0x76d1b7f9b3f69c435eef76a98a415332084a856f",
			"value":    "0xde0b6b3a7640000",
			"gas":      "21000",
			"gasPrice": "0x4a817c800",
		},
	}
}

func signSample(t testing.TB, alg Algorithm) string {
	t.Helper()
	token, err := Sign(context.Background(), testSigner(t, alg), SignRequest{
		Request: sampleRequest(),
		Payload: Payload{Subject: "user-1", Issuer: "https://armory.example"},
		Now:     clockAt(fixedNow),
	})
	require.NoError(t, err)
	return token
}

// resign builds a token from raw header and payload JSON signed by signer.
func resign(t testing.TB, signer Signer, header, payload string) string {
	t.Helper()
	input := core.SigningInput([]byte(header), []byte(payload))
	sig, err := signer.Sign(context.Background(), input)
	require.NoError(t, err)
	return core.Join(input, sig)
}

// replacePayload swaps the payload segment of token, keeping its signature.
func replacePayload(t testing.TB, token string, mutate func(map[string]any)) string {
	t.Helper()
	parts, err := core.Split(token, 0)
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(parts.PayloadJSON, &claims))
	mutate(claims)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return parts.Header + "." + core.EncodeSegment(payload) + "." + parts.Signature
}
