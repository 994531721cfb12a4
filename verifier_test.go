package authsig

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybergodev/authsig/internal/core"
)

func TestDecode(t *testing.T) {
	token := signSample(t, ES256)

	d, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, token, d.Raw)
	assert.True(t, strings.HasPrefix(token, d.SigningInput+"."))
	assert.True(t, d.HasClaim("requestHash"))
	assert.False(t, d.HasClaim("nbf"))
	assert.True(t, d.HasHeader("kid"))
}

func TestDecodeErrors(t *testing.T) {
	header := core.EncodeSegment([]byte(`{"alg":"ES256","kid":"k"}`))
	payload := core.EncodeSegment([]byte(`{"sub":"x"}`))
	sig := core.EncodeSegment([]byte("sig"))

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrMalformedToken},
		{"two segments", header + "." + payload, ErrMalformedToken},
		{"four segments", header + "." + payload + "." + sig + "." + sig, ErrMalformedToken},
		{"empty payload", header + ".." + sig, ErrMalformedToken},
		{"empty signature", header + "." + payload + ".", ErrMalformedToken},
		{"bad base64", header + ".***." + sig, ErrMalformedToken},
		{"header not json", core.EncodeSegment([]byte("nope")) + "." + payload + "." + sig, ErrInvalidHeader},
		{"header array", core.EncodeSegment([]byte("[]")) + "." + payload + "." + sig, ErrInvalidHeader},
		{"header without alg", core.EncodeSegment([]byte(`{"kid":"k"}`)) + "." + payload + "." + sig, ErrInvalidHeader},
		{"header without kid", core.EncodeSegment([]byte(`{"alg":"ES256"}`)) + "." + payload + "." + sig, ErrInvalidHeader},
		{"payload not object", header + "." + core.EncodeSegment([]byte(`"str"`)) + "." + sig, ErrInvalidPayload},
		{"payload wrong claim type", header + "." + core.EncodeSegment([]byte(`{"exp":"tomorrow"}`)) + "." + sig, ErrInvalidPayload},
		{"payload bad audience", header + "." + core.EncodeSegment([]byte(`{"aud":42}`)) + "." + sig, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantErr, KindOf(err))
		})
	}
}

func TestDecodePreservesUnknownClaims(t *testing.T) {
	signer := testSigner(t, EDDSA)
	token := resign(t, signer,
		`{"alg":"EDDSA","kid":"`+signer.KeyID()+`","typ":"JWT","x-trace":"abc"}`,
		`{"sub":"u","orgId":"org-9","limits":{"daily":10}}`)

	d, err := VerifyJWT(token, testKey(t, EDDSA).Public(), VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "abc", d.Header.Extra["x-trace"])
	assert.Equal(t, "org-9", d.Payload.Extra["orgId"])
	assert.Contains(t, d.Payload.Extra, "limits")
}

func TestTamperDetection(t *testing.T) {
	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			token := signSample(t, alg)
			key := testKey(t, alg).Public()

			tampered := replacePayload(t, token, func(c map[string]any) { c["sub"] = "user-2" })
			_, err := VerifyJWT(tampered, key, VerifyOptions{Now: clockAt(fixedNow)})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSignatureMismatch)

			// Flip one bit of the signature.
			parts := strings.Split(token, ".")
			sig, err := core.DecodeSegment(parts[2])
			require.NoError(t, err)
			sig[len(sig)/3] ^= 0x01
			forged := parts[0] + "." + parts[1] + "." + core.EncodeSegment(sig)
			_, err = VerifyJWT(forged, key, VerifyOptions{Now: clockAt(fixedNow)})
			assert.ErrorIs(t, err, ErrSignatureMismatch)
		})
	}
}

func TestWrongKey(t *testing.T) {
	token := signSample(t, ES256)
	other, err := GenerateKey(ES256)
	require.NoError(t, err)

	_, err = VerifyJWT(token, other.Public(), VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestExpiry(t *testing.T) {
	token := signSample(t, ES256K)
	key := testKey(t, ES256K).Public()
	exp := fixedNow.Add(DefaultExpiry)

	tests := []struct {
		name    string
		now     time.Time
		skew    time.Duration
		wantErr error
	}{
		{"just issued", fixedNow, 0, nil},
		{"one second before expiry", exp.Add(-time.Second), 0, nil},
		{"at expiry", exp, 0, ErrExpired},
		{"long after", exp.Add(24 * time.Hour), 0, ErrExpired},
		{"within skew", exp.Add(10 * time.Second), 30 * time.Second, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyJWT(token, key, VerifyOptions{Now: clockAt(tt.now), ClockSkew: tt.skew})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignatureCheckedBeforeExpiry(t *testing.T) {
	// Signature is checked before claims, so an expired forged token reports
	// the forgery.
	token := signSample(t, ES256)
	forged := replacePayload(t, token, func(c map[string]any) { c["sub"] = "x" })

	_, err := VerifyJWT(forged, testKey(t, ES256).Public(), VerifyOptions{Now: clockAt(fixedNow.Add(48 * time.Hour))})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.NotErrorIs(t, err, ErrExpired)
}

func TestClaimExpectations(t *testing.T) {
	signer := testSigner(t, ES256)
	token, err := Sign(context.Background(), signer, SignRequest{
		Request: sampleRequest(),
		Payload: Payload{
			Subject:         "user-1",
			Issuer:          "https://armory.example",
			Audience:        Audience{"policy-engine", "vault"},
			AuthorizedParty: "client-7",
			NotBefore:       NewNumericDate(fixedNow),
			Data:            mustHash(t, map[string]any{"entities": []any{}}).String(),
		},
		Now: clockAt(fixedNow),
	})
	require.NoError(t, err)
	key := testKey(t, ES256).Public()
	now := clockAt(fixedNow.Add(time.Minute))

	tests := []struct {
		name    string
		opts    VerifyOptions
		wantErr error
	}{
		{"all match", VerifyOptions{
			Audience: "vault", Issuer: "https://armory.example", Subject: "user-1",
			AuthorizedParty: "client-7", MaxTokenAge: 5 * time.Minute,
			RequiredClaims: []string{"requestHash", "jti"},
			Data:           map[string]any{"entities": []any{}},
		}, nil},
		{"audience", VerifyOptions{Audience: "other"}, ErrInvalidPayload},
		{"issuer", VerifyOptions{Issuer: "https://evil.example"}, ErrInvalidPayload},
		{"subject", VerifyOptions{Subject: "user-2"}, ErrInvalidPayload},
		{"authorized party", VerifyOptions{AuthorizedParty: "client-8"}, ErrInvalidPayload},
		{"required claim", VerifyOptions{RequiredClaims: []string{"cnf"}}, ErrInvalidPayload},
		{"request hash value", VerifyOptions{RequestHash: mustHash(t, sampleRequest())}, nil},
		{"request hash mismatch", VerifyOptions{RequestHash: mustHash(t, "other")}, ErrInvalidPayload},
		{"data mismatch", VerifyOptions{Data: map[string]any{"entities": []any{1}}}, ErrInvalidPayload},
		{"data hash", VerifyOptions{DataHash: mustHash(t, map[string]any{"entities": []any{}})}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Now = now
			_, err := VerifyJWT(token, key, tt.opts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTimeClaims(t *testing.T) {
	signer := testSigner(t, EDDSA)
	key := testKey(t, EDDSA).Public()

	notYet, err := Sign(context.Background(), signer, SignRequest{
		Payload: Payload{NotBefore: NewNumericDate(fixedNow.Add(time.Hour))},
		Now:     clockAt(fixedNow),
	})
	require.NoError(t, err)
	_, err = VerifyJWT(notYet, key, VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	future, err := Sign(context.Background(), signer, SignRequest{Now: clockAt(fixedNow.Add(time.Hour))})
	require.NoError(t, err)
	_, err = VerifyJWT(future, key, VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrInvalidPayload, "iat in the future")

	old, err := Sign(context.Background(), signer, SignRequest{Now: clockAt(fixedNow)})
	require.NoError(t, err)
	_, err = VerifyJWT(old, key, VerifyOptions{Now: clockAt(fixedNow.Add(10 * time.Minute)), MaxTokenAge: 5 * time.Minute})
	assert.ErrorIs(t, err, ErrExpired)

	noIat := resign(t, signer, `{"alg":"EDDSA","kid":"`+signer.KeyID()+`"}`, `{"sub":"x"}`)
	_, err = VerifyJWT(noIat, key, VerifyOptions{MaxTokenAge: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestAddressOnlyVerification(t *testing.T) {
	signerKey := testKey(t, EIP191).(*Secp256k1Key)
	token := signSample(t, EIP191)

	eoa, err := NewKey(signerKey.Address(), EIP191, "wallet")
	require.NoError(t, err)
	require.IsType(t, &EOAKey{}, eoa)

	d, err := VerifyJWT(token, eoa, VerifyOptions{Now: clockAt(fixedNow), Request: sampleRequest()})
	require.NoError(t, err)
	assert.Equal(t, EIP191, d.Header.Alg)

	stranger, err := NewKey(common.HexToAddress("0x000000000000000000000000000000000000dEaD"), EIP191, "wallet")
	require.NoError(t, err)
	_, err = VerifyJWT(token, stranger, VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	tampered := replacePayload(t, token, func(c map[string]any) { c["sub"] = "mallory" })
	_, err = VerifyJWT(tampered, eoa, VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestAddressOnlyES256K(t *testing.T) {
	signerKey := testKey(t, ES256K).(*Secp256k1Key)
	token := signSample(t, ES256K)

	eoa, err := NewKey(signerKey.Address(), ES256K, "")
	require.NoError(t, err)
	_, err = VerifyJWT(token, eoa, VerifyOptions{Now: clockAt(fixedNow)})
	require.NoError(t, err)
}

func TestEIP191KeyWithCoordinatesAndAddress(t *testing.T) {
	token := signSample(t, EIP191)
	signerKey := testKey(t, EIP191).(*Secp256k1Key)

	// Coordinates and address that agree.
	_, err := VerifyJWT(token, signerKey.Public(), VerifyOptions{Now: clockAt(fixedNow)})
	require.NoError(t, err)

	// Coordinates alone verify either Ethereum algorithm.
	coordsOnly, err := NewKey(signerKey.PublicKey(), ES256K, "")
	require.NoError(t, err)
	_, err = VerifyJWT(token, coordsOnly, VerifyOptions{Now: clockAt(fixedNow)})
	require.NoError(t, err)

	// Coordinates of one key with the address of another.
	other := testKey(t, ES256K).(*Secp256k1Key)
	mixed := withMember(t, mustJSON(t, other.Public()), "addr", signerKey.Address().Hex())
	_, err = ParseJWK([]byte(mixed))
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestUnsupportedAlgorithms(t *testing.T) {
	signer := testSigner(t, EDDSA)
	key := testKey(t, EDDSA).Public()

	for _, alg := range []string{"none", "HS256", "PS256", "eddsa", "ES384"} {
		t.Run(alg, func(t *testing.T) {
			token := resign(t, signer, `{"alg":"`+alg+`","kid":"`+signer.KeyID()+`"}`, `{}`)
			_, err := VerifyJWT(token, key, VerifyOptions{})
			assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
		})
	}

	// An algorithm of another family than the key.
	_, err := VerifyJWT(signSample(t, ES256), key, VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = VerifyJWT(signSample(t, ES256), nil, VerifyOptions{Now: clockAt(fixedNow)})
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestCriticalHeaders(t *testing.T) {
	signer := testSigner(t, EDDSA)
	key := testKey(t, EDDSA).Public()
	kid := signer.KeyID()

	tests := []struct {
		name    string
		header  string
		known   []string
		wantErr error
	}{
		{"no crit", `{"alg":"EDDSA","kid":"` + kid + `"}`, nil, nil},
		{"builtin present", `{"alg":"EDDSA","kid":"` + kid + `","crit":["htm"],"htm":"POST"}`, nil, nil},
		{"builtin absent", `{"alg":"EDDSA","kid":"` + kid + `","crit":["htm"]}`, nil, ErrUnrecognizedExtension},
		{"unknown extension", `{"alg":"EDDSA","kid":"` + kid + `","crit":["b64"],"b64":false}`, nil, ErrUnrecognizedExtension},
		{"configured extension", `{"alg":"EDDSA","kid":"` + kid + `","crit":["tenant"],"tenant":"t1"}`, []string{"tenant"}, nil},
		{"configured but absent", `{"alg":"EDDSA","kid":"` + kid + `","crit":["tenant"]}`, []string{"tenant"}, ErrUnrecognizedExtension},
		{"registered parameter", `{"alg":"EDDSA","kid":"` + kid + `","crit":["alg"]}`, nil, ErrUnrecognizedExtension},
		{"empty list", `{"alg":"EDDSA","kid":"` + kid + `","crit":[]}`, nil, ErrInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := resign(t, signer, tt.header, `{}`)
			_, err := VerifyJWT(token, key, VerifyOptions{CriticalExtensions: tt.known})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	forged := replacePayload(t, signSample(t, ES256), func(c map[string]any) { c["sub"] = "x" })
	_, err := VerifyJWT(forged, testKey(t, ES256).Public(), VerifyOptions{Now: clockAt(fixedNow), Logger: logger})
	require.Error(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, testKey(t, ES256).KeyID(), entry.Data["kid"])
	assert.Equal(t, ErrSignatureMismatch.Error(), entry.Data["kind"])

}

func TestConcurrentVerify(t *testing.T) {
	tokens := make(map[Algorithm]string)
	for _, alg := range Algorithms() {
		tokens[alg] = signSample(t, alg)
	}

	keys := make(map[Algorithm]Key)
	for _, alg := range Algorithms() {
		keys[alg] = testKey(t, alg).Public()
	}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		alg := Algorithms()[i%len(Algorithms())]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := VerifyJWT(tokens[alg], keys[alg], VerifyOptions{
				Now:     clockAt(fixedNow),
				Request: sampleRequest(),
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func mustHash(t testing.TB, v any) Hex {
	t.Helper()
	h, err := Hash(v)
	require.NoError(t, err)
	return h
}

func TestVerifyRejectsOtherTokenTypes(t *testing.T) {
	key := testKey(t, ES256).Public()
	opts := VerifyOptions{Now: clockAt(fixedNow)}

	// An attached JWSD carries a JSON object body that would decode as claims.
	_, err := VerifyJWT(signGrant(t, ES256, false), key, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	signer := testSigner(t, ES256)
	payload := `{"sub":"user-1","iat":` + strconv.FormatInt(fixedNow.Unix(), 10) + `}`

	_, err = VerifyJWT(resign(t, signer, `{"alg":"ES256","kid":"`+signer.KeyID()+`","typ":"at+jwt"}`, payload), key, opts)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	d, err := VerifyJWT(resign(t, signer, `{"alg":"ES256","kid":"`+signer.KeyID()+`"}`, payload), key, opts)
	require.NoError(t, err, "typ is optional")
	assert.Equal(t, "user-1", d.Payload.Subject)
}
