package authsig

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadExtraRoundTrip(t *testing.T) {
	in := `{"sub":"u","aud":"api","iat":1700000000,"orgId":"o-1","limits":{"daily":10},"amount":12.5}`

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	assert.Equal(t, "u", p.Subject)
	assert.Equal(t, Audience{"api"}, p.Audience)
	assert.Equal(t, int64(1700000000), p.IssuedAt.Unix())
	assert.Equal(t, "o-1", p.Extra["orgId"])
	assert.Equal(t, json.Number("12.5"), p.Extra["amount"])
	assert.NotContains(t, p.Extra, "sub")

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestPayloadExtraCannotShadowClaims(t *testing.T) {
	p := Payload{Subject: "real", Extra: map[string]any{"sub": "shadow", "x": 1}}
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":"real","x":1}`, string(out))
}

func TestHeaderExtraRoundTrip(t *testing.T) {
	in := `{"alg":"ES256K","kid":"k1","typ":"JWT","crit":["tenant"],"tenant":"acme"}`

	var h Header
	require.NoError(t, json.Unmarshal([]byte(in), &h))
	assert.Equal(t, ES256K, h.Alg)
	assert.Equal(t, []string{"tenant"}, h.Crit)
	assert.Equal(t, map[string]any{"tenant": "acme"}, h.Extra)

	out, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestAudience(t *testing.T) {
	var a Audience
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &a))
	assert.True(t, a.Contains("b"))
	assert.False(t, a.Contains("c"))

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(out))

	out, err = json.Marshal(Audience{"only"})
	require.NoError(t, err)
	assert.JSONEq(t, `"only"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &a))
}

func TestNumericDate(t *testing.T) {
	d := NewNumericDate(time.Date(2025, 1, 2, 3, 4, 5, 999_000_000, time.UTC))
	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "1735787045", string(out))

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1735787045", 1735787045, false},
		{"1735787045.75", 1735787045, false},
		{"1e9", 1000000000, false},
		{"-1", 0, true},
		{"99999999999999", 0, true},
		{`"soon"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got NumericDate
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Unix())
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	var zero NumericDate
	out, err = json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
