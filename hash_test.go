package authsig

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKnownVector(t *testing.T) {
	h, err := Hash(map[string]any{"a": "a", "b": 1, "c": false})
	require.NoError(t, err)
	assert.Equal(t, Hex("0x7372a4267af39345919d5d26984da5e387d8d93b25283c9740b3bd43841bcf49"), h)
}

func TestHashKeyOrderIndependent(t *testing.T) {
	var a, b any
	require.NoError(t, json.Unmarshal([]byte(`{"c":false,"b":1,"a":"a"}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"a":"a","b":1,"c":false}`), &b))

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	type request struct {
		C bool   `json:"c"`
		A string `json:"a"`
		B int    `json:"b"`
	}
	hs, err := Hash(request{C: false, A: "a", B: 1})
	require.NoError(t, err)
	assert.Equal(t, ha, hs, "struct and map with the same members hash alike")
}

func TestHashStructBigNumbers(t *testing.T) {
	type transaction struct {
		Value *big.Int `json:"value"`
		Nonce int64    `json:"nonce"`
	}
	wei, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)

	hs, err := Hash(transaction{Value: wei, Nonce: 1<<53 + 1})
	require.NoError(t, err)
	hm, err := Hash(map[string]any{"value": wei, "nonce": int64(1<<53 + 1)})
	require.NoError(t, err)
	assert.Equal(t, hm, hs)

	oneMore, err := Hash(transaction{Value: new(big.Int).Add(wei, big.NewInt(1)), Nonce: 1<<53 + 1})
	require.NoError(t, err)
	assert.NotEqual(t, hs, oneMore, "a value one wei higher hashes differently")

	nextNonce, err := Hash(transaction{Value: wei, Nonce: 1 << 53})
	require.NoError(t, err)
	assert.NotEqual(t, hs, nextNonce)
}

func TestHashFormat(t *testing.T) {
	h, err := Hash([]any{1, "two", nil})
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, string(h))

	raw, err := h.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestHashRejectsNonFinite(t *testing.T) {
	for _, v := range []any{math.NaN(), math.Inf(1), map[string]any{"x": math.Inf(-1)}} {
		_, err := Hash(v)
		assert.ErrorIs(t, err, ErrSerialization)
		assert.Equal(t, ErrSerialization, KindOf(err))
	}
}

func TestCanonicalizeBigInt(t *testing.T) {
	n, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	got, err := Canonicalize(map[string]any{"amount": n})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"123456789012345678901234567890"}`, string(got))

	same, err := Canonicalize(map[string]any{"amount": NewBigInt(n)})
	require.NoError(t, err)
	assert.Equal(t, got, same)

	back, ok := NewBigInt(n).Int()
	require.True(t, ok)
	assert.Zero(t, n.Cmp(back))
	_, ok = BigInt("12e3").Int()
	assert.False(t, ok)
}

func TestHashWithoutWildcardFields(t *testing.T) {
	full := map[string]any{
		"tx": map[string]any{"to": "0xabc", "value": "1", "gasPrice": "20"},
	}
	withoutGas := map[string]any{
		"tx": map[string]any{"to": "0xabc", "value": "1"},
	}
	otherGas := map[string]any{
		"tx": map[string]any{"to": "0xabc", "value": "1", "gasPrice": "99"},
	}

	base, err := Hash(withoutGas)
	require.NoError(t, err)
	assert.Equal(t, Hex("0xac86dc1d74d8a08ca5af7adf9e64a047252c3e2358180c1a89c5730a8a563c0d"), base)

	allowed := []string{"tx.gasPrice"}

	h1, err := HashWithoutWildcardFields(full, allowed, []string{"tx.gasPrice"})
	require.NoError(t, err)
	h2, err := HashWithoutWildcardFields(otherGas, allowed, []string{"tx.gasPrice"})
	require.NoError(t, err)
	assert.Equal(t, base, h1)
	assert.Equal(t, h1, h2, "wildcarded field does not affect the hash")

	// Only the intersection is removed.
	h3, err := HashWithoutWildcardFields(full, allowed, []string{"tx.gasPrice", "tx.to"})
	require.NoError(t, err)
	assert.Equal(t, base, h3)

	notAllowed, err := HashWithoutWildcardFields(full, nil, []string{"tx.gasPrice"})
	require.NoError(t, err)
	plain, err := Hash(full)
	require.NoError(t, err)
	assert.Equal(t, plain, notAllowed)

	assert.Equal(t, "20", full["tx"].(map[string]any)["gasPrice"], "input is not modified")
}

func TestHashWithoutWildcardFieldsArrayPath(t *testing.T) {
	v := map[string]any{"items": []any{
		map[string]any{"sku": "a", "price": 1},
		map[string]any{"sku": "b", "price": 2},
	}}
	u := map[string]any{"items": []any{
		map[string]any{"sku": "a", "price": 1},
		map[string]any{"sku": "b", "price": 500},
	}}

	paths := []string{"items[1].price"}
	h1, err := HashWithoutWildcardFields(v, paths, paths)
	require.NoError(t, err)
	h2, err := HashWithoutWildcardFields(u, paths, paths)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashWithoutWildcardFields(u, paths, []string{"items[0].price"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestParseHex(t *testing.T) {
	h, err := ParseHex("0xABCDEF")
	require.NoError(t, err)
	assert.Equal(t, Hex("0xabcdef"), h)

	_, err = ParseHex("abcdef")
	assert.ErrorIs(t, err, ErrSerialization)
	_, err = ParseHex("0xzz")
	assert.ErrorIs(t, err, ErrSerialization)
}
