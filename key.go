package authsig

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/cybergodev/authsig/internal/canonical"
	"github.com/cybergodev/authsig/internal/security"
	"github.com/cybergodev/authsig/internal/signing"
)

// MinRSABits is the smallest RSA modulus accepted for signing or encryption.
const MinRSABits = 2048

// Key is a public or private key of one of the supported families:
// *Secp256k1Key, *P256Key, *Ed25519Key, *RSAKey and *EOAKey.
// Keys are built by ParseJWK, NewKey or GenerateKey and are never mutated by
// signing or verification.
type Key interface {
	// KeyID returns the kid used to select this key from a key set.
	KeyID() string
	// Algorithm returns the default signing algorithm for the key.
	Algorithm() Algorithm
	// IsPrivate reports whether the key holds private material.
	IsPrivate() bool
	// Public returns the public counterpart. Public keys return themselves.
	Public() Key
	// MarshalJSON encodes the key as a JWK.
	MarshalJSON() ([]byte, error)

	supports(alg Algorithm) bool
	signingKey() any
	verificationKeys() []any
	thumbprintMembers() map[string]any
}

// Secp256k1Key is an Ethereum-style key with explicit coordinates.
type Secp256k1Key struct {
	kid  string
	alg  Algorithm
	pub  *secp256k1.PublicKey
	priv *secp256k1.PrivateKey
	addr *common.Address
}

func (k *Secp256k1Key) KeyID() string        { return k.kid }
func (k *Secp256k1Key) Algorithm() Algorithm { return k.alg }
func (k *Secp256k1Key) IsPrivate() bool      { return k.priv != nil }

func (k *Secp256k1Key) Public() Key {
	return &Secp256k1Key{kid: k.kid, alg: k.alg, pub: k.pub, addr: k.addr}
}

// PublicKey returns the secp256k1 point.
func (k *Secp256k1Key) PublicKey() *secp256k1.PublicKey { return k.pub }

// Address returns the Ethereum address derived from the public key.
func (k *Secp256k1Key) Address() common.Address {
	return signing.AddressFromPublicKey(k.pub)
}

// Destroy zeroes the private scalar. The key is public afterwards.
func (k *Secp256k1Key) Destroy() {
	if k.priv != nil {
		k.priv.Zero()
		k.priv = nil
	}
}

func (k *Secp256k1Key) supports(alg Algorithm) bool { return alg == ES256K || alg == EIP191 }

func (k *Secp256k1Key) signingKey() any {
	if k.priv == nil {
		return nil
	}
	return k.priv
}

func (k *Secp256k1Key) verificationKeys() []any {
	if k.addr != nil {
		return []any{k.pub, *k.addr}
	}
	return []any{k.pub}
}

func (k *Secp256k1Key) thumbprintMembers() map[string]any {
	x, y := secp256k1Coordinates(k.pub)
	return map[string]any{"crv": "secp256k1", "kty": "EC", "x": b64(x), "y": b64(y)}
}

func (k *Secp256k1Key) MarshalJSON() ([]byte, error) {
	x, y := secp256k1Coordinates(k.pub)
	out := rawJWK{Kty: "EC", Crv: "secp256k1", Alg: string(k.alg), Kid: k.kid, X: b64(x), Y: b64(y)}
	if k.addr != nil {
		out.Addr = k.addr.Hex()
	}
	if k.priv != nil {
		d := k.priv.Serialize()
		out.D = b64(d)
		security.ZeroBytes(d)
	}
	return json.Marshal(out)
}

// EOAKey is an Ethereum account known only by its address. It can verify
// signatures through public key recovery but has no coordinates.
type EOAKey struct {
	kid  string
	alg  Algorithm
	addr common.Address
}

func (k *EOAKey) KeyID() string        { return k.kid }
func (k *EOAKey) Algorithm() Algorithm { return k.alg }
func (k *EOAKey) IsPrivate() bool      { return false }
func (k *EOAKey) Public() Key          { return k }

// Address returns the account address.
func (k *EOAKey) Address() common.Address { return k.addr }

func (k *EOAKey) supports(alg Algorithm) bool { return alg == ES256K || alg == EIP191 }
func (k *EOAKey) signingKey() any             { return nil }
func (k *EOAKey) verificationKeys() []any     { return []any{k.addr} }

func (k *EOAKey) thumbprintMembers() map[string]any {
	return map[string]any{"addr": k.addr.Hex(), "crv": "secp256k1", "kty": "EC"}
}

func (k *EOAKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawJWK{Kty: "EC", Crv: "secp256k1", Alg: string(k.alg), Kid: k.kid, Addr: k.addr.Hex()})
}

// P256Key is a NIST P-256 ECDSA key.
type P256Key struct {
	kid  string
	pub  *ecdsa.PublicKey
	priv *ecdsa.PrivateKey
}

func (k *P256Key) KeyID() string        { return k.kid }
func (k *P256Key) Algorithm() Algorithm { return ES256 }
func (k *P256Key) IsPrivate() bool      { return k.priv != nil }
func (k *P256Key) Public() Key          { return &P256Key{kid: k.kid, pub: k.pub} }

// PublicKey returns the ECDSA public key.
func (k *P256Key) PublicKey() *ecdsa.PublicKey { return k.pub }

// Destroy zeroes the private scalar. The key is public afterwards.
func (k *P256Key) Destroy() {
	if k.priv != nil {
		security.ZeroBigInt(k.priv.D)
		k.priv = nil
	}
}

func (k *P256Key) supports(alg Algorithm) bool { return alg == ES256 }

func (k *P256Key) signingKey() any {
	if k.priv == nil {
		return nil
	}
	return k.priv
}

func (k *P256Key) verificationKeys() []any { return []any{k.pub} }

func (k *P256Key) thumbprintMembers() map[string]any {
	x := k.pub.X.FillBytes(make([]byte, 32))
	y := k.pub.Y.FillBytes(make([]byte, 32))
	return map[string]any{"crv": "P-256", "kty": "EC", "x": b64(x), "y": b64(y)}
}

func (k *P256Key) MarshalJSON() ([]byte, error) {
	if k.priv != nil {
		return marshalViaJWX(k.priv, ES256, k.kid)
	}
	return marshalViaJWX(k.pub, ES256, k.kid)
}

// Ed25519Key is an Ed25519 key.
type Ed25519Key struct {
	kid  string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func (k *Ed25519Key) KeyID() string        { return k.kid }
func (k *Ed25519Key) Algorithm() Algorithm { return EDDSA }
func (k *Ed25519Key) IsPrivate() bool      { return k.priv != nil }
func (k *Ed25519Key) Public() Key          { return &Ed25519Key{kid: k.kid, pub: k.pub} }

// PublicKey returns the Ed25519 public key.
func (k *Ed25519Key) PublicKey() ed25519.PublicKey { return k.pub }

// Destroy zeroes the private key bytes. The key is public afterwards.
func (k *Ed25519Key) Destroy() {
	if k.priv != nil {
		security.ZeroBytes(k.priv)
		k.priv = nil
	}
}

func (k *Ed25519Key) supports(alg Algorithm) bool { return alg == EDDSA }

func (k *Ed25519Key) signingKey() any {
	if k.priv == nil {
		return nil
	}
	return k.priv
}

func (k *Ed25519Key) verificationKeys() []any { return []any{k.pub} }

func (k *Ed25519Key) thumbprintMembers() map[string]any {
	return map[string]any{"crv": "Ed25519", "kty": "OKP", "x": b64(k.pub)}
}

func (k *Ed25519Key) MarshalJSON() ([]byte, error) {
	if k.priv != nil {
		return marshalViaJWX(k.priv, EDDSA, k.kid)
	}
	return marshalViaJWX(k.pub, EDDSA, k.kid)
}

// RSAKey is an RSA key used for RS256 signatures and RSA-OAEP-256 encryption.
type RSAKey struct {
	kid  string
	pub  *rsa.PublicKey
	priv *rsa.PrivateKey
}

func (k *RSAKey) KeyID() string        { return k.kid }
func (k *RSAKey) Algorithm() Algorithm { return RS256 }
func (k *RSAKey) IsPrivate() bool      { return k.priv != nil }
func (k *RSAKey) Public() Key          { return &RSAKey{kid: k.kid, pub: k.pub} }

// PublicKey returns the RSA public key.
func (k *RSAKey) PublicKey() *rsa.PublicKey { return k.pub }

// Destroy zeroes the private exponent and CRT values. The key is public afterwards.
func (k *RSAKey) Destroy() {
	if k.priv == nil {
		return
	}
	security.ZeroBigInt(k.priv.D)
	for _, p := range k.priv.Primes {
		security.ZeroBigInt(p)
	}
	security.ZeroBigInt(k.priv.Precomputed.Dp)
	security.ZeroBigInt(k.priv.Precomputed.Dq)
	security.ZeroBigInt(k.priv.Precomputed.Qinv)
	k.priv = nil
}

func (k *RSAKey) supports(alg Algorithm) bool { return alg == RS256 }

func (k *RSAKey) signingKey() any {
	if k.priv == nil {
		return nil
	}
	return k.priv
}

func (k *RSAKey) verificationKeys() []any { return []any{k.pub} }

func (k *RSAKey) thumbprintMembers() map[string]any {
	return map[string]any{
		"e":   b64(big.NewInt(int64(k.pub.E)).Bytes()),
		"kty": "RSA",
		"n":   b64(k.pub.N.Bytes()),
	}
}

func (k *RSAKey) MarshalJSON() ([]byte, error) {
	if k.priv != nil {
		return marshalViaJWX(k.priv, RS256, k.kid)
	}
	return marshalViaJWX(k.pub, RS256, k.kid)
}

// rawJWK lists every member a supported JWK may carry.
type rawJWK struct {
	Kty  string `json:"kty"`
	Crv  string `json:"crv,omitempty"`
	Alg  string `json:"alg,omitempty"`
	Kid  string `json:"kid,omitempty"`
	Use  string `json:"use,omitempty"`
	X    string `json:"x,omitempty"`
	Y    string `json:"y,omitempty"`
	D    string `json:"d,omitempty"`
	N    string `json:"n,omitempty"`
	E    string `json:"e,omitempty"`
	P    string `json:"p,omitempty"`
	Q    string `json:"q,omitempty"`
	DP   string `json:"dp,omitempty"`
	DQ   string `json:"dq,omitempty"`
	QI   string `json:"qi,omitempty"`
	Addr string `json:"addr,omitempty"`
}

func (r rawJWK) rsaFields() []string {
	var present []string
	for name, v := range map[string]string{"n": r.N, "e": r.E, "p": r.P, "q": r.Q, "dp": r.DP, "dq": r.DQ, "qi": r.QI} {
		if v != "" {
			present = append(present, name)
		}
	}
	slices.Sort(present)
	return present
}

func keyError(field, message string, err error) error {
	return newError(ErrInvalidKeyMaterial, field, message, err)
}

// ParseJWK parses a single JWK into a Key, validating it against the rules
// of its family. A missing kid is replaced by the key's RFC 7638 thumbprint.
func ParseJWK(data []byte) (Key, error) {
	var r rawJWK
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, keyError("", "invalid JWK JSON", err)
	}

	var (
		key Key
		err error
	)
	switch {
	case r.Kty == "EC" && r.Crv == "secp256k1":
		key, err = parseSecp256k1JWK(r)
	case r.Kty == "EC" && r.Crv == "P-256":
		key, err = parseP256JWK(r)
	case r.Kty == "OKP" && r.Crv == "Ed25519":
		key, err = parseEd25519JWK(r)
	case r.Kty == "RSA":
		key, err = parseRSAJWK(r)
	case r.Kty == "":
		return nil, keyError("kty", "missing key type", nil)
	default:
		return nil, keyError("crv", fmt.Sprintf("unsupported key family kty=%q crv=%q", r.Kty, r.Crv), nil)
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func resolveAlg(r rawJWK, allowed []Algorithm, fallback Algorithm) (Algorithm, error) {
	if r.Alg == "" {
		return fallback, nil
	}
	alg := Algorithm(r.Alg)
	if r.Alg == "EdDSA" {
		alg = EDDSA
	}
	if !slices.Contains(allowed, alg) {
		return "", newError(ErrUnsupportedAlgorithm, "alg", fmt.Sprintf("%s is not valid for this key family", r.Alg), nil)
	}
	return alg, nil
}

func parseSecp256k1JWK(r rawJWK) (Key, error) {
	if fields := r.rsaFields(); len(fields) > 0 {
		return nil, keyError(strings.Join(fields, ","), "RSA members on an EC key", nil)
	}

	hasCoordinates := r.X != "" || r.Y != ""
	if !hasCoordinates {
		if r.D != "" {
			return nil, keyError("d", "private member on an address-only key", nil)
		}
		if r.Addr == "" {
			return nil, keyError("addr", "secp256k1 key needs x and y or addr", nil)
		}
		addr, err := parseAddress(r.Addr)
		if err != nil {
			return nil, err
		}
		alg, err := resolveAlg(r, []Algorithm{EIP191, ES256K}, EIP191)
		if err != nil {
			return nil, err
		}
		key := &EOAKey{kid: r.Kid, alg: alg, addr: addr}
		return withDefaultKid(key, &key.kid)
	}

	x, err := decodeFixed("x", r.X, 32)
	if err != nil {
		return nil, err
	}
	y, err := decodeFixed("y", r.Y, 32)
	if err != nil {
		return nil, err
	}
	pub, err := secp256k1.ParsePubKey(slices.Concat([]byte{0x04}, x, y))
	if err != nil {
		return nil, keyError("x", "point is not on secp256k1", err)
	}

	key := &Secp256k1Key{kid: r.Kid, pub: pub}

	if r.D != "" {
		d, err := decodeFixed("d", r.D, 32)
		if err != nil {
			return nil, err
		}
		defer security.ZeroBytes(d)
		var scalar secp256k1.ModNScalar
		if overflow := scalar.SetByteSlice(d); overflow || scalar.IsZero() {
			return nil, keyError("d", "private scalar out of range", nil)
		}
		scalar.Zero()
		key.priv = secp256k1.PrivKeyFromBytes(d)
		if !key.priv.PubKey().IsEqual(pub) {
			key.priv.Zero()
			return nil, keyError("d", "private scalar does not match x and y", nil)
		}
	}

	fallback := ES256K
	if r.Addr != "" {
		addr, err := parseAddress(r.Addr)
		if err != nil {
			return nil, err
		}
		if addr != key.Address() {
			return nil, keyError("addr", "address does not match x and y", nil)
		}
		key.addr = &addr
		fallback = EIP191
	}

	if key.alg, err = resolveAlg(r, []Algorithm{ES256K, EIP191}, fallback); err != nil {
		return nil, err
	}
	return withDefaultKid(key, &key.kid)
}

func parseP256JWK(r rawJWK) (Key, error) {
	if fields := r.rsaFields(); len(fields) > 0 {
		return nil, keyError(strings.Join(fields, ","), "RSA members on an EC key", nil)
	}
	if r.Addr != "" {
		return nil, keyError("addr", "addr is only valid on secp256k1 keys", nil)
	}
	if r.X == "" || r.Y == "" {
		return nil, keyError("x", "P-256 key needs x and y", nil)
	}
	if _, err := resolveAlg(r, []Algorithm{ES256}, ES256); err != nil {
		return nil, err
	}

	raw, err := importViaJWX(rawJWK{Kty: r.Kty, Crv: r.Crv, X: r.X, Y: r.Y, D: r.D})
	if err != nil {
		return nil, err
	}

	key := &P256Key{kid: r.Kid}
	switch k := raw.(type) {
	case *ecdsa.PrivateKey:
		key.priv, key.pub = k, &k.PublicKey
	case *ecdsa.PublicKey:
		key.pub = k
	default:
		return nil, keyError("kty", fmt.Sprintf("unexpected key type %T", raw), nil)
	}
	if key.pub.Curve != elliptic.P256() {
		return nil, keyError("crv", "key is not on P-256", nil)
	}
	if _, err := key.pub.ECDH(); err != nil {
		return nil, keyError("x", "point is not on P-256", err)
	}
	return withDefaultKid(key, &key.kid)
}

func parseEd25519JWK(r rawJWK) (Key, error) {
	if fields := r.rsaFields(); len(fields) > 0 {
		return nil, keyError(strings.Join(fields, ","), "RSA members on an OKP key", nil)
	}
	if r.Y != "" || r.Addr != "" {
		return nil, keyError("y", "unexpected member on an Ed25519 key", nil)
	}
	if _, err := decodeFixed("x", r.X, ed25519.PublicKeySize); err != nil {
		return nil, err
	}
	if _, err := resolveAlg(r, []Algorithm{EDDSA}, EDDSA); err != nil {
		return nil, err
	}

	raw, err := importViaJWX(rawJWK{Kty: r.Kty, Crv: r.Crv, X: r.X, D: r.D})
	if err != nil {
		return nil, err
	}

	key := &Ed25519Key{kid: r.Kid}
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		key.priv, key.pub = k, k.Public().(ed25519.PublicKey)
	case *ed25519.PrivateKey:
		key.priv, key.pub = *k, k.Public().(ed25519.PublicKey)
	case ed25519.PublicKey:
		key.pub = k
	case *ed25519.PublicKey:
		key.pub = *k
	default:
		return nil, keyError("kty", fmt.Sprintf("unexpected key type %T", raw), nil)
	}
	if x, _ := decodeFixed("x", r.X, ed25519.PublicKeySize); !key.pub.Equal(ed25519.PublicKey(x)) {
		return nil, keyError("d", "private key does not match x", nil)
	}
	return withDefaultKid(key, &key.kid)
}

func parseRSAJWK(r rawJWK) (Key, error) {
	if r.Crv != "" || r.X != "" || r.Y != "" || r.Addr != "" {
		return nil, keyError("crv", "EC members on an RSA key", nil)
	}
	if r.N == "" || r.E == "" {
		return nil, keyError("n", "RSA key needs n and e", nil)
	}
	crt := []string{r.P, r.Q, r.DP, r.DQ, r.QI}
	crtCount := 0
	for _, v := range crt {
		if v != "" {
			crtCount++
		}
	}
	if crtCount > 0 && r.D == "" {
		return nil, keyError("d", "CRT members without private exponent", nil)
	}
	if crtCount != 0 && crtCount != len(crt) {
		return nil, keyError("p", "CRT members must all be present or all be absent", nil)
	}
	if _, err := resolveAlg(r, []Algorithm{RS256}, RS256); err != nil {
		return nil, err
	}

	raw, err := importViaJWX(rawJWK{
		Kty: r.Kty, N: r.N, E: r.E, D: r.D,
		P: r.P, Q: r.Q, DP: r.DP, DQ: r.DQ, QI: r.QI,
	})
	if err != nil {
		return nil, err
	}

	key := &RSAKey{kid: r.Kid}
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		if err := k.Validate(); err != nil {
			return nil, keyError("d", "inconsistent RSA private key", err)
		}
		k.Precompute()
		key.priv, key.pub = k, &k.PublicKey
	case *rsa.PublicKey:
		key.pub = k
	default:
		return nil, keyError("kty", fmt.Sprintf("unexpected key type %T", raw), nil)
	}
	if key.pub.N.BitLen() < MinRSABits {
		return nil, keyError("n", fmt.Sprintf("RSA modulus must be at least %d bits", MinRSABits), nil)
	}
	return withDefaultKid(key, &key.kid)
}

func importViaJWX(r rawJWK) (any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, keyError("", "encode JWK", err)
	}
	parsed, err := jwk.ParseKey(data)
	if err != nil {
		return nil, keyError("", "parse JWK", err)
	}
	var raw any
	if err := jwk.Export(parsed, &raw); err != nil {
		return nil, keyError("", "export JWK", err)
	}
	return raw, nil
}

func marshalViaJWX(raw any, alg Algorithm, kid string) ([]byte, error) {
	k, err := jwk.Import(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: import key: %v", ErrSerialization, err)
	}
	data, err := json.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("%w: encode key: %v", ErrSerialization, err)
	}
	var out rawJWK
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode key: %v", ErrSerialization, err)
	}
	out.Alg = string(alg)
	out.Kid = kid
	return json.Marshal(out)
}

func withDefaultKid(key Key, kid *string) (Key, error) {
	if *kid != "" {
		return key, nil
	}
	tp, err := Thumbprint(key)
	if err != nil {
		return nil, err
	}
	*kid = tp
	return key, nil
}

func decodeFixed(field, value string, size int) ([]byte, error) {
	if value == "" {
		return nil, keyError(field, "missing member", nil)
	}
	b, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, keyError(field, "invalid base64url", err)
	}
	if len(b) != size {
		return nil, keyError(field, fmt.Sprintf("expected %d bytes, got %d", size, len(b)), nil)
	}
	return b, nil
}

// parseAddress accepts a 0x-prefixed address. Mixed-case input must carry a
// valid EIP-55 checksum.
func parseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, keyError("addr", "invalid Ethereum address", nil)
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != s {
		return common.Address{}, keyError("addr", "invalid EIP-55 checksum", nil)
	}
	return addr, nil
}

func secp256k1Coordinates(pub *secp256k1.PublicKey) ([]byte, []byte) {
	u := pub.SerializeUncompressed()
	return u[1:33], u[33:65]
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the key's public
// members, base64url encoded. Address-only keys hash {addr, crv, kty}.
func Thumbprint(key Key) (string, error) {
	data, err := canonical.Marshal(key.thumbprintMembers())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	sum := sha256.Sum256(data)
	return b64(sum[:]), nil
}

// NewKey wraps a raw Go key as a Key. Accepted types are *secp256k1.PrivateKey,
// *secp256k1.PublicKey, common.Address, *ecdsa.PrivateKey and *ecdsa.PublicKey
// on P-256, *rsa.PrivateKey, *rsa.PublicKey, ed25519.PrivateKey and
// ed25519.PublicKey. alg selects between ES256K and EIP191 for secp256k1 keys
// and is otherwise optional. An empty kid is replaced by the thumbprint.
func NewKey(raw any, alg Algorithm, kid string) (Key, error) {
	var key Key
	switch k := raw.(type) {
	case *secp256k1.PrivateKey:
		sk := &Secp256k1Key{kid: kid, pub: k.PubKey(), priv: k}
		if err := sk.setAlg(alg); err != nil {
			return nil, err
		}
		key = sk
	case *secp256k1.PublicKey:
		sk := &Secp256k1Key{kid: kid, pub: k}
		if err := sk.setAlg(alg); err != nil {
			return nil, err
		}
		key = sk
	case common.Address:
		if alg == "" {
			alg = EIP191
		}
		if alg != EIP191 && alg != ES256K {
			return nil, newError(ErrUnsupportedAlgorithm, "alg", string(alg)+" is not valid for an address-only key", nil)
		}
		key = &EOAKey{kid: kid, alg: alg, addr: k}
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, keyError("crv", "only P-256 ECDSA keys are supported", nil)
		}
		key = &P256Key{kid: kid, pub: &k.PublicKey, priv: k}
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, keyError("crv", "only P-256 ECDSA keys are supported", nil)
		}
		key = &P256Key{kid: kid, pub: k}
	case *rsa.PrivateKey:
		if k.N.BitLen() < MinRSABits {
			return nil, keyError("n", fmt.Sprintf("RSA modulus must be at least %d bits", MinRSABits), nil)
		}
		key = &RSAKey{kid: kid, pub: &k.PublicKey, priv: k}
	case *rsa.PublicKey:
		if k.N.BitLen() < MinRSABits {
			return nil, keyError("n", fmt.Sprintf("RSA modulus must be at least %d bits", MinRSABits), nil)
		}
		key = &RSAKey{kid: kid, pub: k}
	case ed25519.PrivateKey:
		if len(k) != ed25519.PrivateKeySize {
			return nil, keyError("d", "invalid Ed25519 private key size", nil)
		}
		key = &Ed25519Key{kid: kid, pub: k.Public().(ed25519.PublicKey), priv: k}
	case ed25519.PublicKey:
		if len(k) != ed25519.PublicKeySize {
			return nil, keyError("x", "invalid Ed25519 public key size", nil)
		}
		key = &Ed25519Key{kid: kid, pub: k}
	default:
		return nil, keyError("", fmt.Sprintf("unsupported key type %T", raw), nil)
	}

	if alg != "" && !key.supports(alg) {
		return nil, newError(ErrUnsupportedAlgorithm, "alg", fmt.Sprintf("%s is not valid for %T", alg, key), nil)
	}
	if kid != "" {
		return key, nil
	}
	tp, err := Thumbprint(key)
	if err != nil {
		return nil, err
	}
	return setKid(key, tp), nil
}

func (k *Secp256k1Key) setAlg(alg Algorithm) error {
	switch alg {
	case "", ES256K:
		k.alg = ES256K
	case EIP191:
		k.alg = EIP191
		addr := k.Address()
		k.addr = &addr
	default:
		return newError(ErrUnsupportedAlgorithm, "alg", string(alg)+" is not valid for a secp256k1 key", nil)
	}
	return nil
}

func setKid(key Key, kid string) Key {
	switch k := key.(type) {
	case *Secp256k1Key:
		k.kid = kid
	case *EOAKey:
		k.kid = kid
	case *P256Key:
		k.kid = kid
	case *Ed25519Key:
		k.kid = kid
	case *RSAKey:
		k.kid = kid
	}
	return key
}

// GenerateKey creates a fresh private key for alg. EIP191 keys carry their
// Ethereum address.
func GenerateKey(alg Algorithm) (Key, error) {
	var raw any
	switch alg {
	case ES256K, EIP191:
		k, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, keyError("", "generate secp256k1 key", err)
		}
		raw = k
	case ES256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, keyError("", "generate P-256 key", err)
		}
		raw = k
	case RS256:
		k, err := rsa.GenerateKey(rand.Reader, MinRSABits)
		if err != nil {
			return nil, keyError("", "generate RSA key", err)
		}
		raw = k
	case EDDSA:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, keyError("", "generate Ed25519 key", err)
		}
		raw = k
	default:
		return nil, newError(ErrUnsupportedAlgorithm, "alg", string(alg), nil)
	}
	return NewKey(raw, alg, "")
}

// PrivateKeyFromHex loads a raw 32-byte Ethereum private key, with or without
// a 0x prefix. alg must be EIP191 or ES256K; empty selects EIP191.
func PrivateKeyFromHex(hexKey string, alg Algorithm, kid string) (*Secp256k1Key, error) {
	if alg == "" {
		alg = EIP191
	}
	if alg != EIP191 && alg != ES256K {
		return nil, newError(ErrUnsupportedAlgorithm, "alg", string(alg)+" cannot use an Ethereum private key", nil)
	}
	ek, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, keyError("d", "private key is not a valid 32-byte hex string", err)
	}
	d := ethcrypto.FromECDSA(ek)
	defer security.ZeroBytes(d)
	security.ZeroBigInt(ek.D)

	key, err := NewKey(secp256k1.PrivKeyFromBytes(d), alg, kid)
	if err != nil {
		return nil, err
	}
	return key.(*Secp256k1Key), nil
}

// JWK carries a public Key inside a JSON document, such as the cnf claim.
type JWK struct {
	Key Key
}

func (j JWK) MarshalJSON() ([]byte, error) {
	if j.Key == nil {
		return []byte("null"), nil
	}
	return j.Key.Public().MarshalJSON()
}

func (j *JWK) UnmarshalJSON(data []byte) error {
	key, err := ParseJWK(data)
	if err != nil {
		return err
	}
	if key.IsPrivate() {
		return keyError("d", "embedded keys must be public", nil)
	}
	j.Key = key
	return nil
}

// KeySet is an ordered set of keys addressed by kid.
type KeySet struct {
	keys []Key
}

// NewKeySet builds a set from keys. Duplicate kids are rejected.
func NewKeySet(keys ...Key) (*KeySet, error) {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k.KeyID()]; dup {
			return nil, keyError("kid", fmt.Sprintf("duplicate kid %q", k.KeyID()), nil)
		}
		seen[k.KeyID()] = struct{}{}
	}
	return &KeySet{keys: slices.Clone(keys)}, nil
}

// ParseJWKSet parses {"keys": [...]}.
func ParseJWKSet(data []byte) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, keyError("keys", "invalid JWK set JSON", err)
	}
	if doc.Keys == nil {
		return nil, keyError("keys", "missing keys member", nil)
	}
	keys := make([]Key, 0, len(doc.Keys))
	var errs []error
	for i, raw := range doc.Keys {
		k, err := ParseJWK(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("key %d: %w", i, err))
			continue
		}
		keys = append(keys, k)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewKeySet(keys...)
}

// Lookup returns the key with the given kid.
func (s *KeySet) Lookup(kid string) (Key, bool) {
	for _, k := range s.keys {
		if k.KeyID() == kid {
			return k, true
		}
	}
	return nil, false
}

// Keys returns the keys in insertion order.
func (s *KeySet) Keys() []Key {
	return slices.Clone(s.keys)
}

func (s *KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Keys []Key `json:"keys"`
	}{Keys: s.keys})
}
