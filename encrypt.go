package authsig

import (
	"encoding/json"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/cybergodev/authsig/internal/core"
)

// JWE algorithms used by RSAEncrypt.
const (
	KeyEncryptionRSAOAEP256  = "RSA-OAEP-256"
	ContentEncryptionA256GCM = "A256GCM"
)

func encryptionError(message string, err error) error {
	return newError(ErrEncryptionFailure, "", message, err)
}

// RSAEncrypt seals plaintext for the holder of key as a compact JWE using
// RSA-OAEP-256 and A256GCM. The kid header is taken from key.
func RSAEncrypt(plaintext []byte, key Key) (string, error) {
	rk, ok := key.(*RSAKey)
	if !ok {
		return "", encryptionError("RSA-OAEP-256 needs an RSA key", nil)
	}

	recipient, err := jwk.Import(rk.pub)
	if err != nil {
		return "", encryptionError("import public key", err)
	}
	if err := recipient.Set(jwk.KeyIDKey, rk.kid); err != nil {
		return "", encryptionError("set kid", err)
	}

	out, err := jwe.Encrypt(plaintext,
		jwe.WithKey(jwa.RSA_OAEP_256(), recipient),
		jwe.WithContentEncryption(jwa.A256GCM()),
	)
	if err != nil {
		return "", encryptionError("encrypt", err)
	}
	return string(out), nil
}

// RSADecrypt opens a compact JWE produced by RSAEncrypt. Tokens using any
// other algorithm pair are rejected before decryption.
func RSADecrypt(token string, key Key) ([]byte, error) {
	rk, ok := key.(*RSAKey)
	if !ok || rk.priv == nil {
		return nil, encryptionError("RSA-OAEP-256 decryption needs an RSA private key", nil)
	}

	segments := strings.Split(token, ".")
	if len(segments) != 5 {
		return nil, encryptionError("compact JWE must have five segments", nil)
	}
	headerJSON, err := core.DecodeSegment(segments[0])
	if err != nil {
		return nil, encryptionError("decode protected header", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Enc string `json:"enc"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, encryptionError("parse protected header", err)
	}
	if header.Alg != KeyEncryptionRSAOAEP256 || header.Enc != ContentEncryptionA256GCM {
		return nil, encryptionError("unexpected alg "+header.Alg+" / enc "+header.Enc, nil)
	}

	plaintext, err := jwe.Decrypt([]byte(token), jwe.WithKey(jwa.RSA_OAEP_256(), rk.priv))
	if err != nil {
		return nil, encryptionError("decrypt", err)
	}
	return plaintext, nil
}
