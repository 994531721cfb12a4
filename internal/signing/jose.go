package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jws/jwsbb"
)

type es256Method struct{}

func (es256Method) Alg() string { return "ES256" }

func (m es256Method) Sign(signingInput []byte, key any) ([]byte, error) {
	k, ok := key.(*ecdsa.PrivateKey)
	if !ok || k.Curve != elliptic.P256() {
		return nil, keyTypeError(m.Alg(), key)
	}
	sig, err := jwsbb.SignECDSA(k, signingInput, crypto.SHA256, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ES256 sign: %w", err)
	}
	return sig, nil
}

func (m es256Method) Verify(signingInput, signature []byte, key any) error {
	k, ok := key.(*ecdsa.PublicKey)
	if !ok || k.Curve != elliptic.P256() {
		return keyTypeError(m.Alg(), key)
	}
	if len(signature) != 64 {
		return fmt.Errorf("%w: ES256 signature must be 64 bytes, got %d", ErrSignatureInvalid, len(signature))
	}
	if err := jwsbb.VerifyECDSA(k, signingInput, signature, crypto.SHA256); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

type rs256Method struct{}

func (rs256Method) Alg() string { return "RS256" }

func (m rs256Method) Sign(signingInput []byte, key any) ([]byte, error) {
	k, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, keyTypeError(m.Alg(), key)
	}
	sig, err := jwsbb.SignRSA(k, signingInput, crypto.SHA256, false, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("RS256 sign: %w", err)
	}
	return sig, nil
}

func (m rs256Method) Verify(signingInput, signature []byte, key any) error {
	k, ok := key.(*rsa.PublicKey)
	if !ok {
		return keyTypeError(m.Alg(), key)
	}
	if err := jwsbb.VerifyRSA(k, signingInput, signature, crypto.SHA256, false); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

type eddsaMethod struct{}

func (eddsaMethod) Alg() string { return "EDDSA" }

func (m eddsaMethod) Sign(signingInput []byte, key any) ([]byte, error) {
	k, ok := key.(ed25519.PrivateKey)
	if !ok || len(k) != ed25519.PrivateKeySize {
		return nil, keyTypeError(m.Alg(), key)
	}
	return jwsbb.SignEdDSA(k, signingInput)
}

func (m eddsaMethod) Verify(signingInput, signature []byte, key any) error {
	k, ok := key.(ed25519.PublicKey)
	if !ok || len(k) != ed25519.PublicKeySize {
		return keyTypeError(m.Alg(), key)
	}
	if err := jwsbb.VerifyEdDSA(k, signingInput, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func init() {
	register(es256Method{})
	register(rs256Method{})
	register(eddsaMethod{})
}
