package signing

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressFromPublicKey derives the Ethereum address of a secp256k1 key.
func AddressFromPublicKey(pub *secp256k1.PublicKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub.SerializeUncompressed()[1:])[12:])
}

// EIP191Digest returns keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func EIP191Digest(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// es256kMethod signs sha256(input) with secp256k1 and a 64-byte r||s output.
type es256kMethod struct{}

func (es256kMethod) Alg() string { return "ES256K" }

func (m es256kMethod) Sign(signingInput []byte, key any) ([]byte, error) {
	k, ok := key.(*secp256k1.PrivateKey)
	if !ok {
		return nil, keyTypeError(m.Alg(), key)
	}
	digest := sha256.Sum256(signingInput)
	sig := ecdsa.Sign(k, digest[:])
	r, s := sig.R(), sig.S()
	return packRS(&r, &s), nil
}

func (m es256kMethod) Verify(signingInput, signature []byte, key any) error {
	digest := sha256.Sum256(signingInput)
	switch k := key.(type) {
	case *secp256k1.PublicKey:
		return verifyRS(m.Alg(), digest[:], signature, k)
	case common.Address:
		if len(signature) != 64 {
			return fmt.Errorf("%w: ES256K signature must be 64 bytes, got %d", ErrSignatureInvalid, len(signature))
		}
		for _, v := range []byte{0, 1} {
			pub, err := recoverCompact(digest[:], signature, v)
			if err == nil && AddressFromPublicKey(pub) == k {
				return nil
			}
		}
		return fmt.Errorf("%w: recovered address does not match %s", ErrSignatureInvalid, k.Hex())
	default:
		return keyTypeError(m.Alg(), key)
	}
}

// eip191Method signs the Ethereum personal-sign digest of the input and emits
// a 65-byte r||s||v signature with v in {27, 28}.
type eip191Method struct{}

func (eip191Method) Alg() string { return "EIP191" }

func (m eip191Method) Sign(signingInput []byte, key any) ([]byte, error) {
	k, ok := key.(*secp256k1.PrivateKey)
	if !ok {
		return nil, keyTypeError(m.Alg(), key)
	}
	compact := ecdsa.SignCompact(k, EIP191Digest(signingInput), false)
	// compact is v||r||s with v = 27 + recovery id.
	out := make([]byte, 65)
	copy(out, compact[1:])
	out[64] = compact[0]
	return out, nil
}

func (m eip191Method) Verify(signingInput, signature []byte, key any) error {
	switch key.(type) {
	case *secp256k1.PublicKey, common.Address:
	default:
		return keyTypeError(m.Alg(), key)
	}
	if len(signature) != 65 {
		return fmt.Errorf("%w: EIP191 signature must be 65 bytes, got %d", ErrSignatureInvalid, len(signature))
	}
	digest := EIP191Digest(signingInput)

	switch k := key.(type) {
	case *secp256k1.PublicKey:
		return verifyRS(m.Alg(), digest, signature[:64], k)
	case common.Address:
		recovered, err := RecoverEIP191(digest, signature)
		if err != nil {
			return err
		}
		if recovered != k {
			return fmt.Errorf("%w: recovered address %s does not match %s", ErrSignatureInvalid, recovered.Hex(), k.Hex())
		}
		return nil
	default:
		return keyTypeError(m.Alg(), key)
	}
}

// RecoverEIP191 recovers the signer address from an EIP-191 digest and a
// 65-byte r||s||v signature. v may be 0, 1, 27 or 28.
func RecoverEIP191(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature must be 65 bytes", ErrSignatureInvalid)
	}
	sig := bytes.Clone(signature)
	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrSignatureInvalid, signature[64])
	}

	pub, err := crypto.Ecrecover(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]), nil
}

func recoverCompact(digest, rs []byte, recoveryID byte) (*secp256k1.PublicKey, error) {
	compact := make([]byte, 65)
	compact[0] = 27 + recoveryID
	copy(compact[1:], rs)
	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	return pub, err
}

func packRS(r, s *secp256k1.ModNScalar) []byte {
	out := make([]byte, 64)
	rb, sb := r.Bytes(), s.Bytes()
	copy(out[:32], rb[:])
	copy(out[32:], sb[:])
	return out
}

func verifyRS(alg string, digest, signature []byte, pub *secp256k1.PublicKey) error {
	if len(signature) != 64 {
		return fmt.Errorf("%w: %s signature must be 64 bytes, got %d", ErrSignatureInvalid, alg, len(signature))
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(signature[:32]); overflow || r.IsZero() {
		return fmt.Errorf("%w: invalid r value", ErrSignatureInvalid)
	}
	if overflow := s.SetByteSlice(signature[32:]); overflow || s.IsZero() {
		return fmt.Errorf("%w: invalid s value", ErrSignatureInvalid)
	}
	if !ecdsa.NewSignature(&r, &s).Verify(digest, pub) {
		return fmt.Errorf("%w: %s", ErrSignatureInvalid, alg)
	}
	return nil
}

func init() {
	register(es256kMethod{})
	register(eip191Method{})
}
