package webauthnx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/fxamacker/cbor/v2"
)

var ErrUnsupportedKey = errors.New("unsupported_cose_key")

// COSE key parameters.
const (
	coseKty = 1
	coseAlg = 3

	ktyOKP = 1
	ktyEC2 = 2
	ktyRSA = 3

	crvP256    = 1
	crvEd25519 = 6
)

// PublicKey is a parsed COSE_Key.
type PublicKey struct {
	Alg int
	Key any // *ecdsa.PublicKey, ed25519.PublicKey or *rsa.PublicKey
}

// ParsePublicKey decodes a COSE_Key map.
func ParsePublicKey(raw []byte) (PublicKey, error) {
	var m map[int]cbor.RawMessage
	if err := cborDec.Unmarshal(raw, &m); err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var kty, alg int
	if err := intParam(m, coseKty, &kty); err != nil {
		return PublicKey{}, err
	}
	if err := intParam(m, coseAlg, &alg); err != nil {
		return PublicKey{}, err
	}

	switch kty {
	case ktyEC2:
		var crv int
		var x, y []byte
		if err := firstErr(intParam(m, -1, &crv), bytesParam(m, -2, &x), bytesParam(m, -3, &y)); err != nil {
			return PublicKey{}, err
		}
		if crv != crvP256 || alg != AlgES256 {
			return PublicKey{}, fmt.Errorf("%w: ec2 crv=%d alg=%d", ErrUnsupportedKey, crv, alg)
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
		if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
			return PublicKey{}, fmt.Errorf("%w: point not on curve", ErrMalformed)
		}
		return PublicKey{Alg: alg, Key: pub}, nil

	case ktyOKP:
		var crv int
		var x []byte
		if err := firstErr(intParam(m, -1, &crv), bytesParam(m, -2, &x)); err != nil {
			return PublicKey{}, err
		}
		if crv != crvEd25519 || alg != AlgEdDSA || len(x) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: okp crv=%d alg=%d", ErrUnsupportedKey, crv, alg)
		}
		return PublicKey{Alg: alg, Key: ed25519.PublicKey(x)}, nil

	case ktyRSA:
		var n, e []byte
		if err := firstErr(bytesParam(m, -1, &n), bytesParam(m, -2, &e)); err != nil {
			return PublicKey{}, err
		}
		if alg != AlgRS256 {
			return PublicKey{}, fmt.Errorf("%w: rsa alg=%d", ErrUnsupportedKey, alg)
		}
		exp := new(big.Int).SetBytes(e)
		if !exp.IsInt64() || exp.Int64() < 3 {
			return PublicKey{}, fmt.Errorf("%w: rsa exponent", ErrMalformed)
		}
		return PublicKey{Alg: alg, Key: &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}}, nil
	}

	return PublicKey{}, fmt.Errorf("%w: kty=%d", ErrUnsupportedKey, kty)
}

// VerifyAssertion checks an assertion signature over
// authData || SHA-256(clientDataJSON).
func VerifyAssertion(coseKey, authData, clientDataJSON, sig []byte) error {
	pk, err := ParsePublicKey(coseKey)
	if err != nil {
		return err
	}

	cdHash := sha256.Sum256(clientDataJSON)
	signed := make([]byte, 0, len(authData)+len(cdHash))
	signed = append(signed, authData...)
	signed = append(signed, cdHash[:]...)

	switch k := pk.Key.(type) {
	case *ecdsa.PublicKey:
		return cryptox.VerifyES256(k, signed, sig)
	case ed25519.PublicKey:
		return cryptox.VerifyEdDSA(k, signed, sig)
	case *rsa.PublicKey:
		return cryptox.VerifyRS256(k, signed, sig)
	}
	return ErrUnsupportedKey
}

func intParam(m map[int]cbor.RawMessage, label int, dst *int) error {
	raw, ok := m[label]
	if !ok {
		return fmt.Errorf("%w: missing cose param %d", ErrMalformed, label)
	}
	if err := cborDec.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: cose param %d: %v", ErrMalformed, label, err)
	}
	return nil
}

func bytesParam(m map[int]cbor.RawMessage, label int, dst *[]byte) error {
	raw, ok := m[label]
	if !ok {
		return fmt.Errorf("%w: missing cose param %d", ErrMalformed, label)
	}
	if err := cborDec.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: cose param %d: %v", ErrMalformed, label, err)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
