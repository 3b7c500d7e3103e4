package cryptox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
)

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("cryptox: signature verification failed")

// VerifyES256 checks an ASN.1 DER ECDSA signature over SHA-256(data).
func VerifyES256(pub *ecdsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyRS256 checks an RSASSA-PKCS1-v1_5 signature over SHA-256(data).
func VerifyRS256(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// VerifyEdDSA checks an Ed25519 signature over data.
func VerifyEdDSA(pub ed25519.PublicKey, data, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, data, sig) {
		return ErrBadSignature
	}
	return nil
}
