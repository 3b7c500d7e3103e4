// Package webauthntest provides a software authenticator that produces
// registration and assertion responses for tests.
package webauthntest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/aussiebroadwan/tillauth/pkg/webauthnx"
	"github.com/fxamacker/cbor/v2"
)

// encMode sorts map keys so COSE keys and attestation objects encode to
// the same bytes every time, as an authenticator's would.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("webauthntest: cbor encoder: " + err.Error())
	}
}

// Authenticator is an ES256 platform authenticator with its own counter.
type Authenticator struct {
	RPID         string
	Origin       string
	CredentialID []byte
	AAGUID       [16]byte
	Counter      uint32

	// SkipUserVerification clears the UV flag, as an authenticator that
	// only tested presence would.
	SkipUserVerification bool

	key *ecdsa.PrivateKey
}

// New creates an authenticator with a fresh P-256 key and a random
// 16-byte credential id.
func New(rpID, origin string) *Authenticator {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	id := make([]byte, 16)
	_, _ = rand.Read(id)

	return &Authenticator{
		RPID:         rpID,
		Origin:       origin,
		CredentialID: id,
		AAGUID:       [16]byte{0xad, 0xce, 0x00, 0x02, 0x35, 0xbc, 0xc6, 0x0a, 0x64, 0x8b, 0x0b, 0x25, 0xf1, 0xf0, 0x55, 0x03},
		key:          key,
	}
}

// CredentialIDString is the base64url credential id.
func (a *Authenticator) CredentialIDString() string {
	return webauthnx.EncodeURL(a.CredentialID)
}

// COSEKey returns the EC2 COSE encoding of the public key.
func (a *Authenticator) COSEKey() []byte {
	x := a.key.X.FillBytes(make([]byte, 32))
	y := a.key.Y.FillBytes(make([]byte, 32))
	b, err := encMode.Marshal(map[int]any{1: 2, 3: webauthnx.AlgES256, -1: 1, -2: x, -3: y})
	if err != nil {
		panic(err)
	}
	return b
}

// ClientData builds clientDataJSON for the given ceremony type and challenge.
func (a *Authenticator) ClientData(typ, challenge string) []byte {
	b, _ := json.Marshal(webauthnx.ClientData{Type: typ, Challenge: challenge, Origin: a.Origin})
	return b
}

// AuthData builds authenticator data with the UP flag, the UV flag unless
// skipped, and the given counter. With attested set, the credential and
// key are appended.
func (a *Authenticator) AuthData(counter uint32, attested bool) []byte {
	rp := sha256.Sum256([]byte(a.RPID))
	b := append([]byte{}, rp[:]...)

	flags := webauthnx.FlagUserPresent
	if !a.SkipUserVerification {
		flags |= webauthnx.FlagUserVerified
	}
	if attested {
		flags |= webauthnx.FlagAttestedData
	}
	b = append(b, flags)
	b = binary.BigEndian.AppendUint32(b, counter)

	if attested {
		b = append(b, a.AAGUID[:]...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(a.CredentialID)))
		b = append(b, a.CredentialID...)
		b = append(b, a.COSEKey()...)
	}
	return b
}

// Register answers a CreationOptions challenge with a "none" attestation.
func (a *Authenticator) Register(challenge string) webauthnx.RegistrationResponse {
	obj, err := encMode.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.AuthData(a.Counter, true),
	})
	if err != nil {
		panic(err)
	}
	id := a.CredentialIDString()
	return webauthnx.RegistrationResponse{
		ID:    id,
		RawID: id,
		Response: webauthnx.AttestationResponse{
			ClientDataJSON:    webauthnx.EncodeURL(a.ClientData(webauthnx.TypeCreate, challenge)),
			AttestationObject: webauthnx.EncodeURL(obj),
		},
		AuthenticatorAttachment: "platform",
	}
}

// Assert signs a RequestOptions challenge. A non-zero counter is advanced
// before signing, mirroring a real authenticator.
func (a *Authenticator) Assert(challenge string) webauthnx.AuthenticationResponse {
	if a.Counter != 0 {
		a.Counter++
	}
	return a.AssertWith(webauthnx.TypeGet, challenge, a.Counter)
}

// AssertWith signs an assertion with an explicit type and counter.
func (a *Authenticator) AssertWith(typ, challenge string, counter uint32) webauthnx.AuthenticationResponse {
	cd := a.ClientData(typ, challenge)
	ad := a.AuthData(counter, false)

	h := sha256.Sum256(cd)
	digest := sha256.Sum256(append(append([]byte{}, ad...), h[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		panic(err)
	}

	return webauthnx.AuthenticationResponse{
		ID: a.CredentialIDString(),
		Response: webauthnx.AssertionResponse{
			ClientDataJSON:    webauthnx.EncodeURL(cd),
			AuthenticatorData: webauthnx.EncodeURL(ad),
			Signature:         webauthnx.EncodeURL(sig),
		},
	}
}
