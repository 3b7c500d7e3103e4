package webauthnx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var ErrMalformed = errors.New("malformed_authenticator_data")

// Authenticator data flags.
const (
	FlagUserPresent  byte = 0x01
	FlagUserVerified byte = 0x04
	FlagAttestedData byte = 0x40
	FlagExtensions   byte = 0x80
)

const (
	rpIDHashLen   = 32
	flagsOffset   = 32
	counterOffset = 33
	minAuthData   = 37
	aaguidLen     = 16
)

// AuthenticatorData is the parsed authData structure.
type AuthenticatorData struct {
	RPIDHash  []byte
	Flags     byte
	SignCount uint32

	// Present only when FlagAttestedData is set.
	AAGUID       string
	CredentialID []byte
	PublicKey    []byte
}

func (a AuthenticatorData) UserPresent() bool { return a.Flags&FlagUserPresent != 0 }
func (a AuthenticatorData) UserVerified() bool { return a.Flags&FlagUserVerified != 0 }

// ParseAuthenticatorData parses the fixed header and, when flagged, the
// attested credential data.
func ParseAuthenticatorData(b []byte) (AuthenticatorData, error) {
	if len(b) < minAuthData {
		return AuthenticatorData{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}

	ad := AuthenticatorData{
		RPIDHash:  b[:rpIDHashLen],
		Flags:     b[flagsOffset],
		SignCount: binary.BigEndian.Uint32(b[counterOffset:minAuthData]),
	}
	if ad.Flags&FlagAttestedData == 0 {
		return ad, nil
	}

	rest := b[minAuthData:]
	if len(rest) < aaguidLen+2 {
		return AuthenticatorData{}, fmt.Errorf("%w: truncated attested data", ErrMalformed)
	}
	id, err := uuid.FromBytes(rest[:aaguidLen])
	if err != nil {
		return AuthenticatorData{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if id != uuid.Nil {
		ad.AAGUID = id.String()
	}
	rest = rest[aaguidLen:]

	credLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if credLen == 0 || len(rest) < credLen {
		return AuthenticatorData{}, fmt.Errorf("%w: bad credential id length", ErrMalformed)
	}
	ad.CredentialID = rest[:credLen]
	rest = rest[credLen:]

	// The COSE key is a single CBOR item; extensions may follow it.
	var key cbor.RawMessage
	if _, err := cborDec.UnmarshalFirst(rest, &key); err != nil {
		return AuthenticatorData{}, fmt.Errorf("%w: public key: %v", ErrMalformed, err)
	}
	if _, err := ParsePublicKey(key); err != nil {
		return AuthenticatorData{}, err
	}
	ad.PublicKey = []byte(key)

	return ad, nil
}
