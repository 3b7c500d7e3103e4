package webauthnx

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborDec cbor.DecMode

func init() {
	var err error
	cborDec, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
		IndefLength:     cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// AttestationObject is the decoded attestationObject. AttStmt is kept raw.
type AttestationObject struct {
	Format   string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

// ParseAttestationObject decodes the CBOR envelope and the authenticator
// data inside it. The result must carry attested credential data.
func ParseAttestationObject(raw []byte) (AttestationObject, AuthenticatorData, error) {
	var obj AttestationObject
	if err := cborDec.Unmarshal(raw, &obj); err != nil {
		return AttestationObject{}, AuthenticatorData{}, fmt.Errorf("%w: attestation object: %v", ErrMalformed, err)
	}
	if obj.Format == "" || len(obj.AuthData) == 0 {
		return AttestationObject{}, AuthenticatorData{}, fmt.Errorf("%w: missing fmt or authData", ErrMalformed)
	}

	ad, err := ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return AttestationObject{}, AuthenticatorData{}, err
	}
	if ad.CredentialID == nil {
		return AttestationObject{}, AuthenticatorData{}, fmt.Errorf("%w: no attested credential", ErrMalformed)
	}
	return obj, ad, nil
}
