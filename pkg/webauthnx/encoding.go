package webauthnx

import (
	"encoding/base64"
	"strings"
)

// EncodeURL encodes b as unpadded base64url.
func EncodeURL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeURL decodes base64url with or without padding. Browsers differ on
// whether they pad.
func DecodeURL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
