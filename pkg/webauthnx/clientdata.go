package webauthnx

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidClientData = errors.New("invalid_client_data")

// ClientData is the decoded clientDataJSON.
type ClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin,omitempty"`
}

// ParseClientData decodes raw clientDataJSON bytes.
func ParseClientData(raw []byte) (ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return ClientData{}, fmt.Errorf("%w: %v", ErrInvalidClientData, err)
	}
	if cd.Type == "" || cd.Challenge == "" {
		return ClientData{}, fmt.Errorf("%w: missing type or challenge", ErrInvalidClientData)
	}
	return cd, nil
}

// ChallengeMatches compares the client data challenge with the issued
// challenge bytes in constant time.
func (cd ClientData) ChallengeMatches(expected []byte) bool {
	got, err := DecodeURL(cd.Challenge)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, expected) == 1
}
