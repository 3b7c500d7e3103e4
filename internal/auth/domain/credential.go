package domain

import "time"

type DeviceClass string

const (
	DeviceClassPlatform      DeviceClass = "platform"
	DeviceClassCrossPlatform DeviceClass = "cross-platform"
)

// Credential is a registered WebAuthn public key credential.
type Credential struct {
	ID           string
	UserID       string
	CredentialID string // base64url, unique per user
	PublicKey    []byte // COSE_Key
	SignCount    uint32
	AAGUID       string
	Label        string
	DeviceClass  DeviceClass
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}
