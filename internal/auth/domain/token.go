package domain

import "time"

type TokenKind string

const (
	TokenKindInteractive TokenKind = "interactive"
	TokenKindMachine     TokenKind = "machine"
)

// InteractiveTokenName is the name given to every user-via-client token.
const InteractiveTokenName = "interactive"

// AccessToken models the stored bearer token row. Only fingerprints of the
// access and refresh strings are ever persisted.
type AccessToken struct {
	ID               string
	UserID           string
	ClientID         string
	Name             string
	Kind             TokenKind
	TokenHash        string
	RefreshTokenHash string // empty for machine tokens
	Scopes           []string
	SourceIP         string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time
	LastUsedAt       *time.Time
	ParentHash       string // refresh lineage
}

// Expired reports whether the access half is past its expiry.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshExpired reports whether the refresh half is unusable at now.
func (t AccessToken) RefreshExpired(now time.Time) bool {
	return t.RefreshExpiresAt == nil || !now.Before(*t.RefreshExpiresAt)
}

// TokenPair is what issuance and refresh return. Plaintext values are
// disclosed exactly once, here.
type TokenPair struct {
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token,omitempty"`
	TokenType        string     `json:"token_type"`
	ExpiresIn        int64      `json:"expires_in"` // seconds until expiry
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Scopes           []string   `json:"scopes"`
}

// RotationResult is returned by a device session rotation.
type RotationResult struct {
	Token              string    `json:"token"`
	ExpiresAt          time.Time `json:"expires_at"`
	GracePeriodSeconds int64     `json:"grace_period_seconds"`
}
