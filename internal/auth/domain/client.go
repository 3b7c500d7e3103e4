package domain

import "time"

// Client is a registered API client. Humans act through a client; a client
// can also act on its own behalf, in which case its tokens belong to the
// OwnerUserID principal.
type Client struct {
	ID          string
	Name        string
	SecretHash  string   // argon2id PHC string, empty for public clients
	Scopes      []string // allowed set; "*" allows everything
	OwnerUserID string
	Active      bool
	Protected   bool // If true, client cannot be deleted (e.g., bootstrap client)
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MachineTokenName is the deterministic name of a client's machine token.
func MachineTokenName(clientID string) string {
	return "client:" + clientID
}
