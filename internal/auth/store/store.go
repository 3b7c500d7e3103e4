package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the durable data access interface. Concrete drivers (sqlite)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and so that transactions cannot be nested by accident.
type Store interface {
	Users() Users
	Clients() Clients
	Roles() Roles
	AccessTokens() AccessTokens
	DeviceSessions() DeviceSessions
	Credentials() Credentials

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Inside fn only
	// tx may be used.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// TTLStore holds short-lived state that expires on its own: ceremony
// challenges and rotation grace aliases. A miss is normal and reported as
// ErrNotFound.
type TTLStore interface {
	Challenges() Challenges
	GraceAliases() GraceAliases

	Close() error
	Ping(ctx context.Context) error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// SetUserActive toggles the active flag and bumps updated_at.
	SetUserActive(ctx context.Context, userID string, active bool) error

	// DeleteUser cascades to tokens, sessions and credentials (per schema).
	DeleteUser(ctx context.Context, userID string) error

	IsEmpty(ctx context.Context) (bool, error)
}

type Clients interface {
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients ordered by creation date (newest first).
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client (secret_hash may be empty for public clients).
	CreateClient(ctx context.Context, c domain.Client) error

	UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error
	UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error
	SetClientActive(ctx context.Context, clientID string, active bool) error

	// DeleteClient cascades to tokens and sessions (per schema).
	DeleteClient(ctx context.Context, clientID string) error

	IsEmpty(ctx context.Context) (bool, error)
}

type Roles interface {
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	ListAll(ctx context.Context) ([]domain.Role, error)

	// CreateRole inserts a new role (id is ULID)
	CreateRole(ctx context.Context, r domain.Role) error

	UpdateRoleScopes(ctx context.Context, roleID string, scopes []string) error
	DeleteRole(ctx context.Context, roleID string) error
	IsEmpty(ctx context.Context) (bool, error)
}

type AccessTokens interface {
	// CreateAccessToken inserts a token row. A hash collision returns
	// ErrAlreadyExists.
	CreateAccessToken(ctx context.Context, t domain.AccessToken) error

	// GetAccessTokenByHash returns the row whose access hash matches and
	// whose expires_at is after now.
	GetAccessTokenByHash(ctx context.Context, hash string, now time.Time) (domain.AccessToken, error)

	// TouchAccessToken records last use.
	TouchAccessToken(ctx context.Context, id string, at time.Time) error

	// ConsumeByRefreshHash deletes the interactive row carrying the refresh
	// hash and returns it. Of two concurrent callers exactly one gets the row.
	ConsumeByRefreshHash(ctx context.Context, refreshHash string) (domain.AccessToken, error)

	// DeleteInteractive removes every interactive token for (user, client).
	DeleteInteractive(ctx context.Context, userID, clientID string) (int64, error)

	// DeleteByName removes the named token for (user, client).
	DeleteByName(ctx context.Context, userID, clientID, name string) (int64, error)

	// DeleteByHash removes the row whose access or refresh hash matches.
	DeleteByHash(ctx context.Context, hash string) (int64, error)

	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes rows that can no longer be used for access or
	// refresh.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type DeviceSessions interface {
	CreateDeviceSession(ctx context.Context, s domain.DeviceSession) error
	GetDeviceSessionByID(ctx context.Context, id string) (domain.DeviceSession, error)

	// GetDeviceSessionByHash matches the current token hash only.
	GetDeviceSessionByHash(ctx context.Context, hash string) (domain.DeviceSession, error)

	// RotateDeviceSession swaps the current hash if it still equals oldHash.
	// A lost race returns ErrNotFound.
	RotateDeviceSession(ctx context.Context, id, oldHash, newHash string, rotatedAt, expiresAt time.Time) error

	ListDeviceSessionsForUser(ctx context.Context, userID string) ([]domain.DeviceSession, error)
	DeleteDeviceSession(ctx context.Context, id string) error

	// DeleteExpiredDeviceSessions removes sessions past either expiry and
	// returns their ids.
	DeleteExpiredDeviceSessions(ctx context.Context, now time.Time) ([]string, error)
}

type Credentials interface {
	// CreateCredential inserts a credential. A duplicate (user,
	// credential id) returns ErrAlreadyExists.
	CreateCredential(ctx context.Context, c domain.Credential) error

	GetCredential(ctx context.Context, userID, credentialID string) (domain.Credential, error)
	ListCredentialsForUser(ctx context.Context, userID string) ([]domain.Credential, error)

	// AdvanceSignCount sets sign_count only if newCount is strictly greater
	// than the stored value. No row updated returns ErrNotFound.
	AdvanceSignCount(ctx context.Context, id string, newCount uint32, usedAt time.Time) error

	// TouchCredential records last use without touching sign_count.
	TouchCredential(ctx context.Context, id string, usedAt time.Time) error

	DeleteCredential(ctx context.Context, userID, credentialID string) error
}

type Challenges interface {
	// PutChallenge stores value under (user, kind), replacing any previous
	// challenge for the same pair.
	PutChallenge(ctx context.Context, userID string, kind domain.CeremonyKind, value []byte, ttl time.Duration) error

	// ConsumeChallenge atomically reads and deletes the challenge.
	ConsumeChallenge(ctx context.Context, userID string, kind domain.CeremonyKind) ([]byte, error)
}

type GraceAliases interface {
	// PutGraceAlias maps hash to sessionID for ttl, removing any older alias
	// of the same session, and records next as the hash that replaces it.
	// It returns ErrNotFound without changes when another rotation has
	// already claimed the session away from hash.
	PutGraceAlias(ctx context.Context, sessionID, hash, next string, ttl time.Duration) error

	// ReleaseGraceAlias drops the session's alias if next is still its
	// recorded successor. Used when the swap after PutGraceAlias fails.
	ReleaseGraceAlias(ctx context.Context, sessionID, next string) error

	// GetGraceAlias resolves a hash to a session id while its TTL lasts.
	GetGraceAlias(ctx context.Context, hash string) (string, error)

	DeleteGraceAliases(ctx context.Context, sessionID string) error
}
