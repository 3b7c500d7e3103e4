// Package audit delivers security events to a sink without ever blocking or
// failing the operation that produced them.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event type names.
const (
	EventTokenIssued          = "token_issued"
	EventMachineTokenIssued   = "machine_token_issued"
	EventTokenRefreshed       = "token_refreshed"
	EventRefreshRejected      = "refresh_rejected"
	EventTokenRevoked         = "token_revoked"
	EventAllTokensRevoked     = "all_tokens_revoked"
	EventSessionOpened        = "session_opened"
	EventSessionRotated       = "session_rotated"
	EventSessionRevoked       = "session_revoked"
	EventCredentialRegistered = "credential_registered"
	EventCredentialDeleted    = "credential_deleted"
	EventAuthenticated        = "webauthn_authenticated"
	EventCeremonyFailed       = "webauthn_ceremony_failed"
	EventReplaySuspected      = "webauthn_replay_suspected"
	EventClientAuthFailure    = "client_auth_failure"
)

type Event struct {
	Type      string
	UserID    string
	ClientID  string
	SessionID string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// Sink receives events. Implementations may be slow or fail; the queue
// absorbs both.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Emitter is what services depend on.
type Emitter interface {
	Emit(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// LogSink writes events as structured log records with the user id hashed.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Write(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "security_audit",
		"event_type", e.Type,
		"user_id_hash", hashForLogging(e.UserID),
		"client_id", e.ClientID,
		"session_id", e.SessionID,
		"ip_address", e.IPAddress,
		"details", e.Details,
		"timestamp", e.Timestamp,
	)
	return nil
}

// hashForLogging creates a short SHA256 fingerprint of sensitive data.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
