package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not_found")
	ErrExpired                 = errors.New("expired")
	ErrChallengeExpired        = errors.New("challenge_expired")
	ErrChallengeMismatch       = errors.New("challenge_mismatch")
	ErrOriginMismatch          = errors.New("origin_mismatch")
	ErrInvalidCeremonyType     = errors.New("invalid_ceremony_type")
	ErrMalformedResponse       = errors.New("malformed_response")
	ErrInvalidClientData       = errors.New("invalid_client_data")
	ErrCredentialNotFound      = errors.New("credential_not_found")
	ErrReplaySuspected         = errors.New("replay_suspected")
	ErrNoOwnerPrincipal        = errors.New("no_owner_principal")
	ErrNoCredentialsRegistered = errors.New("no_credentials_registered")
	ErrInactiveClientOrUser    = errors.New("inactive_client_or_user")
	ErrInvalidRefresh          = errors.New("invalid_refresh_token")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInsufficientScope       = errors.New("insufficient_scope")
	ErrSignatureInvalid        = errors.New("signature_invalid")
	ErrCredentialExists        = errors.New("credential_exists")
	ErrUserNotVerified         = errors.New("user_not_verified")

	// ErrTransient marks infrastructure failures (store timeouts, lost
	// connections). Callers may retry; nothing retries automatically.
	ErrTransient = errors.New("transient_failure")

	// ErrRejected is the single generic error shown to external callers for
	// every authentication, refresh or ceremony failure.
	ErrRejected = errors.New("rejected")
)

var rejections = []error{
	ErrNotFound, ErrExpired, ErrChallengeExpired, ErrChallengeMismatch, ErrOriginMismatch,
	ErrInvalidCeremonyType, ErrMalformedResponse, ErrInvalidClientData, ErrCredentialNotFound,
	ErrReplaySuspected, ErrNoOwnerPrincipal, ErrNoCredentialsRegistered, ErrInactiveClientOrUser,
	ErrInvalidRefresh, ErrInvalidClient, ErrInsufficientScope, ErrSignatureInvalid, ErrCredentialExists,
	ErrUserNotVerified,
}

// Public collapses an error into what an external caller may see: nil,
// ErrRejected or ErrTransient. Anything unrecognised is treated as an
// infrastructure failure.
func Public(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return ErrTransient
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return ErrRejected
		}
	}
	return ErrTransient
}

// transient wraps context expiry as ErrTransient and leaves everything else
// alone.
func transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
