package service

import "github.com/aussiebroadwan/tillauth/internal/auth/domain"

// checkSignCount applies the signature counter rule. A zero counter is
// accepted unconditionally: some authenticators never increment, so for
// them there is no replay protection from the counter.
func checkSignCount(stored, presented uint32) error {
	if presented == 0 {
		return nil
	}
	if presented <= stored {
		return ErrReplaySuspected
	}
	return nil
}

// ReplayGuard exposes the counter rule for a stored credential.
type ReplayGuard struct{}

// Check returns ErrReplaySuspected when presented does not advance the
// credential's stored counter.
func (ReplayGuard) Check(c domain.Credential, presented uint32) error {
	return checkSignCount(c.SignCount, presented)
}
