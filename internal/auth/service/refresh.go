package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/tillauth/internal/auth/audit"
	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/aussiebroadwan/tillauth/pkg/slogx"
)

// Refresh redeems a refresh token for a new pair. The presented pair is
// consumed whatever the outcome: an unknown, expired or orphaned token is
// deleted and the caller gets ErrInvalidRefresh, with no hint as to which.
//
// The old row is removed with DELETE ... RETURNING, so of two concurrent
// redemptions of the same token exactly one sees it.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, sourceIP string) (*domain.TokenPair, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	l := slogx.FromContext(ctx)

	now := nowOr(s.Now)
	hash := cryptox.FingerprintToken(refreshToken)

	var (
		pair   *domain.TokenPair
		old    domain.AccessToken
		reason string
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		old, err = tx.AccessTokens().ConsumeByRefreshHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			reason = "unknown"
			return nil
		}
		if err != nil {
			return err
		}

		// From here on a rejection still commits, keeping the row deleted.
		if old.RefreshExpired(now) {
			reason = "expired"
			return nil
		}

		user, client, err := loadActivePair(ctx, tx, old.UserID, old.ClientID)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInactiveClientOrUser) {
			reason = "inactive"
			return nil
		}
		if err != nil {
			return err
		}

		// An empty prior grant stays empty rather than widening to the
		// client's full set.
		scopes := []string{}
		if len(old.Scopes) > 0 {
			scopes = ResolveScopes(old.Scopes, client.Scopes)
		}

		pair, err = s.issueInteractive(ctx, tx, user, client, scopes, sourceIP, old.RefreshTokenHash)
		return err
	})
	if err != nil {
		l.Error("refresh failed", slog.Any("error", err))
		s.Metrics.Refresh(false)
		return nil, transient(err)
	}

	if pair == nil {
		l.Info("refresh rejected", slog.String("reason", reason))
		s.Metrics.Refresh(false)
		s.emit(audit.Event{
			Type:      audit.EventRefreshRejected,
			UserID:    old.UserID,
			ClientID:  old.ClientID,
			IPAddress: sourceIP,
			Details:   map[string]any{"reason": reason},
		})
		return nil, ErrInvalidRefresh
	}

	s.Metrics.Refresh(true)
	s.emit(audit.Event{
		Type:      audit.EventTokenRefreshed,
		UserID:    old.UserID,
		ClientID:  old.ClientID,
		IPAddress: sourceIP,
	})
	return pair, nil
}
