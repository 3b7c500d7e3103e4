package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/audit"
	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/metrics"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/aussiebroadwan/tillauth/pkg/idx"
	"github.com/aussiebroadwan/tillauth/pkg/slogx"
)

// SessionService manages long-lived device sessions whose token is rotated
// in place. After a rotation the previous token keeps working for
// GracePeriod through an alias in the TTL store, and never again after.
type SessionService struct {
	Store        store.Store
	TTL          store.TTLStore
	Audit        audit.Emitter
	Metrics      *metrics.Metrics
	Prefix       string
	SessionTTL   time.Duration
	MaxLifetime  time.Duration
	GracePeriod  time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Open creates a device session and returns it with its first token.
func (s *SessionService) Open(
	ctx context.Context,
	userID, clientID, deviceName string,
) (domain.DeviceSession, *domain.RotationResult, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	now := nowOr(s.Now)
	plain, hash, err := cryptox.NewBearerToken(s.prefix(), cryptox.TagSession)
	if err != nil {
		return domain.DeviceSession{}, nil, err
	}

	maxAt := now.Add(orDefault(s.MaxLifetime, DefaultSessionMaxAge))
	sess := domain.DeviceSession{
		ID:            idx.NewAt(now).String(),
		UserID:        userID,
		ClientID:      clientID,
		DeviceName:    deviceName,
		TokenHash:     hash,
		ExpiresAt:     s.nextExpiry(now, maxAt),
		MaxLifetimeAt: maxAt,
		CreatedAt:     now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, _, err := loadActivePair(ctx, tx, userID, clientID); err != nil {
			return err
		}
		return tx.DeviceSessions().CreateDeviceSession(ctx, sess)
	})
	if err != nil {
		return domain.DeviceSession{}, nil, transient(err)
	}

	s.emit(audit.Event{Type: audit.EventSessionOpened, UserID: userID, ClientID: clientID, SessionID: sess.ID})
	return sess, &domain.RotationResult{Token: plain, ExpiresAt: sess.ExpiresAt}, nil
}

// Rotate issues a new token for session. The outgoing hash is written as
// the grace alias before the swap so there is no instant at which neither
// token works. The alias write claims the session: a rotation that started
// from the same hash and lost the claim, a stale copy, a revoked session or
// one past its rolling expiry or absolute lifetime yields ErrNotFound.
func (s *SessionService) Rotate(ctx context.Context, session domain.DeviceSession) (*domain.RotationResult, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	l := slogx.FromContext(ctx)

	current, err := s.Store.DeviceSessions().GetDeviceSessionByID(ctx, session.ID)
	if err != nil {
		s.Metrics.Rotation(false)
		return nil, transient(mapNotFound(err))
	}
	now := nowOr(s.Now)
	// A stale copy must not put a rotated-out hash back into grace.
	if current.TokenHash != session.TokenHash || current.Expired(now) || s.IsMaxLifetimeExceeded(current, now) {
		s.Metrics.Rotation(false)
		return nil, ErrNotFound
	}
	session = current

	plain, hash, err := cryptox.NewBearerToken(s.prefix(), cryptox.TagSession)
	if err != nil {
		return nil, err
	}

	grace := orDefault(s.GracePeriod, DefaultGracePeriod)
	aliases := s.TTL.GraceAliases()
	if err := aliases.PutGraceAlias(ctx, session.ID, session.TokenHash, hash, grace); err != nil {
		s.Metrics.Rotation(false)
		if errors.Is(err, store.ErrNotFound) {
			l.Info("session rotation lost grace claim", slog.String("session_id", session.ID))
			return nil, ErrNotFound
		}
		return nil, transient(err)
	}

	expiresAt := s.nextExpiry(now, session.MaxLifetimeAt)
	err = s.Store.DeviceSessions().RotateDeviceSession(ctx, session.ID, session.TokenHash, hash, now, expiresAt)
	if err != nil {
		s.Metrics.Rotation(false)
		if rerr := aliases.ReleaseGraceAlias(context.WithoutCancel(ctx), session.ID, hash); rerr != nil {
			l.Warn("failed to release grace alias", slog.String("session_id", session.ID), slog.Any("error", rerr))
		}
		if errors.Is(err, store.ErrNotFound) {
			l.Info("session rotation lost compare-and-swap", slog.String("session_id", session.ID))
			return nil, ErrNotFound
		}
		return nil, transient(err)
	}

	s.Metrics.Rotation(true)
	s.emit(audit.Event{
		Type:      audit.EventSessionRotated,
		UserID:    session.UserID,
		ClientID:  session.ClientID,
		SessionID: session.ID,
	})
	return &domain.RotationResult{
		Token:              plain,
		ExpiresAt:          expiresAt,
		GracePeriodSeconds: int64(grace.Seconds()),
	}, nil
}

// Lookup resolves a presented session token: the current token first, then
// a grace alias.
func (s *SessionService) Lookup(ctx context.Context, token string) (domain.DeviceSession, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	sess, err := s.Store.DeviceSessions().GetDeviceSessionByHash(ctx, cryptox.FingerprintToken(token))
	if err == nil {
		return s.checkLive(sess)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.DeviceSession{}, transient(err)
	}
	return s.findByGrace(ctx, token)
}

// FindByGraceToken resolves a pre-rotation token while its grace alias
// lasts. This is the only path by which a rotated-out token is accepted.
func (s *SessionService) FindByGraceToken(ctx context.Context, token string) (domain.DeviceSession, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.findByGrace(ctx, token)
}

func (s *SessionService) findByGrace(ctx context.Context, token string) (domain.DeviceSession, error) {
	id, err := s.TTL.GraceAliases().GetGraceAlias(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		return domain.DeviceSession{}, transient(mapNotFound(err))
	}
	sess, err := s.Store.DeviceSessions().GetDeviceSessionByID(ctx, id)
	if err != nil {
		return domain.DeviceSession{}, transient(mapNotFound(err))
	}
	return s.checkLive(sess)
}

func (s *SessionService) checkLive(sess domain.DeviceSession) (domain.DeviceSession, error) {
	now := nowOr(s.Now)
	if sess.Expired(now) || s.IsMaxLifetimeExceeded(sess, now) {
		return domain.DeviceSession{}, ErrExpired
	}
	return sess, nil
}

// IsMaxLifetimeExceeded reports whether the session's absolute ceiling has
// passed at now, regardless of rotations.
func (s *SessionService) IsMaxLifetimeExceeded(session domain.DeviceSession, now time.Time) bool {
	return session.MaxLifetimeExceeded(now)
}

// Revoke deletes a session. Its grace alias is removed best-effort; a
// leftover alias cannot resolve once the session row is gone.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	if err := s.Store.DeviceSessions().DeleteDeviceSession(ctx, sessionID); err != nil {
		return transient(mapNotFound(err))
	}
	if err := s.TTL.GraceAliases().DeleteGraceAliases(ctx, sessionID); err != nil {
		slogx.FromContext(ctx).Warn("failed to delete grace alias", slog.String("session_id", sessionID), slog.Any("error", err))
	}

	s.emit(audit.Event{Type: audit.EventSessionRevoked, SessionID: sessionID})
	return nil
}

func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]domain.DeviceSession, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	sessions, err := s.Store.DeviceSessions().ListDeviceSessionsForUser(ctx, userID)
	return sessions, transient(err)
}

// nextExpiry extends the rolling expiry without passing the ceiling.
func (s *SessionService) nextExpiry(now, maxAt time.Time) time.Time {
	exp := now.Add(orDefault(s.SessionTTL, DefaultSessionTTL))
	if exp.After(maxAt) {
		return maxAt
	}
	return exp
}

func (s *SessionService) prefix() string {
	if s.Prefix == "" {
		return DefaultTokenPrefix
	}
	return s.Prefix
}

func (s *SessionService) emit(e audit.Event) {
	if s.Audit != nil {
		s.Audit.Emit(e)
	}
}
