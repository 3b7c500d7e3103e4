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

// TokenService issues, refreshes, checks and revokes opaque bearer tokens.
type TokenService struct {
	Store        store.Store
	Audit        audit.Emitter
	Metrics      *metrics.Metrics
	Policy       *Policy // optional; narrows user grants to role capabilities
	Prefix       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// IssueForUser issues a fresh access/refresh pair for a user acting through
// a client. Any earlier interactive pair for the same (user, client) is
// deleted in the same transaction, so at most one is ever live.
func (s *TokenService) IssueForUser(
	ctx context.Context,
	userID, clientID string,
	requested []string,
	sourceIP string,
) (*domain.TokenPair, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	l := slogx.FromContext(ctx)

	var pair *domain.TokenPair
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		user, client, err := loadActivePair(ctx, tx, userID, clientID)
		if err != nil {
			return err
		}

		scopes := ResolveScopes(requested, client.Scopes)
		pair, err = s.issueInteractive(ctx, tx, user, client, scopes, sourceIP, "")
		return err
	})
	if err != nil {
		l.Info("user token issuance failed", slog.String("client_id", clientID), slog.Any("error", err))
		return nil, transient(err)
	}

	s.Metrics.TokenIssued(string(domain.TokenKindInteractive))
	s.emit(audit.Event{
		Type:      audit.EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: sourceIP,
		Details:   map[string]any{"scopes": pair.Scopes},
	})
	return pair, nil
}

// IssueForClient issues a long-lived machine token for a client acting on
// its own behalf. The token belongs to the client's owner principal and
// replaces the previous token of the same name.
func (s *TokenService) IssueForClient(ctx context.Context, clientID string) (*domain.TokenPair, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	now := nowOr(s.Now)
	ttl := machineTTLMultiplier * orDefault(s.AccessTTL, DefaultAccessTTL)

	var pair *domain.TokenPair
	var ownerID string
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		client, err := tx.Clients().GetClientByID(ctx, clientID)
		if err != nil {
			return mapNotFound(err)
		}
		if !client.Active {
			return ErrInactiveClientOrUser
		}
		if client.OwnerUserID == "" {
			return ErrNoOwnerPrincipal
		}
		owner, err := tx.Users().GetUserByID(ctx, client.OwnerUserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoOwnerPrincipal
		}
		if err != nil {
			return err
		}
		ownerID = owner.ID

		name := domain.MachineTokenName(client.ID)
		if _, err := tx.AccessTokens().DeleteByName(ctx, owner.ID, client.ID, name); err != nil {
			return err
		}

		plain, hash, err := cryptox.NewBearerToken(s.prefix(), cryptox.TagMachine)
		if err != nil {
			return err
		}
		tok := domain.AccessToken{
			ID:        idx.NewAt(now).String(),
			UserID:    owner.ID,
			ClientID:  client.ID,
			Name:      name,
			Kind:      domain.TokenKindMachine,
			TokenHash: hash,
			Scopes:    client.Scopes,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := tx.AccessTokens().CreateAccessToken(ctx, tok); err != nil {
			return err
		}

		pair = newPair(plain, "", tok, now)
		return nil
	})
	if err != nil {
		slogx.FromContext(ctx).Info("machine token issuance failed", slog.String("client_id", clientID), slog.Any("error", err))
		return nil, transient(err)
	}

	s.Metrics.TokenIssued(string(domain.TokenKindMachine))
	s.emit(audit.Event{Type: audit.EventMachineTokenIssued, UserID: ownerID, ClientID: clientID})
	return pair, nil
}

// AuthenticateClient verifies a confidential client's secret. Every failure
// is ErrInvalidClient.
func (s *TokenService) AuthenticateClient(ctx context.Context, clientID, secret string) (domain.Client, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, transient(err)
	}
	if !client.Active || client.SecretHash == "" || secret == "" ||
		cryptox.VerifySecret(secret, client.SecretHash) != nil {
		slogx.FromContext(ctx).Info("client authentication failed", slog.String("client_id", clientID))
		s.emit(audit.Event{Type: audit.EventClientAuthFailure, ClientID: clientID})
		return domain.Client{}, ErrInvalidClient
	}
	return client, nil
}

// Authenticate resolves a live access token and records its use.
func (s *TokenService) Authenticate(ctx context.Context, token string) (domain.AccessToken, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	now := nowOr(s.Now)
	tok, err := s.Store.AccessTokens().GetAccessTokenByHash(ctx, cryptox.FingerprintToken(token), now)
	if err != nil {
		return domain.AccessToken{}, transient(mapNotFound(err))
	}
	if err := s.Store.AccessTokens().TouchAccessToken(ctx, tok.ID, now); err != nil {
		slogx.FromContext(ctx).Warn("failed to record token use", slog.Any("error", err))
	}
	tok.LastUsedAt = &now
	return tok, nil
}

// Authorize authenticates token and checks it carries scope.
func (s *TokenService) Authorize(ctx context.Context, token, scope string) (domain.AccessToken, error) {
	tok, err := s.Authenticate(ctx, token)
	if err != nil {
		return domain.AccessToken{}, err
	}
	if !HasScope(tok.Scopes, scope) {
		return domain.AccessToken{}, ErrInsufficientScope
	}
	return tok, nil
}

// AuthorizeBearer adapts Authorize for HTTP middleware.
func (s *TokenService) AuthorizeBearer(ctx context.Context, token, scope string) error {
	_, err := s.Authorize(ctx, token, scope)
	return err
}

// Revoke deletes the token pair identified by either its access or its
// refresh string. Revoking an unknown token is not an error.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	n, err := s.Store.AccessTokens().DeleteByHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		return transient(err)
	}
	if n > 0 {
		s.emit(audit.Event{Type: audit.EventTokenRevoked})
	}
	return nil
}

// RevokeAllForUser deletes every token the user holds, across clients.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	n, err := s.Store.AccessTokens().DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, transient(err)
	}
	s.emit(audit.Event{Type: audit.EventAllTokensRevoked, UserID: userID, Details: map[string]any{"count": n}})
	return n, nil
}

// issueInteractive replaces the (user, client) pair inside tx. scopes have
// already been resolved against the client.
func (s *TokenService) issueInteractive(
	ctx context.Context,
	tx store.Tx,
	user domain.User,
	client domain.Client,
	scopes []string,
	sourceIP, parentHash string,
) (*domain.TokenPair, error) {
	now := nowOr(s.Now)

	if s.Policy != nil {
		caps, err := s.Policy.Capabilities(ctx, tx.Roles(), user.Role)
		if err != nil {
			return nil, err
		}
		scopes = filterByCapabilities(scopes, caps)
	}

	if _, err := tx.AccessTokens().DeleteInteractive(ctx, user.ID, client.ID); err != nil {
		return nil, err
	}

	access, accessHash, err := cryptox.NewBearerToken(s.prefix(), cryptox.TagAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshHash, err := cryptox.NewBearerToken(s.prefix(), cryptox.TagRefresh)
	if err != nil {
		return nil, err
	}

	refreshExp := now.Add(orDefault(s.RefreshTTL, DefaultRefreshTTL))
	tok := domain.AccessToken{
		ID:               idx.NewAt(now).String(),
		UserID:           user.ID,
		ClientID:         client.ID,
		Name:             domain.InteractiveTokenName,
		Kind:             domain.TokenKindInteractive,
		TokenHash:        accessHash,
		RefreshTokenHash: refreshHash,
		Scopes:           scopes,
		SourceIP:         sourceIP,
		CreatedAt:        now,
		ExpiresAt:        now.Add(orDefault(s.AccessTTL, DefaultAccessTTL)),
		RefreshExpiresAt: &refreshExp,
		ParentHash:       parentHash,
	}
	if err := tx.AccessTokens().CreateAccessToken(ctx, tok); err != nil {
		return nil, err
	}
	return newPair(access, refresh, tok, now), nil
}

func (s *TokenService) prefix() string {
	if s.Prefix == "" {
		return DefaultTokenPrefix
	}
	return s.Prefix
}

func (s *TokenService) emit(e audit.Event) {
	if s.Audit != nil {
		s.Audit.Emit(e)
	}
}

// loadActivePair loads a user and client and checks both are active.
func loadActivePair(ctx context.Context, tx store.Tx, userID, clientID string) (domain.User, domain.Client, error) {
	user, err := tx.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, domain.Client{}, mapNotFound(err)
	}
	client, err := tx.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		return domain.User{}, domain.Client{}, mapNotFound(err)
	}
	if !user.Active || !client.Active {
		return domain.User{}, domain.Client{}, ErrInactiveClientOrUser
	}
	return user, client, nil
}

func newPair(access, refresh string, tok domain.AccessToken, now time.Time) *domain.TokenPair {
	scopes := tok.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(tok.ExpiresAt.Sub(now).Seconds()),
		ExpiresAt:        tok.ExpiresAt,
		RefreshExpiresAt: tok.RefreshExpiresAt,
		Scopes:           scopes,
	}
}

// mapNotFound converts the store sentinel into the service one.
func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
