package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/aussiebroadwan/tillauth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedUserClient(t *testing.T, s *Store) (domain.User, domain.Client) {
	t.Helper()
	ctx := context.Background()

	user := domain.User{ID: idx.New().String(), Username: "alice", DisplayName: "Alice", Role: "manager", Active: true}
	require.NoError(t, s.Users().CreateUser(ctx, user))

	client := domain.Client{
		ID:          idx.New().String(),
		Name:        "till",
		Scopes:      []string{"orders:read", "orders:write"},
		OwnerUserID: user.ID,
		Active:      true,
	}
	require.NoError(t, s.Clients().CreateClient(ctx, client))
	return user, client
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations())
}

func TestUsersAndClients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	empty, err := s.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	user, client := seedUserClient(t, s)

	got, err := s.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.True(t, got.Active)

	require.NoError(t, s.Users().SetUserActive(ctx, user.ID, false))
	got, err = s.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	err = s.Users().CreateUser(ctx, domain.User{ID: idx.New().String(), Username: "alice"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	c, err := s.Clients().GetClientByID(ctx, client.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"orders:read", "orders:write"}, c.Scopes)
	require.Equal(t, user.ID, c.OwnerUserID)
	require.Empty(t, c.SecretHash)

	_, err = s.Clients().GetClientByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccessTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, client := seedUserClient(t, s)
	now := time.Now()
	refreshExp := now.Add(time.Hour)

	tok := domain.AccessToken{
		ID:               idx.New().String(),
		UserID:           user.ID,
		ClientID:         client.ID,
		Name:             domain.InteractiveTokenName,
		Kind:             domain.TokenKindInteractive,
		TokenHash:        "access-hash",
		RefreshTokenHash: "refresh-hash",
		Scopes:           []string{"orders:read"},
		SourceIP:         "10.0.0.1",
		ExpiresAt:        now.Add(time.Minute),
		RefreshExpiresAt: &refreshExp,
	}
	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, tok))

	got, err := s.AccessTokens().GetAccessTokenByHash(ctx, "access-hash", now)
	require.NoError(t, err)
	require.Equal(t, tok.ID, got.ID)
	require.Equal(t, []string{"orders:read"}, got.Scopes)
	require.Equal(t, refreshExp.UnixMilli(), got.RefreshExpiresAt.UnixMilli())

	// Expired for access lookups.
	_, err = s.AccessTokens().GetAccessTokenByHash(ctx, "access-hash", now.Add(2*time.Minute))
	require.ErrorIs(t, err, store.ErrNotFound)

	dup := tok
	dup.ID = idx.New().String()
	dup.RefreshTokenHash = ""
	require.ErrorIs(t, s.AccessTokens().CreateAccessToken(ctx, dup), store.ErrAlreadyExists)

	consumed, err := s.AccessTokens().ConsumeByRefreshHash(ctx, "refresh-hash")
	require.NoError(t, err)
	require.Equal(t, tok.ID, consumed.ID)

	_, err = s.AccessTokens().ConsumeByRefreshHash(ctx, "refresh-hash")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.AccessTokens().GetAccessTokenByHash(ctx, "access-hash", now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeByRefreshHashSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, client := seedUserClient(t, s)
	refreshExp := time.Now().Add(time.Hour)

	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID: idx.New().String(), UserID: user.ID, ClientID: client.ID,
		Name: domain.InteractiveTokenName, Kind: domain.TokenKindInteractive,
		TokenHash: "a", RefreshTokenHash: "r",
		ExpiresAt: time.Now().Add(time.Minute), RefreshExpiresAt: &refreshExp,
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AccessTokens().ConsumeByRefreshHash(ctx, "r")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestDeleteExpiredAccessTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, client := seedUserClient(t, s)
	now := time.Now()
	future := now.Add(time.Hour)

	// Access expired but refresh still usable: kept.
	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID: idx.New().String(), UserID: user.ID, ClientID: client.ID,
		Name: domain.InteractiveTokenName, Kind: domain.TokenKindInteractive,
		TokenHash: "a1", RefreshTokenHash: "r1",
		ExpiresAt: now.Add(-time.Minute), RefreshExpiresAt: &future,
	}))
	// Machine token expired: removed.
	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID: idx.New().String(), UserID: user.ID, ClientID: client.ID,
		Name: domain.MachineTokenName(client.ID), Kind: domain.TokenKindMachine,
		TokenHash: "a2", ExpiresAt: now.Add(-time.Minute),
	}))

	n, err := s.AccessTokens().DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = s.AccessTokens().DeleteByHash(ctx, "r1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, client := seedUserClient(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
			ID: idx.New().String(), UserID: user.ID, ClientID: client.ID,
			Name: domain.InteractiveTokenName, Kind: domain.TokenKindInteractive,
			TokenHash: "tx", ExpiresAt: time.Now().Add(time.Minute),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.AccessTokens().GetAccessTokenByHash(ctx, "tx", time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeviceSessionRotateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, client := seedUserClient(t, s)
	now := time.Now()

	sess := domain.DeviceSession{
		ID: idx.New().String(), UserID: user.ID, ClientID: client.ID, DeviceName: "till-1",
		TokenHash: "h0", ExpiresAt: now.Add(time.Hour), MaxLifetimeAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, s.DeviceSessions().CreateDeviceSession(ctx, sess))

	require.NoError(t, s.DeviceSessions().RotateDeviceSession(ctx, sess.ID, "h0", "h1", now, now.Add(2*time.Hour)))
	err := s.DeviceSessions().RotateDeviceSession(ctx, sess.ID, "h0", "h2", now, now.Add(2*time.Hour))
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.DeviceSessions().GetDeviceSessionByHash(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	require.NotNil(t, got.RotatedAt)

	ids, err := s.DeviceSessions().DeleteExpiredDeviceSessions(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{sess.ID}, ids)
}

func TestCredentialSignCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, _ := seedUserClient(t, s)

	cred := domain.Credential{
		ID: idx.New().String(), UserID: user.ID, CredentialID: "cred-1",
		PublicKey: []byte{0xa5}, SignCount: 5, DeviceClass: domain.DeviceClassPlatform,
	}
	require.NoError(t, s.Credentials().CreateCredential(ctx, cred))

	dup := cred
	dup.ID = idx.New().String()
	require.ErrorIs(t, s.Credentials().CreateCredential(ctx, dup), store.ErrAlreadyExists)

	now := time.Now()
	require.ErrorIs(t, s.Credentials().AdvanceSignCount(ctx, cred.ID, 5, now), store.ErrNotFound)
	require.ErrorIs(t, s.Credentials().AdvanceSignCount(ctx, cred.ID, 3, now), store.ErrNotFound)
	require.NoError(t, s.Credentials().AdvanceSignCount(ctx, cred.ID, 6, now))

	got, err := s.Credentials().GetCredential(ctx, user.ID, "cred-1")
	require.NoError(t, err)
	require.Equal(t, uint32(6), got.SignCount)
	require.NotNil(t, got.LastUsedAt)

	require.NoError(t, s.Credentials().DeleteCredential(ctx, user.ID, "cred-1"))
	require.ErrorIs(t, s.Credentials().DeleteCredential(ctx, user.ID, "cred-1"), store.ErrNotFound)
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, _ := seedUserClient(t, s)

	require.NoError(t, s.Credentials().CreateCredential(ctx, domain.Credential{
		ID: idx.New().String(), UserID: user.ID, CredentialID: "c", PublicKey: []byte{1},
		DeviceClass: domain.DeviceClassPlatform,
	}))
	require.NoError(t, s.Users().DeleteUser(ctx, user.ID))

	creds, err := s.Credentials().ListCredentialsForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, creds)
}
