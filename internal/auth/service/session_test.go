package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionOpenAndLookup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, res, err := env.sessions.Open(ctx, user.ID, client.ID, "front counter")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Token, DefaultTokenPrefix+cryptox.TagSession))
	assert.Equal(t, env.clock.Now().Add(DefaultSessionTTL), res.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(DefaultSessionMaxAge), sess.MaxLifetimeAt)

	got, err := env.sessions.Lookup(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "front counter", got.DeviceName)

	_, err = env.sessions.Lookup(ctx, "till_st_unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionRotationGraceWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, opened, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)

	rotated, err := env.sessions.Rotate(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, opened.Token, rotated.Token)
	assert.Equal(t, int64(DefaultGracePeriod.Seconds()), rotated.GracePeriodSeconds)

	// Both tokens resolve during the grace window.
	got, err := env.sessions.Lookup(ctx, rotated.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	got, err = env.sessions.Lookup(ctx, opened.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	_, err = env.sessions.FindByGraceToken(ctx, opened.Token)
	require.NoError(t, err)

	// The new token is never a grace token.
	_, err = env.sessions.FindByGraceToken(ctx, rotated.Token)
	require.ErrorIs(t, err, ErrNotFound)

	env.mr.FastForward(DefaultGracePeriod + time.Second)

	_, err = env.sessions.Lookup(ctx, opened.Token)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.Lookup(ctx, rotated.Token)
	require.NoError(t, err)
}

func TestSessionSecondRotationDropsFirstAlias(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, t0, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)
	t1, err := env.sessions.Rotate(ctx, sess)
	require.NoError(t, err)

	current, err := env.sessions.Lookup(ctx, t1.Token)
	require.NoError(t, err)
	t2, err := env.sessions.Rotate(ctx, current)
	require.NoError(t, err)

	_, err = env.sessions.Lookup(ctx, t0.Token)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.Lookup(ctx, t1.Token)
	require.NoError(t, err)
	_, err = env.sessions.Lookup(ctx, t2.Token)
	require.NoError(t, err)
}

func TestSessionRotateStaleCopy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, t0, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)
	_, err = env.sessions.Rotate(ctx, sess)
	require.NoError(t, err)

	env.mr.FastForward(DefaultGracePeriod + time.Second)

	// sess still carries the first hash.
	_, err = env.sessions.Rotate(ctx, sess)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.Lookup(ctx, t0.Token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionRotateAfterRollingExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, opened, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)

	env.clock.Advance(DefaultSessionTTL + time.Hour)
	_, err = env.sessions.Lookup(ctx, opened.Token)
	require.ErrorIs(t, err, ErrExpired)

	_, err = env.sessions.Rotate(ctx, sess)
	require.ErrorIs(t, err, ErrNotFound)

	// Nothing was extended and no alias was written.
	current, err := env.db.DeviceSessions().GetDeviceSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ExpiresAt, current.ExpiresAt)
	assert.Equal(t, sess.TokenHash, current.TokenHash)
	_, err = env.sessions.FindByGraceToken(ctx, opened.Token)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.Lookup(ctx, opened.Token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestSessionConcurrentRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, opened, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.sessions.Rotate(ctx, sess)
			if err != nil {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			mu.Lock()
			winners = append(winners, res.Token)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, winners, 1)

	current, err := env.db.DeviceSessions().GetDeviceSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, cryptox.FingerprintToken(winners[0]), current.TokenHash)

	// The losers left the winner's grace alias in place.
	_, err = env.sessions.FindByGraceToken(ctx, opened.Token)
	require.NoError(t, err)

	// A rotation from the winner's token moves the alias on; the opening
	// token is not revived by anything that lost earlier.
	t2, err := env.sessions.Rotate(ctx, current)
	require.NoError(t, err)
	_, err = env.sessions.Rotate(ctx, sess)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.Lookup(ctx, opened.Token)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.FindByGraceToken(ctx, winners[0])
	require.NoError(t, err)
	_, err = env.sessions.Lookup(ctx, t2.Token)
	require.NoError(t, err)
}

func TestSessionRollingExpiryCappedByMaxLifetime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sessions.SessionTTL = 10 * 24 * time.Hour
	env.sessions.MaxLifetime = 15 * 24 * time.Hour
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, _, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)

	env.clock.Advance(9 * 24 * time.Hour)
	res, err := env.sessions.Rotate(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, sess.MaxLifetimeAt, res.ExpiresAt)

	env.clock.Advance(6 * 24 * time.Hour)
	assert.True(t, env.sessions.IsMaxLifetimeExceeded(sess, env.clock.Now()))
	_, err = env.sessions.Lookup(ctx, res.Token)
	require.ErrorIs(t, err, ErrExpired)

	current, err := env.db.DeviceSessions().GetDeviceSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	_, err = env.sessions.Rotate(ctx, current)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionRevoke(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")

	sess, t0, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.NoError(t, err)
	t1, err := env.sessions.Rotate(ctx, sess)
	require.NoError(t, err)

	require.NoError(t, env.sessions.Revoke(ctx, sess.ID))

	_, err = env.sessions.Lookup(ctx, t0.Token)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.Lookup(ctx, t1.Token)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, env.sessions.Revoke(ctx, sess.ID), ErrNotFound)

	sessions, err := env.sessions.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionOpenInactiveUser(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "staff")
	client := env.seedClient(t, "till", user.ID, "orders:read")
	require.NoError(t, env.db.Users().SetUserActive(ctx, user.ID, false))

	_, _, err := env.sessions.Open(ctx, user.ID, client.ID, "kds")
	require.ErrorIs(t, err, ErrInactiveClientOrUser)
}
