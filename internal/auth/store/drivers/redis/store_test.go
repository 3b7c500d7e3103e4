package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewStore(context.Background(), Config{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewStoreRequiresAddr(t *testing.T) {
	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestChallengeSingleUse(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ch := s.Challenges()

	require.NoError(t, ch.PutChallenge(ctx, "u1", domain.CeremonyRegister, []byte("abc"), time.Minute))

	// Kinds are independent.
	_, err := ch.ConsumeChallenge(ctx, "u1", domain.CeremonyAuthenticate)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := ch.ConsumeChallenge(ctx, "u1", domain.CeremonyRegister)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)

	_, err = ch.ConsumeChallenge(ctx, "u1", domain.CeremonyRegister)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChallengeReplacedAndExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	ch := s.Challenges()

	require.NoError(t, ch.PutChallenge(ctx, "u1", domain.CeremonyRegister, []byte("first"), time.Minute))
	require.NoError(t, ch.PutChallenge(ctx, "u1", domain.CeremonyRegister, []byte("second"), time.Minute))

	got, err := ch.ConsumeChallenge(ctx, "u1", domain.CeremonyRegister)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)

	require.NoError(t, ch.PutChallenge(ctx, "u1", domain.CeremonyAuthenticate, []byte("x"), time.Minute))
	mr.FastForward(time.Minute + time.Second)

	_, err = ch.ConsumeChallenge(ctx, "u1", domain.CeremonyAuthenticate)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGraceAliasReplacesOlder(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	g := s.GraceAliases()

	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h0", "h1", 5*time.Minute))
	id, err := g.GetGraceAlias(ctx, "h0")
	require.NoError(t, err)
	require.Equal(t, "sess", id)

	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h1", "h2", 5*time.Minute))
	_, err = g.GetGraceAlias(ctx, "h0")
	require.ErrorIs(t, err, store.ErrNotFound, "at most one alias per session")

	id, err = g.GetGraceAlias(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, "sess", id)

	mr.FastForward(5 * time.Minute)
	_, err = g.GetGraceAlias(ctx, "h1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteGraceAliases(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	g := s.GraceAliases()

	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h0", "h1", time.Minute))
	require.NoError(t, g.DeleteGraceAliases(ctx, "sess"))

	_, err := g.GetGraceAlias(ctx, "h0")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.False(t, mr.Exists("test:grace:session:sess"))

	// Deleting nothing is fine.
	require.NoError(t, g.DeleteGraceAliases(ctx, "other"))
}

func TestGraceAliasRefusesOutdatedClaim(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	g := s.GraceAliases()

	// Two rotations both started from h0; the first moved it to h1 and a
	// later one moved h1 to h2.
	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h0", "h1", time.Minute))
	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h1", "h2", time.Minute))

	// The slow one arrives with h0 and must change nothing.
	err := g.PutGraceAlias(ctx, "sess", "h0", "hb", time.Minute)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = g.GetGraceAlias(ctx, "h0")
	require.ErrorIs(t, err, store.ErrNotFound)
	id, err := g.GetGraceAlias(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, "sess", id)

	// Its release is a no-op too.
	require.NoError(t, g.ReleaseGraceAlias(ctx, "sess", "hb"))
	_, err = g.GetGraceAlias(ctx, "h1")
	require.NoError(t, err)
}

func TestGraceAliasClaimExpiresWithAlias(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	g := s.GraceAliases()

	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h0", "h1", time.Minute))
	mr.FastForward(time.Minute + time.Second)

	// Once the window is over the session can be claimed from any hash.
	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h5", "h6", time.Minute))
	id, err := g.GetGraceAlias(ctx, "h5")
	require.NoError(t, err)
	require.Equal(t, "sess", id)
}

func TestReleaseGraceAlias(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	g := s.GraceAliases()

	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h0", "h1", time.Minute))
	require.NoError(t, g.ReleaseGraceAlias(ctx, "sess", "h1"))

	_, err := g.GetGraceAlias(ctx, "h0")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.False(t, mr.Exists("test:grace:session:sess"))

	// The session is free to be claimed again from the same hash.
	require.NoError(t, g.PutGraceAlias(ctx, "sess", "h0", "h9", time.Minute))
}
