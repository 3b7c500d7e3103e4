package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tillauth/internal/auth/audit"
	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/metrics"
	"github.com/aussiebroadwan/tillauth/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/tillauth/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/aussiebroadwan/tillauth/pkg/idx"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "till.example.com"
	testOrigin = "https://till.example.com"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db      *sqlite.Store
	ttl     *redis.Store
	mr      *miniredis.Miniredis
	clock   *fakeClock
	audit   *recorder
	metrics *metrics.Metrics

	tokens   *TokenService
	sessions *SessionService
	webauthn *WebAuthnService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	mr := miniredis.RunT(t)
	ttl, err := redis.NewStore(context.Background(), redis.Config{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ttl.Close() })

	env := &testEnv{
		db:      db,
		ttl:     ttl,
		mr:      mr,
		clock:   newFakeClock(),
		audit:   &recorder{},
		metrics: metrics.New(),
	}
	env.tokens = &TokenService{
		Store:   db,
		Audit:   env.audit,
		Metrics: env.metrics,
		Now:     env.clock.Now,
	}
	env.sessions = &SessionService{
		Store:   db,
		TTL:     ttl,
		Audit:   env.audit,
		Metrics: env.metrics,
		Now:     env.clock.Now,
	}
	env.webauthn = &WebAuthnService{
		Store:         db,
		TTL:           ttl,
		Audit:         env.audit,
		Metrics:       env.metrics,
		RPID:          testRPID,
		RPName:        "Till",
		Origin:        testOrigin,
		EnforceOrigin: true,
		Now:           env.clock.Now,
	}
	return env
}

// seedUser creates an active user with the given role.
func (e *testEnv) seedUser(t *testing.T, username, role string) domain.User {
	t.Helper()
	u := domain.User{ID: idx.New().String(), Username: username, DisplayName: username, Role: role, Active: true}
	require.NoError(t, e.db.Users().CreateUser(context.Background(), u))
	return u
}

// seedClient creates an active client with the given allowed scopes.
func (e *testEnv) seedClient(t *testing.T, name, owner string, scopes ...string) domain.Client {
	t.Helper()
	c := domain.Client{ID: idx.New().String(), Name: name, Scopes: scopes, OwnerUserID: owner, Active: true}
	require.NoError(t, e.db.Clients().CreateClient(context.Background(), c))
	return c
}

func setTestPepper(t *testing.T) {
	t.Helper()
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))
}
