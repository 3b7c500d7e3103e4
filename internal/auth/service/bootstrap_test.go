package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
admin_username: owner
admin_display_name: Shop Owner
client_name: till
client_scopes: ["*"]
roles:
  - name: admin
    scopes: ["*"]
  - name: barista
    scopes: ["orders:*", "menu:read"]
`

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	data, err := LoadPolicyFile(writePolicy(t, testPolicy))
	require.NoError(t, err)
	assert.Equal(t, "owner", data.AdminUsername)
	assert.Equal(t, "admin", data.AdminRole)
	assert.Equal(t, []string{"*"}, data.ClientScopes)
	require.Len(t, data.Roles, 2)
	assert.Equal(t, "barista", data.Roles[1].Name)

	_, err = LoadPolicyFile(writePolicy(t, "client_name: till\n"))
	require.Error(t, err)
	_, err = LoadPolicyFile(writePolicy(t, "roles: [:\n"))
	require.Error(t, err)
	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	setTestPepper(t)
	svc := &BootstrapService{Store: env.db}

	done, err := svc.IsBootstrapped(ctx)
	require.NoError(t, err)
	require.False(t, done)

	data, err := LoadPolicyFile(writePolicy(t, testPolicy))
	require.NoError(t, err)
	res, err := svc.Bootstrap(ctx, data)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientSecret)

	admin, err := env.db.Users().GetUserByUsername(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, res.AdminUserID, admin.ID)
	assert.Equal(t, "Shop Owner", admin.DisplayName)
	assert.True(t, admin.Active)

	client, err := env.tokens.AuthenticateClient(ctx, res.ClientID, res.ClientSecret)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, client.OwnerUserID)
	assert.True(t, client.Protected)

	// The bootstrap client can mint a machine token for the admin.
	_, err = env.tokens.IssueForClient(ctx, res.ClientID)
	require.NoError(t, err)

	role, err := env.db.Roles().GetRoleByName(ctx, "barista")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders:*", "menu:read"}, role.Scopes)

	_, err = svc.Bootstrap(ctx, data)
	require.ErrorIs(t, err, ErrBootstrapAlready)
}

func TestBootstrapUnknownAdminRole(t *testing.T) {
	env := newTestEnv(t)
	setTestPepper(t)
	svc := &BootstrapService{Store: env.db}

	_, err := svc.Bootstrap(context.Background(), domain.BootstrapData{
		AdminUsername: "owner",
		AdminRole:     "overlord",
		ClientName:    "till",
	})
	require.ErrorIs(t, err, ErrBootstrapUnknownRole)

	empty, err := env.db.Users().IsEmpty(context.Background())
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestPolicyCapabilities(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := &Policy{}

	caps, err := p.Capabilities(ctx, env.db.Roles(), "kitchen")
	require.NoError(t, err)
	assert.Equal(t, DefaultCapabilities["kitchen"], caps)

	// A stored role overrides the compiled default.
	require.NoError(t, env.db.Roles().CreateRole(ctx, domain.Role{ID: "r1", Name: "kitchen", Scopes: []string{"orders:read"}}))
	ok, err := p.Allows(ctx, env.db.Roles(), "kitchen", "orders:update")
	require.NoError(t, err)
	assert.False(t, ok)

	caps, err = p.Capabilities(ctx, env.db.Roles(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, caps)

	ok, err = p.Allows(ctx, env.db.Roles(), "admin", "anything:at-all")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayGuard(t *testing.T) {
	g := ReplayGuard{}
	cred := domain.Credential{SignCount: 5}
	assert.NoError(t, g.Check(cred, 6))
	assert.ErrorIs(t, g.Check(cred, 5), ErrReplaySuspected)
	assert.ErrorIs(t, g.Check(cred, 4), ErrReplaySuspected)
	assert.NoError(t, g.Check(cred, 0))
	assert.NoError(t, g.Check(domain.Credential{}, 0))
}
