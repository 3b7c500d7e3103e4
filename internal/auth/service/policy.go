package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"gopkg.in/yaml.v3"
)

// DefaultCapabilities is the compiled fallback role table, used for any
// role with no row in the roles table.
var DefaultCapabilities = map[string][]string{
	"admin":   {"*"},
	"manager": {"orders:*", "menu:*", "reports:read", "staff:read", "devices:*"},
	"staff":   {"orders:read", "orders:write", "menu:read"},
	"kitchen": {"orders:read", "orders:update"},
}

// Policy resolves a role to its capability set. The data-driven table in
// the store wins; Defaults is consulted only when the role has no row.
type Policy struct {
	Defaults map[string][]string
}

// Capabilities returns the capability set for role. An unknown role has
// none. roles must be the repo of the caller's transaction when inside one.
func (p *Policy) Capabilities(ctx context.Context, roles store.Roles, role string) ([]string, error) {
	if role == "" {
		return nil, nil
	}
	r, err := roles.GetRoleByName(ctx, role)
	if err == nil {
		return r.Scopes, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	defaults := p.Defaults
	if defaults == nil {
		defaults = DefaultCapabilities
	}
	return slices.Clone(defaults[role]), nil
}

// Allows reports whether role holds capability.
func (p *Policy) Allows(ctx context.Context, roles store.Roles, role, capability string) (bool, error) {
	caps, err := p.Capabilities(ctx, roles, role)
	if err != nil {
		return false, err
	}
	return HasScope(caps, capability), nil
}

// LoadPolicyFile reads bootstrap data (roles, admin user, first client)
// from a YAML file.
func LoadPolicyFile(path string) (domain.BootstrapData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.BootstrapData{}, err
	}

	var data domain.BootstrapData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return domain.BootstrapData{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if data.AdminUsername == "" {
		return domain.BootstrapData{}, fmt.Errorf("policy file %s: admin_username is required", path)
	}
	if data.ClientName == "" {
		data.ClientName = "bootstrap"
	}
	if data.AdminRole == "" {
		data.AdminRole = "admin"
	}
	return data, nil
}
