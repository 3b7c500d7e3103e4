package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/aussiebroadwan/tillauth/pkg/idx"
	"github.com/aussiebroadwan/tillauth/pkg/slogx"
)

var (
	ErrBootstrapAlready              = errors.New("system already bootstrapped")
	ErrBootstrapUnknownRole          = errors.New("admin role is not defined")
	ErrBootstrapFailedToCreateAdmin  = errors.New("failed to create admin user")
	ErrBootstrapFailedToCreateClient = errors.New("failed to create client")
)

// BootstrapResult carries the generated identifiers. ClientSecret is shown
// once and never stored in plain form.
type BootstrapResult struct {
	AdminUserID  string
	ClientID     string
	ClientSecret string
}

type BootstrapService struct {
	Store store.Store
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	userEmpty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	clientEmpty, err := s.Store.Clients().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !userEmpty && !clientEmpty, nil
}

// Bootstrap seeds roles, the admin user and a protected confidential client
// owned by the admin, all in one transaction.
func (s *BootstrapService) Bootstrap(ctx context.Context, req domain.BootstrapData) (BootstrapResult, error) {
	l := slogx.FromContext(ctx)

	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		return BootstrapResult{}, err
	}
	if bootstrapped {
		return BootstrapResult{}, ErrBootstrapAlready
	}

	if !definesRole(req, req.AdminRole) {
		return BootstrapResult{}, fmt.Errorf("%w: %q", ErrBootstrapUnknownRole, req.AdminRole)
	}

	clientSecret, err := cryptox.GenerateSecret()
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("generate client secret: %w", err)
	}
	clientSecretHash, err := cryptox.HashSecret(clientSecret)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("hash client secret: %w", err)
	}

	res := BootstrapResult{
		AdminUserID:  idx.New().String(),
		ClientID:     idx.New().String(),
		ClientSecret: clientSecret,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, def := range req.Roles {
			err := tx.Roles().CreateRole(ctx, domain.Role{
				ID:     idx.New().String(),
				Name:   def.Name,
				Scopes: def.Scopes,
			})
			if err != nil {
				l.Error("failed to create role",
					slog.String("role_name", def.Name),
					slog.Any("error", err),
				)
				return fmt.Errorf("create role %q: %w", def.Name, err)
			}
		}

		displayName := req.AdminDisplayName
		if displayName == "" {
			displayName = req.AdminUsername
		}
		err := tx.Users().CreateUser(ctx, domain.User{
			ID:          res.AdminUserID,
			Username:    req.AdminUsername,
			DisplayName: displayName,
			Role:        req.AdminRole,
			Active:      true,
		})
		if err != nil {
			l.Error("failed to create admin user",
				slog.String("admin_user_id", res.AdminUserID),
				slog.Any("error", err),
			)
			return ErrBootstrapFailedToCreateAdmin
		}

		err = tx.Clients().CreateClient(ctx, domain.Client{
			ID:          res.ClientID,
			Name:        req.ClientName,
			SecretHash:  clientSecretHash,
			Scopes:      req.ClientScopes,
			OwnerUserID: res.AdminUserID,
			Active:      true,
			Protected:   true,
		})
		if err != nil {
			l.Error("failed to create client",
				slog.String("client_id", res.ClientID),
				slog.Any("error", err),
			)
			return ErrBootstrapFailedToCreateClient
		}
		return nil
	})
	if err != nil {
		return BootstrapResult{}, err
	}

	l.Info("system bootstrapped",
		slog.String("admin_user_id", res.AdminUserID),
		slog.String("client_id", res.ClientID),
	)
	return res, nil
}

func definesRole(req domain.BootstrapData, role string) bool {
	for _, def := range req.Roles {
		if def.Name == role {
			return true
		}
	}
	_, ok := DefaultCapabilities[role]
	return ok
}
