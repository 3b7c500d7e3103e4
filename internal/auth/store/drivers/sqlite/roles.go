package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

type rolesRepo struct {
	db dbtx
}

const roleColumns = `id, name, scopes, created_at, updated_at`

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id))
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	return role, nil
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = ?`, name))
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	return role, nil
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	now := toMillis(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?)`,
		role.ID, role.Name, joinScopes(role.Scopes), now, now,
	)
	return mapConstraint(err)
}

func (r *rolesRepo) UpdateRoleScopes(ctx context.Context, roleID string, scopes []string) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE roles SET scopes = ?, updated_at = ? WHERE id = ?`,
		joinScopes(scopes), toMillis(time.Now()), roleID,
	))
}

func (r *rolesRepo) DeleteRole(ctx context.Context, roleID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, roleID)
	return err
}

func (r *rolesRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func scanRole(s scanner) (domain.Role, error) {
	var (
		role             domain.Role
		scopes           string
		created, updated int64
	)
	if err := s.Scan(&role.ID, &role.Name, &scopes, &created, &updated); err != nil {
		return domain.Role{}, err
	}
	role.Scopes = splitAndFilter(scopes)
	role.CreatedAt = fromMillis(created)
	role.UpdatedAt = fromMillis(updated)
	return role, nil
}
