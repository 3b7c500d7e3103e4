package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

type clientsRepo struct {
	db dbtx
}

const clientColumns = `id, name, secret_hash, scopes, owner_user_id, active, protected, created_at, updated_at`

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	return c, nil
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	now := toMillis(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, mapStringNull(c.SecretHash), joinScopes(c.Scopes),
		mapStringNull(c.OwnerUserID), c.Active, c.Protected, now, now,
	)
	return mapConstraint(err)
}

func (r *clientsRepo) UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE clients SET secret_hash = ?, updated_at = ? WHERE id = ?`,
		mapStringNull(secretHash), toMillis(time.Now()), clientID,
	))
}

func (r *clientsRepo) UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE clients SET scopes = ?, updated_at = ? WHERE id = ?`,
		joinScopes(scopes), toMillis(time.Now()), clientID,
	))
}

func (r *clientsRepo) SetClientActive(ctx context.Context, clientID string, active bool) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE clients SET active = ?, updated_at = ? WHERE id = ?`,
		active, toMillis(time.Now()), clientID,
	))
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ? AND protected = 0`, clientID)
	return err
}

func (r *clientsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func scanClient(s scanner) (domain.Client, error) {
	var (
		c                domain.Client
		secret, owner    sql.NullString
		scopes           string
		created, updated int64
	)
	if err := s.Scan(&c.ID, &c.Name, &secret, &scopes, &owner, &c.Active, &c.Protected, &created, &updated); err != nil {
		return domain.Client{}, err
	}
	c.SecretHash = mapNullString(secret)
	c.OwnerUserID = mapNullString(owner)
	c.Scopes = splitAndFilter(scopes)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}
