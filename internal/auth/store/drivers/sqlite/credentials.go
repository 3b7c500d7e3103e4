package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

type credentialsRepo struct {
	db dbtx
}

const credentialColumns = `id, user_id, credential_id, public_key, sign_count, aaguid, label,
	device_class, created_at, last_used_at`

func (r *credentialsRepo) CreateCredential(ctx context.Context, c domain.Credential) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webauthn_credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.CredentialID, c.PublicKey, int64(c.SignCount), mapStringNull(c.AAGUID),
		c.Label, string(c.DeviceClass), toMillis(created), mapOptionalMillis(c.LastUsedAt),
	)
	return mapConstraint(err)
}

func (r *credentialsRepo) GetCredential(ctx context.Context, userID, credentialID string) (domain.Credential, error) {
	c, err := scanCredential(r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE user_id = ? AND credential_id = ?`,
		userID, credentialID,
	))
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return c, nil
}

func (r *credentialsRepo) ListCredentialsForUser(ctx context.Context, userID string) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// AdvanceSignCount is a compare-and-set: the WHERE clause rejects any count
// that does not move forward, including one written by a concurrent caller.
func (r *credentialsRepo) AdvanceSignCount(ctx context.Context, id string, newCount uint32, usedAt time.Time) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE webauthn_credentials SET sign_count = ?, last_used_at = ?
		 WHERE id = ? AND sign_count < ?`,
		int64(newCount), toMillis(usedAt), id, int64(newCount),
	))
}

func (r *credentialsRepo) TouchCredential(ctx context.Context, id string, usedAt time.Time) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE webauthn_credentials SET last_used_at = ? WHERE id = ?`,
		toMillis(usedAt), id,
	))
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	return requireAffected(r.db.ExecContext(ctx,
		`DELETE FROM webauthn_credentials WHERE user_id = ? AND credential_id = ?`,
		userID, credentialID,
	))
}

func scanCredential(s scanner) (domain.Credential, error) {
	var (
		c           domain.Credential
		signCount   int64
		aaguid      sql.NullString
		deviceClass string
		created     int64
		used        sql.NullInt64
	)
	err := s.Scan(&c.ID, &c.UserID, &c.CredentialID, &c.PublicKey, &signCount, &aaguid, &c.Label,
		&deviceClass, &created, &used)
	if err != nil {
		return domain.Credential{}, err
	}
	c.SignCount = uint32(signCount)
	c.AAGUID = mapNullString(aaguid)
	c.DeviceClass = domain.DeviceClass(deviceClass)
	c.CreatedAt = fromMillis(created)
	c.LastUsedAt = mapNullMillisPtr(used)
	return c, nil
}
