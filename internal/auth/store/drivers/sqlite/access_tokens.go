package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

type accessTokensRepo struct {
	db dbtx
}

const accessTokenColumns = `id, user_id, client_id, name, kind, token_hash, refresh_token_hash, scopes,
	source_ip, created_at, expires_at, refresh_expires_at, last_used_at, parent_hash`

func (r *accessTokensRepo) CreateAccessToken(ctx context.Context, t domain.AccessToken) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_tokens (`+accessTokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.ClientID, t.Name, string(t.Kind), t.TokenHash,
		mapStringNull(t.RefreshTokenHash), joinScopes(t.Scopes), t.SourceIP,
		toMillis(created), toMillis(t.ExpiresAt), mapOptionalMillis(t.RefreshExpiresAt),
		mapOptionalMillis(t.LastUsedAt), mapStringNull(t.ParentHash),
	)
	return mapConstraint(err)
}

func (r *accessTokensRepo) GetAccessTokenByHash(ctx context.Context, hash string, now time.Time) (domain.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accessTokenColumns+` FROM access_tokens WHERE token_hash = ? AND expires_at > ?`,
		hash, toMillis(now),
	)
	t, err := scanAccessToken(row)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *accessTokensRepo) TouchAccessToken(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE access_tokens SET last_used_at = ? WHERE id = ?`, toMillis(at), id)
	return err
}

// ConsumeByRefreshHash relies on DELETE ... RETURNING: the delete and the
// read are one statement, so two redemptions cannot both see the row.
func (r *accessTokensRepo) ConsumeByRefreshHash(ctx context.Context, refreshHash string) (domain.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM access_tokens
		 WHERE refresh_token_hash = ? AND kind = 'interactive'
		 RETURNING `+accessTokenColumns,
		refreshHash,
	)
	t, err := scanAccessToken(row)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *accessTokensRepo) DeleteInteractive(ctx context.Context, userID, clientID string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE user_id = ? AND client_id = ? AND kind = 'interactive'`,
		userID, clientID,
	))
}

func (r *accessTokensRepo) DeleteByName(ctx context.Context, userID, clientID, name string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE user_id = ? AND client_id = ? AND name = ?`,
		userID, clientID, name,
	))
}

func (r *accessTokensRepo) DeleteByHash(ctx context.Context, hash string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE token_hash = ? OR refresh_token_hash = ?`,
		hash, hash,
	))
}

func (r *accessTokensRepo) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE user_id = ?`, userID))
}

func (r *accessTokensRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ms := toMillis(now)
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM access_tokens
		 WHERE expires_at <= ? AND (refresh_expires_at IS NULL OR refresh_expires_at <= ?)`,
		ms, ms,
	))
}

func scanAccessToken(s scanner) (domain.AccessToken, error) {
	var (
		t                    domain.AccessToken
		kind, scopes         string
		refreshHash, parent  sql.NullString
		created, expires     int64
		refreshExpires, used sql.NullInt64
	)
	err := s.Scan(
		&t.ID, &t.UserID, &t.ClientID, &t.Name, &kind, &t.TokenHash, &refreshHash, &scopes,
		&t.SourceIP, &created, &expires, &refreshExpires, &used, &parent,
	)
	if err != nil {
		return domain.AccessToken{}, err
	}
	t.Kind = domain.TokenKind(kind)
	t.RefreshTokenHash = mapNullString(refreshHash)
	t.Scopes = splitAndFilter(scopes)
	t.CreatedAt = fromMillis(created)
	t.ExpiresAt = fromMillis(expires)
	t.RefreshExpiresAt = mapNullMillisPtr(refreshExpires)
	t.LastUsedAt = mapNullMillisPtr(used)
	t.ParentHash = mapNullString(parent)
	return t, nil
}
