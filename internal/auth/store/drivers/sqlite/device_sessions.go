package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

type deviceSessionsRepo struct {
	db dbtx
}

const deviceSessionColumns = `id, user_id, client_id, device_name, token_hash, rotated_at,
	expires_at, max_lifetime_at, created_at`

func (r *deviceSessionsRepo) CreateDeviceSession(ctx context.Context, s domain.DeviceSession) error {
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_sessions (`+deviceSessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.ClientID, s.DeviceName, s.TokenHash, mapOptionalMillis(s.RotatedAt),
		toMillis(s.ExpiresAt), toMillis(s.MaxLifetimeAt), toMillis(created),
	)
	return mapConstraint(err)
}

func (r *deviceSessionsRepo) GetDeviceSessionByID(ctx context.Context, id string) (domain.DeviceSession, error) {
	s, err := scanDeviceSession(r.db.QueryRowContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions WHERE id = ?`, id))
	if err != nil {
		return domain.DeviceSession{}, mapNotFound(err)
	}
	return s, nil
}

func (r *deviceSessionsRepo) GetDeviceSessionByHash(ctx context.Context, hash string) (domain.DeviceSession, error) {
	s, err := scanDeviceSession(r.db.QueryRowContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions WHERE token_hash = ?`, hash))
	if err != nil {
		return domain.DeviceSession{}, mapNotFound(err)
	}
	return s, nil
}

func (r *deviceSessionsRepo) RotateDeviceSession(
	ctx context.Context,
	id, oldHash, newHash string,
	rotatedAt, expiresAt time.Time,
) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE device_sessions
		 SET token_hash = ?, rotated_at = ?, expires_at = ?
		 WHERE id = ? AND token_hash = ?`,
		newHash, toMillis(rotatedAt), toMillis(expiresAt), id, oldHash,
	))
}

func (r *deviceSessionsRepo) ListDeviceSessionsForUser(ctx context.Context, userID string) ([]domain.DeviceSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.DeviceSession
	for rows.Next() {
		s, err := scanDeviceSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *deviceSessionsRepo) DeleteDeviceSession(ctx context.Context, id string) error {
	return requireAffected(r.db.ExecContext(ctx, `DELETE FROM device_sessions WHERE id = ?`, id))
}

func (r *deviceSessionsRepo) DeleteExpiredDeviceSessions(ctx context.Context, now time.Time) ([]string, error) {
	ms := toMillis(now)
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM device_sessions WHERE expires_at <= ? OR max_lifetime_at <= ? RETURNING id`,
		ms, ms,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanDeviceSession(sc scanner) (domain.DeviceSession, error) {
	var (
		s                         domain.DeviceSession
		rotated                   sql.NullInt64
		expires, maxLife, created int64
	)
	err := sc.Scan(&s.ID, &s.UserID, &s.ClientID, &s.DeviceName, &s.TokenHash, &rotated,
		&expires, &maxLife, &created)
	if err != nil {
		return domain.DeviceSession{}, err
	}
	s.RotatedAt = mapNullMillisPtr(rotated)
	s.ExpiresAt = fromMillis(expires)
	s.MaxLifetimeAt = fromMillis(maxLife)
	s.CreatedAt = fromMillis(created)
	return s, nil
}
