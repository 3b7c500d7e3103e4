package redis

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
)

type challengesRepo struct {
	s *Store
}

// challengeKey: {prefix}challenge:{kind}:{userID}
func (r *challengesRepo) key(userID string, kind domain.CeremonyKind) string {
	return r.s.prefix + "challenge:" + string(kind) + ":" + userID
}

func (r *challengesRepo) PutChallenge(
	ctx context.Context,
	userID string,
	kind domain.CeremonyKind,
	value []byte,
	ttl time.Duration,
) error {
	return r.s.client.Set(ctx, r.key(userID, kind), value, ttl).Err()
}

// ConsumeChallenge uses GETDEL so a challenge is handed out at most once.
func (r *challengesRepo) ConsumeChallenge(ctx context.Context, userID string, kind domain.CeremonyKind) ([]byte, error) {
	b, err := r.s.client.GetDel(ctx, r.key(userID, kind)).Bytes()
	if err != nil {
		return nil, mapNil(err)
	}
	return b, nil
}
