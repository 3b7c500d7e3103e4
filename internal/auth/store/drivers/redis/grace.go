package redis

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

type graceRepo struct {
	s *Store
}

// aliasKey: {prefix}grace:{hash} -> sessionID
func (r *graceRepo) aliasKey(hash string) string {
	return r.s.prefix + "grace:" + hash
}

// sessionKey: {prefix}grace:session:{sessionID} -> hash {alias, next}
func (r *graceRepo) sessionKey(sessionID string) string {
	return r.s.prefix + "grace:session:" + sessionID
}

// putGraceScript installs hash as the session's alias unless a later
// rotation has already claimed the session, i.e. the recorded successor is
// not hash. Returns 0 when refused.
// KEYS[1] = session key, KEYS[2] = new alias key
// ARGV[1] = session id, ARGV[2] = hash, ARGV[3] = successor hash, ARGV[4] = ttl in ms, ARGV[5] = alias key prefix
var putGraceScript = redis.NewScript(`
local succ = redis.call('HGET', KEYS[1], 'next')
if succ and succ ~= ARGV[2] then
	return 0
end
local old = redis.call('HGET', KEYS[1], 'alias')
if old and old ~= ARGV[2] then
	redis.call('DEL', ARGV[5] .. old)
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[4])
redis.call('HSET', KEYS[1], 'alias', ARGV[2], 'next', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// releaseGraceScript undoes a claim whose swap did not happen.
// KEYS[1] = session key, ARGV[1] = successor hash, ARGV[2] = alias key prefix
var releaseGraceScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'next') ~= ARGV[1] then
	return 0
end
local old = redis.call('HGET', KEYS[1], 'alias')
if old then
	redis.call('DEL', ARGV[2] .. old)
end
redis.call('DEL', KEYS[1])
return 1
`)

// deleteGraceScript removes a session's alias and its back-reference.
// KEYS[1] = session key, ARGV[1] = alias key prefix
var deleteGraceScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'alias')
if old then
	redis.call('DEL', ARGV[1] .. old)
end
redis.call('DEL', KEYS[1])
return 1
`)

func (r *graceRepo) PutGraceAlias(ctx context.Context, sessionID, hash, next string, ttl time.Duration) error {
	keys := []string{r.sessionKey(sessionID), r.aliasKey(hash)}
	ok, err := putGraceScript.Run(ctx, r.s.client, keys, sessionID, hash, next, ttl.Milliseconds(), r.aliasKey("")).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *graceRepo) ReleaseGraceAlias(ctx context.Context, sessionID, next string) error {
	return releaseGraceScript.Run(ctx, r.s.client, []string{r.sessionKey(sessionID)}, next, r.aliasKey("")).Err()
}

func (r *graceRepo) GetGraceAlias(ctx context.Context, hash string) (string, error) {
	id, err := r.s.client.Get(ctx, r.aliasKey(hash)).Result()
	if err != nil {
		return "", mapNil(err)
	}
	return id, nil
}

func (r *graceRepo) DeleteGraceAliases(ctx context.Context, sessionID string) error {
	return deleteGraceScript.Run(ctx, r.s.client, []string{r.sessionKey(sessionID)}, r.aliasKey("")).Err()
}
