package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ SessionStore = (*RedisStore)(nil)

const redisOpTimeout = 2 * time.Second

// rotateScript swaps the refresh hash only when the stored hash matches the
// presented one, so concurrent refresh calls cannot both win.
var rotateScript = redis.NewScript(`
local hash = redis.call("HGET", KEYS[1], "refresh_hash")
if not hash then
  return -1
end
if hash ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "refresh_hash", ARGV[2], "expires_at", ARGV[3], "rotated_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// RedisStore keeps session bookkeeping in the shared cache so that token
// revocation issued on one instance is observed by every other instance.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "artel:sess:"}
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) subjectAppKey(subjectID, app string) string {
	return s.prefix + "subj:" + subjectID + ":" + app
}

func (s *RedisStore) subjectSetKey(subjectID string) string {
	return s.prefix + "subjset:" + subjectID
}

func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	ttl := time.Until(sess.RefreshExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", ErrInvalidToken)
	}

	// Replace any prior session for the subject+app pair.
	pointer := s.subjectAppKey(sess.SubjectID, sess.App)
	if oldID, err := s.client.Get(ctx, pointer).Result(); err == nil && oldID != "" {
		if delErr := s.client.Del(ctx, s.sessionKey(oldID)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, delErr)
		}
		_ = s.client.SRem(ctx, s.subjectSetKey(sess.SubjectID), oldID).Err()
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	key := s.sessionKey(sess.ID)
	pipe.HSet(ctx, key, map[string]any{
		"subject_id":   sess.SubjectID,
		"app":          sess.App,
		"refresh_hash": sess.RefreshHash,
		"pv":           sess.PermissionsVersion,
		"auth_time":    sess.AuthTime.UnixMilli(),
		"expires_at":   sess.RefreshExpiresAt.UnixMilli(),
		"created_at":   sess.CreatedAt.UnixMilli(),
		"rotated_at":   sess.RotatedAt.UnixMilli(),
	})
	pipe.PExpire(ctx, key, ttl)
	pipe.Set(ctx, pointer, sess.ID, ttl)
	pipe.SAdd(ctx, s.subjectSetKey(sess.SubjectID), sess.ID)
	pipe.PExpire(ctx, s.subjectSetKey(sess.SubjectID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, id string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	vals, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vals) == 0 {
		return Session{}, ErrRevoked
	}
	sess := Session{
		ID:          id,
		SubjectID:   vals["subject_id"],
		App:         vals["app"],
		RefreshHash: vals["refresh_hash"],
	}
	if pv := vals["pv"]; pv != "" {
		_, _ = fmt.Sscan(pv, &sess.PermissionsVersion)
	}
	sess.AuthTime = parseMilli(vals["auth_time"])
	sess.RefreshExpiresAt = parseMilli(vals["expires_at"])
	sess.CreatedAt = parseMilli(vals["created_at"])
	sess.RotatedAt = parseMilli(vals["rotated_at"])
	if !sess.RefreshExpiresAt.IsZero() && time.Now().After(sess.RefreshExpiresAt) {
		return Session{}, ErrExpired
	}
	return sess, nil
}

func (s *RedisStore) Rotate(ctx context.Context, id, oldHash, newHash string, newExpiry time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	ttl := time.Until(newExpiry)
	if ttl <= 0 {
		return ErrExpired
	}
	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.sessionKey(id)},
		oldHash, newHash, newExpiry.UnixMilli(), time.Now().UnixMilli(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrAlreadyUsed
	default:
		return ErrRevoked
	}
}

func (s *RedisStore) Revoke(ctx context.Context, subjectID, app string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pointer := s.subjectAppKey(subjectID, app)
	id, err := s.client.Get(ctx, pointer).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.Del(ctx, pointer)
	pipe.SRem(ctx, s.subjectSetKey(subjectID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) RevokeAll(ctx context.Context, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	setKey := s.subjectSetKey(subjectID)
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		key := s.sessionKey(id)
		app := s.client.HGet(ctx, key, "app").Val()
		pipe.Del(ctx, key)
		if app != "" {
			pipe.Del(ctx, s.subjectAppKey(subjectID, app))
		}
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func parseMilli(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	var ms int64
	if _, err := fmt.Sscan(raw, &ms); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
