package store

import (
	"context"
	"time"

	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX lock with a TTL so a crashed holder cannot wedge a key.
type RedisLocker struct {
	client *RedisClient
	ttl    time.Duration
}

var _ types.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	lockKey := l.client.generateKey("lock", key)
	token := uuid.NewString()

	ok, err := l.client.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client.client, []string{lockKey}, token).Err(); err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("key", lockKey).Msg("failed to release redis lock")
		}
	}
	return unlock, true, nil
}
