package cooldown

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisCooldownPrefix = "cooldown/"

// keys with no cooldown window are still recorded, so LastUsed works, but expire after this period
var redisZeroWindowTTL = time.Hour

// compare-and-delete, so a release never clobbers a newer reservation
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Cooldowns shared between processes. The key TTL is the cooldown window: a key which exists is still cooling down.
type RedisStore struct {
	Client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key string, now time.Time, window time.Duration) (*Reservation, time.Duration, error) {
	rkey := redisCooldownPrefix + key
	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	if window <= 0 {
		if err := s.Client.Set(ctx, rkey, stamp, redisZeroWindowTTL).Err(); err != nil {
			return nil, 0, err
		}
		return &Reservation{Key: key, Stamp: time.UnixMilli(now.UnixMilli())}, 0, nil
	}
	ok, err := s.Client.SetNX(ctx, rkey, stamp, window).Result()
	if err != nil {
		return nil, 0, err
	}
	if ok {
		return &Reservation{Key: key, Stamp: time.UnixMilli(now.UnixMilli())}, 0, nil
	}
	ttl, err := s.Client.PTTL(ctx, rkey).Result()
	if err != nil {
		return nil, 0, err
	}
	if ttl <= 0 {
		// expired between the two calls, or the key has no TTL
		ttl = window
	}
	return nil, ttl, nil
}

func (s *RedisStore) Release(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	stamp := strconv.FormatInt(r.Stamp.UnixMilli(), 10)
	return releaseScript.Run(ctx, s.Client, []string{redisCooldownPrefix + r.Key}, stamp).Err()
}

func (s *RedisStore) LastUsed(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.Client.Get(ctx, redisCooldownPrefix+key).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	} else if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
