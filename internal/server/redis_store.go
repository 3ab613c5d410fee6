package server

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisStore counts login attempts in Redis so the throttle holds across API
// replicas. The window is a plain INCR with an expiry set on the first hit.
type redisStore struct {
	client  *redis.Client
	timeout time.Duration
}

func newRedisStore(addr, password string, timeout time.Duration) *redisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &redisStore{client: client, timeout: timeout}
}

func (s *redisStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		seconds := int64(window / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		if err := s.client.Expire(ctx, key, time.Duration(seconds)*time.Second).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}
