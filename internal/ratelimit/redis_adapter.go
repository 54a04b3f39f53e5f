package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig describes how to reach the shared Redis deployment.
type RedisConfig struct {
	Addrs    []string
	Username string
	Password string
	DB       int
}

// DialRedis connects to Redis and verifies reachability.
func DialRedis(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	addrs := make([]string, 0, len(cfg.Addrs))
	for _, a := range cfg.Addrs {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("ratelimit: redis address required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return client, nil
}

// NewRedisAdapter wraps a go-redis client to satisfy RedisClient.
func NewRedisAdapter(client redis.UniversalClient) RedisClient {
	return &redisAdapter{client: client}
}

type redisAdapter struct {
	client redis.UniversalClient
}

func (r *redisAdapter) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return r.client.Eval(ctx, script, keys, args...).Result()
}

func (r *redisAdapter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) (any, error) {
	return r.client.EvalSha(ctx, sha1, keys, args...).Result()
}

func (r *redisAdapter) ScriptLoad(ctx context.Context, script string) (string, error) {
	return r.client.ScriptLoad(ctx, script).Result()
}

func (r *redisAdapter) ZRem(ctx context.Context, key string, members ...any) (int64, error) {
	return r.client.ZRem(ctx, key, members...).Result()
}
