package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultKeyPrefix = "moderation:actions"

// slotScript trims actions older than the window from a per-guild sorted set
// and claims a slot when one is free. Reply: {claimed 0|1, slots in use}.
const slotScript = `
local key, now, window, limit, slot, ttl = KEYS[1], tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), ARGV[4], tonumber(ARGV[5])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local used = redis.call('ZCARD', key)
if used >= limit then
  return {0, used}
end
redis.call('ZADD', key, now, slot)
redis.call('PEXPIRE', key, ttl)
return {1, used + 1}
`

// redisCoordinator shares the action budget between bot instances.
type redisCoordinator struct {
	client RedisClient
	prefix string

	mu  sync.Mutex
	sha string
}

func newRedis(opts RedisOptions) (Coordinator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("ratelimit: redis client required")
	}
	prefix := strings.TrimSuffix(opts.KeyPrefix, ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisCoordinator{client: opts.Client, prefix: prefix}, nil
}

func (r *redisCoordinator) Reserve(ctx context.Context, scope string, window time.Duration, limit int64, now time.Time) (Reservation, error) {
	if scope == "" {
		scope = "global"
	}
	key := r.prefix + ":" + scope
	slot := uuid.NewString()
	reply, err := r.run(ctx, key, now.UnixMilli(), window.Milliseconds(), limit, slot, (2 * window).Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("ratelimit: reserve %s: %w", scope, err)
	}
	claimed, used, err := parseSlotReply(reply)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRateLimitExceeded
	}
	return &redisSlot{client: r.client, key: key, slot: slot, used: used}, nil
}

// run prefers the cached script hash and reloads the script body when the
// server has flushed its script cache.
func (r *redisCoordinator) run(ctx context.Context, key string, args ...any) (any, error) {
	keys := []string{key}
	sha := r.scriptSHA(ctx)
	if sha != "" {
		reply, err := r.client.EvalSha(ctx, sha, keys, args...)
		if err == nil || !strings.Contains(err.Error(), "NOSCRIPT") {
			return reply, err
		}
		r.mu.Lock()
		r.sha = ""
		r.mu.Unlock()
	}
	return r.client.Eval(ctx, slotScript, keys, args...)
}

func (r *redisCoordinator) scriptSHA(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sha == "" {
		if sha, err := r.client.ScriptLoad(ctx, slotScript); err == nil {
			r.sha = sha
		}
	}
	return r.sha
}

func parseSlotReply(reply any) (claimed bool, used int64, err error) {
	fields, ok := reply.([]any)
	if !ok || len(fields) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected redis reply %v", reply)
	}
	flag, ok1 := asInt64(fields[0])
	used, ok2 := asInt64(fields[1])
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected redis reply %v", reply)
	}
	return flag == 1, used, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// redisSlot is a claimed entry in the guild's sorted set. The slot counts as
// soon as it is claimed, so Commit has nothing left to do.
type redisSlot struct {
	client RedisClient
	key    string
	slot   string
	used   int64
}

func (s *redisSlot) Commit(context.Context) error { return nil }

func (s *redisSlot) Release(ctx context.Context) error {
	_, err := s.client.ZRem(ctx, s.key, s.slot)
	return err
}

func (s *redisSlot) Count() int64 { return s.used }
