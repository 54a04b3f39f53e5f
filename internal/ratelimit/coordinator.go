// Package ratelimit caps how many role changes the bot makes per guild in a
// sliding window, either in process or shared through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is returned by Reserve when the window is full.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Reservation holds one slot. Commit keeps it counted after the gateway call
// was made; Release gives it back when no call happened.
type Reservation interface {
	Commit(ctx context.Context) error
	Release(ctx context.Context) error
	Count() int64
}

// Coordinator hands out action slots per scope (normally a guild ID).
type Coordinator interface {
	Reserve(ctx context.Context, scope string, window time.Duration, limit int64, now time.Time) (Reservation, error)
}

// Options carries the settings of whichever backend is selected.
type Options struct {
	Local *LocalOptions
	Redis *RedisOptions
}

// LocalOptions configure the in-process coordinator.
type LocalOptions struct {
	History ActionHistory
}

// ActionHistory is the moderation store's record of recent role changes.
type ActionHistory interface {
	RecordAction(scope string, at time.Time)
	RecentCount(window time.Duration, now time.Time) int
	RecentCountFor(scope string, window time.Duration, now time.Time) int
}

// RedisOptions configure the shared coordinator.
type RedisOptions struct {
	Client    RedisClient
	KeyPrefix string
}

// RedisClient is the subset of Redis commands the shared coordinator issues.
type RedisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) (any, error)
	ScriptLoad(ctx context.Context, script string) (string, error)
	ZRem(ctx context.Context, key string, members ...any) (int64, error)
}

// Factory returns the coordinator named by backend ("local" or "redis").
func Factory(backend string, opts Options) (Coordinator, error) {
	switch backend {
	case "", "local":
		if opts.Local != nil {
			return newLocal(*opts.Local), nil
		}
	case "redis":
		if opts.Redis != nil {
			return newRedis(*opts.Redis)
		}
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", backend)
	}
	return nil, fmt.Errorf("ratelimit: %s backend selected without options", backend)
}

// Guard binds a coordinator to the configured budget.
type Guard struct {
	coord  Coordinator
	limit  int64
	window time.Duration
}

// NewGuard returns a guard allowing limit actions per window. A non-positive
// limit disables limiting, in which case coord may be nil.
func NewGuard(coord Coordinator, limit int64, window time.Duration) *Guard {
	return &Guard{coord: coord, limit: limit, window: window}
}

// Acquire reserves one action slot for scope.
func (g *Guard) Acquire(ctx context.Context, scope string, now time.Time) (Reservation, error) {
	if g == nil || g.coord == nil || g.limit <= 0 {
		return noLimit{}, nil
	}
	return g.coord.Reserve(ctx, scope, g.window, g.limit, now)
}

type noLimit struct{}

func (noLimit) Commit(context.Context) error  { return nil }
func (noLimit) Release(context.Context) error { return nil }
func (noLimit) Count() int64                  { return 0 }
