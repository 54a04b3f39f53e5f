package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITZ-Steve3153/New-bot/internal/state"
)

func TestLocalCoordinatorCountsCommittedActions(t *testing.T) {
	store := state.NewStore(state.Options{HistoryRetention: time.Hour})
	coord, err := Factory("local", Options{Local: &LocalOptions{History: store}})
	require.NoError(t, err)
	guard := NewGuard(coord, 2, 10*time.Minute)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		res, err := guard.Acquire(ctx, "guild:1", now)
		require.NoError(t, err)
		require.NoError(t, res.Commit(ctx))
	}
	_, err = guard.Acquire(ctx, "guild:1", now)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	res, err := guard.Acquire(ctx, "guild:2", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count())
	require.NoError(t, res.Release(ctx))

	_, err = guard.Acquire(ctx, "guild:1", now.Add(11*time.Minute))
	assert.NoError(t, err)
}

func TestGuardWithoutLimitAdmitsEverything(t *testing.T) {
	guard := NewGuard(nil, 0, time.Minute)
	res, err := guard.Acquire(context.Background(), "guild:1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, res.Commit(context.Background()))

	var nilGuard *Guard
	_, err = nilGuard.Acquire(context.Background(), "guild:1", time.Now())
	assert.NoError(t, err)
}

type fakeRedis struct {
	reply    any
	evalErr  error
	shaErr   error
	evals    int
	removed  []any
	lastKeys []string
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, _ ...any) (any, error) {
	f.evals++
	f.lastKeys = keys
	return f.reply, f.evalErr
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, _ ...any) (any, error) {
	f.lastKeys = keys
	if f.shaErr != nil {
		return nil, f.shaErr
	}
	return f.reply, nil
}

func (f *fakeRedis) ScriptLoad(context.Context, string) (string, error) { return "sha", nil }

func (f *fakeRedis) ZRem(_ context.Context, _ string, members ...any) (int64, error) {
	f.removed = append(f.removed, members...)
	return int64(len(members)), nil
}

func TestRedisCoordinator(t *testing.T) {
	client := &fakeRedis{reply: []any{int64(1), int64(3)}}
	coord, err := Factory("redis", Options{Redis: &RedisOptions{Client: client}})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := coord.Reserve(ctx, "guild:1", time.Minute, 5, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count())
	assert.Equal(t, []string{"moderation:actions:guild:1"}, client.lastKeys)
	require.NoError(t, res.Release(ctx))
	assert.Len(t, client.removed, 1)

	client.reply = []any{int64(0), int64(5)}
	_, err = coord.Reserve(ctx, "guild:1", time.Minute, 5, time.Now())
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	client.shaErr = errors.New("NOSCRIPT")
	client.reply = []any{"1", "1"}
	_, err = coord.Reserve(ctx, "", time.Minute, 5, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, client.evals)
	assert.Equal(t, []string{"moderation:actions:global"}, client.lastKeys)
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := Factory("etcd", Options{})
	assert.Error(t, err)
	_, err = Factory("redis", Options{})
	assert.Error(t, err)
}
