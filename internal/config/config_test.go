package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "discord", cfg.Gateway.Backend)
	assert.Equal(t, "config.json", cfg.TriggerStatePath)
	assert.Equal(t, "punishment_data.json", cfg.PunishmentStatePath)
	assert.Equal(t, 5*time.Minute, cfg.EscalationInterval)
	assert.Equal(t, 20*time.Minute, cfg.SchedulerMaxBackoff)
	assert.Equal(t, "Muted", cfg.MuteTagName)
	assert.Equal(t, "local", cfg.RateLimiter.Backend)
	assert.Zero(t, cfg.RateLimiter.MaxActions)
	assert.False(t, cfg.MemberEvents.Enabled)
	assert.False(t, cfg.Ack.Enabled)
	assert.Equal(t, "audit-queue.db", cfg.Ack.QueuePath)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DISCORD_TOKEN")

	t.Setenv("GATEWAY_BACKEND", "memory")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GATEWAY_BACKEND", "NOOP")
	t.Setenv("GATEWAY_DRY_RUN", "true")
	t.Setenv("PUNISHMENT_STATE_PATH", filepath.Join(dir, "punishment_data.json"))
	t.Setenv("ESCALATION_SWEEP_INTERVAL", "1m")
	t.Setenv("SCHEDULER_MAX_BACKOFF", "not-a-duration")
	t.Setenv("RATE_LIMIT_COORDINATOR", "redis")
	t.Setenv("RATE_LIMIT_REDIS_ADDR", "redis-a:6379, redis-b:6379")
	t.Setenv("RATE_LIMIT_MAX_ACTIONS", "10")
	t.Setenv("MEMBER_EVENTS_BROKERS", "kafka:9092")
	t.Setenv("ACK_ENABLED", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "noop", cfg.Gateway.Backend)
	assert.True(t, cfg.Gateway.DryRun)
	assert.Equal(t, time.Minute, cfg.EscalationInterval)
	assert.Equal(t, 4*time.Minute, cfg.SchedulerMaxBackoff)
	assert.Equal(t, []string{"redis-a:6379", "redis-b:6379"}, cfg.RateLimiter.RedisAddrs)
	assert.Equal(t, int64(10), cfg.RateLimiter.MaxActions)
	assert.True(t, cfg.MemberEvents.Enabled)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Ack.Brokers)
	// "yes" is not a bool, so the default applies.
	assert.False(t, cfg.Ack.Enabled)
	assert.Equal(t, filepath.Join(dir, "audit-queue.db"), cfg.Ack.QueuePath)
}

func TestLoadRejectsBadCoordinator(t *testing.T) {
	t.Setenv("GATEWAY_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_COORDINATOR", "etcd")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_COORDINATOR", "redis")
	_, err = Load()
	assert.ErrorContains(t, err, "RATE_LIMIT_REDIS_ADDR")
}
