// Package config reads the bot's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the moderation agent.
type Config struct {
	Gateway struct {
		Backend string
		Token   string
		DryRun  bool
		Timeout time.Duration
	}

	// MemberEvents configures the optional Kafka membership-event source.
	MemberEvents struct {
		Enabled       bool
		Brokers       []string
		Topic         string
		GroupID       string
		ClientID      string
		TLS           bool
		TLSCAPath     string
		TLSCertPath   string
		TLSKeyPath    string
		SASLEnabled   bool
		SASLMechanism string
		SASLUsername  string
		SASLPassword  string
	}

	RateLimiter struct {
		Backend    string
		RedisAddrs []string
		RedisUser  string
		RedisPass  string
		RedisDB    int
		KeyPrefix  string
		MaxActions int64
		Window     time.Duration
	}

	// Ack configures the audit-record publisher.
	Ack struct {
		Enabled      bool
		Topic        string
		Brokers      []string
		ClientID     string
		RetryMax     int
		RetryBackoff time.Duration
		QueuePath    string
		QueueMaxSize int
	}

	Log struct {
		Level      string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	TriggerStatePath       string
	PunishmentStatePath    string
	StateLockTimeout       time.Duration
	ActionHistoryRetention time.Duration
	EscalationInterval     time.Duration
	SchedulerMaxBackoff    time.Duration
	ReconcilerMaxBackoff   time.Duration
	MuteTagName            string
	KillSwitchEnabled      bool
	MetricsAddr            string
	ShutdownTimeout        time.Duration
	InstanceID             string
}

const (
	defaultTriggerStatePath    = "config.json"
	defaultPunishmentStatePath = "punishment_data.json"
	defaultMemberEventsTopic   = "discord.member-updates.v1"
	defaultMemberEventsGroup   = "moderation-agent"
	defaultAckTopic            = "moderation.actions.v1"
	defaultAckClientID         = "moderation-audit-publisher"
	defaultMetricsAddr         = ":9094"
	defaultEscalationInterval  = 5 * time.Minute
	defaultGatewayTimeout      = 10 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultMuteTagName         = "Muted"
	defaultAckQueueMaxSize     = 10000
)

// Load builds a Config from the environment. Unparseable values fall back to
// their defaults; missing required values are errors.
func Load() (Config, error) {
	var cfg Config
	for _, section := range []func(*Config) error{
		loadGateway,
		loadState,
		loadLog,
		loadRateLimiter,
		loadMemberEvents,
		loadAck,
	} {
		if err := section(&cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func loadGateway(cfg *Config) error {
	cfg.Gateway.Backend = strings.ToLower(str("GATEWAY_BACKEND", "discord"))
	cfg.Gateway.Token = str("DISCORD_TOKEN", "")
	cfg.Gateway.DryRun = boolean("GATEWAY_DRY_RUN", false)
	cfg.Gateway.Timeout = positive(duration("GATEWAY_TIMEOUT", defaultGatewayTimeout), defaultGatewayTimeout)
	if cfg.Gateway.Backend == "discord" && cfg.Gateway.Token == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	return nil
}

func loadState(cfg *Config) error {
	cfg.TriggerStatePath = str("TRIGGER_STATE_PATH", defaultTriggerStatePath)
	cfg.PunishmentStatePath = str("PUNISHMENT_STATE_PATH", defaultPunishmentStatePath)
	cfg.StateLockTimeout = duration("STATE_LOCK_TIMEOUT", 3*time.Second)
	cfg.ActionHistoryRetention = duration("ACTION_HISTORY_RETENTION", time.Hour)

	cfg.EscalationInterval = positive(duration("ESCALATION_SWEEP_INTERVAL", defaultEscalationInterval), defaultEscalationInterval)
	backoffCap := 4 * cfg.EscalationInterval
	cfg.SchedulerMaxBackoff = positive(duration("SCHEDULER_MAX_BACKOFF", backoffCap), backoffCap)
	cfg.ReconcilerMaxBackoff = positive(duration("RECONCILER_MAX_BACKOFF", time.Hour), time.Hour)

	cfg.MuteTagName = str("MUTE_TAG_NAME", defaultMuteTagName)
	cfg.KillSwitchEnabled = boolean("KILL_SWITCH_ENABLED", false)
	cfg.MetricsAddr = str("METRICS_ADDR", defaultMetricsAddr)
	cfg.ShutdownTimeout = duration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	cfg.InstanceID = str("AGENT_INSTANCE_ID", "")
	return nil
}

func loadLog(cfg *Config) error {
	cfg.Log.Level = strings.ToLower(str("LOG_LEVEL", "info"))
	cfg.Log.FilePath = str("LOG_FILE_PATH", "")
	cfg.Log.MaxSizeMB = int(integer("LOG_MAX_SIZE", 100))
	cfg.Log.MaxBackups = int(integer("LOG_MAX_BACKUPS", 5))
	cfg.Log.MaxAgeDays = int(integer("LOG_MAX_AGE", 30))
	cfg.Log.Compress = boolean("LOG_COMPRESS", true)
	return nil
}

func loadRateLimiter(cfg *Config) error {
	rl := &cfg.RateLimiter
	rl.Backend = strings.ToLower(str("RATE_LIMIT_COORDINATOR", "local"))
	rl.RedisAddrs = list("RATE_LIMIT_REDIS_ADDR")
	rl.RedisUser = str("RATE_LIMIT_REDIS_USERNAME", "")
	rl.RedisPass = str("RATE_LIMIT_REDIS_PASSWORD", "")
	rl.RedisDB = int(integer("RATE_LIMIT_REDIS_DB", 0))
	rl.KeyPrefix = str("RATE_LIMIT_KEY_PREFIX", "")
	rl.MaxActions = integer("RATE_LIMIT_MAX_ACTIONS", 0)
	rl.Window = positive(duration("RATE_LIMIT_WINDOW", time.Minute), time.Minute)

	switch rl.Backend {
	case "local":
		return nil
	case "redis":
		if len(rl.RedisAddrs) == 0 {
			return errors.New("RATE_LIMIT_REDIS_ADDR is required for the redis coordinator")
		}
		return nil
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_COORDINATOR %q", rl.Backend)
	}
}

func loadMemberEvents(cfg *Config) error {
	me := &cfg.MemberEvents
	me.Brokers = list("MEMBER_EVENTS_BROKERS")
	me.Enabled = boolean("MEMBER_EVENTS_ENABLED", len(me.Brokers) > 0)
	if me.Enabled && len(me.Brokers) == 0 {
		return errors.New("MEMBER_EVENTS_BROKERS is required when MEMBER_EVENTS_ENABLED is set")
	}
	me.Topic = str("MEMBER_EVENTS_TOPIC", defaultMemberEventsTopic)
	me.GroupID = str("MEMBER_EVENTS_GROUP", defaultMemberEventsGroup)
	me.ClientID = str("MEMBER_EVENTS_CLIENT_ID", "")
	me.TLS = boolean("MEMBER_EVENTS_TLS", false)
	me.TLSCAPath = str("MEMBER_EVENTS_TLS_CA", "")
	me.TLSCertPath = str("MEMBER_EVENTS_TLS_CERT", "")
	me.TLSKeyPath = str("MEMBER_EVENTS_TLS_KEY", "")
	me.SASLEnabled = boolean("KAFKA_SASL_ENABLED", false)
	me.SASLMechanism = str("KAFKA_SASL_MECHANISM", "")
	me.SASLUsername = str("KAFKA_SASL_USERNAME", "")
	me.SASLPassword = str("KAFKA_SASL_PASSWORD", "")
	return nil
}

// loadAck runs after loadMemberEvents: audit records default to the same
// brokers.
func loadAck(cfg *Config) error {
	ack := &cfg.Ack
	ack.Enabled = boolean("ACK_ENABLED", false)
	ack.Topic = str("ACK_TOPIC", defaultAckTopic)
	ack.Brokers = list("ACK_BROKERS")
	if len(ack.Brokers) == 0 {
		ack.Brokers = cfg.MemberEvents.Brokers
	}
	if ack.Enabled && len(ack.Brokers) == 0 {
		return errors.New("ACK_BROKERS or MEMBER_EVENTS_BROKERS is required when ACK_ENABLED is set")
	}
	ack.ClientID = str("ACK_CLIENT_ID", defaultAckClientID)
	ack.RetryMax = int(positive(integer("ACK_RETRY_MAX", 5), 5))
	ack.RetryBackoff = positive(duration("ACK_RETRY_BACKOFF", 500*time.Millisecond), 500*time.Millisecond)
	ack.QueuePath = str("ACK_QUEUE_PATH", filepath.Join(filepath.Dir(cfg.PunishmentStatePath), "audit-queue.db"))
	ack.QueueMaxSize = int(positive(integer("ACK_QUEUE_MAX_SIZE", defaultAckQueueMaxSize), defaultAckQueueMaxSize))
	return nil
}

// lookup returns the trimmed value of key and whether it is non-empty.
func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func str(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// list splits a comma-separated variable, dropping empty items.
func list(key string) []string {
	v, _ := lookup(key)
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parsed[T any](key string, def T, parse func(string) (T, error)) T {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func boolean(key string, def bool) bool {
	return parsed(key, def, strconv.ParseBool)
}

func duration(key string, def time.Duration) time.Duration {
	return parsed(key, def, time.ParseDuration)
}

func integer(key string, def int64) int64 {
	return parsed(key, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func positive[T int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
