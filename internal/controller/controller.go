package controller

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

const (
	sourceGateway = "gateway"
	sourceKafka   = "kafka"

	defaultDedupeSize = 4096
)

// TagStripper applies the trigger policy to a member.
type TagStripper interface {
	Apply(ctx context.Context, member policy.Member, observed []policy.TagID) ([]policy.TagID, error)
}

// TimerObserver starts and cancels punishment timers.
type TimerObserver interface {
	Observe(ctx context.Context, guild policy.GuildID, member policy.MemberID, added, removed []policy.TagID) error
}

// Controller routes membership changes to the reconciler and the
// escalation engine, whichever transport they arrive on.
type Controller struct {
	stripper TagStripper
	timers   TimerObserver
	metrics  *metrics.Recorder
	logger   *zap.Logger

	seenMu sync.Mutex
	seen   map[string]struct{}
	order  []string
	limit  int
}

// Options tune the controller.
type Options struct {
	// DedupeSize bounds how many Kafka event ids are remembered.
	DedupeSize int
}

// New constructs a controller.
func New(stripper TagStripper, timers TimerObserver, recorder *metrics.Recorder, logger *zap.Logger, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.DedupeSize
	if limit <= 0 {
		limit = defaultDedupeSize
	}
	return &Controller{
		stripper: stripper,
		timers:   timers,
		metrics:  recorder,
		logger:   logger,
		seen:     make(map[string]struct{}, limit),
		limit:    limit,
	}
}

// HandleMemberUpdate handles an event pushed by the gateway.
func (c *Controller) HandleMemberUpdate(ctx context.Context, upd policy.MemberUpdate) {
	c.handle(ctx, sourceGateway, upd)
}

// memberEvent is the bridge-topic wire format. A null or absent
// before_tags means the previous tag set is unknown.
type memberEvent struct {
	EventID    string          `json:"event_id"`
	GuildID    policy.GuildID  `json:"guild_id"`
	MemberID   policy.MemberID `json:"member_id"`
	BeforeTags []policy.TagID  `json:"before_tags"`
	AfterTags  []policy.TagID  `json:"after_tags"`
}

// HandleMessage satisfies kafka.MessageHandler. Malformed and duplicate
// messages are dropped so they never block the partition.
func (c *Controller) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt memberEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.metrics.ObserveKafkaError("decode")
		c.logger.Warn("failed to decode member event",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if err := common.ValidateTarget(evt.GuildID, evt.MemberID); err != nil {
		c.metrics.ObserveKafkaError("invalid")
		c.logger.Warn("member event rejected", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if evt.EventID != "" && c.isDuplicate(evt.EventID) {
		c.logger.Debug("duplicate member event ignored", zap.String("event_id", evt.EventID))
		return nil
	}

	c.handle(ctx, sourceKafka, policy.MemberUpdate{
		GuildID:     evt.GuildID,
		MemberID:    evt.MemberID,
		Before:      evt.BeforeTags,
		After:       evt.AfterTags,
		BeforeKnown: evt.BeforeTags != nil,
	})
	return ctx.Err()
}

func (c *Controller) handle(ctx context.Context, source string, upd policy.MemberUpdate) {
	c.metrics.ObserveMemberEvent(source)
	added, removed := upd.Diff()
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	if len(added) > 0 && c.stripper != nil {
		// Gateway failures were logged by the invoker; the next sweep retries.
		_, _ = c.stripper.Apply(ctx, upd.Member(), added)
	}
	if c.timers != nil {
		if err := c.timers.Observe(ctx, upd.GuildID, upd.MemberID, added, removed); err != nil {
			c.logger.Error("failed to persist punishment timers",
				zap.String("guild_id", string(upd.GuildID)),
				zap.String("member_id", string(upd.MemberID)),
				zap.Error(err))
		}
	}
}

func (c *Controller) isDuplicate(id string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.order) >= c.limit {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	return false
}
