package escalation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/ack"
	"github.com/ITZ-Steve3153/New-bot/internal/delay"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
	"github.com/ITZ-Steve3153/New-bot/internal/ratelimit"
	"github.com/ITZ-Steve3153/New-bot/internal/state"
)

const (
	// DefaultMuteTagName is the tag granted by the mute action.
	DefaultMuteTagName = "Muted"

	actionReason = "Punishment timer elapsed"

	retiredMemberLeft = "member_left"
	retiredTagRemoved = "tag_removed"
	retiredFired      = "fired"
)

// Options configure an Engine. Every field is optional.
type Options struct {
	Guard       *ratelimit.Guard
	Publisher   ack.Publisher
	MuteTagName string
	InstanceID  string
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	Clock       func() time.Time
}

// Engine starts, expires and fires punishment timers.
type Engine struct {
	store      *state.Store
	gateway    enforcer.Gateway
	guard      *ratelimit.Guard
	acks       ack.Publisher
	muteTag    string
	instanceID string
	logger     *zap.Logger
	metrics    *metrics.Recorder
	now        func() time.Time
}

// New builds an engine. gateway is normally an *enforcer.Invoker so every
// call is bounded and the kill switch applies.
func New(store *state.Store, gateway enforcer.Gateway, opts Options) *Engine {
	e := &Engine{
		store:      store,
		gateway:    gateway,
		guard:      opts.Guard,
		acks:       opts.Publisher,
		muteTag:    opts.MuteTagName,
		instanceID: opts.InstanceID,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Clock,
	}
	if e.muteTag == "" {
		e.muteTag = DefaultMuteTagName
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Observe starts timers for added tags that carry a rule and retires timers
// for removed ones. Starting is idempotent.
func (e *Engine) Observe(_ context.Context, guild policy.GuildID, member policy.MemberID, added, removed []policy.TagID) error {
	var errs []error
	now := e.now().UTC()
	for _, tag := range added {
		rule, ok := e.store.Rule(tag)
		if !ok || !rule.AppliesTo(guild) {
			continue
		}
		started, err := e.store.StartTimer(tag, member, now)
		if err != nil {
			errs = append(errs, err)
		}
		if started {
			e.metrics.ObserveTimerStarted()
			e.logger.Info("punishment timer started",
				zap.String("guild_id", string(guild)),
				zap.String("member_id", string(member)),
				zap.String("tag_id", string(tag)),
				zap.String("action", string(rule.Action)),
				zap.String("delay", rule.Delay))
		}
	}
	for _, tag := range removed {
		rule, ok := e.store.Rule(tag)
		if !ok || !rule.AppliesTo(guild) {
			continue
		}
		retired, err := e.store.RetireTimer(tag, member, time.Time{})
		if err != nil {
			errs = append(errs, err)
		}
		if retired {
			e.metrics.ObserveTimerRetired(retiredTagRemoved)
			e.logger.Info("punishment timer cancelled",
				zap.String("guild_id", string(guild)),
				zap.String("member_id", string(member)),
				zap.String("tag_id", string(tag)))
		}
	}
	e.metrics.SetActiveTimers(e.store.ActiveTimers())
	return errors.Join(errs...)
}

// Sweep evaluates every running timer once. A member whose lookup or action
// fails is logged, counted and left for the next tick without failing the
// sweep. The returned error covers what blocks the whole tick: guild lookup,
// the rate limit backend, persistence, the kill switch and cancellation.
func (e *Engine) Sweep(ctx context.Context) error {
	snap := e.store.Snapshot()
	now := e.now().UTC()
	index := newGuildIndex(e.gateway)

	var errs []error
	for _, tag := range snap.SortedRuleTags() {
		rule := snap.Rules[tag]
		if len(rule.AssignedUsers) == 0 {
			continue
		}
		wait, err := delay.ParsePositive(rule.Delay)
		if err != nil {
			e.metrics.ObserveDelayParseError()
			e.logger.Warn("skipping rule with invalid delay",
				zap.String("tag_id", string(tag)),
				zap.String("delay", rule.Delay),
				zap.Error(err))
			continue
		}
		guild, err := e.ruleGuild(ctx, index, *rule)
		if err != nil {
			if errors.Is(err, common.ErrTagNotFound) {
				e.logger.Warn("skipping rule whose tag exists in no guild", zap.String("tag_id", string(tag)))
				continue
			}
			errs = append(errs, err)
			continue
		}

		for _, member := range sortedMembers(rule.AssignedUsers) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t := timer{guild: guild, rule: *rule, member: member, startedAt: rule.AssignedUsers[member], delay: wait}
			if err := e.evaluate(ctx, index, t, now); err != nil {
				errs = append(errs, err)
			}
		}
	}
	e.metrics.SetActiveTimers(e.store.ActiveTimers())
	return errors.Join(errs...)
}

type timer struct {
	guild     policy.GuildID
	rule      policy.PunishmentRule
	member    policy.MemberID
	startedAt time.Time
	delay     time.Duration
}

func (t timer) fields() []zap.Field {
	return []zap.Field{
		zap.String("guild_id", string(t.guild)),
		zap.String("member_id", string(t.member)),
		zap.String("tag_id", string(t.rule.Tag)),
		zap.String("action", string(t.rule.Action)),
	}
}

func (e *Engine) evaluate(ctx context.Context, index *guildIndex, t timer, now time.Time) error {
	m, err := e.gateway.Member(ctx, t.guild, t.member)
	if errors.Is(err, common.ErrMemberNotFound) {
		return e.retire(t, retiredMemberLeft)
	}
	if err != nil {
		return e.skipMember(ctx, t, err)
	}
	if !m.HasTag(t.rule.Tag) {
		return e.retire(t, retiredTagRemoved)
	}
	if now.Sub(t.startedAt) < t.delay {
		return nil
	}

	// Commands may have replaced or deleted the rule since the snapshot.
	rule, armed := e.store.ArmedRule(t.rule.Tag, t.member, t.startedAt)
	if !armed {
		e.logger.Debug("punishment timer changed during sweep", t.fields()...)
		return nil
	}
	t.rule = rule

	res, err := e.guard.Acquire(ctx, common.GuildScope(t.guild), now)
	if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		e.metrics.ObserveRateLimited()
		e.logger.Debug("punishment deferred by rate limit", t.fields()...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("escalation: reserve action slot: %w", err)
	}

	result, actErr := e.execute(ctx, index, t, m)
	if keepTimer(actErr) {
		_ = res.Release(ctx)
		return e.skipMember(ctx, t, actErr)
	}
	if result == ack.ResultSkipped {
		_ = res.Release(ctx)
	} else if err := res.Commit(ctx); err != nil {
		e.logger.Warn("failed to commit action slot", append(t.fields(), zap.Error(err))...)
	}

	e.metrics.ObserveEscalation(string(t.rule.Action), string(result))
	switch result {
	case ack.ResultApplied:
		e.logger.Info("punishment applied", t.fields()...)
	case ack.ResultSkipped:
		e.logger.Info("punishment skipped", t.fields()...)
	default:
		e.logger.Warn("punishment failed, timer retired", append(t.fields(), zap.Error(actErr))...)
	}
	e.publish(ctx, t, result, actErr, now)
	return e.retire(t, retiredFired)
}

// execute runs the rule's action. A nil error with ResultSkipped means there
// was nothing to do.
func (e *Engine) execute(ctx context.Context, index *guildIndex, t timer, m policy.Member) (ack.Result, error) {
	var err error
	switch t.rule.Action {
	case policy.ActionMute:
		var muted policy.Tag
		muted, err = index.tagByName(ctx, t.guild, e.muteTag)
		if errors.Is(err, common.ErrTagNotFound) {
			e.logger.Info("mute tag missing in guild", append(t.fields(), zap.String("tag_name", e.muteTag))...)
			return ack.ResultSkipped, nil
		}
		if err != nil {
			break
		}
		if m.HasTag(muted.ID) {
			return ack.ResultSkipped, nil
		}
		err = e.gateway.AddTag(ctx, t.guild, t.member, muted.ID, actionReason)
	case policy.ActionKick:
		err = e.gateway.Kick(ctx, t.guild, t.member, actionReason)
	case policy.ActionBan:
		err = e.gateway.Ban(ctx, t.guild, t.member, actionReason)
	default:
		err = fmt.Errorf("%w: %q", policy.ErrInvalidAction, t.rule.Action)
	}
	if err != nil {
		return ack.ResultFailed, err
	}
	return ack.ResultApplied, nil
}

// keepTimer reports whether an action outcome leaves the timer for the next
// tick. Only outcomes that prove nothing reached the platform qualify.
func keepTimer(err error) bool {
	return enforcer.IsTimeout(err) ||
		errors.Is(err, enforcer.ErrSuspended) ||
		errors.Is(err, context.Canceled)
}

// skipMember leaves t running for the next tick. Cancellation and the kill
// switch stop every member alike, so those are still returned.
func (e *Engine) skipMember(ctx context.Context, t timer, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, enforcer.ErrSuspended) {
		return err
	}
	e.metrics.ObserveSweepMemberFailure("scheduler")
	e.logger.Warn("punishment timer left for next tick", append(t.fields(), zap.Error(err))...)
	return nil
}

func (e *Engine) retire(t timer, reason string) error {
	retired, err := e.store.RetireTimer(t.rule.Tag, t.member, t.startedAt)
	if retired {
		e.metrics.ObserveTimerRetired(reason)
		if reason != retiredFired {
			e.logger.Debug("punishment timer retired", append(t.fields(), zap.String("reason", reason))...)
		}
	}
	if err != nil {
		return fmt.Errorf("escalation: persist timer retirement: %w", err)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, t timer, result ack.Result, actErr error, now time.Time) {
	if e.acks == nil {
		return
	}
	payload := ack.NewPayload(ack.KindEscalation, t.guild, t.member, t.rule.Tag)
	payload.Action = t.rule.Action
	payload.Result = result
	payload.Reason = actionReason
	payload.TimerStartedAt = t.startedAt
	payload.AppliedAt = now
	payload.Controller = e.instanceID
	if actErr != nil {
		payload.Error = actErr.Error()
	}
	if err := e.acks.Publish(ctx, payload); err != nil {
		e.logger.Warn("failed to publish audit record", append(t.fields(), zap.Error(err))...)
	}
}

// ruleGuild returns the guild a rule acts in. Rules stored without one are
// matched to the first guild whose tags include the rule's tag.
func (e *Engine) ruleGuild(ctx context.Context, index *guildIndex, rule policy.PunishmentRule) (policy.GuildID, error) {
	if rule.GuildID != "" {
		return rule.GuildID, nil
	}
	return index.guildOf(ctx, rule.Tag)
}

func sortedMembers(timers map[policy.MemberID]time.Time) []policy.MemberID {
	out := make([]policy.MemberID, 0, len(timers))
	for id := range timers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
