package enforcer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

const defaultCallTimeout = 10 * time.Second

// ErrSuspended is returned for writes while the kill switch is engaged.
var ErrSuspended = errors.New("enforcer: moderation actions suspended by kill switch")

// Error describes a failed gateway call.
type Error struct {
	Op     string
	Guild  policy.GuildID
	Member policy.MemberID
	Tag    policy.TagID
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("enforcer: %s guild=%s", e.Op, e.Guild)
	if e.Member != "" {
		msg += " member=" + string(e.Member)
	}
	if e.Tag != "" {
		msg += " tag=" + string(e.Tag)
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the call exceeded its deadline.
func (e *Error) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// IsTimeout reports whether err is a gateway call that timed out.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Invoker bounds every gateway call with a timeout and reports failures once.
type Invoker struct {
	gw         Gateway
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Recorder
	killSwitch *control.KillSwitch
}

// InvokerOptions configure an Invoker.
type InvokerOptions struct {
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
	KillSwitch *control.KillSwitch
}

// NewInvoker wraps gw.
func NewInvoker(gw Gateway, opts InvokerOptions) *Invoker {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Invoker{gw: gw, timeout: opts.Timeout, logger: opts.Logger, metrics: opts.Metrics, killSwitch: opts.KillSwitch}
}

// Gateway returns the wrapped gateway.
func (i *Invoker) Gateway() Gateway { return i.gw }

type target struct {
	op     string
	guild  policy.GuildID
	member policy.MemberID
	tag    policy.TagID
	write  bool
}

func invoke[T any](ctx context.Context, i *Invoker, t target, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if t.write && i.killSwitch != nil && i.killSwitch.Enabled() {
		return zero, &Error{Op: t.op, Guild: t.guild, Member: t.member, Tag: t.tag, Err: ErrSuspended}
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fn(callCtx)
		done <- result{val: v, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: callCtx.Err()}
	}
	i.metrics.ObserveGatewayCall(t.op, time.Since(start), ignoreNotFound(res.err))
	if res.err == nil {
		return res.val, nil
	}

	err := &Error{Op: t.op, Guild: t.guild, Member: t.member, Tag: t.tag, Err: res.err}
	fields := []zap.Field{
		zap.String("op", t.op),
		zap.String("guild_id", string(t.guild)),
		zap.String("member_id", string(t.member)),
		zap.String("tag_id", string(t.tag)),
		zap.Error(res.err),
	}
	switch {
	case errors.Is(res.err, common.ErrMemberNotFound):
		i.logger.Debug("gateway member not found", fields...)
	case IsTimeout(res.err):
		i.logger.Warn("gateway call timed out", append(fields, zap.Duration("timeout", i.timeout))...)
	default:
		i.logger.Warn("gateway call failed", fields...)
	}
	return zero, err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, common.ErrMemberNotFound) {
		return nil
	}
	return err
}

func noValue(fn func(context.Context) error) func(context.Context) (struct{}, error) {
	return func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) }
}

func (i *Invoker) Guilds(ctx context.Context) ([]policy.GuildID, error) {
	return invoke(ctx, i, target{op: OpGuilds}, i.gw.Guilds)
}

func (i *Invoker) Members(ctx context.Context, guild policy.GuildID) ([]policy.Member, error) {
	return invoke(ctx, i, target{op: OpMembers, guild: guild}, func(ctx context.Context) ([]policy.Member, error) {
		return i.gw.Members(ctx, guild)
	})
}

func (i *Invoker) Member(ctx context.Context, guild policy.GuildID, member policy.MemberID) (policy.Member, error) {
	return invoke(ctx, i, target{op: OpMember, guild: guild, member: member}, func(ctx context.Context) (policy.Member, error) {
		return i.gw.Member(ctx, guild, member)
	})
}

func (i *Invoker) Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error) {
	return invoke(ctx, i, target{op: OpTags, guild: guild}, func(ctx context.Context) ([]policy.Tag, error) {
		return i.gw.Tags(ctx, guild)
	})
}

func (i *Invoker) AddTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	_, err := invoke(ctx, i, target{op: OpAddTag, guild: guild, member: member, tag: tag, write: true}, noValue(func(ctx context.Context) error {
		return i.gw.AddTag(ctx, guild, member, tag, reason)
	}))
	return err
}

func (i *Invoker) RemoveTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	_, err := invoke(ctx, i, target{op: OpRemoveTag, guild: guild, member: member, tag: tag, write: true}, noValue(func(ctx context.Context) error {
		return i.gw.RemoveTag(ctx, guild, member, tag, reason)
	}))
	return err
}

func (i *Invoker) Kick(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	_, err := invoke(ctx, i, target{op: OpKick, guild: guild, member: member, write: true}, noValue(func(ctx context.Context) error {
		return i.gw.Kick(ctx, guild, member, reason)
	}))
	return err
}

func (i *Invoker) Ban(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	_, err := invoke(ctx, i, target{op: OpBan, guild: guild, member: member, write: true}, noValue(func(ctx context.Context) error {
		return i.gw.Ban(ctx, guild, member, reason)
	}))
	return err
}
