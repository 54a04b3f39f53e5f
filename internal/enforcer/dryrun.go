package enforcer

import (
	"context"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/commands"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// DryRun forwards reads to the wrapped gateway and logs writes instead of
// performing them. Optional capabilities of the wrapped gateway stay visible.
type DryRun struct {
	inner  Gateway
	logger *zap.Logger
}

// NewDryRun wraps gw so that no moderation write reaches the platform.
func NewDryRun(gw Gateway, logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{inner: gw, logger: logger.Named("dry-run")}
}

func (d *DryRun) Guilds(ctx context.Context) ([]policy.GuildID, error) { return d.inner.Guilds(ctx) }

func (d *DryRun) Members(ctx context.Context, guild policy.GuildID) ([]policy.Member, error) {
	return d.inner.Members(ctx, guild)
}

func (d *DryRun) Member(ctx context.Context, guild policy.GuildID, member policy.MemberID) (policy.Member, error) {
	return d.inner.Member(ctx, guild, member)
}

func (d *DryRun) Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error) {
	return d.inner.Tags(ctx, guild)
}

func (d *DryRun) AddTag(_ context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	d.skip(OpAddTag, guild, member, zap.String("tag_id", string(tag)), zap.String("reason", reason))
	return nil
}

func (d *DryRun) RemoveTag(_ context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	d.skip(OpRemoveTag, guild, member, zap.String("tag_id", string(tag)), zap.String("reason", reason))
	return nil
}

func (d *DryRun) Kick(_ context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	d.skip(OpKick, guild, member, zap.String("reason", reason))
	return nil
}

func (d *DryRun) Ban(_ context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	d.skip(OpBan, guild, member, zap.String("reason", reason))
	return nil
}

func (d *DryRun) skip(op string, guild policy.GuildID, member policy.MemberID, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("op", op),
		zap.String("guild_id", string(guild)),
		zap.String("member_id", string(member)),
	}, fields...)
	d.logger.Info("dry-run: skipping gateway write", fields...)
}

func (d *DryRun) OnMemberUpdate(handler func(context.Context, policy.MemberUpdate)) {
	if src, ok := d.inner.(EventSource); ok {
		src.OnMemberUpdate(handler)
	}
}

func (d *DryRun) RegisterCommands(ctx context.Context, defs []commands.Definition, dispatch commands.DispatchFunc) error {
	if host, ok := d.inner.(CommandHost); ok {
		return host.RegisterCommands(ctx, defs, dispatch)
	}
	return nil
}

func (d *DryRun) Open(ctx context.Context) error {
	if o, ok := d.inner.(Opener); ok {
		return o.Open(ctx)
	}
	return nil
}

func (d *DryRun) Close() error {
	if o, ok := d.inner.(Opener); ok {
		return o.Close()
	}
	return nil
}

func (d *DryRun) HealthCheck(ctx context.Context) error {
	if hc, ok := d.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (d *DryRun) ReadyCheck(ctx context.Context) error {
	if rc, ok := d.inner.(ReadyChecker); ok {
		return rc.ReadyCheck(ctx)
	}
	return d.HealthCheck(ctx)
}
