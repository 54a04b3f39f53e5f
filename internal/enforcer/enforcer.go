package enforcer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/commands"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/discord"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// Gateway is the platform surface the agent moderates through.
type Gateway interface {
	Guilds(ctx context.Context) ([]policy.GuildID, error)
	Members(ctx context.Context, guild policy.GuildID) ([]policy.Member, error)
	// Member returns common.ErrMemberNotFound when the member has left.
	Member(ctx context.Context, guild policy.GuildID, member policy.MemberID) (policy.Member, error)
	Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error)
	AddTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error
	RemoveTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error
	Kick(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error
	Ban(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error
}

// TagLister is the read-only tag lookup used by helpers.
type TagLister interface {
	Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error)
}

// EventSource can be implemented by backends that push membership changes.
type EventSource interface {
	OnMemberUpdate(handler func(context.Context, policy.MemberUpdate))
}

// CommandHost can be implemented by backends that expose administrative commands.
type CommandHost interface {
	RegisterCommands(ctx context.Context, defs []commands.Definition, dispatch commands.DispatchFunc) error
}

// Opener can be implemented by backends holding a long-lived connection.
type Opener interface {
	Open(ctx context.Context) error
	Close() error
}

// HealthChecker can be implemented by backends to report health status.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadyChecker can be implemented by backends to signal readiness state.
type ReadyChecker interface {
	ReadyCheck(ctx context.Context) error
}

// Options describe how to construct a gateway backend.
type Options struct {
	Backend string
	DryRun  bool
	Logger  *zap.Logger

	Discord discord.Config
}

// Factory constructs the selected backend based on name.
func Factory(opts Options) (Gateway, error) {
	var (
		gw  Gateway
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "discord", "":
		opts.Discord.Logger = opts.Logger
		gw, err = discord.New(opts.Discord)
	case "memory", "noop":
		gw = NewMemoryGateway()
	default:
		return nil, fmt.Errorf("enforcer: unsupported backend %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		gw = NewDryRun(gw, opts.Logger)
	}
	return gw, nil
}

// ResolveTagByName finds the tag called name in guild.
func ResolveTagByName(ctx context.Context, lister TagLister, guild policy.GuildID, name string) (policy.Tag, error) {
	tags, err := lister.Tags(ctx, guild)
	if err != nil {
		return policy.Tag{}, err
	}
	for _, tag := range tags {
		if tag.Name == name {
			return tag, nil
		}
	}
	return policy.Tag{}, fmt.Errorf("%w: %q in guild %s", common.ErrTagNotFound, name, guild)
}
