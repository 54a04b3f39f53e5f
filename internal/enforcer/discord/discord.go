package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/commands"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

const membersPageSize = 1000

// Config captures options for the Discord gateway backend.
type Config struct {
	Token  string
	Logger *zap.Logger
}

// Gateway moderates Discord guilds through a bot session.
type Gateway struct {
	session *discordgo.Session
	log     *zap.Logger
	ready   atomic.Bool

	mu       sync.RWMutex
	baseCtx  context.Context
	appID    string
	handlers []func(context.Context, policy.MemberUpdate)
	defs     []commands.Definition
	dispatch commands.DispatchFunc
}

// New constructs the Discord backend. The session is connected by Open.
func New(cfg Config) (*Gateway, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("discord: bot token required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	session.StateEnabled = true

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{session: session, log: log.Named("discord"), baseCtx: context.Background()}
	session.AddHandler(g.onReady)
	session.AddHandler(g.onMemberUpdate)
	session.AddHandler(g.onInteraction)
	return g, nil
}

// Open connects the gateway websocket. ctx scopes event handling.
func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	g.baseCtx = ctx
	g.mu.Unlock()
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	return nil
}

// Close disconnects the session.
func (g *Gateway) Close() error {
	g.ready.Store(false)
	return g.session.Close()
}

// HealthCheck reports whether the session has received its ready payload.
func (g *Gateway) HealthCheck(context.Context) error {
	if !g.ready.Load() {
		return fmt.Errorf("discord: session not ready")
	}
	return nil
}

// ReadyCheck reuses HealthCheck for readiness signal.
func (g *Gateway) ReadyCheck(ctx context.Context) error {
	return g.HealthCheck(ctx)
}

func (g *Gateway) Guilds(context.Context) ([]policy.GuildID, error) {
	state := g.session.State
	state.RLock()
	defer state.RUnlock()
	ids := make([]policy.GuildID, 0, len(state.Guilds))
	for _, guild := range state.Guilds {
		if guild == nil || guild.Unavailable {
			continue
		}
		ids = append(ids, policy.GuildID(guild.ID))
	}
	return ids, nil
}

func (g *Gateway) Members(ctx context.Context, guild policy.GuildID) ([]policy.Member, error) {
	var (
		out   []policy.Member
		after string
	)
	for {
		page, err := g.session.GuildMembers(string(guild), after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: list members: %w", err)
		}
		for _, m := range page {
			if m == nil || m.User == nil {
				continue
			}
			out = append(out, toMember(guild, m))
			after = m.User.ID
		}
		if len(page) < membersPageSize {
			return out, nil
		}
	}
}

func (g *Gateway) Member(ctx context.Context, guild policy.GuildID, member policy.MemberID) (policy.Member, error) {
	m, err := g.session.GuildMember(string(guild), string(member), discordgo.WithContext(ctx))
	if err != nil {
		return policy.Member{}, mapError("get member", err)
	}
	return toMember(guild, m), nil
}

func (g *Gateway) Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error) {
	roles, err := g.session.GuildRoles(string(guild), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: list roles: %w", err)
	}
	tags := make([]policy.Tag, 0, len(roles))
	for _, r := range roles {
		if r == nil {
			continue
		}
		tags = append(tags, policy.Tag{ID: policy.TagID(r.ID), Name: r.Name})
	}
	return tags, nil
}

func (g *Gateway) AddTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	err := g.session.GuildMemberRoleAdd(string(guild), string(member), string(tag), requestOptions(ctx, reason)...)
	return mapError("add role", err)
}

func (g *Gateway) RemoveTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	err := g.session.GuildMemberRoleRemove(string(guild), string(member), string(tag), requestOptions(ctx, reason)...)
	return mapError("remove role", err)
}

func (g *Gateway) Kick(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	err := g.session.GuildMemberDeleteWithReason(string(guild), string(member), reason, discordgo.WithContext(ctx))
	return mapError("kick", err)
}

func (g *Gateway) Ban(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	err := g.session.GuildBanCreateWithReason(string(guild), string(member), reason, 0, discordgo.WithContext(ctx))
	return mapError("ban", err)
}

func requestOptions(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

func toMember(guild policy.GuildID, m *discordgo.Member) policy.Member {
	out := policy.Member{GuildID: guild, Tags: toTags(m.Roles)}
	if m.User != nil {
		out.ID = policy.MemberID(m.User.ID)
	}
	return out
}

func toTags(roles []string) []policy.TagID {
	tags := make([]policy.TagID, 0, len(roles))
	for _, r := range roles {
		tags = append(tags, policy.TagID(r))
	}
	return tags
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnknownMember(err) {
		return fmt.Errorf("discord: %s: %w", op, common.ErrMemberNotFound)
	}
	return fmt.Errorf("discord: %s: %w", op, err)
}

func isUnknownMember(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil && (rest.Message.Code == discordgo.ErrCodeUnknownMember || rest.Message.Code == discordgo.ErrCodeUnknownUser) {
		return true
	}
	return rest.Message == nil && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}
