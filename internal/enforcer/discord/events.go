package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// OnMemberUpdate registers a handler for guild member updates.
func (g *Gateway) OnMemberUpdate(handler func(context.Context, policy.MemberUpdate)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, handler)
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		g.mu.Lock()
		g.appID = r.User.ID
		g.mu.Unlock()
		g.log.Info("discord session ready", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
	}
	g.ready.Store(true)
	if err := g.syncCommands(); err != nil {
		g.log.Error("register commands failed", zap.Error(err))
	}
}

func (g *Gateway) onMemberUpdate(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	upd, ok := memberUpdateFromEvent(e)
	if !ok {
		return
	}
	g.mu.RLock()
	ctx := g.baseCtx
	handlers := append([]func(context.Context, policy.MemberUpdate){}, g.handlers...)
	g.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, upd)
	}
}

// memberUpdateFromEvent converts a gateway event. The previous role set is
// only known when the member was already cached.
func memberUpdateFromEvent(e *discordgo.GuildMemberUpdate) (policy.MemberUpdate, bool) {
	if e == nil || e.Member == nil || e.Member.User == nil {
		return policy.MemberUpdate{}, false
	}
	upd := policy.MemberUpdate{
		GuildID:  policy.GuildID(e.GuildID),
		MemberID: policy.MemberID(e.User.ID),
		After:    toTags(e.Roles),
	}
	if e.BeforeUpdate != nil {
		upd.Before = toTags(e.BeforeUpdate.Roles)
		upd.BeforeKnown = true
	}
	return upd, true
}
