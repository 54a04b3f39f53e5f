package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/commands"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// RegisterCommands publishes defs as global slash commands and routes
// invocations to dispatch. Registration is deferred until the session is ready.
func (g *Gateway) RegisterCommands(_ context.Context, defs []commands.Definition, dispatch commands.DispatchFunc) error {
	g.mu.Lock()
	g.defs = append([]commands.Definition{}, defs...)
	g.dispatch = dispatch
	g.mu.Unlock()
	if !g.ready.Load() {
		return nil
	}
	return g.syncCommands()
}

func (g *Gateway) syncCommands() error {
	g.mu.RLock()
	defs := g.defs
	appID := g.appID
	g.mu.RUnlock()
	if len(defs) == 0 || appID == "" {
		return nil
	}
	created, err := g.session.ApplicationCommandBulkOverwrite(appID, "", toApplicationCommands(defs))
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	g.log.Info("registered slash commands", zap.Int("count", len(created)))
	return nil
}

func toApplicationCommands(defs []commands.Definition) []*discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageRoles)
	dm := false
	out := make([]*discordgo.ApplicationCommand, 0, len(defs))
	for _, def := range defs {
		cmd := &discordgo.ApplicationCommand{
			Name:                     def.Name,
			Description:              def.Description,
			DefaultMemberPermissions: &perms,
			DMPermission:             &dm,
		}
		for _, opt := range def.Options {
			cmd.Options = append(cmd.Options, toCommandOption(opt))
		}
		out = append(out, cmd)
	}
	return out
}

func toCommandOption(opt commands.Option) *discordgo.ApplicationCommandOption {
	o := &discordgo.ApplicationCommandOption{
		Name:        opt.Name,
		Description: opt.Description,
		Required:    opt.Required,
	}
	switch opt.Kind {
	case commands.OptionTag:
		o.Type = discordgo.ApplicationCommandOptionRole
	case commands.OptionInteger:
		o.Type = discordgo.ApplicationCommandOptionInteger
		if opt.MinValue != 0 {
			minValue := float64(opt.MinValue)
			o.MinValue = &minValue
		}
	default:
		o.Type = discordgo.ApplicationCommandOptionString
	}
	for _, choice := range opt.Choices {
		o.Choices = append(o.Choices, &discordgo.ApplicationCommandOptionChoice{Name: choice, Value: choice})
	}
	return o
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	g.mu.RLock()
	dispatch := g.dispatch
	ctx := g.baseCtx
	g.mu.RUnlock()
	if dispatch == nil {
		return
	}

	data := i.ApplicationCommandData()
	reply, err := dispatch(ctx, data.Name, invocationFromInteraction(i))
	if err != nil {
		reply = commands.Reply(err)
	}
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		g.log.Warn("interaction respond failed", zap.String("command", data.Name), zap.Error(err))
	}
}

func invocationFromInteraction(i *discordgo.InteractionCreate) commands.Invocation {
	inv := commands.Invocation{
		GuildID:  policy.GuildID(i.GuildID),
		Tags:     make(map[string]policy.Tag),
		Strings:  make(map[string]string),
		Integers: make(map[string]int64),
	}
	if i.Member != nil && i.Member.User != nil {
		inv.UserID = policy.MemberID(i.Member.User.ID)
	}
	data := i.ApplicationCommandData()
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionRole:
			id, _ := opt.Value.(string)
			tag := policy.Tag{ID: policy.TagID(id), Name: id}
			if data.Resolved != nil {
				if role, ok := data.Resolved.Roles[id]; ok && role != nil {
					tag.Name = role.Name
				}
			}
			inv.Tags[opt.Name] = tag
		case discordgo.ApplicationCommandOptionInteger:
			inv.Integers[opt.Name] = opt.IntValue()
		case discordgo.ApplicationCommandOptionString:
			inv.Strings[opt.Name] = opt.StringValue()
		}
	}
	return inv
}
