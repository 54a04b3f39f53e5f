package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITZ-Steve3153/New-bot/internal/commands"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "})
	assert.Error(t, err)

	gw, err := New(Config{Token: "abc"})
	require.NoError(t, err)
	assert.Error(t, gw.HealthCheck(context.Background()))
}

func TestMemberUpdateFromEvent(t *testing.T) {
	evt := &discordgo.GuildMemberUpdate{
		Member: &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1"}, Roles: []string{"1", "2"}},
	}
	upd, ok := memberUpdateFromEvent(evt)
	require.True(t, ok)
	assert.False(t, upd.BeforeKnown)
	assert.Equal(t, []policy.TagID{"1", "2"}, upd.After)

	evt.BeforeUpdate = &discordgo.Member{Roles: []string{"1"}}
	upd, ok = memberUpdateFromEvent(evt)
	require.True(t, ok)
	added, removed := upd.Diff()
	assert.Equal(t, []policy.TagID{"2"}, added)
	assert.Empty(t, removed)
	assert.Equal(t, policy.GuildID("g1"), upd.GuildID)

	_, ok = memberUpdateFromEvent(&discordgo.GuildMemberUpdate{})
	assert.False(t, ok)
}

func TestToApplicationCommands(t *testing.T) {
	cmds := toApplicationCommands(commands.Definitions())
	require.Len(t, cmds, len(commands.Definitions()))
	for _, cmd := range cmds {
		require.NotNil(t, cmd.DefaultMemberPermissions)
		assert.Equal(t, int64(discordgo.PermissionManageRoles), *cmd.DefaultMemberPermissions)
	}

	var punish *discordgo.ApplicationCommand
	for _, cmd := range cmds {
		if cmd.Name == "punish_add_trigger" {
			punish = cmd
		}
	}
	require.NotNil(t, punish)
	require.Len(t, punish.Options, 3)
	assert.Equal(t, discordgo.ApplicationCommandOptionRole, punish.Options[0].Type)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, punish.Options[1].Type)
	assert.Len(t, punish.Options[1].Choices, 3)
}

func TestInvocationFromInteraction(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "g1",
		Member:  &discordgo.Member{User: &discordgo.User{ID: "admin"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "punish_add_trigger",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: "55"},
				{Name: "action", Type: discordgo.ApplicationCommandOptionString, Value: "kick"},
				{Name: "minutes", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(15)},
			},
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Roles: map[string]*discordgo.Role{"55": {ID: "55", Name: "Probation"}},
			},
		},
	}}

	inv := invocationFromInteraction(i)
	assert.Equal(t, policy.GuildID("g1"), inv.GuildID)
	assert.Equal(t, policy.MemberID("admin"), inv.UserID)
	tag, ok := inv.Tag("role")
	require.True(t, ok)
	assert.Equal(t, policy.Tag{ID: "55", Name: "Probation"}, tag)
	assert.Equal(t, "kick", inv.Strings["action"])
	assert.Equal(t, int64(15), inv.Integers["minutes"])
}

func TestMapErrorUnknownMember(t *testing.T) {
	rest := &discordgo.RESTError{Response: &http.Response{Status: "404 Not Found", StatusCode: http.StatusNotFound}, Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember, Message: "Unknown Member"}}
	err := mapError("get member", fmt.Errorf("wrapped: %w", rest))
	assert.ErrorIs(t, err, common.ErrMemberNotFound)

	notFound := &discordgo.RESTError{Response: &http.Response{Status: "404 Not Found", StatusCode: http.StatusNotFound}}
	assert.ErrorIs(t, mapError("get member", notFound), common.ErrMemberNotFound)

	forbidden := &discordgo.RESTError{Response: &http.Response{Status: "403 Forbidden", StatusCode: http.StatusForbidden}, Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions}}
	err = mapError("kick", forbidden)
	assert.False(t, errors.Is(err, common.ErrMemberNotFound))
	assert.NoError(t, mapError("kick", nil))
}
