package commands

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
	"github.com/ITZ-Steve3153/New-bot/internal/state"
)

type staticTags struct {
	tags []policy.Tag
	err  error
}

func (s staticTags) Tags(context.Context, policy.GuildID) ([]policy.Tag, error) {
	return s.tags, s.err
}

func newTestService(t *testing.T, tags TagDirectory) (*Service, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	store := state.NewStore(state.Options{
		TriggerPath:    filepath.Join(dir, "config.json"),
		PunishmentPath: filepath.Join(dir, "punishment_data.json"),
	})
	require.NoError(t, store.Load())
	return NewService(store, tags, nil, nil), store
}

func roleInvocation(id policy.TagID, name string) Invocation {
	return Invocation{
		GuildID: "g1",
		Tags:    map[string]policy.Tag{"role": {ID: id, Name: name}},
	}
}

func TestTriggerCommandsEditStore(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	reply, err := svc.Dispatch(ctx, "set_trigger_role", roleInvocation("1", "Verified"))
	require.NoError(t, err)
	assert.Equal(t, "✅ Trigger role set: Verified", reply)

	_, err = svc.Dispatch(ctx, "add_remove_role", roleInvocation("2", "Unverified"))
	require.NoError(t, err)
	assert.Equal(t, []policy.TagID{"1"}, store.TriggerPolicy().TriggerTags)
	assert.Equal(t, []policy.TagID{"2"}, store.TriggerPolicy().RemovalTags)

	_, err = svc.Dispatch(ctx, "remove_trigger_role", roleInvocation("1", "Verified"))
	require.NoError(t, err)
	_, err = svc.Dispatch(ctx, "remove_remove_role", roleInvocation("2", "Unverified"))
	require.NoError(t, err)
	assert.Empty(t, store.TriggerPolicy().TriggerTags)
	assert.Empty(t, store.TriggerPolicy().RemovalTags)
}

func TestSetCheckInterval(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	reply, err := svc.Dispatch(ctx, "set_check_interval", Invocation{Integers: map[string]int64{"minutes": 15}})
	require.NoError(t, err)
	assert.Equal(t, "🔁 Interval set to 15 minutes.", reply)
	assert.Equal(t, 15*time.Minute, store.TriggerPolicy().SweepInterval)

	_, err = svc.Dispatch(ctx, "set_check_interval", Invocation{Integers: map[string]int64{"minutes": 0}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPunishAddValidatesInput(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	inv := roleInvocation("5", "Probation")
	inv.Strings = map[string]string{"action": "warn", "delay": "1h"}
	_, err := svc.Dispatch(ctx, "punish_add_trigger", inv)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "❌ Invalid action. Choose mute, kick, or ban.", Reply(err))

	inv.Strings = map[string]string{"action": "kick", "delay": "soon"}
	_, err = svc.Dispatch(ctx, "punish_add_trigger", inv)
	assert.ErrorIs(t, err, ErrValidation)

	inv.Strings = map[string]string{"action": "kick", "delay": "0m"}
	_, err = svc.Dispatch(ctx, "punish_add_trigger", inv)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, store.Rules())

	inv.Strings = map[string]string{"action": "Ban", "delay": "30d"}
	reply, err := svc.Dispatch(ctx, "punish_add_trigger", inv)
	require.NoError(t, err)
	assert.Equal(t, "⚠️ Set punishment: ban after 30d if Probation is kept.", reply)

	rule, ok := store.Rule("5")
	require.True(t, ok)
	assert.Equal(t, policy.ActionBan, rule.Action)
	assert.Equal(t, policy.GuildID("g1"), rule.GuildID)
}

func TestListingsResolveNames(t *testing.T) {
	tags := staticTags{tags: []policy.Tag{{ID: "1", Name: "Verified"}, {ID: "5", Name: "Probation"}}}
	svc, store := newTestService(t, tags)
	ctx := context.Background()

	_, err := store.AddTriggerTag("1")
	require.NoError(t, err)
	_, err = store.AddRemovalTag("999")
	require.NoError(t, err)

	reply, err := svc.Dispatch(ctx, "list_roles", Invocation{GuildID: "g1"})
	require.NoError(t, err)
	assert.Contains(t, reply, "**Trigger Roles**: Verified")
	assert.Contains(t, reply, "**Roles to Remove**: 999")

	reply, err = svc.Dispatch(ctx, "punish_list", Invocation{GuildID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "No punishments set.", reply)

	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "5", GuildID: "g1", Action: policy.ActionMute, Delay: "12h"}))
	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "6", GuildID: "other", Action: policy.ActionKick, Delay: "1h"}))
	_, err = store.StartTimer("5", "m1", time.Now())
	require.NoError(t, err)

	reply, err = svc.Dispatch(ctx, "punish_list", Invocation{GuildID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "🔸 Probation: mute after 12h (1 running)", reply)

	_, err = svc.Dispatch(ctx, "punish_remove_trigger", roleInvocation("5", "Probation"))
	require.NoError(t, err)
	_, ok := store.Rule("5")
	assert.False(t, ok)
}

func TestListRolesDegradesOnLookupFailure(t *testing.T) {
	svc, store := newTestService(t, staticTags{err: errors.New("unavailable")})
	_, err := store.AddTriggerTag("1")
	require.NoError(t, err)

	reply, err := svc.Dispatch(context.Background(), "list_roles", Invocation{GuildID: "g1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "🧠 **Trigger Roles**: 1\n"))
}

func TestUnknownCommand(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Dispatch(context.Background(), "nope", Invocation{})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "❌ Command failed, check the agent logs.", Reply(err))
	assert.Len(t, Definitions(), 9)
}
