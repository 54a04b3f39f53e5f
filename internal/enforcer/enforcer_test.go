package enforcer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

func newTestGateway() *MemoryGateway {
	gw := NewMemoryGateway()
	gw.AddGuild("g1", policy.Tag{ID: "10", Name: "Muted"}, policy.Tag{ID: "20", Name: "Probation"})
	gw.AddMember("g1", "m1", "20")
	return gw
}

func TestFactoryBackends(t *testing.T) {
	gw, err := Factory(Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryGateway{}, gw)

	gw, err = Factory(Options{Backend: "noop", DryRun: true})
	require.NoError(t, err)
	assert.IsType(t, &DryRun{}, gw)

	_, err = Factory(Options{Backend: "iptables"})
	assert.Error(t, err)
}

func TestResolveTagByName(t *testing.T) {
	gw := newTestGateway()
	tag, err := ResolveTagByName(context.Background(), gw, "g1", "Muted")
	require.NoError(t, err)
	assert.Equal(t, policy.TagID("10"), tag.ID)

	_, err = ResolveTagByName(context.Background(), gw, "g1", "muted")
	assert.ErrorIs(t, err, common.ErrTagNotFound)
}

func TestInvokerWrapsFailures(t *testing.T) {
	gw := newTestGateway()
	inv := NewInvoker(gw, InvokerOptions{Timeout: time.Second})

	_, err := inv.Member(context.Background(), "g1", "gone")
	require.ErrorIs(t, err, common.ErrMemberNotFound)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, OpMember, gerr.Op)
	assert.Equal(t, policy.MemberID("gone"), gerr.Member)

	boom := errors.New("boom")
	gw.FailOn(OpKick, boom)
	err = inv.Kick(context.Background(), "g1", "m1", "test")
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTimeout(err))
}

func TestInvokerTimesOut(t *testing.T) {
	gw := newTestGateway()
	gw.BlockOn(OpBan, true)
	inv := NewInvoker(gw, InvokerOptions{Timeout: 20 * time.Millisecond})

	err := inv.Ban(context.Background(), "g1", "m1", "test")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.True(t, gerr.Timeout())
}

func TestInvokerKillSwitchBlocksWritesOnly(t *testing.T) {
	gw := newTestGateway()
	ks := control.NewKillSwitch(true)
	inv := NewInvoker(gw, InvokerOptions{KillSwitch: ks})

	err := inv.RemoveTag(context.Background(), "g1", "m1", "20", "test")
	assert.ErrorIs(t, err, ErrSuspended)
	assert.Empty(t, gw.CallsFor(OpRemoveTag))

	member, err := inv.Member(context.Background(), "g1", "m1")
	require.NoError(t, err)
	assert.True(t, member.HasTag("20"))

	ks.Disable()
	require.NoError(t, inv.RemoveTag(context.Background(), "g1", "m1", "20", "test"))
	member, err = inv.Member(context.Background(), "g1", "m1")
	require.NoError(t, err)
	assert.False(t, member.HasTag("20"))
}

func TestDryRunSkipsWrites(t *testing.T) {
	gw := newTestGateway()
	dry := NewDryRun(gw, nil)
	ctx := context.Background()

	require.NoError(t, dry.Kick(ctx, "g1", "m1", "test"))
	require.NoError(t, dry.AddTag(ctx, "g1", "m1", "10", "test"))
	assert.Empty(t, gw.CallsFor(OpKick))
	assert.Empty(t, gw.CallsFor(OpAddTag))

	member, err := dry.Member(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []policy.TagID{"20"}, member.Tags)

	var events int
	dry.OnMemberUpdate(func(context.Context, policy.MemberUpdate) { events++ })
	gw.Grant(ctx, "g1", "m1", "10")
	assert.Equal(t, 1, events)
}

func TestMemoryGatewayBan(t *testing.T) {
	gw := newTestGateway()
	ctx := context.Background()
	require.NoError(t, gw.Ban(ctx, "g1", "m1", "reason"))
	assert.True(t, gw.Banned("g1", "m1"))
	_, err := gw.Member(ctx, "g1", "m1")
	assert.ErrorIs(t, err, common.ErrMemberNotFound)
	assert.Equal(t, "reason", gw.CallsFor(OpBan)[0].Reason)
}
