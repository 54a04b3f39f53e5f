package enforcer

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// Gateway operation names.
const (
	OpGuilds    = "guilds"
	OpMembers   = "members"
	OpMember    = "member"
	OpTags      = "tags"
	OpAddTag    = "add_tag"
	OpRemoveTag = "remove_tag"
	OpKick      = "kick"
	OpBan       = "ban"
)

// Call records one gateway invocation.
type Call struct {
	Op     string
	Guild  policy.GuildID
	Member policy.MemberID
	Tag    policy.TagID
	Reason string
}

type memoryGuild struct {
	tags    []policy.Tag
	members map[policy.MemberID][]policy.TagID
	banned  map[policy.MemberID]bool
}

// MemoryGateway is an in-process gateway used by the noop backend and tests.
type MemoryGateway struct {
	mu       sync.RWMutex
	guilds   map[policy.GuildID]*memoryGuild
	calls    []Call
	failures map[string]error
	blocked  map[string]bool
	handlers []func(context.Context, policy.MemberUpdate)
}

// NewMemoryGateway constructs an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		guilds:   make(map[policy.GuildID]*memoryGuild),
		failures: make(map[string]error),
		blocked:  make(map[string]bool),
	}
}

func (m *MemoryGateway) guildLocked(id policy.GuildID) *memoryGuild {
	g, ok := m.guilds[id]
	if !ok {
		g = &memoryGuild{members: make(map[policy.MemberID][]policy.TagID), banned: make(map[policy.MemberID]bool)}
		m.guilds[id] = g
	}
	return g
}

// AddGuild registers guild with the given tags.
func (m *MemoryGateway) AddGuild(guild policy.GuildID, tags ...policy.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guildLocked(guild)
	g.tags = append(g.tags, tags...)
}

// AddMember places member in guild holding tags.
func (m *MemoryGateway) AddMember(guild policy.GuildID, member policy.MemberID, tags ...policy.TagID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guildLocked(guild).members[member] = append([]policy.TagID{}, tags...)
}

// Grant gives member a tag out of band and notifies registered handlers.
func (m *MemoryGateway) Grant(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID) {
	m.mu.Lock()
	g := m.guildLocked(guild)
	before := append([]policy.TagID{}, g.members[member]...)
	if !slices.Contains(before, tag) {
		g.members[member] = append(g.members[member], tag)
	}
	after := append([]policy.TagID{}, g.members[member]...)
	handlers := append([]func(context.Context, policy.MemberUpdate){}, m.handlers...)
	m.mu.Unlock()

	upd := policy.MemberUpdate{GuildID: guild, MemberID: member, Before: before, After: after, BeforeKnown: true}
	for _, h := range handlers {
		h(ctx, upd)
	}
}

// FailOn makes every subsequent op call return err. A nil err clears it.
func (m *MemoryGateway) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// BlockOn makes op calls wait for context cancellation.
func (m *MemoryGateway) BlockOn(op string, block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[op] = block
}

// Calls returns the recorded invocations.
func (m *MemoryGateway) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the recorded invocations of op.
func (m *MemoryGateway) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Banned reports whether member was banned from guild.
func (m *MemoryGateway) Banned(guild policy.GuildID, member policy.MemberID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guilds[guild]
	return ok && g.banned[member]
}

// OnMemberUpdate registers a handler invoked by Grant.
func (m *MemoryGateway) OnMemberUpdate(handler func(context.Context, policy.MemberUpdate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *MemoryGateway) begin(ctx context.Context, c Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	err := m.failures[c.Op]
	block := m.blocked[c.Op]
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *MemoryGateway) Guilds(ctx context.Context) ([]policy.GuildID, error) {
	if err := m.begin(ctx, Call{Op: OpGuilds}); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]policy.GuildID, 0, len(m.guilds))
	for id := range m.guilds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryGateway) Members(ctx context.Context, guild policy.GuildID) ([]policy.Member, error) {
	if err := m.begin(ctx, Call{Op: OpMembers, Guild: guild}); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guilds[guild]
	if !ok {
		return nil, fmt.Errorf("memory: unknown guild %s", guild)
	}
	members := make([]policy.Member, 0, len(g.members))
	for id, tags := range g.members {
		members = append(members, policy.Member{GuildID: guild, ID: id, Tags: append([]policy.TagID{}, tags...)})
	}
	slices.SortFunc(members, func(a, b policy.Member) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return members, nil
}

func (m *MemoryGateway) Member(ctx context.Context, guild policy.GuildID, member policy.MemberID) (policy.Member, error) {
	if err := m.begin(ctx, Call{Op: OpMember, Guild: guild, Member: member}); err != nil {
		return policy.Member{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guilds[guild]
	if !ok {
		return policy.Member{}, common.ErrMemberNotFound
	}
	tags, ok := g.members[member]
	if !ok {
		return policy.Member{}, common.ErrMemberNotFound
	}
	return policy.Member{GuildID: guild, ID: member, Tags: append([]policy.TagID{}, tags...)}, nil
}

func (m *MemoryGateway) Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error) {
	if err := m.begin(ctx, Call{Op: OpTags, Guild: guild}); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guilds[guild]
	if !ok {
		return nil, fmt.Errorf("memory: unknown guild %s", guild)
	}
	return append([]policy.Tag{}, g.tags...), nil
}

func (m *MemoryGateway) AddTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	if err := m.begin(ctx, Call{Op: OpAddTag, Guild: guild, Member: member, Tag: tag, Reason: reason}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, tags, err := m.memberLocked(guild, member)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(g.tags, func(t policy.Tag) bool { return t.ID == tag }) {
		return fmt.Errorf("%w: %s", common.ErrTagNotFound, tag)
	}
	if !slices.Contains(tags, tag) {
		g.members[member] = append(tags, tag)
	}
	return nil
}

func (m *MemoryGateway) RemoveTag(ctx context.Context, guild policy.GuildID, member policy.MemberID, tag policy.TagID, reason string) error {
	if err := m.begin(ctx, Call{Op: OpRemoveTag, Guild: guild, Member: member, Tag: tag, Reason: reason}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, tags, err := m.memberLocked(guild, member)
	if err != nil {
		return err
	}
	if idx := slices.Index(tags, tag); idx >= 0 {
		g.members[member] = slices.Delete(tags, idx, idx+1)
	}
	return nil
}

func (m *MemoryGateway) Kick(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	if err := m.begin(ctx, Call{Op: OpKick, Guild: guild, Member: member, Reason: reason}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, _, err := m.memberLocked(guild, member)
	if err != nil {
		return err
	}
	delete(g.members, member)
	return nil
}

func (m *MemoryGateway) Ban(ctx context.Context, guild policy.GuildID, member policy.MemberID, reason string) error {
	if err := m.begin(ctx, Call{Op: OpBan, Guild: guild, Member: member, Reason: reason}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guildLocked(guild)
	delete(g.members, member)
	g.banned[member] = true
	return nil
}

func (m *MemoryGateway) memberLocked(guild policy.GuildID, member policy.MemberID) (*memoryGuild, []policy.TagID, error) {
	g, ok := m.guilds[guild]
	if !ok {
		return nil, nil, common.ErrMemberNotFound
	}
	tags, ok := g.members[member]
	if !ok {
		return nil, nil, common.ErrMemberNotFound
	}
	return g, tags, nil
}

func (m *MemoryGateway) HealthCheck(context.Context) error { return nil }

func (m *MemoryGateway) ReadyCheck(ctx context.Context) error { return m.HealthCheck(ctx) }
