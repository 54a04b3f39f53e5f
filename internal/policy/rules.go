package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultSweepInterval is the trigger sweep interval used when none is configured.
const DefaultSweepInterval = 5 * time.Minute

// ErrInvalidAction is returned for action names outside mute, kick and ban.
var ErrInvalidAction = errors.New("policy: invalid action")

// Action is the escalation applied when a punishment timer elapses.
type Action string

const (
	ActionMute Action = "mute"
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
)

// ParseAction normalises and validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionMute, ActionKick, ActionBan:
		return a, nil
	default:
		return "", fmt.Errorf("%w %q: choose mute, kick, or ban", ErrInvalidAction, s)
	}
}

// Irreversible reports whether the action removes the member from the guild.
func (a Action) Irreversible() bool {
	return a == ActionKick || a == ActionBan
}

// TriggerPolicy describes which tags cause which other tags to be stripped.
type TriggerPolicy struct {
	TriggerTags   []TagID
	RemovalTags   []TagID
	SweepInterval time.Duration
}

// Interval returns the sweep interval, falling back to DefaultSweepInterval.
func (p TriggerPolicy) Interval() time.Duration {
	if p.SweepInterval <= 0 {
		return DefaultSweepInterval
	}
	return p.SweepInterval
}

// IsTrigger reports whether tag is a trigger tag.
func (p TriggerPolicy) IsTrigger(tag TagID) bool {
	return slices.Contains(p.TriggerTags, tag)
}

// Clone returns a copy that shares no slices with p.
func (p TriggerPolicy) Clone() TriggerPolicy {
	return TriggerPolicy{
		TriggerTags:   append([]TagID{}, p.TriggerTags...),
		RemovalTags:   append([]TagID{}, p.RemovalTags...),
		SweepInterval: p.SweepInterval,
	}
}

// PunishmentRule binds a tag to an action fired after Delay has elapsed.
// AssignedUsers holds the running timers keyed by member.
type PunishmentRule struct {
	Tag           TagID
	GuildID       GuildID
	Action        Action
	Delay         string
	AssignedUsers map[MemberID]time.Time
}

// Clone returns a deep copy of the rule.
func (r PunishmentRule) Clone() PunishmentRule {
	timers := make(map[MemberID]time.Time, len(r.AssignedUsers))
	for id, started := range r.AssignedUsers {
		timers[id] = started
	}
	r.AssignedUsers = timers
	return r
}

// AppliesTo reports whether the rule is scoped to guild. Rules without a
// recorded guild apply wherever their tag exists.
func (r PunishmentRule) AppliesTo(guild GuildID) bool {
	return r.GuildID == "" || r.GuildID == guild
}

// State is the complete persisted moderation state.
type State struct {
	Trigger TriggerPolicy
	Rules   map[TagID]*PunishmentRule
}

// NewState returns the first-run state.
func NewState() State {
	return State{
		Trigger: TriggerPolicy{
			TriggerTags:   []TagID{},
			RemovalTags:   []TagID{},
			SweepInterval: DefaultSweepInterval,
		},
		Rules: make(map[TagID]*PunishmentRule),
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{Trigger: s.Trigger.Clone(), Rules: make(map[TagID]*PunishmentRule, len(s.Rules))}
	for tag, rule := range s.Rules {
		if rule == nil {
			continue
		}
		clone := rule.Clone()
		out.Rules[tag] = &clone
	}
	return out
}

// SortedRuleTags returns rule keys in a stable order.
func (s State) SortedRuleTags() []TagID {
	tags := make([]TagID, 0, len(s.Rules))
	for tag := range s.Rules {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}
