package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// legacyTimestampLayout is the zone-less ISO form written by datetime.isoformat().
const legacyTimestampLayout = "2006-01-02T15:04:05.999999999"

type triggerDocument struct {
	TriggerRoles  []policy.TagID `json:"trigger_roles"`
	RolesToRemove []policy.TagID `json:"roles_to_remove"`
	CheckInterval int64          `json:"check_interval"`
}

type punishmentDocument struct {
	PunishmentRoles map[policy.TagID]ruleDocument `json:"punishment_roles"`
}

type ruleDocument struct {
	Action        policy.Action                 `json:"action"`
	Delay         string                        `json:"delay"`
	GuildID       policy.GuildID                `json:"guild_id,omitempty"`
	AssignedUsers map[policy.MemberID]timestamp `json:"assigned_users"`
}

// timestamp encodes as RFC 3339 UTC and also decodes zone-less ISO strings as UTC.
type timestamp time.Time

func (t timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("state: timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = timestamp(parsed.UTC())
		return nil
	}
	parsed, err := time.ParseInLocation(legacyTimestampLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("state: timestamp %q: %w", s, err)
	}
	*t = timestamp(parsed)
	return nil
}

func encodeTrigger(p policy.TriggerPolicy) triggerDocument {
	doc := triggerDocument{
		TriggerRoles:  append([]policy.TagID{}, p.TriggerTags...),
		RolesToRemove: append([]policy.TagID{}, p.RemovalTags...),
		CheckInterval: int64(p.Interval() / time.Minute),
	}
	if doc.CheckInterval <= 0 {
		doc.CheckInterval = 1
	}
	return doc
}

func decodeTrigger(doc triggerDocument) policy.TriggerPolicy {
	p := policy.TriggerPolicy{
		TriggerTags:   append([]policy.TagID{}, doc.TriggerRoles...),
		RemovalTags:   append([]policy.TagID{}, doc.RolesToRemove...),
		SweepInterval: time.Duration(doc.CheckInterval) * time.Minute,
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = policy.DefaultSweepInterval
	}
	return p
}

func encodeRules(rules map[policy.TagID]*policy.PunishmentRule) punishmentDocument {
	doc := punishmentDocument{PunishmentRoles: make(map[policy.TagID]ruleDocument, len(rules))}
	for tag, rule := range rules {
		if rule == nil {
			continue
		}
		users := make(map[policy.MemberID]timestamp, len(rule.AssignedUsers))
		for id, started := range rule.AssignedUsers {
			users[id] = timestamp(started)
		}
		doc.PunishmentRoles[tag] = ruleDocument{
			Action:        rule.Action,
			Delay:         rule.Delay,
			GuildID:       rule.GuildID,
			AssignedUsers: users,
		}
	}
	return doc
}

func decodeRules(doc punishmentDocument) map[policy.TagID]*policy.PunishmentRule {
	rules := make(map[policy.TagID]*policy.PunishmentRule, len(doc.PunishmentRoles))
	for tag, rd := range doc.PunishmentRoles {
		if tag == "" {
			continue
		}
		users := make(map[policy.MemberID]time.Time, len(rd.AssignedUsers))
		for id, started := range rd.AssignedUsers {
			users[id] = time.Time(started).UTC()
		}
		rules[tag] = &policy.PunishmentRule{
			Tag:           tag,
			GuildID:       rd.GuildID,
			Action:        rd.Action,
			Delay:         rd.Delay,
			AssignedUsers: users,
		}
	}
	return rules
}
