package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// GuildID identifies a guild (group).
type GuildID string

// TagID identifies a grantable tag (platform role).
type TagID string

// MemberID identifies a guild member.
type MemberID string

// UnmarshalJSON accepts both quoted and bare numeric snowflakes.
func (g *GuildID) UnmarshalJSON(data []byte) error {
	s, err := decodeSnowflake(data)
	if err != nil {
		return fmt.Errorf("policy: guild id: %w", err)
	}
	*g = GuildID(s)
	return nil
}

// UnmarshalJSON accepts both quoted and bare numeric snowflakes.
func (t *TagID) UnmarshalJSON(data []byte) error {
	s, err := decodeSnowflake(data)
	if err != nil {
		return fmt.Errorf("policy: tag id: %w", err)
	}
	*t = TagID(s)
	return nil
}

// UnmarshalJSON accepts both quoted and bare numeric snowflakes.
func (m *MemberID) UnmarshalJSON(data []byte) error {
	s, err := decodeSnowflake(data)
	if err != nil {
		return fmt.Errorf("policy: member id: %w", err)
	}
	*m = MemberID(s)
	return nil
}

func decodeSnowflake(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Tag is a named tag within a guild.
type Tag struct {
	ID   TagID
	Name string
}

// Member is a guild member and the tags it currently holds.
type Member struct {
	GuildID GuildID
	ID      MemberID
	Tags    []TagID
}

// HasTag reports whether the member currently holds tag.
func (m Member) HasTag(tag TagID) bool {
	return slices.Contains(m.Tags, tag)
}

// MemberUpdate is a membership-change event.
type MemberUpdate struct {
	GuildID  GuildID
	MemberID MemberID
	Before   []TagID
	After    []TagID
	// BeforeKnown is false when the platform could not supply the previous
	// tag set; every current tag then counts as added.
	BeforeKnown bool
}

// Member returns the post-update member view.
func (u MemberUpdate) Member() Member {
	return Member{GuildID: u.GuildID, ID: u.MemberID, Tags: append([]TagID(nil), u.After...)}
}

// Diff returns the tags gained and lost in the update.
func (u MemberUpdate) Diff() (added, removed []TagID) {
	if !u.BeforeKnown {
		return append([]TagID(nil), u.After...), nil
	}
	for _, tag := range u.After {
		if !slices.Contains(u.Before, tag) {
			added = append(added, tag)
		}
	}
	for _, tag := range u.Before {
		if !slices.Contains(u.After, tag) {
			removed = append(removed, tag)
		}
	}
	return added, removed
}
