package ack

import (
	"time"

	"github.com/google/uuid"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// Kind names the moderation path that produced a record.
type Kind string

const (
	KindEscalation Kind = "escalation"
	KindTagStrip   Kind = "tag_strip"
)

// Result is the outcome of the recorded action.
type Result string

const (
	ResultApplied Result = "applied"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// Payload is one moderation audit record.
type Payload struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	GuildID        policy.GuildID  `json:"guild_id"`
	MemberID       policy.MemberID `json:"member_id"`
	TagID          policy.TagID    `json:"tag_id"`
	Action         policy.Action   `json:"action,omitempty"`
	Result         Result          `json:"result"`
	Reason         string          `json:"reason,omitempty"`
	Error          string          `json:"error,omitempty"`
	TimerStartedAt time.Time       `json:"timer_started_at,omitzero"`
	AppliedAt      time.Time       `json:"applied_at"`
	AckedAt        time.Time       `json:"acked_at"`
	Controller     string          `json:"controller,omitempty"`
}

// NewPayload returns a record for member with a fresh ID.
func NewPayload(kind Kind, guild policy.GuildID, member policy.MemberID, tag policy.TagID) Payload {
	return Payload{
		ID:       uuid.NewString(),
		Kind:     kind,
		GuildID:  guild,
		MemberID: member,
		TagID:    tag,
	}
}

// Key keeps every record for one member on the same partition.
func (p Payload) Key() string {
	return string(p.GuildID) + ":" + string(p.MemberID)
}
