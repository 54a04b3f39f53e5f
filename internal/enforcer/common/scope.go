package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

var (
	// ErrMemberNotFound is returned by gateways when the member has left the guild.
	ErrMemberNotFound = errors.New("enforcer: member not found")
	// ErrTagNotFound is returned when a tag does not exist in the guild.
	ErrTagNotFound = errors.New("enforcer: tag not found")
)

// GuildScope returns the rate-limit and audit scope for guild.
func GuildScope(guild policy.GuildID) string {
	return "guild:" + string(guild)
}

// ValidateTarget ensures a moderation call carries the identifiers it needs.
func ValidateTarget(guild policy.GuildID, member policy.MemberID) error {
	if strings.TrimSpace(string(guild)) == "" {
		return fmt.Errorf("enforcer: guild id required")
	}
	if strings.TrimSpace(string(member)) == "" {
		return fmt.Errorf("enforcer: member id required")
	}
	return nil
}
