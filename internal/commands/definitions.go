package commands

import (
	"context"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// OptionKind is the value type of a command option.
type OptionKind int

const (
	OptionTag OptionKind = iota
	OptionString
	OptionInteger
)

// Option describes one command argument.
type Option struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
	Choices     []string
	MinValue    int64
}

// Definition describes a command exposed to guild administrators.
type Definition struct {
	Name        string
	Description string
	Options     []Option
}

// Invocation carries the resolved arguments of one command call.
type Invocation struct {
	GuildID  policy.GuildID
	UserID   policy.MemberID
	Tags     map[string]policy.Tag
	Strings  map[string]string
	Integers map[string]int64
}

// Tag returns the resolved tag option name.
func (i Invocation) Tag(name string) (policy.Tag, bool) {
	tag, ok := i.Tags[name]
	return tag, ok && tag.ID != ""
}

// DispatchFunc executes a command and returns the reply shown to the caller.
type DispatchFunc func(ctx context.Context, name string, inv Invocation) (string, error)

const (
	cmdSetTrigger       = "set_trigger_role"
	cmdRemoveTrigger    = "remove_trigger_role"
	cmdAddRemoval       = "add_remove_role"
	cmdRemoveRemoval    = "remove_remove_role"
	cmdListRoles        = "list_roles"
	cmdSetCheckInterval = "set_check_interval"
	cmdPunishAdd        = "punish_add_trigger"
	cmdPunishRemove     = "punish_remove_trigger"
	cmdPunishList       = "punish_list"
)

// Definitions returns the administrative command table.
func Definitions() []Definition {
	return []Definition{
		{Name: cmdSetTrigger, Description: "Add a role that triggers removal of others", Options: []Option{
			{Name: "role", Description: "The trigger role", Kind: OptionTag, Required: true},
		}},
		{Name: cmdRemoveTrigger, Description: "Remove a trigger role", Options: []Option{
			{Name: "role", Description: "The role to remove from trigger list", Kind: OptionTag, Required: true},
		}},
		{Name: cmdAddRemoval, Description: "Add a role to be removed when trigger is applied", Options: []Option{
			{Name: "role", Description: "The role to remove from members", Kind: OptionTag, Required: true},
		}},
		{Name: cmdRemoveRemoval, Description: "Remove a role from the removal list", Options: []Option{
			{Name: "role", Description: "The role to stop removing", Kind: OptionTag, Required: true},
		}},
		{Name: cmdListRoles, Description: "List current trigger and removal roles"},
		{Name: cmdSetCheckInterval, Description: "Set the interval (in minutes) for checking trigger roles", Options: []Option{
			{Name: "minutes", Description: "Interval in minutes", Kind: OptionInteger, Required: true, MinValue: 1},
		}},
		{Name: cmdPunishAdd, Description: "Add a punishment trigger role with delay and action", Options: []Option{
			{Name: "role", Description: "The trigger role", Kind: OptionTag, Required: true},
			{Name: "action", Description: "mute/kick/ban", Kind: OptionString, Required: true, Choices: []string{
				string(policy.ActionMute), string(policy.ActionKick), string(policy.ActionBan),
			}},
			{Name: "delay", Description: "e.g., 30d, 12h", Kind: OptionString, Required: true},
		}},
		{Name: cmdPunishRemove, Description: "Remove a punishment trigger role", Options: []Option{
			{Name: "role", Description: "The punishment trigger role to remove", Kind: OptionTag, Required: true},
		}},
		{Name: cmdPunishList, Description: "List all active punishment roles"},
	}
}
