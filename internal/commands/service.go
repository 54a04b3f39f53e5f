package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/delay"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
	"github.com/ITZ-Steve3153/New-bot/internal/state"
)

var (
	// ErrValidation marks errors caused by administrator input.
	ErrValidation = errors.New("commands: invalid input")
	// ErrUnknownCommand is returned for names outside Definitions.
	ErrUnknownCommand = errors.New("commands: unknown command")
)

// ValidationError carries a message safe to show to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Reply renders err for the command caller.
func Reply(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "❌ " + verr.Msg
	}
	return "❌ Command failed, check the agent logs."
}

// TagDirectory lists the tags of a guild.
type TagDirectory interface {
	Tags(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error)
}

// Service executes administrative commands against the policy store.
type Service struct {
	store   *state.Store
	tags    TagDirectory
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewService constructs a command service.
func NewService(store *state.Store, tags TagDirectory, logger *zap.Logger, rec *metrics.Recorder) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, tags: tags, logger: logger, metrics: rec}
}

// Dispatch executes the named command.
func (s *Service) Dispatch(ctx context.Context, name string, inv Invocation) (reply string, err error) {
	defer func() {
		s.metrics.ObserveCommand(name, err)
		if err != nil && !errors.Is(err, ErrValidation) {
			s.logger.Error("command failed", zap.String("command", name), zap.String("guild_id", string(inv.GuildID)), zap.Error(err))
		}
	}()

	switch name {
	case cmdSetTrigger:
		return s.editTagSet(inv, s.store.AddTriggerTag, "✅ Trigger role set: %s")
	case cmdRemoveTrigger:
		return s.editTagSet(inv, s.store.RemoveTriggerTag, "🗑️ Removed trigger role: %s")
	case cmdAddRemoval:
		return s.editTagSet(inv, s.store.AddRemovalTag, "✅ Role set to be removed: %s")
	case cmdRemoveRemoval:
		return s.editTagSet(inv, s.store.RemoveRemovalTag, "🗑️ Removed from removal list: %s")
	case cmdListRoles:
		return s.listRoles(ctx, inv)
	case cmdSetCheckInterval:
		return s.setCheckInterval(inv)
	case cmdPunishAdd:
		return s.addPunishment(inv)
	case cmdPunishRemove:
		return s.removePunishment(inv)
	case cmdPunishList:
		return s.listPunishments(ctx, inv)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func (s *Service) editTagSet(inv Invocation, edit func(policy.TagID) (bool, error), format string) (string, error) {
	tag, ok := inv.Tag("role")
	if !ok {
		return "", invalid("A role is required.")
	}
	changed, err := edit(tag.ID)
	return s.saved(fmt.Sprintf(format, tag.Name), changed, err)
}

func (s *Service) setCheckInterval(inv Invocation) (string, error) {
	minutes, ok := inv.Integers["minutes"]
	if !ok || minutes <= 0 {
		return "", invalid("Interval must be a positive number of minutes.")
	}
	err := s.store.SetSweepInterval(time.Duration(minutes) * time.Minute)
	return s.saved(fmt.Sprintf("🔁 Interval set to %d minutes.", minutes), true, err)
}

func (s *Service) addPunishment(inv Invocation) (string, error) {
	tag, ok := inv.Tag("role")
	if !ok {
		return "", invalid("A role is required.")
	}
	action, err := policy.ParseAction(inv.Strings["action"])
	if err != nil {
		return "", invalid("Invalid action. Choose mute, kick, or ban.")
	}
	raw := strings.TrimSpace(inv.Strings["delay"])
	if _, err := delay.ParsePositive(raw); err != nil {
		if errors.Is(err, delay.ErrNonPositive) {
			return "", invalid("Delay must be greater than zero.")
		}
		return "", invalid("Invalid delay %q. Use a number with m, h or d (or bare seconds), e.g. 30d or 12h.", raw)
	}
	err = s.store.PutRule(policy.PunishmentRule{
		Tag:     tag.ID,
		GuildID: inv.GuildID,
		Action:  action,
		Delay:   raw,
	})
	return s.saved(fmt.Sprintf("⚠️ Set punishment: %s after %s if %s is kept.", action, raw, tag.Name), true, err)
}

func (s *Service) removePunishment(inv Invocation) (string, error) {
	tag, ok := inv.Tag("role")
	if !ok {
		return "", invalid("A role is required.")
	}
	deleted, err := s.store.DeleteRule(tag.ID)
	return s.saved(fmt.Sprintf("🗑️ Removed punishment trigger: %s", tag.Name), deleted, err)
}

func (s *Service) listRoles(ctx context.Context, inv Invocation) (string, error) {
	tp := s.store.TriggerPolicy()
	names := s.tagNames(ctx, inv.GuildID)
	return fmt.Sprintf("🧠 **Trigger Roles**: %s\n🧹 **Roles to Remove**: %s\n🔁 **Check Interval**: %d minutes",
		joinNames(tp.TriggerTags, names),
		joinNames(tp.RemovalTags, names),
		int64(tp.Interval()/time.Minute),
	), nil
}

func (s *Service) listPunishments(ctx context.Context, inv Invocation) (string, error) {
	names := s.tagNames(ctx, inv.GuildID)
	var lines []string
	for _, rule := range s.store.Rules() {
		if !rule.AppliesTo(inv.GuildID) {
			continue
		}
		lines = append(lines, fmt.Sprintf("🔸 %s: %s after %s (%d running)", displayName(rule.Tag, names), rule.Action, rule.Delay, len(rule.AssignedUsers)))
	}
	if len(lines) == 0 {
		return "No punishments set.", nil
	}
	return strings.Join(lines, "\n"), nil
}

// tagNames returns an id to name index for guild. Lookup failures degrade to raw ids.
func (s *Service) tagNames(ctx context.Context, guild policy.GuildID) map[policy.TagID]string {
	names := make(map[policy.TagID]string)
	if s.tags == nil || guild == "" {
		return names
	}
	tags, err := s.tags.Tags(ctx, guild)
	if err != nil {
		s.logger.Warn("list guild tags failed", zap.String("guild_id", string(guild)), zap.Error(err))
		return names
	}
	for _, tag := range tags {
		names[tag.ID] = tag.Name
	}
	return names
}

func (s *Service) saved(reply string, changed bool, err error) (string, error) {
	if err == nil {
		return reply, nil
	}
	s.logger.Warn("command change not persisted", zap.Bool("changed", changed), zap.Error(err))
	return reply + "\n⚠️ Saving failed; the change is active and will be retried.", nil
}

func displayName(id policy.TagID, names map[policy.TagID]string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return string(id)
}

func joinNames(ids []policy.TagID, names map[policy.TagID]string) string {
	if len(ids) == 0 {
		return "None"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, displayName(id, names))
	}
	return strings.Join(parts, ", ")
}
