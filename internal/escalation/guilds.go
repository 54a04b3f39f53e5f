package escalation

import (
	"context"
	"fmt"

	"github.com/ITZ-Steve3153/New-bot/internal/enforcer"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/common"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// guildIndex caches guild and tag listings for the duration of one sweep.
type guildIndex struct {
	gw     enforcer.Gateway
	guilds []policy.GuildID
	loaded bool
	tags   map[policy.GuildID][]policy.Tag
}

func newGuildIndex(gw enforcer.Gateway) *guildIndex {
	return &guildIndex{gw: gw, tags: make(map[policy.GuildID][]policy.Tag)}
}

func (g *guildIndex) tagsOf(ctx context.Context, guild policy.GuildID) ([]policy.Tag, error) {
	if tags, ok := g.tags[guild]; ok {
		return tags, nil
	}
	tags, err := g.gw.Tags(ctx, guild)
	if err != nil {
		return nil, err
	}
	g.tags[guild] = tags
	return tags, nil
}

func (g *guildIndex) tagByName(ctx context.Context, guild policy.GuildID, name string) (policy.Tag, error) {
	tags, err := g.tagsOf(ctx, guild)
	if err != nil {
		return policy.Tag{}, err
	}
	for _, tag := range tags {
		if tag.Name == name {
			return tag, nil
		}
	}
	return policy.Tag{}, fmt.Errorf("%w: %q in guild %s", common.ErrTagNotFound, name, guild)
}

func (g *guildIndex) guildOf(ctx context.Context, tag policy.TagID) (policy.GuildID, error) {
	if !g.loaded {
		guilds, err := g.gw.Guilds(ctx)
		if err != nil {
			return "", err
		}
		g.guilds = guilds
		g.loaded = true
	}
	for _, guild := range g.guilds {
		tags, err := g.tagsOf(ctx, guild)
		if err != nil {
			return "", err
		}
		for _, t := range tags {
			if t.ID == tag {
				return guild, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", common.ErrTagNotFound, tag)
}
