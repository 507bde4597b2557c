package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/cohortly/memberd/pkg/utils"
)

const (
	// MessagePageSize is the page size for backward message pagination.
	MessagePageSize = 100

	memberPageSize          = 100
	archivedThreadsPageSize = 5
)

// Client is the disgo-backed platform client for one guild. All mutating
// calls (role changes, message posts) honor the dry-run flag by logging
// what would have happened instead of doing it. Transient failures are
// retried with exponential backoff; 403 and 404 answers are surfaced
// immediately so callers can classify them.
type Client struct {
	rest      rest.Rest
	guildID   snowflake.ID
	dryRun    bool
	retryOpts utils.RetryOptions
	logger    *zap.Logger

	usernames    *nameCache
	roleNames    *nameCache
	channelNames *nameCache
}

// New creates a platform client for the given guild.
func New(restClient rest.Rest, guildID snowflake.ID, dryRun bool, logger *zap.Logger) *Client {
	c := &Client{
		rest:      restClient,
		guildID:   guildID,
		dryRun:    dryRun,
		retryOpts: utils.GetPlatformRetryOptions(),
		logger:    logger.Named("discord"),
	}

	c.usernames = newNameCache(c.logger, func(ctx context.Context, id snowflake.ID) (string, error) {
		user, err := do(ctx, c.retryOpts, func() (*discord.User, error) {
			return c.rest.GetUser(id, rest.WithCtx(ctx))
		})
		if err != nil {
			return "", err
		}
		return user.Username, nil
	})
	c.roleNames = newNameCache(c.logger, func(ctx context.Context, id snowflake.ID) (string, error) {
		// Roles can only be listed guild-wide; prime every entry while here.
		roles, err := do(ctx, c.retryOpts, func() ([]discord.Role, error) {
			return c.rest.GetRoles(c.guildID, rest.WithCtx(ctx))
		})
		if err != nil {
			return "", err
		}
		name := ""
		for _, role := range roles {
			c.roleNames.Prime(role.ID, role.Name)
			if role.ID == id {
				name = role.Name
			}
		}
		if name == "" {
			return "", fmt.Errorf("role %d not found in guild %d", id, c.guildID)
		}
		return name, nil
	})
	c.channelNames = newNameCache(c.logger, func(ctx context.Context, id snowflake.ID) (string, error) {
		channel, err := do(ctx, c.retryOpts, func() (discord.Channel, error) {
			return c.rest.GetChannel(id, rest.WithCtx(ctx))
		})
		if err != nil {
			return "", err
		}
		return channel.Name(), nil
	})

	return c
}

// do runs op with retry, cutting retries short for answers that are
// definitive rather than transient.
func do[T any](ctx context.Context, opts utils.RetryOptions, op func() (T, error)) (T, error) {
	return utils.WithRetry(ctx, func() (T, error) {
		result, err := op()
		if err != nil && (IsPermissionDenied(err) || IsNotFound(err) || IsUnsupportedChannelType(err)) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, opts)
}

// Username resolves a user ID to a username via the read-through cache.
func (c *Client) Username(ctx context.Context, userID snowflake.ID) string {
	return c.usernames.Lookup(ctx, userID)
}

// RoleName resolves a role ID to its name via the read-through cache.
func (c *Client) RoleName(ctx context.Context, roleID snowflake.ID) string {
	return c.roleNames.Lookup(ctx, roleID)
}

// ChannelName resolves a channel ID to its name via the read-through cache.
func (c *Client) ChannelName(ctx context.Context, channelID snowflake.ID) string {
	return c.channelNames.Lookup(ctx, channelID)
}

// GuildTextChannels lists every non-category channel in the guild.
func (c *Client) GuildTextChannels(ctx context.Context) ([]snowflake.ID, error) {
	channels, err := do(ctx, c.retryOpts, func() ([]discord.GuildChannel, error) {
		return c.rest.GetGuildChannels(c.guildID, rest.WithCtx(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list guild channels: %w", err)
	}

	ids := make([]snowflake.ID, 0, len(channels))
	for _, channel := range channels {
		if channel.Type() == discord.ChannelTypeGuildCategory {
			continue
		}
		c.channelNames.Prime(channel.ID(), channel.Name())
		ids = append(ids, channel.ID())
	}
	return ids, nil
}

// ActiveThreads lists every active thread in the guild together with its
// parent channel.
func (c *Client) ActiveThreads(ctx context.Context) ([]Thread, error) {
	active, err := do(ctx, c.retryOpts, func() (*discord.GuildActiveThreads, error) {
		return c.rest.GetActiveGuildThreads(c.guildID, rest.WithCtx(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active threads: %w", err)
	}

	threads := make([]Thread, 0, len(active.Threads))
	for _, th := range active.Threads {
		threads = append(threads, c.convertThread(th))
	}
	return threads, nil
}

// ArchivedThreads drains the public and private archived-thread listings of
// one channel. Duplicates across the two listings are dropped.
func (c *Client) ArchivedThreads(ctx context.Context, channelID snowflake.ID) ([]Thread, error) {
	seen := make(map[snowflake.ID]struct{})
	var threads []Thread

	listings := []func(before time.Time) (*discord.GetThreads, error){
		func(before time.Time) (*discord.GetThreads, error) {
			return c.rest.GetPublicArchivedThreads(channelID, before, archivedThreadsPageSize, rest.WithCtx(ctx))
		},
		func(before time.Time) (*discord.GetThreads, error) {
			return c.rest.GetPrivateArchivedThreads(channelID, before, archivedThreadsPageSize, rest.WithCtx(ctx))
		},
	}

	for _, list := range listings {
		collected, err := collectArchivedThreads(func(before time.Time) (*discord.GetThreads, error) {
			return do(ctx, c.retryOpts, func() (*discord.GetThreads, error) {
				return list(before)
			})
		})
		switch {
		case IsUnsupportedChannelType(err):
			// Forum channels reject archived listings entirely.
			c.logger.Debug("Channel type does not support archived threads",
				zap.Uint64("channel_id", uint64(channelID)))
			return threads, nil
		case err != nil:
			return nil, fmt.Errorf("failed to list archived threads: %w", err)
		}

		for _, th := range collected {
			if _, ok := seen[th.ID()]; ok {
				continue
			}
			seen[th.ID()] = struct{}{}
			threads = append(threads, c.convertThread(th))
		}
	}

	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads, nil
}

// collectArchivedThreads drains one archived-thread listing. The platform
// pages these by archive timestamp (before filters archive_timestamp <
// before), so the cursor advances to the oldest archive timestamp on each
// page; anything else can step past unseen threads.
func collectArchivedThreads(list func(before time.Time) (*discord.GetThreads, error)) ([]discord.GuildThread, error) {
	var threads []discord.GuildThread

	var before time.Time
	for {
		page, err := list(before)
		if err != nil {
			return nil, err
		}
		if len(page.Threads) == 0 {
			return threads, nil
		}

		oldest := before
		for _, th := range page.Threads {
			if archived := th.ThreadMetadata.ArchiveTimestamp; oldest.IsZero() || archived.Before(oldest) {
				oldest = archived
			}
		}
		threads = append(threads, page.Threads...)

		if !page.HasMore {
			return threads, nil
		}
		if !before.IsZero() && !oldest.Before(before) {
			// The cursor made no progress; stop rather than loop forever.
			return threads, nil
		}
		before = oldest
	}
}

// MessagesPage fetches one page of messages posted before the given
// message ID, newest first. A zero before starts at the channel's newest
// message.
func (c *Client) MessagesPage(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) ([]Message, error) {
	page, err := do(ctx, c.retryOpts, func() ([]discord.Message, error) {
		return c.rest.GetMessages(channelID, 0, before, 0, limit, rest.WithCtx(ctx))
	})
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(page))
	for _, msg := range page {
		c.usernames.Prime(msg.Author.ID, msg.Author.Username)
		messages = append(messages, Message{
			ID:        msg.ID,
			AuthorID:  msg.Author.ID,
			CreatedAt: msg.CreatedAt,
		})
	}
	return messages, nil
}

// RoleMembers returns the IDs of every guild member currently holding the
// role, read via the paginated member listing.
func (c *Client) RoleMembers(ctx context.Context, roleID snowflake.ID) (map[snowflake.ID]struct{}, error) {
	holders, err := collectRoleHolders(roleID, func(after snowflake.ID) ([]discord.Member, error) {
		page, err := do(ctx, c.retryOpts, func() ([]discord.Member, error) {
			return c.rest.GetMembers(c.guildID, memberPageSize, after, rest.WithCtx(ctx))
		})
		for _, member := range page {
			c.usernames.Prime(member.User.ID, member.User.Username)
		}
		return page, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list guild members: %w", err)
	}
	return holders, nil
}

// collectRoleHolders pages the member listing forward by highest user ID
// and picks out the members holding roleID. A short page ends the listing.
func collectRoleHolders(roleID snowflake.ID, list func(after snowflake.ID) ([]discord.Member, error)) (map[snowflake.ID]struct{}, error) {
	holders := make(map[snowflake.ID]struct{})

	var after snowflake.ID
	for {
		page, err := list(after)
		if err != nil {
			return nil, err
		}

		for _, member := range page {
			for _, id := range member.RoleIDs {
				if id == roleID {
					holders[member.User.ID] = struct{}{}
					break
				}
			}
			if member.User.ID > after {
				after = member.User.ID
			}
		}

		if len(page) < memberPageSize {
			return holders, nil
		}
	}
}

// IsMember reports whether the user is still in the guild.
func (c *Client) IsMember(ctx context.Context, userID snowflake.ID) (bool, error) {
	_, err := do(ctx, c.retryOpts, func() (*discord.Member, error) {
		return c.rest.GetMember(c.guildID, userID, rest.WithCtx(ctx))
	})
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch guild member %d: %w", userID, err)
	}
	return true, nil
}

// MemberRoles returns the user's current role IDs. Callers detect departed
// users with IsNotFound.
func (c *Client) MemberRoles(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	member, err := do(ctx, c.retryOpts, func() (*discord.Member, error) {
		return c.rest.GetMember(c.guildID, userID, rest.WithCtx(ctx))
	})
	if err != nil {
		return nil, err
	}
	c.usernames.Prime(member.User.ID, member.User.Username)
	return member.RoleIDs, nil
}

// AddRole grants a role to a guild member.
func (c *Client) AddRole(ctx context.Context, userID, roleID snowflake.ID) error {
	username := c.Username(ctx, userID)
	roleName := c.RoleName(ctx, roleID)

	if c.dryRun {
		c.logger.Info("Dry run: would have added role",
			zap.String("username", username), zap.String("role", roleName))
		return nil
	}

	_, err := do(ctx, c.retryOpts, func() (struct{}, error) {
		return struct{}{}, c.rest.AddMemberRole(c.guildID, userID, roleID, rest.WithCtx(ctx))
	})
	if err != nil {
		return fmt.Errorf("failed to add role %d to user %d: %w", roleID, userID, err)
	}

	c.logger.Info("Added role", zap.String("username", username), zap.String("role", roleName))
	return nil
}

// RemoveRole removes a role from a guild member.
func (c *Client) RemoveRole(ctx context.Context, userID, roleID snowflake.ID) error {
	username := c.Username(ctx, userID)
	roleName := c.RoleName(ctx, roleID)

	if c.dryRun {
		c.logger.Info("Dry run: would have removed role",
			zap.String("username", username), zap.String("role", roleName))
		return nil
	}

	_, err := do(ctx, c.retryOpts, func() (struct{}, error) {
		return struct{}{}, c.rest.RemoveMemberRole(c.guildID, userID, roleID, rest.WithCtx(ctx))
	})
	if err != nil {
		return fmt.Errorf("failed to remove role %d from user %d: %w", roleID, userID, err)
	}

	c.logger.Info("Removed role", zap.String("username", username), zap.String("role", roleName))
	return nil
}

// PostMessage posts a notification to a channel. Only the listed users may
// be mentioned by the message content.
func (c *Client) PostMessage(ctx context.Context, channelID snowflake.ID, content string, mentions []snowflake.ID) error {
	if c.dryRun {
		c.logger.Info("Dry run: would have posted message",
			zap.String("channel", c.ChannelName(ctx, channelID)), zap.String("content", content))
		return nil
	}

	_, err := do(ctx, c.retryOpts, func() (*discord.Message, error) {
		return c.rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
			SetContent(content).
			SetAllowedMentions(&discord.AllowedMentions{Users: mentions}).
			Build(), rest.WithCtx(ctx))
	})
	if err != nil {
		return fmt.Errorf("failed to post message to channel %d: %w", channelID, err)
	}
	return nil
}

func (c *Client) convertThread(th discord.GuildThread) Thread {
	c.channelNames.Prime(th.ID(), th.Name())
	thread := Thread{ID: th.ID(), Name: th.Name()}
	if parentID := th.ParentID(); parentID != nil {
		thread.ParentID = *parentID
	}
	return thread
}
