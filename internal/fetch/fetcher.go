// Package fetch rebuilds the activity ledger from the guild's message
// history. Channels are walked in parallel; within one channel or thread,
// pages are read strictly backward until the cutoff date.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/cohortly/memberd/internal/activity"
	"github.com/cohortly/memberd/internal/discord/client"
)

// ErrNestedThread is returned when thread discovery finds a thread whose
// parent is itself a thread. The channel tree is defined to be exactly two
// levels deep; anything else means the fetch cannot be trusted.
var ErrNestedThread = errors.New("discovered a thread nested inside another thread")

// Platform is the slice of the platform client the fetcher needs.
type Platform interface {
	GuildTextChannels(ctx context.Context) ([]snowflake.ID, error)
	ActiveThreads(ctx context.Context) ([]client.Thread, error)
	ArchivedThreads(ctx context.Context, channelID snowflake.ID) ([]client.Thread, error)
	MessagesPage(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) ([]client.Message, error)
	ChannelName(ctx context.Context, channelID snowflake.ID) string
}

// Fetcher walks all channels and threads of the guild and produces the
// merged user-to-posting-days history used to seed the ledger.
type Fetcher struct {
	platform      Platform
	maxWindowDays int
	parallelism   int
	logger        *zap.Logger
}

// New creates a Fetcher. maxWindowDays bounds how far back history is
// read; parallelism caps concurrent channel walks.
func New(platform Platform, maxWindowDays, parallelism int, logger *zap.Logger) *Fetcher {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Fetcher{
		platform:      platform,
		maxWindowDays: maxWindowDays,
		parallelism:   parallelism,
		logger:        logger.Named("fetch"),
	}
}

// Fetch reads back maxWindowDays of history ending at today, across every
// top-level channel, its archived threads, and all active threads in the
// guild. Channels the bot cannot read contribute nothing; any other
// platform error fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, today time.Time) (activity.History, error) {
	cutoff := today.AddDate(0, 0, -(f.maxWindowDays - 1))

	channelIDs, err := f.platform.GuildTextChannels(ctx)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Found top-level channels", zap.Int("count", len(channelIDs)))

	topLevel := make(map[snowflake.ID]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		topLevel[id] = struct{}{}
	}

	activeThreads, err := f.platform.ActiveThreads(ctx)
	if err != nil {
		return nil, err
	}
	for _, thread := range activeThreads {
		if _, ok := topLevel[thread.ParentID]; !ok {
			return nil, fmt.Errorf("%w: thread %d (parent %d)", ErrNestedThread, thread.ID, thread.ParentID)
		}
	}

	var (
		mu     sync.Mutex
		merged = make(activity.History)
	)
	collect := func(hist activity.History) {
		mu.Lock()
		merged.Merge(hist)
		mu.Unlock()
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(f.parallelism).WithCancelOnError().WithFirstError()

	for _, channelID := range channelIDs {
		p.Go(func(ctx context.Context) error {
			hist, err := f.fetchTopLevelChannel(ctx, channelID, cutoff)
			if err != nil {
				return err
			}
			collect(hist)
			return nil
		})
	}

	for _, thread := range activeThreads {
		p.Go(func(ctx context.Context) error {
			hist, err := f.channelHistory(ctx, thread.ID, cutoff)
			if err != nil {
				return err
			}
			collect(hist)
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}

	f.logger.Info("History fetch complete",
		zap.Int("channels", len(channelIDs)),
		zap.Int("active_threads", len(activeThreads)),
		zap.Int("users", len(merged)))
	return merged, nil
}

// fetchTopLevelChannel reads one channel's own history plus the history of
// every archived thread hanging off it.
func (f *Fetcher) fetchTopLevelChannel(ctx context.Context, channelID snowflake.ID, cutoff time.Time) (activity.History, error) {
	hist, err := f.channelHistory(ctx, channelID, cutoff)
	if err != nil {
		return nil, err
	}

	archived, err := f.platform.ArchivedThreads(ctx, channelID)
	if err != nil {
		if client.IsPermissionDenied(err) {
			f.logger.Debug("Access denied listing archived threads",
				zap.String("channel", f.platform.ChannelName(ctx, channelID)))
			return hist, nil
		}
		return nil, err
	}

	for _, thread := range archived {
		threadHist, err := f.channelHistory(ctx, thread.ID, cutoff)
		if err != nil {
			return nil, err
		}
		hist.Merge(threadHist)
	}
	return hist, nil
}

// channelHistory paginates one channel or thread backward, page size 100,
// until a short page or a page whose oldest message predates the cutoff.
func (f *Fetcher) channelHistory(ctx context.Context, channelID snowflake.ID, cutoff time.Time) (activity.History, error) {
	hist := make(activity.History)

	var before snowflake.ID
	for {
		page, err := f.platform.MessagesPage(ctx, channelID, before, client.MessagePageSize)
		if err != nil {
			if client.IsPermissionDenied(err) {
				f.logger.Debug("Access denied to channel",
					zap.String("channel", f.platform.ChannelName(ctx, channelID)))
				return hist, nil
			}
			return nil, fmt.Errorf("failed to read messages from channel %d: %w", channelID, err)
		}
		if len(page) == 0 {
			return hist, nil
		}

		for _, msg := range page {
			if day := msg.Day(); !day.Before(cutoff) {
				hist.Record(msg.AuthorID, day)
			}
		}

		last := page[len(page)-1]
		if len(page) < client.MessagePageSize || last.Day().Before(cutoff) {
			return hist, nil
		}
		before = last.ID
	}
}
