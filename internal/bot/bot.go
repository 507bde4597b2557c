// Package bot wires the reconciliation engine together: it loads the
// activity ledger from history, resets roles, then listens for live
// message events and runs a daily sweep, all sequenced through the job
// graph.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	disgobot "github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"go.uber.org/zap"

	"github.com/cohortly/memberd/internal/activity"
	"github.com/cohortly/memberd/internal/discord/client"
	"github.com/cohortly/memberd/internal/fetch"
	"github.com/cohortly/memberd/internal/jobs"
	"github.com/cohortly/memberd/internal/reconcile"
	"github.com/cohortly/memberd/internal/setup"
	"github.com/cohortly/memberd/internal/setup/config"
	"github.com/cohortly/memberd/internal/tier"
)

// Bot owns the gateway connection and the reconciliation engine for one
// guild.
type Bot struct {
	cfg        *config.Config
	gateway    disgobot.Client
	platform   *client.Client
	ledger     *activity.Ledger
	fetcher    *fetch.Fetcher
	reconciler *reconcile.Reconciler
	logger     *zap.Logger

	// updateMu makes the live-event path and any whole-ledger
	// reconciliation mutually exclusive: a sweep never reads a
	// half-updated ledger and never races a live role update.
	updateMu sync.Mutex
}

// New builds the bot and its Discord client.
func New(app *setup.App) (*Bot, error) {
	b := &Bot{
		cfg:    app.Config,
		ledger: activity.NewLedger(),
		logger: app.Logger,
	}

	gatewayClient, err := disgo.New(app.Config.Bot.Token,
		disgobot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
			),
		),
		disgobot.WithEventListeners(&events.ListenerAdapter{
			OnGuildMessageCreate: b.handleMessage,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	b.gateway = gatewayClient
	b.platform = client.New(gatewayClient.Rest(), app.Config.Bot.GuildID, app.Config.Bot.DryRun, app.Logger)
	b.fetcher = fetch.New(b.platform, app.Config.Members.MaxWindowDays(), app.Config.Fetch.Parallelism, app.Logger)
	b.reconciler = reconcile.New(b.platform, &app.Config.Members, app.Logger)
	return b, nil
}

// Run launches the job graph and blocks for the process lifetime. It
// returns only when an endless job terminates or ctx is cancelled, both of
// which the caller treats as fatal.
func (b *Bot) Run(ctx context.Context) error {
	startupDay := activity.Today()

	loadLedger := jobs.Start(ctx, b.logger, "load ledger", nil, func(ctx context.Context) error {
		b.updateMu.Lock()
		defer b.updateMu.Unlock()

		history, err := b.fetcher.Fetch(ctx, startupDay)
		if err != nil {
			return err
		}
		b.ledger.Replace(history)
		return nil
	})

	resetRoles := jobs.Start(ctx, b.logger, "reset roles", []*jobs.Job{loadLedger}, func(ctx context.Context) error {
		b.updateMu.Lock()
		defer b.updateMu.Unlock()
		return b.sweep(ctx, startupDay)
	})

	startupJobs := []*jobs.Job{loadLedger, resetRoles}

	listen := jobs.Start(ctx, b.logger, "listen for events", startupJobs, func(ctx context.Context) error {
		b.logger.Info("Listening for message events")
		if err := b.gateway.OpenGateway(ctx); err != nil {
			return fmt.Errorf("failed to open gateway: %w", err)
		}
		defer b.gateway.Close(context.Background())

		<-ctx.Done()
		return ctx.Err()
	})

	daily := jobs.Start(ctx, b.logger, "daily sweep", startupJobs, b.dailySweep)

	return jobs.AwaitEndless(ctx, listen, daily)
}

// handleMessage records a live post and, if this is the user's first post
// of the day, promotes them to the highest tier they now qualify for.
func (b *Bot) handleMessage(event *events.GuildMessageCreate) {
	if event.GuildID != b.cfg.Bot.GuildID {
		return
	}
	userID := event.Message.Author.ID
	if b.cfg.Members.Excluded(userID) {
		return
	}

	go func() {
		ctx := context.Background()
		day := activity.DayOf(event.Message.CreatedAt)

		b.updateMu.Lock()
		defer b.updateMu.Unlock()

		first, postDays := b.ledger.RecordPost(userID, day)
		if !first {
			return
		}

		// Check tiers highest priority first so the user lands in the best
		// tier they qualify for.
		tiers := b.cfg.Members.Tiers
		for i := len(tiers) - 1; i >= 0; i-- {
			if !tier.MeetsThreshold(tiers[i], postDays, day) {
				continue
			}
			b.logger.Debug("First post of day meets threshold",
				zap.Uint64("user_id", uint64(userID)),
				zap.String("tier", tiers[i].Name))
			if err := b.reconciler.AssignTier(ctx, tiers[i], tier.UserSet{userID: {}}); err != nil {
				b.logger.Error("Failed to assign tier after live post",
					zap.Uint64("user_id", uint64(userID)),
					zap.String("tier", tiers[i].Name),
					zap.Error(err))
			}
			return
		}
	}()
}

// dailySweep re-evaluates the whole ledger shortly after each UTC
// midnight, downgrading members who fell below their keep threshold. It
// only returns when ctx is cancelled.
func (b *Bot) dailySweep(ctx context.Context) error {
	for {
		delay := untilNextSweep(time.Now())
		b.logger.Debug("Next daily sweep scheduled", zap.Duration("in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		b.logger.Info("Daily sweep started")
		b.updateMu.Lock()
		err := b.sweep(ctx, activity.Today())
		b.updateMu.Unlock()
		if err != nil {
			return err
		}
	}
}

// sweep recomputes desired assignments from the ledger and reconciles the
// platform against them. Callers must hold updateMu.
func (b *Bot) sweep(ctx context.Context, today time.Time) error {
	desired := tier.DesiredAssignments(b.ledger.Snapshot(), today, &b.cfg.Members)
	_, err := b.reconciler.Reconcile(ctx, desired)
	return err
}
