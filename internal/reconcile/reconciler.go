// Package reconcile diffs computed tier membership against the role state
// actually held on the platform and applies the minimal set of role
// mutations, posting promotion and demotion notifications along the way.
// The platform is the system of record for roles: current state is always
// re-read immediately before mutation, never cached locally.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/cohortly/memberd/internal/discord/client"
	"github.com/cohortly/memberd/internal/tier"
)

// memberCheckParallelism caps concurrent per-user existence checks.
const memberCheckParallelism = 8

// Platform is the slice of the platform client the reconciler needs.
type Platform interface {
	RoleMembers(ctx context.Context, roleID snowflake.ID) (map[snowflake.ID]struct{}, error)
	IsMember(ctx context.Context, userID snowflake.ID) (bool, error)
	MemberRoles(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
	AddRole(ctx context.Context, userID, roleID snowflake.ID) error
	RemoveRole(ctx context.Context, userID, roleID snowflake.ID) error
	PostMessage(ctx context.Context, channelID snowflake.ID, content string, mentions []snowflake.ID) error
	Username(ctx context.Context, userID snowflake.ID) string
	RoleName(ctx context.Context, roleID snowflake.ID) string
}

// Report accumulates what one reconciliation pass observed and did.
type Report struct {
	// Departed holds users who qualified for a tier but had already left
	// the guild. They are recorded for observability, not mutated.
	Departed tier.UserSet
	// Previous holds every user who held any tier role before the pass.
	Previous tier.UserSet
	// Removed holds users stripped of all tier roles by the pass.
	Removed tier.UserSet
}

func newReport() Report {
	return Report{
		Departed: make(tier.UserSet),
		Previous: make(tier.UserSet),
		Removed:  make(tier.UserSet),
	}
}

// Reconciler applies desired tier assignments to the platform.
type Reconciler struct {
	platform Platform
	cfg      *tier.Config
	logger   *zap.Logger
}

// New creates a Reconciler for the configured tiers.
func New(platform Platform, cfg *tier.Config, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		platform: platform,
		cfg:      cfg,
		logger:   logger.Named("reconcile"),
	}
}

// Reconcile makes the platform's role assignments match desired, which is
// indexed in the same order as the configured tiers. Additions happen
// per tier first; users who previously held a tier role but no longer
// qualify for any tier are stripped in a final pass. A failure partway
// through leaves the platform partially updated; rerunning self-heals the
// roles, though notifications may repeat.
func (r *Reconciler) Reconcile(ctx context.Context, desired []tier.UserSet) (Report, error) {
	report := newReport()
	if len(desired) != len(r.cfg.Tiers) {
		return report, fmt.Errorf("desired assignment count %d does not match tier count %d",
			len(desired), len(r.cfg.Tiers))
	}

	for i, t := range r.cfg.Tiers {
		current, err := r.platform.RoleMembers(ctx, t.RoleID)
		if err != nil {
			return report, err
		}
		for userID := range current {
			report.Previous[userID] = struct{}{}
		}
		r.logMembers(ctx, "Current members", t, current)

		toAdd := make(tier.UserSet)
		for userID := range desired[i] {
			if _, ok := current[userID]; !ok {
				toAdd[userID] = struct{}{}
			}
		}

		retained, departed, err := r.filterToGuildMembers(ctx, toAdd)
		if err != nil {
			return report, err
		}
		for userID := range departed {
			report.Departed[userID] = struct{}{}
		}
		r.logMembers(ctx, "New members to add", t, retained)

		if err := r.AssignTier(ctx, t, retained); err != nil {
			return report, err
		}
	}

	if len(report.Departed) > 0 {
		r.logger.Info("Users met a threshold but left the guild",
			zap.Strings("usernames", r.usernames(ctx, report.Departed)))
	}

	stillHas := make(tier.UserSet)
	for _, users := range desired {
		for userID := range users {
			stillHas[userID] = struct{}{}
		}
	}
	for userID := range report.Previous {
		if _, ok := stillHas[userID]; !ok {
			report.Removed[userID] = struct{}{}
		}
	}
	if len(report.Removed) > 0 {
		r.logger.Info("Users no longer meet any threshold",
			zap.Strings("usernames", r.usernames(ctx, report.Removed)))
	}

	if err := r.RemoveAllTiers(ctx, report.Removed); err != nil {
		return report, err
	}
	return report, nil
}

// AssignTier grants the tier's role to each user, removing any other tier
// role they hold, and posts the matching promotion or demotion
// notification. Users already holding the role are left untouched.
func (r *Reconciler) AssignTier(ctx context.Context, t tier.Tier, users tier.UserSet) error {
	p := pool.New().WithContext(ctx).WithMaxGoroutines(memberCheckParallelism).WithCancelOnError().WithFirstError()
	for userID := range users {
		p.Go(func(ctx context.Context) error {
			return r.assignOne(ctx, t, userID)
		})
	}
	return p.Wait()
}

func (r *Reconciler) assignOne(ctx context.Context, t tier.Tier, userID snowflake.ID) error {
	held, err := r.heldTierRoles(ctx, userID)
	if err != nil {
		if client.IsNotFound(err) {
			// Left the guild between the existence check and now.
			return nil
		}
		return err
	}

	hasTarget := false
	for _, roleID := range held {
		if roleID == t.RoleID {
			hasTarget = true
		}
	}
	if hasTarget && len(held) == 1 {
		r.logger.Debug("User already has tier role",
			zap.String("username", r.platform.Username(ctx, userID)),
			zap.String("tier", t.Name))
		return nil
	}

	if len(held) > 1 {
		// At most one tier role should ever be held at a time.
		r.logger.Warn("User holds multiple tier roles, removing the extras",
			zap.String("username", r.platform.Username(ctx, userID)),
			zap.Int("count", len(held)))
	}
	for _, roleID := range held {
		if roleID == t.RoleID {
			continue
		}
		if err := r.platform.RemoveRole(ctx, userID, roleID); err != nil {
			return err
		}
	}
	if !hasTarget {
		if err := r.platform.AddRole(ctx, userID, t.RoleID); err != nil {
			return err
		}
	}

	if hasTarget {
		// Role cleanup only; the user's effective tier did not change.
		return nil
	}
	return r.notifyChange(ctx, userID, held, &t)
}

// RemoveAllTiers strips every tier role from the given users and posts a
// removal notification for each.
func (r *Reconciler) RemoveAllTiers(ctx context.Context, users tier.UserSet) error {
	for _, userID := range sortedUsers(users) {
		held, err := r.heldTierRoles(ctx, userID)
		if err != nil {
			if client.IsNotFound(err) {
				continue
			}
			return err
		}
		if len(held) == 0 {
			continue
		}
		for _, roleID := range held {
			if err := r.platform.RemoveRole(ctx, userID, roleID); err != nil {
				return err
			}
		}
		if err := r.notifyChange(ctx, userID, held, nil); err != nil {
			return err
		}
	}
	return nil
}

// heldTierRoles returns which configured tier roles the user currently
// holds, in tier priority order.
func (r *Reconciler) heldTierRoles(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	roles, err := r.platform.MemberRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	current := make(map[snowflake.ID]struct{}, len(roles))
	for _, roleID := range roles {
		current[roleID] = struct{}{}
	}

	var held []snowflake.ID
	for _, roleID := range r.cfg.RoleIDs() {
		if _, ok := current[roleID]; ok {
			held = append(held, roleID)
		}
	}
	return held, nil
}

// notifyChange posts a welcome message for upgrades and a downgrade
// message otherwise. newTier nil means the user dropped out of the tier
// system entirely.
func (r *Reconciler) notifyChange(ctx context.Context, userID snowflake.ID, previousRoles []snowflake.ID, newTier *tier.Tier) error {
	rankByRole := make(map[snowflake.ID]int, len(r.cfg.Tiers))
	for i, t := range r.cfg.Tiers {
		rankByRole[t.RoleID] = i
	}

	previousRank := -1
	for _, roleID := range previousRoles {
		if rank, ok := rankByRole[roleID]; ok && rank > previousRank {
			previousRank = rank
		}
	}

	if newTier != nil && rankByRole[newTier.RoleID] > previousRank {
		return r.platform.PostMessage(ctx, newTier.Welcome.ChannelID,
			newTier.Welcome.Render(userID), []snowflake.ID{userID})
	}

	previousNames := make([]string, len(previousRoles))
	for i, roleID := range previousRoles {
		previousNames[i] = r.platform.RoleName(ctx, roleID)
	}
	currentName := ""
	if newTier != nil {
		currentName = r.platform.RoleName(ctx, newTier.RoleID)
	}

	content := r.cfg.Downgrade.Render(
		r.platform.Username(ctx, userID),
		strings.Join(previousNames, "+"),
		currentName,
	)
	return r.platform.PostMessage(ctx, r.cfg.Downgrade.ChannelID, content, nil)
}

// filterToGuildMembers splits users into those still in the guild and
// those who have left, checking each against the platform.
func (r *Reconciler) filterToGuildMembers(ctx context.Context, users tier.UserSet) (retained, departed tier.UserSet, err error) {
	var mu sync.Mutex
	retained = make(tier.UserSet)
	departed = make(tier.UserSet)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(memberCheckParallelism).WithCancelOnError().WithFirstError()
	for userID := range users {
		p.Go(func(ctx context.Context) error {
			inGuild, err := r.platform.IsMember(ctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			if inGuild {
				retained[userID] = struct{}{}
			} else {
				departed[userID] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, nil, err
	}
	return retained, departed, nil
}

func (r *Reconciler) logMembers(ctx context.Context, prefix string, t tier.Tier, users tier.UserSet) {
	r.logger.Debug(prefix,
		zap.String("tier", t.Name),
		zap.Int("count", len(users)),
		zap.Strings("usernames", r.usernames(ctx, users)))
}

func (r *Reconciler) usernames(ctx context.Context, users tier.UserSet) []string {
	names := make([]string, 0, len(users))
	for userID := range users {
		names = append(names, r.platform.Username(ctx, userID))
	}
	sort.Strings(names)
	return names
}

func sortedUsers(users tier.UserSet) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(users))
	for userID := range users {
		ids = append(ids, userID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
