package tier

import (
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/cohortly/memberd/internal/activity"
)

// UserSet is a set of user IDs.
type UserSet map[snowflake.ID]struct{}

// MeetsThreshold reports whether a user with the given posting days
// qualifies for the tier as of today. Both the add rule and the keep rule
// must hold: the add window is the stricter, faster-to-earn condition and
// the keep window is the one required to remain qualified. Window
// endpoints are inclusive of today.
func MeetsThreshold(t Tier, postDays activity.DaySet, today time.Time) bool {
	earliestAdd := today.AddDate(0, 0, -(t.Add.WindowDays - 1))
	earliestKeep := today.AddDate(0, 0, -(t.Keep.WindowDays - 1))

	return postDays.CountSince(earliestAdd) >= t.Add.MinPostDays &&
		postDays.CountSince(earliestKeep) >= t.Keep.MinPostDays
}

// DesiredAssignments computes, for each configured tier, the set of users
// who should hold that tier's role as of today. The result is indexed in
// the same order as cfg.Tiers. A user qualifying for several tiers appears
// only in the highest-priority one (tiers are ordered lowest first), and
// excluded users appear nowhere.
func DesiredAssignments(history activity.History, today time.Time, cfg *Config) []UserSet {
	qualified := make([]UserSet, len(cfg.Tiers))
	for i, t := range cfg.Tiers {
		users := make(UserSet)
		for userID, days := range history {
			if cfg.Excluded(userID) {
				continue
			}
			if MeetsThreshold(t, days, today) {
				users[userID] = struct{}{}
			}
		}
		qualified[i] = users
	}

	// Walk tiers from highest priority down, keeping each user only in the
	// first tier that claims them.
	claimed := make(UserSet)
	for i := len(qualified) - 1; i >= 0; i-- {
		kept := make(UserSet, len(qualified[i]))
		for userID := range qualified[i] {
			if _, ok := claimed[userID]; ok {
				continue
			}
			kept[userID] = struct{}{}
			claimed[userID] = struct{}{}
		}
		qualified[i] = kept
	}
	return qualified
}
