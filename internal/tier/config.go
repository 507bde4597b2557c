package tier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrNoTiers        = errors.New("at least one tier must be configured")
	ErrInvalidWindow  = errors.New("tier rule window must be at least one day")
	ErrInvalidMinimum = errors.New("tier rule minimum post days must be at least one")
)

// Rule is a rolling-window activity requirement: the user must have posted
// on at least MinPostDays distinct days within the last WindowDays days,
// counting today as the most recent day of the window.
type Rule struct {
	WindowDays  int `koanf:"window_days"`
	MinPostDays int `koanf:"min_post_days"`
}

// WelcomeMessage configures the notification posted when a user gains a tier.
type WelcomeMessage struct {
	ChannelID snowflake.ID `koanf:"channel_id"`
	Template  string       `koanf:"template"`
}

// Render substitutes the promoted user's mention into the template.
func (w WelcomeMessage) Render(userID snowflake.ID) string {
	return strings.ReplaceAll(w.Template, "USER_MENTION", fmt.Sprintf("<@%d>", userID))
}

// DowngradeMessage configures the notification posted when a user drops to
// a lower tier or out of the tier system entirely.
type DowngradeMessage struct {
	ChannelID  snowflake.ID `koanf:"channel_id"`
	Template   string       `koanf:"template"`
	NoRoleName string       `koanf:"no_role_name"`
}

// Render substitutes the username and the previous/current role names into
// the template. Empty role names render as the configured no-role label.
func (d DowngradeMessage) Render(username, previousRole, currentRole string) string {
	noRole := d.NoRoleName
	if noRole == "" {
		noRole = "(no role)"
	}
	if previousRole == "" {
		previousRole = noRole
	}
	if currentRole == "" {
		currentRole = noRole
	}

	msg := strings.ReplaceAll(d.Template, "USERNAME", username)
	msg = strings.ReplaceAll(msg, "PREVIOUS_ROLE", previousRole)
	return strings.ReplaceAll(msg, "CURRENT_ROLE", currentRole)
}

// Tier is one membership level bound to a platform role. Tiers are ordered
// lowest priority first; a user who qualifies for several tiers holds only
// the highest one.
type Tier struct {
	Name    string         `koanf:"name"`
	RoleID  snowflake.ID   `koanf:"role_id"`
	Add     Rule           `koanf:"add"`
	Keep    Rule           `koanf:"keep"`
	Welcome WelcomeMessage `koanf:"welcome"`
}

// Config holds the full tier membership configuration for one guild.
type Config struct {
	Tiers           []Tier           `koanf:"tiers"`
	ExcludedUserIDs []snowflake.ID   `koanf:"excluded_user_ids"`
	Downgrade       DowngradeMessage `koanf:"downgrade"`
}

// Validate checks structural invariants of the tier list.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return ErrNoTiers
	}
	for _, t := range c.Tiers {
		for _, rule := range []Rule{t.Add, t.Keep} {
			if rule.WindowDays < 1 {
				return fmt.Errorf("%w: tier %q", ErrInvalidWindow, t.Name)
			}
			if rule.MinPostDays < 1 {
				return fmt.Errorf("%w: tier %q", ErrInvalidMinimum, t.Name)
			}
		}
	}
	return nil
}

// MaxWindowDays returns the longest window across all add and keep rules.
// It bounds how far back message history has to be fetched.
func (c *Config) MaxWindowDays() int {
	maxWindow := 0
	for _, t := range c.Tiers {
		if t.Add.WindowDays > maxWindow {
			maxWindow = t.Add.WindowDays
		}
		if t.Keep.WindowDays > maxWindow {
			maxWindow = t.Keep.WindowDays
		}
	}
	return maxWindow
}

// RoleIDs returns the platform role of every configured tier, in tier order.
func (c *Config) RoleIDs() []snowflake.ID {
	ids := make([]snowflake.ID, len(c.Tiers))
	for i, t := range c.Tiers {
		ids[i] = t.RoleID
	}
	return ids
}

// Excluded reports whether the user is permanently ignored (bots and other
// automated accounts).
func (c *Config) Excluded(userID snowflake.ID) bool {
	for _, id := range c.ExcludedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
