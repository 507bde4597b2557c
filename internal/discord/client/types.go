// Package client wraps the Discord REST API behind the narrow surface the
// reconciliation core needs: channel and thread enumeration, backward
// message pagination, guild member listing, role mutation, and message
// posting. All mutating calls respect the dry-run flag.
package client

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Message is the subset of a platform message the activity ledger cares
// about: who posted and when.
type Message struct {
	ID        snowflake.ID
	AuthorID  snowflake.ID
	CreatedAt time.Time
}

// Day returns the UTC calendar day the message was posted on.
func (m Message) Day() time.Time {
	year, month, day := m.CreatedAt.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Thread identifies a conversation thread and the channel it hangs off.
// Threads are exactly one level deep; ParentID always names a top-level
// channel in a well-formed guild.
type Thread struct {
	ID       snowflake.ID
	ParentID snowflake.ID
	Name     string
}
