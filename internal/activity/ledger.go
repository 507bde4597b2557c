package activity

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Ledger is the in-memory record of which days each user posted on.
// It is the only mutable shared state in the reconciliation core. A single
// mutex guards every operation; none of them touch external I/O, so the
// lock is never held across a suspension point.
type Ledger struct {
	mu      sync.Mutex
	history History
}

// NewLedger creates an empty ledger. It is populated by Replace once the
// history fetch completes and kept current by RecordPost afterwards.
func NewLedger() *Ledger {
	return &Ledger{history: make(History)}
}

// Replace atomically swaps in a full history snapshot. The snapshot is
// deep-copied, so the caller may keep mutating its copy afterwards.
func (l *Ledger) Replace(snapshot History) {
	clone := snapshot.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = clone
}

// RecordPost adds day to the user's posting history. It reports whether
// this was the user's first recorded post of that day and returns the
// user's full day set as of immediately after the insertion. Both values
// are computed under the same critical section, so the returned set cannot
// race with a concurrent Replace or Snapshot.
func (l *Ledger) RecordPost(userID snowflake.ID, day time.Time) (bool, DaySet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	days, ok := l.history[userID]
	if !ok {
		days = make(DaySet)
		l.history[userID] = days
	}
	first := days.Add(day)
	return first, days.Clone()
}

// Snapshot returns a deep copy of the full history. The copy never aliases
// the ledger's internal state.
func (l *Ledger) Snapshot() History {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.Clone()
}
