package activity

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// DaySet is a set of UTC calendar days. Every member is normalized to
// midnight UTC; multiple posts on the same day collapse to one entry.
type DaySet map[time.Time]struct{}

// History maps each user to the set of days they posted on.
type History map[snowflake.ID]DaySet

// DayOf returns the UTC calendar day of ts, normalized to midnight UTC.
func DayOf(ts time.Time) time.Time {
	year, month, day := ts.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC calendar day.
func Today() time.Time {
	return DayOf(time.Now())
}

// Contains reports whether day is in the set.
func (s DaySet) Contains(day time.Time) bool {
	_, ok := s[day]
	return ok
}

// Add inserts day into the set and reports whether it was newly added.
func (s DaySet) Add(day time.Time) bool {
	if _, ok := s[day]; ok {
		return false
	}
	s[day] = struct{}{}
	return true
}

// CountSince returns how many days in the set fall on or after earliest.
func (s DaySet) CountSince(earliest time.Time) int {
	count := 0
	for day := range s {
		if !day.Before(earliest) {
			count++
		}
	}
	return count
}

// Clone returns an independent copy of the set.
func (s DaySet) Clone() DaySet {
	clone := make(DaySet, len(s))
	for day := range s {
		clone[day] = struct{}{}
	}
	return clone
}

// Clone returns a deep copy of the history. Mutating the copy never
// affects the original.
func (h History) Clone() History {
	clone := make(History, len(h))
	for userID, days := range h {
		clone[userID] = days.Clone()
	}
	return clone
}

// Merge unions other into h, allocating day sets as needed.
func (h History) Merge(other History) {
	for userID, days := range other {
		set, ok := h[userID]
		if !ok {
			set = make(DaySet, len(days))
			h[userID] = set
		}
		for day := range days {
			set[day] = struct{}{}
		}
	}
}

// Record adds a single posting day for a user.
func (h History) Record(userID snowflake.ID, day time.Time) {
	set, ok := h[userID]
	if !ok {
		set = make(DaySet)
		h[userID] = set
	}
	set[day] = struct{}{}
}
