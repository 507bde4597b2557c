package activity_test

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/memberd/internal/activity"
)

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDayOf(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2024, 3, 15, 2, 30, 0, 0, loc)

	// 02:30 on the 15th in UTC+9 is still the 14th in UTC.
	assert.Equal(t, day("2024-03-14"), activity.DayOf(ts))
	assert.Equal(t, day("2024-03-14"), activity.DayOf(ts.UTC()))
}

func TestRecordPost_FirstOfDay(t *testing.T) {
	t.Parallel()

	ledger := activity.NewLedger()
	userID := snowflake.ID(100)

	first, days := ledger.RecordPost(userID, day("2024-03-14"))
	assert.True(t, first)
	assert.Len(t, days, 1)

	// A second post on the same day is not a first.
	first, days = ledger.RecordPost(userID, day("2024-03-14"))
	assert.False(t, first)
	assert.Len(t, days, 1)

	// A post on a new day is.
	first, days = ledger.RecordPost(userID, day("2024-03-15"))
	assert.True(t, first)
	assert.Len(t, days, 2)
}

func TestRecordPost_ReturnedSetIsACopy(t *testing.T) {
	t.Parallel()

	ledger := activity.NewLedger()
	userID := snowflake.ID(100)

	_, days := ledger.RecordPost(userID, day("2024-03-14"))
	days.Add(day("2024-03-15"))

	// Mutating the returned set must not leak into the ledger.
	first, _ := ledger.RecordPost(userID, day("2024-03-15"))
	assert.True(t, first)
}

func TestReplaceAndSnapshot(t *testing.T) {
	t.Parallel()

	ledger := activity.NewLedger()

	history := make(activity.History)
	history.Record(snowflake.ID(1), day("2024-03-10"))
	history.Record(snowflake.ID(1), day("2024-03-11"))
	history.Record(snowflake.ID(2), day("2024-03-11"))
	ledger.Replace(history)

	snapshot := ledger.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Len(t, snapshot[snowflake.ID(1)], 2)
	assert.Len(t, snapshot[snowflake.ID(2)], 1)

	// Neither the replaced history nor the snapshot alias ledger state.
	history.Record(snowflake.ID(3), day("2024-03-12"))
	snapshot.Record(snowflake.ID(1), day("2024-03-12"))

	fresh := ledger.Snapshot()
	assert.Len(t, fresh, 2)
	assert.Len(t, fresh[snowflake.ID(1)], 2)

	// Replacing the ledger with its own snapshot changes nothing.
	ledger.Replace(ledger.Snapshot())
	assert.Equal(t, fresh, ledger.Snapshot())
}

func TestHistoryMerge(t *testing.T) {
	t.Parallel()

	a := make(activity.History)
	a.Record(snowflake.ID(1), day("2024-03-10"))

	b := make(activity.History)
	b.Record(snowflake.ID(1), day("2024-03-10"))
	b.Record(snowflake.ID(1), day("2024-03-11"))
	b.Record(snowflake.ID(2), day("2024-03-11"))

	a.Merge(b)
	assert.Len(t, a, 2)
	assert.Len(t, a[snowflake.ID(1)], 2)
	assert.Len(t, a[snowflake.ID(2)], 1)
}

func TestCountSince(t *testing.T) {
	t.Parallel()

	set := make(activity.DaySet)
	set.Add(day("2024-03-10"))
	set.Add(day("2024-03-12"))
	set.Add(day("2024-03-14"))

	assert.Equal(t, 3, set.CountSince(day("2024-03-10")))
	assert.Equal(t, 2, set.CountSince(day("2024-03-11")))
	assert.Equal(t, 1, set.CountSince(day("2024-03-14")))
	assert.Equal(t, 0, set.CountSince(day("2024-03-15")))
}
