package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpiry(t *testing.T) {
	s := SessionDuration{
		SessionPauseDuration: 5 * 60 * 1000,
		LastUsage:            1_000_000,
		LastSessionDuration:  10 * 60 * 1000,
	}

	// Within the pause window the session continues.
	assert.False(t, s.SessionExpired(1_000_000+4*60*1000))
	assert.Equal(t, int64(10*60*1000), s.CurrentDuration(1_000_000+4*60*1000))

	// Exactly at the pause duration the session is over.
	assert.True(t, s.SessionExpired(1_000_000+5*60*1000))
	assert.Equal(t, int64(0), s.CurrentDuration(1_000_000+5*60*1000))
}

func TestUsageSnapshotUsedTimeFor(t *testing.T) {
	rule := &TimeLimitRule{StartMinuteOfDay: 0, EndMinuteOfDay: MinutesPerDay}
	windowRule := &TimeLimitRule{StartMinuteOfDay: 960, EndMinuteOfDay: 1080}

	snapshot := &UsageSnapshot{
		UsedTimesByCategory: map[string][]*UsedTimeItem{
			"cat1": {
				{CategoryID: "cat1", DayOfEpoch: 100, StartMinuteOfDay: 0, EndMinuteOfDay: MinutesPerDay, UsedTime: 1234},
				{CategoryID: "cat1", DayOfEpoch: 100, StartMinuteOfDay: 960, EndMinuteOfDay: 1080, UsedTime: 777},
				{CategoryID: "cat1", DayOfEpoch: 99, StartMinuteOfDay: 0, EndMinuteOfDay: MinutesPerDay, UsedTime: 9999},
			},
		},
	}

	// Slots are matched per rule window and per day.
	assert.Equal(t, int64(1234), snapshot.UsedTimeFor("cat1", 100, rule))
	assert.Equal(t, int64(777), snapshot.UsedTimeFor("cat1", 100, windowRule))
	assert.Equal(t, int64(9999), snapshot.UsedTimeFor("cat1", 99, rule))
	assert.Equal(t, int64(0), snapshot.UsedTimeFor("cat1", 101, rule))
	assert.Equal(t, int64(0), snapshot.UsedTimeFor("other", 100, rule))
}

func TestUsageSnapshotSessionFor(t *testing.T) {
	rule := &TimeLimitRule{
		StartMinuteOfDay:     0,
		EndMinuteOfDay:       MinutesPerDay,
		SessionDurationLimit: 30 * 60 * 1000,
		SessionPauseDuration: 10 * 60 * 1000,
	}

	matching := &SessionDuration{
		CategoryID:           "cat1",
		MaxSessionDuration:   30 * 60 * 1000,
		SessionPauseDuration: 10 * 60 * 1000,
		StartMinuteOfDay:     0,
		EndMinuteOfDay:       MinutesPerDay,
	}
	other := &SessionDuration{
		CategoryID:         "cat1",
		MaxSessionDuration: 60 * 60 * 1000,
	}
	snapshot := &UsageSnapshot{
		SessionsByCategory: map[string][]*SessionDuration{
			"cat1": {other, matching},
		},
	}

	assert.Same(t, matching, snapshot.SessionFor("cat1", rule))
	assert.Nil(t, snapshot.SessionFor("cat2", rule))

	differentPause := *rule
	differentPause.SessionPauseDuration = 1
	assert.Nil(t, snapshot.SessionFor("cat1", &differentPause))
}
