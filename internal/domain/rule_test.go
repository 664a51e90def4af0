package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleValidate(t *testing.T) {
	valid := TimeLimitRule{
		ID:               "r1",
		CategoryID:       "cat1",
		DayMask:          0x1f, // Monday..Friday
		MaximumTime:      60 * 60 * 1000,
		StartMinuteOfDay: 0,
		EndMinuteOfDay:   MinutesPerDay,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*TimeLimitRule)
	}{
		{"empty id", func(r *TimeLimitRule) { r.ID = "" }},
		{"empty category", func(r *TimeLimitRule) { r.CategoryID = "" }},
		{"zero day mask", func(r *TimeLimitRule) { r.DayMask = 0 }},
		{"day mask overflow", func(r *TimeLimitRule) { r.DayMask = 0x80 }},
		{"inverted window", func(r *TimeLimitRule) { r.StartMinuteOfDay = 100; r.EndMinuteOfDay = 100 }},
		{"window past midnight", func(r *TimeLimitRule) { r.EndMinuteOfDay = MinutesPerDay + 1 }},
		{"negative maximum", func(r *TimeLimitRule) { r.MaximumTime = -1 }},
		{"negative session limit", func(r *TimeLimitRule) { r.SessionDurationLimit = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestRuleApplies(t *testing.T) {
	r := TimeLimitRule{
		DayMask:          1 << 0, // Monday only
		StartMinuteOfDay: 960,    // 16:00
		EndMinuteOfDay:   1080,   // 18:00
	}

	assert.True(t, r.AppliesOnDay(0))
	assert.False(t, r.AppliesOnDay(1))
	assert.False(t, r.AppliesOnDay(-1))
	assert.False(t, r.AppliesOnDay(7))

	assert.False(t, r.AppliesAtMinute(959))
	assert.True(t, r.AppliesAtMinute(960))
	assert.True(t, r.AppliesAtMinute(1079))
	// End is exclusive.
	assert.False(t, r.AppliesAtMinute(1080))
}

func TestRuleClassification(t *testing.T) {
	wholeDay := TimeLimitRule{StartMinuteOfDay: 0, EndMinuteOfDay: MinutesPerDay}
	assert.True(t, wholeDay.SpansWholeDay())

	window := TimeLimitRule{StartMinuteOfDay: 960, EndMinuteOfDay: 1080}
	assert.False(t, window.SpansWholeDay())

	// Zero allowance and no session limit behaves like a blocked area.
	blockedArea := TimeLimitRule{MaximumTime: 0}
	assert.True(t, blockedArea.IsBlockedTimeAreaLike())

	withBudget := TimeLimitRule{MaximumTime: 1000}
	assert.False(t, withBudget.IsBlockedTimeAreaLike())

	withSession := TimeLimitRule{MaximumTime: 0, SessionDurationLimit: 1000, SessionPauseDuration: 500}
	assert.True(t, withSession.HasSessionLimit())
	assert.False(t, withSession.IsBlockedTimeAreaLike())

	// A session limit needs both a duration and a pause to be active.
	halfSession := TimeLimitRule{SessionDurationLimit: 1000}
	assert.False(t, halfSession.HasSessionLimit())
}
