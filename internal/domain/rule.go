package domain

import (
	"errors"
	"fmt"
)

// TimeLimitRule restricts how long a category may be used within a
// day-of-week/minute-of-day window. A rule with a zero maximum time and no
// session limit blocks its whole window outright.
type TimeLimitRule struct {
	ID         string
	CategoryID string

	// DayMask has bit i set when the rule applies on day i,
	// Monday = 0 .. Sunday = 6.
	DayMask uint8

	// MaximumTime is the budget in milliseconds for the window.
	MaximumTime int64

	// The rule window is [StartMinuteOfDay, EndMinuteOfDay).
	StartMinuteOfDay int
	EndMinuteOfDay   int

	AppliesToExtraTime bool

	// SessionDurationLimit caps continuous usage in milliseconds;
	// zero means no session limit. SessionPauseDuration is the gap after
	// which a new session starts.
	SessionDurationLimit int64
	SessionPauseDuration int64
}

// Validate checks the rule invariants.
func (r *TimeLimitRule) Validate() error {
	if r.ID == "" {
		return errors.New("rule id is empty")
	}
	if r.CategoryID == "" {
		return fmt.Errorf("rule %s: category id is empty", r.ID)
	}
	if r.DayMask == 0 || r.DayMask > 0x7f {
		return fmt.Errorf("rule %s: invalid day mask %#x", r.ID, r.DayMask)
	}
	if r.StartMinuteOfDay < 0 || r.EndMinuteOfDay > MinutesPerDay || r.StartMinuteOfDay >= r.EndMinuteOfDay {
		return fmt.Errorf("rule %s: invalid window [%d, %d)", r.ID, r.StartMinuteOfDay, r.EndMinuteOfDay)
	}
	if r.MaximumTime < 0 {
		return fmt.Errorf("rule %s: maximum time is negative", r.ID)
	}
	if r.SessionDurationLimit < 0 || r.SessionPauseDuration < 0 {
		return fmt.Errorf("rule %s: negative session limits", r.ID)
	}
	return nil
}

// AppliesOnDay reports whether the rule applies on the given day,
// Monday = 0 .. Sunday = 6.
func (r *TimeLimitRule) AppliesOnDay(dayOfWeek int) bool {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return false
	}
	return r.DayMask&(1<<uint(dayOfWeek)) != 0
}

// AppliesAtMinute reports whether the rule window contains the given
// minute of the day.
func (r *TimeLimitRule) AppliesAtMinute(minuteOfDay int) bool {
	return minuteOfDay >= r.StartMinuteOfDay && minuteOfDay < r.EndMinuteOfDay
}

// SpansWholeDay reports whether the rule window is the full day.
func (r *TimeLimitRule) SpansWholeDay() bool {
	return r.StartMinuteOfDay == 0 && r.EndMinuteOfDay == MinutesPerDay
}

// HasSessionLimit reports whether the rule carries a session duration
// limit.
func (r *TimeLimitRule) HasSessionLimit() bool {
	return r.SessionDurationLimit > 0 && r.SessionPauseDuration > 0
}

// IsBlockedTimeAreaLike reports whether the rule, while applicable,
// behaves like a blocked time area: zero allowance and no session limit.
func (r *TimeLimitRule) IsBlockedTimeAreaLike() bool {
	return r.MaximumTime == 0 && !r.HasSessionLimit()
}
