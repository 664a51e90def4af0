package domain

// UsedTimeItem is accumulated usage of one category on one day of epoch,
// scoped to one minute-of-day slot. Rules that cover the whole day share
// the [0, MinutesPerDay) slot; rules restricted to sub-day windows get
// their own slot so their budgets are tracked independently.
type UsedTimeItem struct {
	CategoryID       string
	DayOfEpoch       int32
	StartMinuteOfDay int
	EndMinuteOfDay   int
	UsedTime         int64
}

// MatchesRule reports whether this item tracks usage for the given rule's
// window.
func (u *UsedTimeItem) MatchesRule(r *TimeLimitRule) bool {
	return u.StartMinuteOfDay == r.StartMinuteOfDay && u.EndMinuteOfDay == r.EndMinuteOfDay
}

// SessionDuration records the running-session state of one category and
// rule window, used by session-duration limits.
type SessionDuration struct {
	CategoryID           string
	MaxSessionDuration   int64
	SessionPauseDuration int64
	StartMinuteOfDay     int
	EndMinuteOfDay       int

	// LastUsage is the timestamp (wall clock, milliseconds) at which the
	// session was last extended; LastSessionDuration is the accumulated
	// session length as of that moment.
	LastUsage           int64
	LastSessionDuration int64
}

// SessionExpired reports whether the gap since the last usage exceeds the
// pause duration, meaning the next usage starts a fresh session.
func (s *SessionDuration) SessionExpired(timeInMillis int64) bool {
	return timeInMillis-s.LastUsage >= s.SessionPauseDuration
}

// CurrentDuration returns the accumulated session duration as of the
// given time: the recorded duration, or zero for an expired session.
func (s *SessionDuration) CurrentDuration(timeInMillis int64) int64 {
	if s.SessionExpired(timeInMillis) {
		return 0
	}
	return s.LastSessionDuration
}

// MatchesRule reports whether this record belongs to the given rule's
// session limit.
func (s *SessionDuration) MatchesRule(r *TimeLimitRule) bool {
	return s.MaxSessionDuration == r.SessionDurationLimit &&
		s.SessionPauseDuration == r.SessionPauseDuration &&
		s.StartMinuteOfDay == r.StartMinuteOfDay &&
		s.EndMinuteOfDay == r.EndMinuteOfDay
}
