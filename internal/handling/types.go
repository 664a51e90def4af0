// Package handling contains the blocking-decision core: the pure
// per-category evaluator, the validity-envelope cache on top of it, and
// the per-app classifier.
package handling

import (
	"math"

	"screentimed/internal/domain"
)

// BlockingReason explains why a category blocks, checked in a fixed
// priority order.
type BlockingReason int

const (
	ReasonNone BlockingReason = iota
	ReasonBatteryLimit
	ReasonTemporarilyBlocked
	ReasonForbiddenNetwork
	ReasonBlockedAtThisTime
	ReasonTimeOver
	ReasonTimeOverExtraTimeCanBeUsedLater
	ReasonSessionDurationLimit
	ReasonRequiresCurrentDevice
	ReasonMissingNetworkTime
)

func (r BlockingReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonBatteryLimit:
		return "battery limit"
	case ReasonTemporarilyBlocked:
		return "temporarily blocked"
	case ReasonForbiddenNetwork:
		return "forbidden network"
	case ReasonBlockedAtThisTime:
		return "blocked at this time"
	case ReasonTimeOver:
		return "time over"
	case ReasonTimeOverExtraTimeCanBeUsedLater:
		return "time over, extra time can be used later"
	case ReasonSessionDurationLimit:
		return "session duration limit"
	case ReasonRequiresCurrentDevice:
		return "requires current device"
	case ReasonMissingNetworkTime:
		return "missing network time"
	default:
		return "unknown"
	}
}

// RemainingTime is the budget left for a category right now. Default
// excludes manually granted extra time.
type RemainingTime struct {
	Default            int64
	IncludingExtraTime int64
}

// Slot is one minute-of-day window whose used time must be debited while
// the category counts.
type Slot struct {
	StartMinuteOfDay int
	EndMinuteOfDay   int
}

// SessionSlot identifies one session-duration limit that must be extended
// while the category counts.
type SessionSlot struct {
	Slot
	MaxSessionDuration   int64
	SessionPauseDuration int64
}

// Envelope is the validity contract of a computed handling: the snapshot
// stays correct exactly while every recorded bound holds.
type Envelope struct {
	// The snapshot is valid for query timestamps in [MinTime, MaxTime).
	MinTime int64
	MaxTime int64

	// Battery level must stay within [MinBatteryLevel, MaxBatteryLevel]
	// and the charging state must not flip.
	MinBatteryLevel int
	MaxBatteryLevel int
	Charging        bool

	// When DependsOnNetworkID is set, the probed network identity must
	// stay equal to NetworkID.
	DependsOnNetworkID bool
	NetworkID          domain.NetworkID
}

// ContainsTime reports whether the envelope covers the given timestamp.
func (e *Envelope) ContainsTime(timeInMillis int64) bool {
	return timeInMillis >= e.MinTime && timeInMillis < e.MaxTime
}

// ContainsBattery reports whether the envelope covers the given battery
// snapshot.
func (e *Envelope) ContainsBattery(status domain.BatteryStatus) bool {
	return status.Charging == e.Charging &&
		status.Level >= e.MinBatteryLevel &&
		status.Level <= e.MaxBatteryLevel
}

// noMaxTime marks an envelope with no upper time bound.
const noMaxTime = math.MaxInt64

// CategoryHandling is the evaluated verdict snapshot of one category. It
// is owned by the cache entry that computed it and replaced wholesale on
// recompute, never mutated.
type CategoryHandling struct {
	CategoryID string

	OkByBattery               bool
	OkByTempBlocking          bool
	OkByNetworkID             bool
	OkByBlockedTimeAreas      bool
	OkByTimeLimitRules        bool
	OkBySessionDurationLimits bool
	OkByCurrentDevice         bool

	MissingNetworkTime           bool
	AreLimitsTemporarilyDisabled bool

	// RemainingTime is nil when no regular rule restricts the category
	// right now.
	RemainingTime *RemainingTime

	// RemainingSessionDuration is nil when no session limit applies.
	RemainingSessionDuration *int64

	UsingExtraTime bool

	OkBasic               bool
	OkAll                 bool
	ShouldBlockActivities bool

	// ShouldCountTime marks categories whose usage must be debited this
	// tick; CountingSlots and SessionSlots say against which records.
	ShouldCountTime bool
	CountingSlots   []Slot
	SessionSlots    []SessionSlot

	BlockAllNotifications bool
	Reason                BlockingReason

	// NextBlockedStart is the timestamp at which the next blocked window
	// of today begins, or zero when none is known. Drives the
	// "blocked soon" warning.
	NextBlockedStart int64

	DayOfEpoch int32

	Dependencies Envelope
}
