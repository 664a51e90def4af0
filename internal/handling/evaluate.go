package handling

import (
	"time"

	"screentimed/internal/domain"
)

// minEnvelopeHorizon keeps the upper time bound of every envelope at
// least this far in the future so a snapshot can never invalidate itself
// within the same tick.
const minEnvelopeHorizon = 100

const millisPerMinute = 60 * 1000

// Input is the value snapshot one evaluation works on. Evaluate never
// mutates any of it.
type Input struct {
	Category *domain.Category
	Rules    []*domain.TimeLimitRule
	Usage    *domain.UsageSnapshot
	User     *domain.User

	BatteryStatus              domain.BatteryStatus
	ShouldTrustTimeTemporarily bool
	TimeInMillis               int64
	AssumeCurrentDevice        bool
	CurrentNetworkID           domain.NetworkID
	HasPremiumOrLocalMode      bool
}

// localTime is the decomposed local time the gates work with.
type localTime struct {
	dayOfEpoch       int32
	dayOfWeek        int // Monday = 0
	minuteOfDay      int
	minuteOfWeek     int
	millisIntoMinute int64
}

func decomposeTime(timeInMillis int64, location *time.Location) localTime {
	t := time.UnixMilli(timeInMillis).In(location)
	year, month, day := t.Date()
	localMidnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	dayOfWeek := (int(t.Weekday()) + 6) % 7
	minuteOfDay := t.Hour()*60 + t.Minute()

	return localTime{
		dayOfEpoch:       int32(localMidnight.Unix() / 86400),
		dayOfWeek:        dayOfWeek,
		minuteOfDay:      minuteOfDay,
		minuteOfWeek:     dayOfWeek*domain.MinutesPerDay + minuteOfDay,
		millisIntoMinute: int64(t.Second())*1000 + int64(t.Nanosecond())/1e6,
	}
}

// DayOfEpoch returns the local calendar day index (days since
// 1970-01-01) of a timestamp.
func DayOfEpoch(timeInMillis int64, location *time.Location) int32 {
	return decomposeTime(timeInMillis, location).dayOfEpoch
}

// MinuteOfWeek returns the local minute of the week of a timestamp,
// minute 0 being Monday 00:00.
func MinuteOfWeek(timeInMillis int64, location *time.Location) int {
	return decomposeTime(timeInMillis, location).minuteOfWeek
}

// Evaluate computes the full blocking verdict of one category for one
// instant, including the validity envelope the cache relies on.
func Evaluate(in Input) *CategoryHandling {
	category := in.Category
	now := decomposeTime(in.TimeInMillis, in.User.Location())

	result := &CategoryHandling{
		CategoryID:            category.ID,
		DayOfEpoch:            now.dayOfEpoch,
		BlockAllNotifications: category.BlockAllNotifications,
		Dependencies: Envelope{
			// Verdicts are minute-granular, so the snapshot covers the
			// current minute by construction.
			MinTime:         in.TimeInMillis - now.millisIntoMinute,
			MaxTime:         noMaxTime,
			MinBatteryLevel: 0,
			MaxBatteryLevel: 100,
			Charging:        in.BatteryStatus.Charging,
		},
	}

	maxTimeBound := func(bound int64) {
		if bound < result.Dependencies.MaxTime {
			result.Dependencies.MaxTime = bound
		}
	}
	// minuteBound converts a minute-of-day boundary later today into a
	// timestamp bound.
	minuteBound := func(minuteOfDay int) {
		if minuteOfDay <= now.minuteOfDay {
			return
		}
		delta := int64(minuteOfDay-now.minuteOfDay)*millisPerMinute - now.millisIntoMinute
		maxTimeBound(in.TimeInMillis + delta)
	}

	// Battery gate.
	requiredBattery := category.MinBatteryLevelMobile
	if in.BatteryStatus.Charging {
		requiredBattery = category.MinBatteryLevelCharging
	}
	result.OkByBattery = in.BatteryStatus.Level >= requiredBattery
	if result.OkByBattery {
		result.Dependencies.MinBatteryLevel = requiredBattery
	} else if requiredBattery > 0 {
		result.Dependencies.MaxBatteryLevel = requiredBattery - 1
	}

	// Temporary block gate.
	result.OkByTempBlocking = true
	if category.TemporarilyBlocked {
		endTime := category.TemporarilyBlockedEndTime
		expired := endTime != 0 && in.ShouldTrustTimeTemporarily && endTime <= in.TimeInMillis
		result.OkByTempBlocking = expired
		if endTime > in.TimeInMillis && in.ShouldTrustTimeTemporarily {
			maxTimeBound(endTime)
		}
	}

	// Limits-disabled override.
	disableUntil := category.DisableLimitsUntil
	if in.User.DisableLimitsUntil > disableUntil {
		disableUntil = in.User.DisableLimitsUntil
	}
	limitsDisabled := in.ShouldTrustTimeTemporarily && disableUntil > in.TimeInMillis
	result.AreLimitsTemporarilyDisabled = limitsDisabled
	if limitsDisabled {
		maxTimeBound(disableUntil)
	}

	// Network gate. The network list is a premium feature; without
	// premium or local mode it is inert.
	result.OkByNetworkID = true
	if category.NetworkMode != domain.NetworkModeNone && in.HasPremiumOrLocalMode && len(category.Networks) > 0 {
		result.Dependencies.DependsOnNetworkID = true
		result.Dependencies.NetworkID = in.CurrentNetworkID

		switch in.CurrentNetworkID.State {
		case domain.NetworkIDMissingPermission:
			// Fail closed: without permission neither list can be
			// checked, so the gate fails for both modes.
			result.OkByNetworkID = false
		case domain.NetworkIDNoNetwork:
			result.OkByNetworkID = category.NetworkMode == domain.NetworkModeBlocklist
		case domain.NetworkIDConnected:
			matched := matchesAnyNetwork(category.Networks, in.CurrentNetworkID.ID)
			if category.NetworkMode == domain.NetworkModeBlocklist {
				result.OkByNetworkID = !matched
			} else {
				result.OkByNetworkID = matched
			}
		}
	}

	// Rule selection for the current day and minute.
	var regularRules []*domain.TimeLimitRule
	var blockedAreaRules []*domain.TimeLimitRule
	nextBlockedMinute := -1
	for _, rule := range in.Rules {
		if !rule.AppliesOnDay(now.dayOfWeek) {
			continue
		}
		// Every window edge of a rule applying today can flip a verdict.
		minuteBound(rule.StartMinuteOfDay)
		minuteBound(rule.EndMinuteOfDay)
		if rule.IsBlockedTimeAreaLike() && rule.StartMinuteOfDay > now.minuteOfDay {
			if nextBlockedMinute < 0 || rule.StartMinuteOfDay < nextBlockedMinute {
				nextBlockedMinute = rule.StartMinuteOfDay
			}
		}
		if !rule.AppliesAtMinute(now.minuteOfDay) {
			continue
		}
		if rule.IsBlockedTimeAreaLike() {
			blockedAreaRules = append(blockedAreaRules, rule)
		} else {
			regularRules = append(regularRules, rule)
		}
	}
	// The day mask makes every rule set change at local midnight.
	if len(in.Rules) > 0 {
		minuteBound(domain.MinutesPerDay)
	}

	// Blocked-time-areas gate.
	inBlockedMinute := category.BlockedTimes.IsSet(now.minuteOfWeek)
	result.OkByBlockedTimeAreas = limitsDisabled || (!inBlockedMinute && len(blockedAreaRules) == 0)
	if !category.BlockedTimes.IsEmpty() {
		next := category.BlockedTimes.NextChange(now.minuteOfWeek)
		if next < 0 {
			// Constant for the rest of the week; the verdict can still
			// flip when the week wraps to Monday 00:00.
			next = domain.MinutesPerWeek
		}
		delta := int64(next-now.minuteOfWeek)*millisPerMinute - now.millisIntoMinute
		maxTimeBound(in.TimeInMillis + delta)
		if !inBlockedMinute && next < (now.dayOfWeek+1)*domain.MinutesPerDay {
			minute := next - now.dayOfWeek*domain.MinutesPerDay
			if nextBlockedMinute < 0 || minute < nextBlockedMinute {
				nextBlockedMinute = minute
			}
		}
	}
	if nextBlockedMinute >= 0 {
		delta := int64(nextBlockedMinute-now.minuteOfDay)*millisPerMinute - now.millisIntoMinute
		result.NextBlockedStart = in.TimeInMillis + delta
	}

	// Remaining time across the applicable regular rules.
	if !limitsDisabled && len(regularRules) > 0 {
		extraTime := category.ExtraTimeForDay(now.dayOfEpoch)
		remaining := &RemainingTime{Default: noMaxTime, IncludingExtraTime: noMaxTime}
		slotSeen := make(map[Slot]bool)

		for _, rule := range regularRules {
			used := in.Usage.UsedTimeFor(category.ID, now.dayOfEpoch, rule)

			byDefault := rule.MaximumTime - used
			if byDefault < 0 {
				byDefault = 0
			}
			byExtra := byDefault
			if rule.AppliesToExtraTime {
				byExtra = rule.MaximumTime + extraTime - used
				if byExtra < 0 {
					byExtra = 0
				}
			}
			if byDefault < remaining.Default {
				remaining.Default = byDefault
			}
			if byExtra < remaining.IncludingExtraTime {
				remaining.IncludingExtraTime = byExtra
			}

			slot := Slot{StartMinuteOfDay: rule.StartMinuteOfDay, EndMinuteOfDay: rule.EndMinuteOfDay}
			if !slotSeen[slot] {
				slotSeen[slot] = true
				result.CountingSlots = append(result.CountingSlots, slot)
			}
		}

		result.RemainingTime = remaining
		result.UsingExtraTime = remaining.Default == 0 && remaining.IncludingExtraTime > 0
		if remaining.IncludingExtraTime > 0 && remaining.IncludingExtraTime != noMaxTime {
			// Worst case the budget is exhausted by continuous use.
			maxTimeBound(in.TimeInMillis + remaining.IncludingExtraTime)
		}
	}

	// Session-duration limits.
	if !limitsDisabled {
		for _, rule := range regularRules {
			if !rule.HasSessionLimit() {
				continue
			}
			var accumulated int64
			if session := in.Usage.SessionFor(category.ID, rule); session != nil {
				accumulated = session.CurrentDuration(in.TimeInMillis)
				if !session.SessionExpired(in.TimeInMillis) {
					// The session resets once the pause duration passes
					// without usage.
					maxTimeBound(session.LastUsage + rule.SessionPauseDuration)
				}
			}
			left := rule.SessionDurationLimit - accumulated
			if left < 0 {
				left = 0
			}
			if result.RemainingSessionDuration == nil || left < *result.RemainingSessionDuration {
				value := left
				result.RemainingSessionDuration = &value
			}
			result.SessionSlots = append(result.SessionSlots, SessionSlot{
				Slot:                 Slot{StartMinuteOfDay: rule.StartMinuteOfDay, EndMinuteOfDay: rule.EndMinuteOfDay},
				MaxSessionDuration:   rule.SessionDurationLimit,
				SessionPauseDuration: rule.SessionPauseDuration,
			})
			if left > 0 {
				maxTimeBound(in.TimeInMillis + left)
			}
		}
	}

	// Aggregate gates.
	result.OkByTimeLimitRules = limitsDisabled || result.RemainingTime == nil || result.RemainingTime.IncludingExtraTime > 0
	result.OkBySessionDurationLimits = limitsDisabled || result.RemainingSessionDuration == nil || *result.RemainingSessionDuration > 0
	result.OkByCurrentDevice = result.RemainingTime == nil || in.AssumeCurrentDevice

	// A category whose configuration depends on the clock cannot be
	// decided safely without at least a temporarily trusted time.
	result.MissingNetworkTime = !in.ShouldTrustTimeTemporarily &&
		category.HasTrustedTimeFeatures(in.Rules)

	result.OkBasic = result.OkByBattery &&
		result.OkByTempBlocking &&
		result.OkByBlockedTimeAreas &&
		result.OkByTimeLimitRules &&
		result.OkBySessionDurationLimits &&
		!result.MissingNetworkTime
	result.OkAll = result.OkBasic && result.OkByCurrentDevice && result.OkByNetworkID
	result.ShouldBlockActivities = !result.OkAll
	result.ShouldCountTime = result.RemainingTime != nil && result.OkAll

	result.Reason = deriveReason(result, category)

	// Clamp the horizon so a snapshot can never expire instantly.
	if result.Dependencies.MaxTime < in.TimeInMillis+minEnvelopeHorizon {
		result.Dependencies.MaxTime = in.TimeInMillis + minEnvelopeHorizon
	}

	return result
}

// deriveReason picks the blocking reason by fixed gate priority.
func deriveReason(h *CategoryHandling, category *domain.Category) BlockingReason {
	switch {
	case !h.OkByBattery:
		return ReasonBatteryLimit
	case !h.OkByTempBlocking:
		return ReasonTemporarilyBlocked
	case !h.OkByNetworkID:
		return ReasonForbiddenNetwork
	case !h.OkByBlockedTimeAreas:
		return ReasonBlockedAtThisTime
	case !h.OkByTimeLimitRules:
		if category.ExtraTime > 0 {
			return ReasonTimeOverExtraTimeCanBeUsedLater
		}
		return ReasonTimeOver
	case !h.OkBySessionDurationLimits:
		return ReasonSessionDurationLimit
	case !h.OkByCurrentDevice:
		return ReasonRequiresCurrentDevice
	case h.MissingNetworkTime:
		return ReasonMissingNetworkTime
	default:
		return ReasonNone
	}
}
