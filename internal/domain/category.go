// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"errors"
	"fmt"
)

// MinutesPerDay is the number of minutes in one day.
const MinutesPerDay = 24 * 60

// MinutesPerWeek is the number of minutes in one week.
const MinutesPerWeek = 7 * MinutesPerDay

// blockedMinutesWords is the number of uint64 words needed for one bit
// per minute of the week.
const blockedMinutesWords = (MinutesPerWeek + 63) / 64

// BlockedMinutes is a weekly bitmap with one bit per minute of the week.
// Minute 0 is Monday 00:00.
type BlockedMinutes [blockedMinutesWords]uint64

// IsSet reports whether the given minute of the week is blocked.
func (b *BlockedMinutes) IsSet(minuteOfWeek int) bool {
	if minuteOfWeek < 0 || minuteOfWeek >= MinutesPerWeek {
		return false
	}
	return b[minuteOfWeek/64]&(1<<(uint(minuteOfWeek)%64)) != 0
}

// Set marks the given minute of the week as blocked.
func (b *BlockedMinutes) Set(minuteOfWeek int) {
	if minuteOfWeek < 0 || minuteOfWeek >= MinutesPerWeek {
		return
	}
	b[minuteOfWeek/64] |= 1 << (uint(minuteOfWeek) % 64)
}

// SetRange marks [start, end) minutes of the week as blocked.
func (b *BlockedMinutes) SetRange(start, end int) {
	for m := start; m < end; m++ {
		b.Set(m)
	}
}

// IsEmpty reports whether no minute is blocked.
func (b *BlockedMinutes) IsEmpty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// NextChange returns the next minute of the week (strictly after from) at
// which the bitmap value differs from its value at from, or -1 if the
// bitmap is constant for the remainder of the week.
func (b *BlockedMinutes) NextChange(from int) int {
	if from < 0 || from >= MinutesPerWeek {
		return -1
	}
	current := b.IsSet(from)
	for m := from + 1; m < MinutesPerWeek; m++ {
		if b.IsSet(m) != current {
			return m
		}
	}
	return -1
}

// NetworkMode describes how a category's network list is interpreted.
type NetworkMode int

const (
	// NetworkModeNone means the category has no network restriction.
	NetworkModeNone NetworkMode = iota
	// NetworkModeBlocklist blocks the category while connected to a
	// listed network.
	NetworkModeBlocklist
	// NetworkModeAllowlist blocks the category unless connected to a
	// listed network.
	NetworkModeAllowlist
)

// CategoryNetwork is one anonymized network identifier entry. The raw
// network id is never stored; only a per-item salted hash.
type CategoryNetwork struct {
	ItemID   string
	Salt     string
	HashedID string
}

// CategoryVersions holds the monotonically changing sync tokens for each
// sync-relevant sub-aspect of a category.
type CategoryVersions struct {
	Base      string
	Apps      string
	Rules     string
	UsedTimes string
}

// Category is a named time-budget bucket belonging to a child user.
type Category struct {
	ID      string
	ChildID string
	Title   string

	BlockedTimes BlockedMinutes

	// ExtraTime is a manually granted bonus allowance in milliseconds.
	// If ExtraTimeDay >= 0 the allowance is scoped to that day of epoch
	// and resets when the day changes.
	ExtraTime    int64
	ExtraTimeDay int32

	TemporarilyBlocked        bool
	TemporarilyBlockedEndTime int64

	BlockAllNotifications   bool
	NotificationBlockDelay  int64
	DisableLimitsUntil      int64
	MinBatteryLevelCharging int
	MinBatteryLevelMobile   int
	TimeWarningFlags        int64
	ParentCategoryID        string

	NetworkMode NetworkMode
	Networks    []CategoryNetwork

	Versions CategoryVersions
}

// Validate checks the category invariants.
func (c *Category) Validate() error {
	if c.ID == "" {
		return errors.New("category id is empty")
	}
	if c.ChildID == "" {
		return fmt.Errorf("category %s: child id is empty", c.ID)
	}
	if c.Title == "" {
		return fmt.Errorf("category %s: title is empty", c.ID)
	}
	if c.ExtraTime < 0 {
		return fmt.Errorf("category %s: extra time is negative", c.ID)
	}
	if c.TemporarilyBlockedEndTime < 0 {
		return fmt.Errorf("category %s: temporarily blocked end time is negative", c.ID)
	}
	return nil
}

// ExtraTimeForDay returns the currently usable extra time for the given
// day of epoch. Day-scoped extra time from a different day is gone.
func (c *Category) ExtraTimeForDay(dayOfEpoch int32) int64 {
	if c.ExtraTimeDay >= 0 && c.ExtraTimeDay != dayOfEpoch {
		return 0
	}
	return c.ExtraTime
}

// HasTrustedTimeFeatures reports whether any configured feature of this
// category needs a trusted clock to be evaluated safely.
func (c *Category) HasTrustedTimeFeatures(rules []*TimeLimitRule) bool {
	if c.TemporarilyBlocked && c.TemporarilyBlockedEndTime != 0 {
		return true
	}
	if !c.BlockedTimes.IsEmpty() {
		return true
	}
	return len(rules) > 0
}
