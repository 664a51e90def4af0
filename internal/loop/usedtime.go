// Package loop implements the main evaluation loop and its helpers.
package loop

import (
	"context"

	"go.uber.org/zap"

	"screentimed/internal/clock"
	"screentimed/internal/domain"
	"screentimed/internal/handling"
)

// Commit pacing: a write happens at most every autoCommitInterval of
// uptime, or earlier once any category accumulated maxPendingPerCategory
// of uncommitted time.
const (
	autoCommitInterval    = 5 * 1000
	maxPendingPerCategory = 30 * 1000
)

type pendingSlotKey struct {
	categoryID       string
	dayOfEpoch       int32
	startMinuteOfDay int
	endMinuteOfDay   int
}

type pendingSessionKey struct {
	categoryID           string
	maxSessionDuration   int64
	sessionPauseDuration int64
	startMinuteOfDay     int
	endMinuteOfDay       int
}

// UsedTimeBatcher coalesces per-tick time deltas into periodic batched
// writes so the 100ms tick does not cause one database write each round.
// Uncommitted deltas stay queryable so the loop can compute "remaining
// time as of right now".
type UsedTimeBatcher struct {
	store  domain.Store
	clock  clock.Clock
	logger *zap.Logger

	pendingSlots      map[pendingSlotKey]int64
	pendingSessions   map[pendingSessionKey]*domain.SessionDuration
	pendingByCategory map[string]int64
	lastCommitUptime  int64
	lastTimestamp     int64
	lastTrusted       bool
}

// NewUsedTimeBatcher creates an empty batcher.
func NewUsedTimeBatcher(store domain.Store, clk clock.Clock, logger *zap.Logger) *UsedTimeBatcher {
	return &UsedTimeBatcher{
		store:             store,
		clock:             clk,
		logger:            logger,
		pendingSlots:      make(map[pendingSlotKey]int64),
		pendingSessions:   make(map[pendingSessionKey]*domain.SessionDuration),
		pendingByCategory: make(map[string]int64),
		lastCommitUptime:  clk.UptimeMillis(),
	}
}

// ReportParams are the inputs of one tick's usage report.
type ReportParams struct {
	Duration   int64
	DayOfEpoch int32
	Timestamp  int64
	Trusted    bool

	// Handlings holds the categories active this tick; only those with
	// ShouldCountTime accumulate.
	Handlings []*handling.CategoryHandling

	// Usage seeds session records the batcher has not touched yet.
	Usage *domain.UsageSnapshot

	// RecentlyStarted categories defer purely time-triggered commits to
	// avoid sync churn right after a category becomes active.
	RecentlyStarted map[string]bool
}

// Report accumulates one tick's duration against every counting category
// and auto-commits when a pacing threshold is reached. Returns whether a
// commit happened.
func (b *UsedTimeBatcher) Report(ctx context.Context, params ReportParams) (bool, error) {
	if params.Duration > 0 {
		for _, h := range params.Handlings {
			if !h.ShouldCountTime {
				continue
			}
			b.pendingByCategory[h.CategoryID] += params.Duration

			for _, slot := range h.CountingSlots {
				key := pendingSlotKey{
					categoryID:       h.CategoryID,
					dayOfEpoch:       params.DayOfEpoch,
					startMinuteOfDay: slot.StartMinuteOfDay,
					endMinuteOfDay:   slot.EndMinuteOfDay,
				}
				b.pendingSlots[key] += params.Duration
			}

			for _, slot := range h.SessionSlots {
				b.extendSession(h.CategoryID, slot, params)
			}
		}
		b.lastTimestamp = params.Timestamp
		b.lastTrusted = params.Trusted
	}

	if !b.shouldAutoCommit(params.RecentlyStarted) {
		return false, nil
	}
	if err := b.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// extendSession advances the pending session record for one slot.
func (b *UsedTimeBatcher) extendSession(categoryID string, slot handling.SessionSlot, params ReportParams) {
	key := pendingSessionKey{
		categoryID:           categoryID,
		maxSessionDuration:   slot.MaxSessionDuration,
		sessionPauseDuration: slot.SessionPauseDuration,
		startMinuteOfDay:     slot.StartMinuteOfDay,
		endMinuteOfDay:       slot.EndMinuteOfDay,
	}

	session, ok := b.pendingSessions[key]
	if !ok {
		session = &domain.SessionDuration{
			CategoryID:           categoryID,
			MaxSessionDuration:   slot.MaxSessionDuration,
			SessionPauseDuration: slot.SessionPauseDuration,
			StartMinuteOfDay:     slot.StartMinuteOfDay,
			EndMinuteOfDay:       slot.EndMinuteOfDay,
		}
		if params.Usage != nil {
			if stored := params.Usage.SessionForLimits(categoryID, slot.MaxSessionDuration,
				slot.SessionPauseDuration, slot.StartMinuteOfDay, slot.EndMinuteOfDay); stored != nil {
				*session = *stored
			}
		}
		b.pendingSessions[key] = session
	}

	// A gap longer than the pause duration starts a fresh session.
	session.LastSessionDuration = session.CurrentDuration(params.Timestamp) + params.Duration
	session.LastUsage = params.Timestamp
}

// shouldAutoCommit applies the pacing rules.
func (b *UsedTimeBatcher) shouldAutoCommit(recentlyStarted map[string]bool) bool {
	if len(b.pendingSlots) == 0 && len(b.pendingSessions) == 0 {
		return false
	}
	for _, pending := range b.pendingByCategory {
		if pending >= maxPendingPerCategory {
			return true
		}
	}
	if b.clock.UptimeMillis()-b.lastCommitUptime < autoCommitInterval {
		return false
	}
	// Defer purely time-triggered commits while everything pending just
	// started; this keeps sync quiet during sign-in flapping.
	if len(recentlyStarted) > 0 {
		allRecent := true
		for categoryID := range b.pendingByCategory {
			if !recentlyStarted[categoryID] {
				allRecent = false
				break
			}
		}
		if allRecent {
			return false
		}
	}
	return true
}

// PendingFor returns the uncommitted delta of one category.
func (b *UsedTimeBatcher) PendingFor(categoryID string) int64 {
	return b.pendingByCategory[categoryID]
}

// HasPending reports whether any delta awaits commit.
func (b *UsedTimeBatcher) HasPending() bool {
	return len(b.pendingSlots) > 0 || len(b.pendingSessions) > 0
}

// Commit forces an immediate batched write of everything pending.
func (b *UsedTimeBatcher) Commit(ctx context.Context) error {
	if !b.HasPending() {
		b.lastCommitUptime = b.clock.UptimeMillis()
		return nil
	}

	commit := domain.UsageCommit{
		Timestamp: b.lastTimestamp,
		Trusted:   b.lastTrusted,
	}
	for key, duration := range b.pendingSlots {
		commit.Deltas = append(commit.Deltas, domain.UsedTimeDelta{
			CategoryID:       key.categoryID,
			DayOfEpoch:       key.dayOfEpoch,
			StartMinuteOfDay: key.startMinuteOfDay,
			EndMinuteOfDay:   key.endMinuteOfDay,
			Duration:         duration,
		})
	}
	for _, session := range b.pendingSessions {
		commit.Sessions = append(commit.Sessions, *session)
	}

	if err := b.store.CommitUsage(ctx, commit); err != nil {
		return err
	}

	b.logger.Debug("committed used times",
		zap.Int("slots", len(commit.Deltas)),
		zap.Int("sessions", len(commit.Sessions)))

	b.pendingSlots = make(map[pendingSlotKey]int64)
	b.pendingSessions = make(map[pendingSessionKey]*domain.SessionDuration)
	b.pendingByCategory = make(map[string]int64)
	b.lastCommitUptime = b.clock.UptimeMillis()
	return nil
}
