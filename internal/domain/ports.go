package domain

import (
	"context"
	"errors"
)

// ErrMissingPermission marks a platform probe that failed because a
// required OS permission has not been granted. The loop degrades to a
// non-blocking status display when it sees this error.
var ErrMissingPermission = errors.New("missing permission")

// UsedTimeDelta is one uncommitted usage increment.
type UsedTimeDelta struct {
	CategoryID       string
	DayOfEpoch       int32
	StartMinuteOfDay int
	EndMinuteOfDay   int
	Duration         int64
}

// UsageCommit is one batched persistence write: used-time increments plus
// the session-duration records they extend. The store must apply the
// whole commit and the matching outbound sync actions in one transaction.
type UsageCommit struct {
	Deltas    []UsedTimeDelta
	Sessions  []SessionDuration
	Timestamp int64
	Trusted   bool
}

// UsageSnapshot is the current usage state of a set of categories,
// loaded once per commit cycle and treated as immutable by evaluators.
type UsageSnapshot struct {
	UsedTimesByCategory map[string][]*UsedTimeItem
	SessionsByCategory  map[string][]*SessionDuration
}

// UsedTimeFor returns today's accumulated time for the rule's window.
func (s *UsageSnapshot) UsedTimeFor(categoryID string, dayOfEpoch int32, rule *TimeLimitRule) int64 {
	for _, item := range s.UsedTimesByCategory[categoryID] {
		if item.DayOfEpoch == dayOfEpoch && item.MatchesRule(rule) {
			return item.UsedTime
		}
	}
	return 0
}

// SessionFor returns the session record matching the rule's limit, or nil.
func (s *UsageSnapshot) SessionFor(categoryID string, rule *TimeLimitRule) *SessionDuration {
	return s.SessionForLimits(categoryID, rule.SessionDurationLimit, rule.SessionPauseDuration,
		rule.StartMinuteOfDay, rule.EndMinuteOfDay)
}

// SessionForLimits returns the session record with exactly the given
// limits and window, or nil.
func (s *UsageSnapshot) SessionForLimits(categoryID string, maxDuration, pauseDuration int64, startMinuteOfDay, endMinuteOfDay int) *SessionDuration {
	for _, session := range s.SessionsByCategory[categoryID] {
		if session.MaxSessionDuration == maxDuration &&
			session.SessionPauseDuration == pauseDuration &&
			session.StartMinuteOfDay == startMinuteOfDay &&
			session.EndMinuteOfDay == endMinuteOfDay {
			return session
		}
	}
	return nil
}

// ActionRecord is one queued outbound sync action with an opaque payload.
type ActionRecord struct {
	Sequence int64
	Type     string
	Payload  []byte
}

// Store provides persistent state. Implementations must be safe for use
// from the main loop plus the background sync tasks.
type Store interface {
	// AppEnabled reads the app-wide kill switch.
	AppEnabled(ctx context.Context) (bool, error)

	// DeviceRelatedData returns the device configuration snapshot.
	DeviceRelatedData(ctx context.Context) (*DeviceRelatedData, error)

	// UserRelatedData returns the configuration snapshot of one user, or
	// nil if the user does not exist.
	UserRelatedData(ctx context.Context, userID string) (*UserRelatedData, error)

	// UsageSnapshot loads the usage state of the given categories around
	// the given day of epoch.
	UsageSnapshot(ctx context.Context, categoryIDs []string, dayOfEpoch int32) (*UsageSnapshot, error)

	// CommitUsage applies one batched usage write, bumps the used-times
	// version token of the touched categories, and appends the matching
	// sync actions in the same transaction.
	CommitUsage(ctx context.Context, commit UsageCommit) error

	// PruneUsedTimes deletes used-time rows older than the given day of
	// epoch and returns how many rows were removed.
	PruneUsedTimes(ctx context.Context, beforeDay int32) (int64, error)

	// RevokeTemporarilyAllowedApps clears the temporarily-allowed app
	// list of the device.
	RevokeTemporarilyAllowedApps(ctx context.Context) error

	// PendingActions returns queued outbound actions in sequence order.
	PendingActions(ctx context.Context, limit int) ([]ActionRecord, error)

	// MarkActionsSynced removes actions up to and including the given
	// sequence number.
	MarkActionsSynced(ctx context.Context, throughSequence int64) error
}

// Platform abstracts the OS integration surface. Probe methods may fail
// with ErrMissingPermission; command methods are fire-and-forget from the
// loop's point of view.
type Platform interface {
	// ForegroundApps returns the currently visible app(s), most relevant
	// first.
	ForegroundApps(ctx context.Context) ([]App, error)

	// AudioPlaybackPackage returns the package currently playing audio
	// in the background, if any.
	AudioPlaybackPackage() (string, bool)

	// BatteryStatus returns the current battery snapshot.
	BatteryStatus() (BatteryStatus, error)

	// NetworkID returns the anonymizable identity of the current
	// network.
	NetworkID() NetworkID

	// ScreenOn reports whether the screen is currently on.
	ScreenOn() bool

	// IsSystemImageApp reports whether the package ships with the OS
	// image rather than being user-installed.
	IsSystemImageApp(packageName string) bool

	// ShowLockOverlay blocks the given package with the lock screen;
	// HideLockOverlay removes it.
	ShowLockOverlay(packageName string) error
	HideLockOverlay() error

	// SetStatusMessage updates the persistent status display.
	SetStatusMessage(message string)

	// StopAudioPlayback attempts to silence background playback. The
	// attempt number selects the escalation step (stop command, headset
	// hook toggle, audio focus steal).
	StopAudioPlayback(attempt int) error

	// ShowTimeWarning displays a "time almost over" notification.
	ShowTimeWarning(categoryTitle string, remainingMillis int64)

	// NotifyTemporarilyAllowedAppsRevoked tells the user that manual
	// allowances were cleared.
	NotifyTemporarilyAllowedAppsRevoked()
}

// SyncPriority orders sync requests; the transport schedules accordingly.
type SyncPriority int

const (
	SyncUnimportant SyncPriority = iota
	SyncImportant
	SyncForced
)

// SyncRequester asks the transport layer to push queued actions and pull
// remote state. Fire-and-forget.
type SyncRequester interface {
	RequestSync(priority SyncPriority)
}
