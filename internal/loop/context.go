package loop

import (
	"time"

	"screentimed/internal/domain"
)

// Config tunes the main evaluation loop.
type Config struct {
	// TickInterval is the normal tick pacing; SlowTickInterval is used
	// while the device's slow-loop flag is set.
	TickInterval     time.Duration
	SlowTickInterval time.Duration

	// MaxCountablePerTick caps how much time one round may debit, so a
	// stalled process cannot burn a whole budget in one tick.
	MaxCountablePerTick int64

	// WarningMinutes are the remaining-time thresholds (in minutes) at
	// which a warning notification fires once per crossing.
	WarningMinutes []int

	// PreBlockSyncThreshold requests an important sync once remaining
	// time drops below it, so the parent device learns before the block.
	PreBlockSyncThreshold int64

	// KeepUsedTimeDays is the pruning horizon for old used-time rows.
	KeepUsedTimeDays int32

	HasPremiumOrLocalMode bool
}

// DefaultConfig returns the production loop configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:          100 * time.Millisecond,
		SlowTickInterval:      time.Second,
		MaxCountablePerTick:   2000,
		WarningMinutes:        []int{1, 5, 10, 15, 30},
		PreBlockSyncThreshold: 10 * 60 * 1000,
		KeepUsedTimeDays:      14,
		HasPremiumOrLocalMode: true,
	}
}

// loopState is the mutable state carried across ticks. It is owned
// exclusively by the loop goroutine; one instance is passed through each
// tick, never shared.
type loopState struct {
	previousUptime     int64
	previousDayOfEpoch int32

	// Config and usage snapshots kept between reloads.
	userData   *domain.UserRelatedData
	userDataID string
	usage      *domain.UsageSnapshot
	usageDay   int32

	// Foreground query pacing when the device sets a detection interval.
	lastForegroundApps   []domain.App
	lastForegroundUptime int64

	// Warning / sync trigger edge detection per category.
	previousRemaining        map[string]int64
	previousSessionRemaining map[string]int64
	warnedThresholds         map[string]map[int]bool

	// Lock overlay handling.
	overlayShownFor     string
	blockCandidate      string
	blockCandidateSince int64

	// Audio mute escalation.
	audioMuteAttempt     int
	lastAudioMuteUptime  int64
	previousAudioBlocked bool

	// Revoke-notification debounce.
	lastRevokeNotifyUptime int64

	// Status message rotation.
	statusPages    []string
	lastStatusPage string
}

func newLoopState() *loopState {
	return &loopState{
		previousDayOfEpoch:       -1,
		previousRemaining:        make(map[string]int64),
		previousSessionRemaining: make(map[string]int64),
		warnedThresholds:         make(map[string]map[int]bool),
	}
}

// resetUser drops all per-user derived state; called when the signed-in
// user changes or enforcement pauses.
func (s *loopState) resetUser() {
	s.userData = nil
	s.userDataID = ""
	s.usage = nil
	s.lastForegroundApps = nil
	s.lastForegroundUptime = 0
	s.previousRemaining = make(map[string]int64)
	s.previousSessionRemaining = make(map[string]int64)
	s.warnedThresholds = make(map[string]map[int]bool)
	s.overlayShownFor = ""
	s.blockCandidate = ""
	s.statusPages = nil
}
