package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"screentimed/internal/clock"
	"screentimed/internal/domain"
	"screentimed/internal/handling"
)

// State is the observable mode of the main loop.
type State int

const (
	StateDisabled State = iota
	StateNoEligibleUser
	StateRunning
	StatePermissionError
	StateInternalError
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateNoEligibleUser:
		return "no eligible user"
	case StateRunning:
		return "running"
	case StatePermissionError:
		return "permission error"
	case StateInternalError:
		return "internal error"
	default:
		return "unknown"
	}
}

// minSleep is the floor of the inter-tick sleep.
const minSleep = 10 * time.Millisecond

// pauseInterval paces the eligibility polling while enforcement is off.
const pauseInterval = 500 * time.Millisecond

// errConfigChanged restarts the tick when the user or category set
// changed underneath a forced commit.
var errConfigChanged = errors.New("config changed mid-tick")

// Loop is the main evaluation loop: the sole safety net that, every
// tick, decides blocking, counting and sync triggers. It never runs two
// ticks concurrently and must never terminate on an evaluation error.
type Loop struct {
	store         domain.Store
	platform      domain.Platform
	syncRequester domain.SyncRequester
	clock         clock.Clock
	trust         *clock.TrustProvider
	config        Config
	logger        *zap.Logger

	cache       *handling.Cache
	batcher     *UsedTimeBatcher
	undisturbed *UndisturbedCategoryUsageCounter
	st          *loopState

	mu        sync.Mutex
	state     State
	lastError error
}

// New creates the loop. Run must be called exactly once.
func New(
	store domain.Store,
	platform domain.Platform,
	syncRequester domain.SyncRequester,
	clk clock.Clock,
	trust *clock.TrustProvider,
	config Config,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		store:         store,
		platform:      platform,
		syncRequester: syncRequester,
		clock:         clk,
		trust:         trust,
		config:        config,
		logger:        logger,
		cache:         handling.NewCache(),
		batcher:       NewUsedTimeBatcher(store, clk, logger),
		undisturbed:   NewUndisturbedCategoryUsageCounter(),
		st:            newLoopState(),
	}
}

// State returns the current loop state for diagnostics.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastError returns the most recent tick error, if any.
func (l *Loop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastError
}

func (l *Loop) setState(state State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	if err != nil {
		l.lastError = err
	}
}

// Run executes the loop until the context is canceled. Tick errors are
// absorbed: a permission failure degrades to a non-blocking status
// display, anything else is logged and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("main loop started")

	for {
		if ctx.Err() != nil {
			l.shutdown()
			return ctx.Err()
		}

		startUptime := l.clock.UptimeMillis()
		interval, err := l.iterate(ctx)

		switch {
		case err == nil:
			// State was set inside iterate.
		case errors.Is(err, errConfigChanged):
			// Rerun immediately with fresh data. Note: a pathologically
			// flapping config could starve the sleep here; the source
			// behavior has no backoff either.
			l.logger.Debug("config changed mid-tick, restarting tick")
			continue
		case errors.Is(err, context.Canceled):
			l.shutdown()
			return err
		case errors.Is(err, domain.ErrMissingPermission):
			// Fail open: a mis-blocked device is worse than a
			// temporarily unblocked one.
			l.setState(StatePermissionError, err)
			_ = l.platform.HideLockOverlay()
			l.platform.SetStatusMessage("missing permission - please grant it in settings")
			l.logger.Warn("tick failed due to missing permission", zap.Error(err))
		default:
			l.setState(StateInternalError, err)
			l.platform.SetStatusMessage("internal error - still watching")
			l.logger.Error("tick failed", zap.Error(err))
		}

		elapsed := time.Duration(l.clock.UptimeMillis()-startUptime) * time.Millisecond
		sleep := interval - elapsed
		if sleep < minSleep {
			sleep = minSleep
		}
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// shutdown flushes pending counters on the way out.
func (l *Loop) shutdown() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.batcher.Commit(flushCtx); err != nil {
		l.logger.Warn("failed to flush counters on shutdown", zap.Error(err))
	}
	l.logger.Info("main loop stopped")
}

// iterate runs one loop iteration: eligibility checks plus, when
// eligible, one tick. Returns the sleep interval to use.
func (l *Loop) iterate(ctx context.Context) (time.Duration, error) {
	enabled, err := l.store.AppEnabled(ctx)
	if err != nil {
		return pauseInterval, err
	}
	if !enabled {
		l.pauseEnforcement(ctx, StateDisabled, "enforcement is disabled")
		return pauseInterval, nil
	}

	device, err := l.store.DeviceRelatedData(ctx)
	if err != nil {
		return pauseInterval, err
	}
	userID := ""
	if device != nil && device.Device != nil {
		userID = device.Device.CurrentUserID
	}
	if userID == "" {
		l.pauseEnforcement(ctx, StateNoEligibleUser, "no user signed in")
		return pauseInterval, nil
	}

	if err := l.ensureUserData(ctx, userID); err != nil {
		return pauseInterval, err
	}
	if l.st.userData == nil || l.st.userData.User.Type != domain.UserTypeChild {
		l.pauseEnforcement(ctx, StateNoEligibleUser, "no child user signed in")
		return pauseInterval, nil
	}

	interval := l.config.TickInterval
	if device.SlowMainLoop {
		interval = l.config.SlowTickInterval
	}

	if err := l.tick(ctx, device); err != nil {
		return interval, err
	}
	l.setState(StateRunning, nil)
	return interval, nil
}

// pauseEnforcement flushes counters, clears overlays and derived state,
// and shows a status message while the loop is not enforcing.
func (l *Loop) pauseEnforcement(ctx context.Context, state State, message string) {
	if l.batcher.HasPending() {
		if err := l.batcher.Commit(ctx); err != nil {
			l.logger.Warn("failed to flush counters while pausing", zap.Error(err))
		}
	}
	_ = l.platform.HideLockOverlay()
	l.platform.SetStatusMessage(message)
	l.st.resetUser()
	l.cache.Clear()
	l.setState(state, nil)
}

// ensureUserData loads or reloads the user configuration snapshot.
func (l *Loop) ensureUserData(ctx context.Context, userID string) error {
	if l.st.userData != nil && l.st.userDataID == userID {
		return nil
	}
	if l.st.userDataID != "" && l.st.userDataID != userID {
		// User switched: flush the old user's counters first.
		if err := l.batcher.Commit(ctx); err != nil {
			return err
		}
		l.st.resetUser()
		l.cache.Clear()
	}
	userData, err := l.store.UserRelatedData(ctx, userID)
	if err != nil {
		return err
	}
	l.st.userData = userData
	l.st.userDataID = userID
	l.st.usage = nil
	return nil
}

// reloadUserData force-refreshes config and usage after a commit.
func (l *Loop) reloadUserData(ctx context.Context) error {
	userData, err := l.store.UserRelatedData(ctx, l.st.userDataID)
	if err != nil {
		return err
	}
	l.st.userData = userData
	l.st.usage = nil
	return nil
}
