package loop

import (
	"context"

	"go.uber.org/zap"

	"screentimed/internal/clock"
	"screentimed/internal/domain"
	"screentimed/internal/handling"
)

const (
	// overlayGraceDelay lets a previous lock screen close before a new
	// one is shown.
	overlayGraceDelay = 300

	// Audio mute escalation pacing.
	audioMuteCooldown    = 2000
	maxAudioMuteAttempts = 3

	// revokeNotifyDebounce limits how often the "temporarily allowed
	// apps revoked" notification may repeat.
	revokeNotifyDebounce = 60 * 1000
)

// tick runs one full evaluation round. It must never block longer than a
// store roundtrip; all platform side effects are fire-and-forget.
func (l *Loop) tick(ctx context.Context, device *domain.DeviceRelatedData) error {
	st := l.st
	nowMillis := l.clock.NowMillis()
	uptime := l.clock.UptimeMillis()
	location := st.userData.User.Location()

	var timeToSubtract int64
	if st.previousUptime > 0 {
		timeToSubtract = uptime - st.previousUptime
		if timeToSubtract > l.config.MaxCountablePerTick {
			timeToSubtract = l.config.MaxCountablePerTick
		}
		if timeToSubtract < 0 {
			timeToSubtract = 0
		}
	}
	st.previousUptime = uptime

	trust := l.trust.Trust()
	trustTemporarily := l.trust.ShouldTrustTemporarily()
	dayOfEpoch := handling.DayOfEpoch(nowMillis, location)

	if st.previousDayOfEpoch >= 0 && dayOfEpoch != st.previousDayOfEpoch {
		l.handleDayChange(ctx, dayOfEpoch, trust, uptime)
	}
	st.previousDayOfEpoch = dayOfEpoch

	if err := l.ensureUsage(ctx, dayOfEpoch); err != nil {
		return err
	}

	battery, err := l.platform.BatteryStatus()
	if err != nil {
		return err
	}
	networkID := l.platform.NetworkID()
	screenOn := l.platform.ScreenOn()

	l.cache.ReportStatus(
		st.userData,
		st.usage,
		nowMillis,
		trustTemporarily,
		device.Device.IsUsedTimeDevice,
		battery,
		networkID,
		l.config.HasPremiumOrLocalMode,
	)

	apps, err := l.foregroundApps(ctx, device, uptime)
	if err != nil {
		return err
	}
	if !device.MultiAppDetection && len(apps) > 1 {
		apps = apps[:1]
	}
	pauseCounting := device.Device.ConsiderIdle && !screenOn

	appHandlings := make([]handling.AppHandling, 0, len(apps)+1)
	for i := range apps {
		appHandlings = append(appHandlings, handling.ClassifyApp(handling.ClassifyAppParams{
			App:                 &apps[i],
			PauseForegroundLoop: device.PauseForegroundLoop,
			User:                st.userData,
			Device:              device,
			PauseCounting:       pauseCounting,
			IsSystemImageApp:    l.platform.IsSystemImageApp(apps[i].PackageName),
		}))
	}
	var audioHandling *handling.AppHandling
	audioPackage, audioPlaying := l.platform.AudioPlaybackPackage()
	if audioPlaying {
		// Background playback counts even while the screen is off.
		h := handling.ClassifyApp(handling.ClassifyAppParams{
			App:                 &domain.App{PackageName: audioPackage},
			PauseForegroundLoop: device.PauseForegroundLoop,
			User:                st.userData,
			Device:              device,
			IsSystemImageApp:    l.platform.IsSystemImageApp(audioPackage),
		})
		audioHandling = &h
	}

	// Union the referenced categories and resolve their handlings.
	activeCategories := make(map[string]bool)
	allHandlings := appHandlings
	if audioHandling != nil {
		allHandlings = append(allHandlings, *audioHandling)
	}
	for _, ah := range allHandlings {
		for _, categoryID := range ah.CategoryIDs {
			activeCategories[categoryID] = true
		}
	}
	l.undisturbed.Refresh(activeCategories, uptime)
	recentlyStarted := l.undisturbed.RecentlyStartedSet(uptime)

	categoryHandlings := make(map[string]*handling.CategoryHandling, len(activeCategories))
	for categoryID := range activeCategories {
		if h := l.cache.Get(categoryID); h != nil {
			categoryHandlings[categoryID] = h
		}
	}

	blockedForegroundApp := blockedPackage(apps, appHandlings, categoryHandlings)
	blockAudioPlayback := false
	if audioHandling != nil {
		blockAudioPlayback = handlingBlocked(*audioHandling, categoryHandlings)
	}

	// Categories actually counting this tick.
	countHandlings := collectCounting(allHandlings, categoryHandlings)

	didCommit, err := l.batcher.Report(ctx, ReportParams{
		Duration:        timeToSubtract,
		DayOfEpoch:      dayOfEpoch,
		Timestamp:       nowMillis,
		Trusted:         trustTemporarily,
		Handlings:       countHandlings,
		Usage:           st.usage,
		RecentlyStarted: recentlyStarted,
	})
	if err != nil {
		return err
	}

	forceSync, importantSync := l.evaluateThresholds(categoryHandlings, recentlyStarted, nowMillis)

	l.updateStatusMessage(apps, appHandlings, categoryHandlings, uptime)
	l.applyBlocking(blockedForegroundApp, uptime)
	l.applyAudioBlocking(blockAudioPlayback, uptime)

	if forceSync {
		if err := l.batcher.Commit(ctx); err != nil {
			return err
		}
		l.syncRequester.RequestSync(domain.SyncForced)
		return l.detectConfigRace(ctx)
	}
	if importantSync {
		l.syncRequester.RequestSync(domain.SyncImportant)
	}
	if didCommit {
		// Committed rows changed the persisted usage; reload next tick.
		st.usage = nil
	}
	return nil
}

// foregroundApps queries the platform's foreground list, reusing the
// previous result while the device's detection interval has not elapsed
// yet. A zero interval queries every tick.
func (l *Loop) foregroundApps(ctx context.Context, device *domain.DeviceRelatedData, uptime int64) ([]domain.App, error) {
	st := l.st
	if device.AppDetectionInterval > 0 && st.lastForegroundUptime > 0 &&
		uptime-st.lastForegroundUptime < device.AppDetectionInterval {
		return st.lastForegroundApps, nil
	}
	apps, err := l.platform.ForegroundApps(ctx)
	if err != nil {
		return nil, err
	}
	st.lastForegroundApps = apps
	st.lastForegroundUptime = uptime
	return apps, nil
}

// ensureUsage loads the usage snapshot of the signed-in user's categories
// for the current day.
func (l *Loop) ensureUsage(ctx context.Context, dayOfEpoch int32) error {
	st := l.st
	if st.usage != nil && st.usageDay == dayOfEpoch {
		return nil
	}
	categoryIDs := make([]string, 0, len(st.userData.CategoryByID))
	for categoryID := range st.userData.CategoryByID {
		categoryIDs = append(categoryIDs, categoryID)
	}
	usage, err := l.store.UsageSnapshot(ctx, categoryIDs, dayOfEpoch)
	if err != nil {
		return err
	}
	st.usage = usage
	st.usageDay = dayOfEpoch
	return nil
}

// handleDayChange revokes manual allowances and prunes stale usage rows.
// Pruning is irreversible, so it only happens with a network-verified
// clock, or after a long confirmed elapsed interval for an unverified
// one.
func (l *Loop) handleDayChange(ctx context.Context, dayOfEpoch int32, trust clock.TimeTrust, uptime int64) {
	if err := l.store.RevokeTemporarilyAllowedApps(ctx); err != nil {
		l.logger.Warn("failed to revoke temporarily allowed apps", zap.Error(err))
	} else if uptime-l.st.lastRevokeNotifyUptime >= revokeNotifyDebounce {
		l.st.lastRevokeNotifyUptime = uptime
		l.platform.NotifyTemporarilyAllowedAppsRevoked()
	}

	canPrune := trust == clock.TrustNetwork ||
		(trust == clock.TrustElapsed && uptime >= clock.ElapsedTrustThreshold)
	if !canPrune {
		return
	}
	beforeDay := dayOfEpoch - l.config.KeepUsedTimeDays
	removed, err := l.store.PruneUsedTimes(ctx, beforeDay)
	if err != nil {
		l.logger.Warn("failed to prune used times", zap.Error(err))
		return
	}
	if removed > 0 {
		l.logger.Info("pruned stale used times",
			zap.Int64("rows", removed),
			zap.Int32("before_day", beforeDay))
	}
}

// evaluateThresholds fires minute-granular warnings and decides sync
// triggers from budget and session zero crossings.
func (l *Loop) evaluateThresholds(
	categoryHandlings map[string]*handling.CategoryHandling,
	recentlyStarted map[string]bool,
	nowMillis int64,
) (forceSync, importantSync bool) {
	st := l.st

	for categoryID, h := range categoryHandlings {
		if h.RemainingTime == nil {
			delete(st.previousRemaining, categoryID)
			delete(st.previousSessionRemaining, categoryID)
			continue
		}
		pending := l.batcher.PendingFor(categoryID)

		remainingNow := h.RemainingTime.IncludingExtraTime - pending
		if remainingNow < 0 {
			remainingNow = 0
		}

		var sessionNow int64 = -1
		if h.RemainingSessionDuration != nil {
			sessionNow = *h.RemainingSessionDuration - pending
			if sessionNow < 0 {
				sessionNow = 0
			}
		}

		// The warning clock is the closest upcoming hard stop: budget,
		// session limit, or the next blocked window.
		warnRemaining := remainingNow
		if sessionNow >= 0 && sessionNow < warnRemaining {
			warnRemaining = sessionNow
		}
		if h.NextBlockedStart > 0 && !h.ShouldBlockActivities {
			if until := h.NextBlockedStart - nowMillis; until >= 0 && until < warnRemaining {
				warnRemaining = until
			}
		}
		l.fireWarnings(categoryID, warnRemaining)

		if prev, ok := st.previousRemaining[categoryID]; ok && prev > 0 && remainingNow <= 0 {
			forceSync = true
		}
		if prev, ok := st.previousRemaining[categoryID]; ok &&
			prev > l.config.PreBlockSyncThreshold && remainingNow <= l.config.PreBlockSyncThreshold {
			importantSync = true
		}
		st.previousRemaining[categoryID] = remainingNow

		if sessionNow >= 0 {
			if prev, ok := st.previousSessionRemaining[categoryID]; ok &&
				prev > 0 && sessionNow <= 0 && !recentlyStarted[categoryID] {
				forceSync = true
			}
			st.previousSessionRemaining[categoryID] = sessionNow
		} else {
			delete(st.previousSessionRemaining, categoryID)
		}
	}

	return forceSync, importantSync
}

// fireWarnings shows one notification per configured threshold crossing.
func (l *Loop) fireWarnings(categoryID string, remaining int64) {
	st := l.st
	warned := st.warnedThresholds[categoryID]
	if warned == nil {
		warned = make(map[int]bool)
		st.warnedThresholds[categoryID] = warned
	}

	title := categoryID
	var flags int64
	if category, ok := st.userData.CategoryByID[categoryID]; ok {
		title = category.Title
		flags = category.TimeWarningFlags
	}

	for i, minutes := range l.config.WarningMinutes {
		// Bit i of the category flags opts into threshold i; zero flags
		// keep all configured thresholds active.
		if flags != 0 && flags&(1<<uint(i)) == 0 {
			continue
		}
		threshold := int64(minutes) * 60 * 1000
		if remaining > threshold {
			// Re-arm once the remaining time moves back above.
			delete(warned, minutes)
			continue
		}
		if remaining > 0 && !warned[minutes] {
			warned[minutes] = true
			l.platform.ShowTimeWarning(title, remaining)
		}
	}
}

// detectConfigRace re-reads the configuration after a forced commit and
// restarts the tick when the user or category set changed.
func (l *Loop) detectConfigRace(ctx context.Context) error {
	st := l.st
	previousCategories := make(map[string]bool, len(st.userData.CategoryByID))
	for categoryID := range st.userData.CategoryByID {
		previousCategories[categoryID] = true
	}
	previousUserID := st.userDataID

	device, err := l.store.DeviceRelatedData(ctx)
	if err != nil {
		return err
	}
	if device == nil || device.Device == nil || device.Device.CurrentUserID != previousUserID {
		st.resetUser()
		l.cache.Clear()
		return errConfigChanged
	}

	if err := l.reloadUserData(ctx); err != nil {
		return err
	}
	if len(st.userData.CategoryByID) != len(previousCategories) {
		return errConfigChanged
	}
	for categoryID := range st.userData.CategoryByID {
		if !previousCategories[categoryID] {
			return errConfigChanged
		}
	}
	return nil
}

// blockedPackage returns the first foreground app that must be blocked.
func blockedPackage(
	apps []domain.App,
	appHandlings []handling.AppHandling,
	categoryHandlings map[string]*handling.CategoryHandling,
) string {
	for i := range appHandlings {
		if handlingBlocked(appHandlings[i], categoryHandlings) {
			return apps[i].PackageName
		}
	}
	return ""
}

// handlingBlocked decides blocking for one classified app.
func handlingBlocked(ah handling.AppHandling, categoryHandlings map[string]*handling.CategoryHandling) bool {
	if ah.BlocksOutright() {
		return true
	}
	if !ah.NeedsCategories() {
		return false
	}
	for _, categoryID := range ah.CategoryIDs {
		if h, ok := categoryHandlings[categoryID]; ok && h.ShouldBlockActivities {
			return true
		}
	}
	return false
}

// collectCounting gathers the unique category handlings of apps whose
// usage counts this tick.
func collectCounting(
	appHandlings []handling.AppHandling,
	categoryHandlings map[string]*handling.CategoryHandling,
) []*handling.CategoryHandling {
	seen := make(map[string]bool)
	var result []*handling.CategoryHandling
	for _, ah := range appHandlings {
		if !ah.NeedsCategories() || !ah.ShouldCount {
			continue
		}
		for _, categoryID := range ah.CategoryIDs {
			if seen[categoryID] {
				continue
			}
			seen[categoryID] = true
			if h, ok := categoryHandlings[categoryID]; ok {
				result = append(result, h)
			}
		}
	}
	return result
}

// applyBlocking shows or hides the lock overlay with a short grace delay
// so a prior lock screen can close first.
func (l *Loop) applyBlocking(blockedApp string, uptime int64) {
	st := l.st
	if blockedApp == "" {
		st.blockCandidate = ""
		if st.overlayShownFor != "" {
			if err := l.platform.HideLockOverlay(); err != nil {
				l.logger.Warn("failed to hide lock overlay", zap.Error(err))
			}
			st.overlayShownFor = ""
		}
		return
	}
	if st.overlayShownFor == blockedApp {
		return
	}
	if st.blockCandidate != blockedApp {
		st.blockCandidate = blockedApp
		st.blockCandidateSince = uptime
		return
	}
	if uptime-st.blockCandidateSince < overlayGraceDelay {
		return
	}
	if err := l.platform.ShowLockOverlay(blockedApp); err != nil {
		l.logger.Warn("failed to show lock overlay",
			zap.String("package", blockedApp), zap.Error(err))
		return
	}
	st.overlayShownFor = blockedApp
	l.logger.Info("blocking foreground app", zap.String("package", blockedApp))
}

// applyAudioBlocking mutes blocked background playback with a capped
// escalation, cooled down so the platform is not hammered.
func (l *Loop) applyAudioBlocking(blocked bool, uptime int64) {
	st := l.st
	if !blocked {
		st.audioMuteAttempt = 0
		st.previousAudioBlocked = false
		return
	}
	if uptime-st.lastAudioMuteUptime < audioMuteCooldown {
		return
	}
	st.lastAudioMuteUptime = uptime
	st.previousAudioBlocked = true

	attempt := st.audioMuteAttempt
	if st.audioMuteAttempt < maxAudioMuteAttempts-1 {
		st.audioMuteAttempt++
	}
	// Detached so a slow platform call cannot stall the tick.
	go func() {
		if err := l.platform.StopAudioPlayback(attempt); err != nil {
			l.logger.Warn("failed to stop audio playback",
				zap.Int("attempt", attempt), zap.Error(err))
		}
	}()
}
