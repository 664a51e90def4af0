package handling

import "screentimed/internal/domain"

// ambientStatus is the set of loop-wide inputs recorded by ReportStatus
// and fed into every recompute.
type ambientStatus struct {
	user                       *domain.UserRelatedData
	usage                      *domain.UsageSnapshot
	timeInMillis               int64
	shouldTrustTimeTemporarily bool
	assumeCurrentDevice        bool
	batteryStatus              domain.BatteryStatus
	currentNetworkID           domain.NetworkID
	hasPremiumOrLocalMode      bool
}

// cacheEntry memoizes one category's handling together with everything
// its verdict was derived from.
type cacheEntry struct {
	handling *CategoryHandling

	category *domain.Category
	versions domain.CategoryVersions
	usage    *domain.UsageSnapshot

	// User aspects the verdict depends on, compared by value so a
	// reloaded but unchanged configuration keeps entries alive.
	userDisableLimitsUntil int64
	userTimeZone           string

	shouldTrustTimeTemporarily bool
	assumeCurrentDevice        bool
	hasPremiumOrLocalMode      bool
}

// Cache memoizes evaluator results per category. An entry is reused only
// while its recorded inputs and validity envelope still hold, so a
// verdict flips within the same tick as the state transition that caused
// it. The cache is purely a performance layer; recomputing from scratch
// is always possible and never wrong.
type Cache struct {
	status  ambientStatus
	entries map[string]*cacheEntry

	// hit/miss counters for diagnostics.
	Hits   int64
	Misses int64
}

// NewCache creates an empty handling cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// ReportStatus records the ambient inputs used for lookups and future
// recomputation. Call once per tick before Get.
func (c *Cache) ReportStatus(
	user *domain.UserRelatedData,
	usage *domain.UsageSnapshot,
	timeInMillis int64,
	shouldTrustTimeTemporarily bool,
	assumeCurrentDevice bool,
	batteryStatus domain.BatteryStatus,
	currentNetworkID domain.NetworkID,
	hasPremiumOrLocalMode bool,
) {
	c.status = ambientStatus{
		user:                       user,
		usage:                      usage,
		timeInMillis:               timeInMillis,
		shouldTrustTimeTemporarily: shouldTrustTimeTemporarily,
		assumeCurrentDevice:        assumeCurrentDevice,
		batteryStatus:              batteryStatus,
		currentNetworkID:           currentNetworkID,
		hasPremiumOrLocalMode:      hasPremiumOrLocalMode,
	}
}

// Get returns the current handling of the category, recomputing when the
// memoized entry is absent or no longer valid. Returns nil for a category
// id the current user does not have.
func (c *Cache) Get(categoryID string) *CategoryHandling {
	if c.status.user == nil {
		return nil
	}
	category, ok := c.status.user.CategoryByID[categoryID]
	if !ok {
		delete(c.entries, categoryID)
		return nil
	}

	if entry, ok := c.entries[categoryID]; ok && c.isValid(entry, category) {
		c.Hits++
		return entry.handling
	}
	c.Misses++

	handling := Evaluate(Input{
		Category:                   category,
		Rules:                      c.status.user.RulesByCategory[categoryID],
		Usage:                      c.status.usage,
		User:                       c.status.user.User,
		BatteryStatus:              c.status.batteryStatus,
		ShouldTrustTimeTemporarily: c.status.shouldTrustTimeTemporarily,
		TimeInMillis:               c.status.timeInMillis,
		AssumeCurrentDevice:        c.status.assumeCurrentDevice,
		CurrentNetworkID:           c.status.currentNetworkID,
		HasPremiumOrLocalMode:      c.status.hasPremiumOrLocalMode,
	})

	c.entries[categoryID] = &cacheEntry{
		handling:                   handling,
		category:                   category,
		versions:                   category.Versions,
		usage:                      c.status.usage,
		userDisableLimitsUntil:     c.status.user.User.DisableLimitsUntil,
		userTimeZone:               c.status.user.User.TimeZone,
		shouldTrustTimeTemporarily: c.status.shouldTrustTimeTemporarily,
		assumeCurrentDevice:        c.status.assumeCurrentDevice,
		hasPremiumOrLocalMode:      c.status.hasPremiumOrLocalMode,
	}

	return handling
}

// isValid checks the entry against the current ambient inputs.
func (c *Cache) isValid(entry *cacheEntry, category *domain.Category) bool {
	// Config identity: a reloaded category object with unchanged version
	// tokens is the same configuration.
	if entry.category != category && entry.versions != category.Versions {
		return false
	}
	if entry.usage != c.status.usage {
		return false
	}
	if entry.userDisableLimitsUntil != c.status.user.User.DisableLimitsUntil ||
		entry.userTimeZone != c.status.user.User.TimeZone {
		return false
	}
	if entry.shouldTrustTimeTemporarily != c.status.shouldTrustTimeTemporarily ||
		entry.assumeCurrentDevice != c.status.assumeCurrentDevice ||
		entry.hasPremiumOrLocalMode != c.status.hasPremiumOrLocalMode {
		return false
	}

	envelope := &entry.handling.Dependencies
	if !envelope.ContainsTime(c.status.timeInMillis) {
		return false
	}
	if !envelope.ContainsBattery(c.status.batteryStatus) {
		return false
	}
	if envelope.DependsOnNetworkID && envelope.NetworkID != c.status.currentNetworkID {
		return false
	}
	return true
}

// Clear drops all memoized entries.
func (c *Cache) Clear() {
	c.entries = make(map[string]*cacheEntry)
}
