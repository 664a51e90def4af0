package loop

// recentStartWindow is how long after a category becomes active its
// "session over" style sync triggers stay suppressed. Prevents flapping
// right after sign-in, when stale session records can make a budget look
// exhausted for one tick.
const recentStartWindow = 10 * 1000

// UndisturbedCategoryUsageCounter tracks how recently each category
// started being used. Uptime-based so clock changes cannot widen or
// shrink the window.
type UndisturbedCategoryUsageCounter struct {
	firstSeenUptime map[string]int64
}

// NewUndisturbedCategoryUsageCounter creates an empty counter.
func NewUndisturbedCategoryUsageCounter() *UndisturbedCategoryUsageCounter {
	return &UndisturbedCategoryUsageCounter{firstSeenUptime: make(map[string]int64)}
}

// Refresh records which categories are active this tick. Categories that
// disappeared are forgotten, so reappearing counts as starting again.
func (c *UndisturbedCategoryUsageCounter) Refresh(activeCategoryIDs map[string]bool, uptimeMillis int64) {
	for categoryID := range c.firstSeenUptime {
		if !activeCategoryIDs[categoryID] {
			delete(c.firstSeenUptime, categoryID)
		}
	}
	for categoryID := range activeCategoryIDs {
		if _, ok := c.firstSeenUptime[categoryID]; !ok {
			c.firstSeenUptime[categoryID] = uptimeMillis
		}
	}
}

// RecentlyStarted reports whether the category became active within the
// suppression window.
func (c *UndisturbedCategoryUsageCounter) RecentlyStarted(categoryID string, uptimeMillis int64) bool {
	firstSeen, ok := c.firstSeenUptime[categoryID]
	if !ok {
		return false
	}
	return uptimeMillis-firstSeen < recentStartWindow
}

// RecentlyStartedSet returns the ids of all recently started categories.
func (c *UndisturbedCategoryUsageCounter) RecentlyStartedSet(uptimeMillis int64) map[string]bool {
	result := make(map[string]bool)
	for categoryID, firstSeen := range c.firstSeenUptime {
		if uptimeMillis-firstSeen < recentStartWindow {
			result[categoryID] = true
		}
	}
	return result
}
