package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUndisturbedCounterWindow(t *testing.T) {
	counter := NewUndisturbedCategoryUsageCounter()

	counter.Refresh(map[string]bool{"games": true}, 1000)
	assert.True(t, counter.RecentlyStarted("games", 1000))
	assert.True(t, counter.RecentlyStarted("games", 1000+recentStartWindow-1))
	assert.False(t, counter.RecentlyStarted("games", 1000+recentStartWindow))

	// Staying active does not reset the start time.
	counter.Refresh(map[string]bool{"games": true}, 5000)
	assert.False(t, counter.RecentlyStarted("games", 1000+recentStartWindow))
}

func TestUndisturbedCounterForgetsOnDisappear(t *testing.T) {
	counter := NewUndisturbedCategoryUsageCounter()

	counter.Refresh(map[string]bool{"games": true}, 1000)
	counter.Refresh(map[string]bool{}, 2000)
	assert.False(t, counter.RecentlyStarted("games", 2000))

	// Reappearing counts as starting again.
	counter.Refresh(map[string]bool{"games": true}, 30_000)
	assert.True(t, counter.RecentlyStarted("games", 30_000))
}

func TestUndisturbedCounterUnknownCategory(t *testing.T) {
	counter := NewUndisturbedCategoryUsageCounter()
	assert.False(t, counter.RecentlyStarted("never-seen", 1000))
}

func TestRecentlyStartedSet(t *testing.T) {
	counter := NewUndisturbedCategoryUsageCounter()

	counter.Refresh(map[string]bool{"games": true, "school": true}, 1000)
	counter.Refresh(map[string]bool{"games": true, "school": true}, 1000+recentStartWindow)

	// Re-register games after it dropped for one tick.
	counter.Refresh(map[string]bool{"school": true}, 1000+recentStartWindow)
	counter.Refresh(map[string]bool{"games": true, "school": true}, 2000+recentStartWindow)

	set := counter.RecentlyStartedSet(2000 + recentStartWindow)
	assert.True(t, set["games"])
	assert.False(t, set["school"])
}
