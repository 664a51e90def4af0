// Package clock supplies wall-clock and monotonic time plus a trust
// classification of the wall clock. Policy decisions use the wall clock;
// pacing and debounce windows use uptime, which is immune to clock
// changes.
package clock

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// Clock is the raw time source. Inject MockClock in tests.
type Clock interface {
	// NowMillis returns the wall-clock time in Unix milliseconds.
	NowMillis() int64

	// UptimeMillis returns a monotonic reading in milliseconds.
	UptimeMillis() int64

	// Location returns the system time zone.
	Location() *time.Location
}

// RealClock reads the actual system time. Uptime comes from the host boot
// time so it survives process restarts.
type RealClock struct{}

// NewRealClock creates the production clock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

func (c *RealClock) UptimeMillis() int64 {
	uptime, err := host.Uptime()
	if err != nil {
		// Fall back to a process-local monotonic reading.
		return int64(time.Since(processStart) / time.Millisecond)
	}
	return int64(uptime) * 1000
}

func (c *RealClock) Location() *time.Location {
	return time.Local
}

var processStart = time.Now()

// MockClock is a controllable clock for tests.
type MockClock struct {
	mu       sync.RWMutex
	now      int64
	uptime   int64
	location *time.Location
}

// NewMockClock creates a mock clock at the given wall-clock millis.
func NewMockClock(nowMillis int64, location *time.Location) *MockClock {
	if location == nil {
		location = time.UTC
	}
	return &MockClock{now: nowMillis, uptime: 1, location: location}
}

func (c *MockClock) NowMillis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *MockClock) UptimeMillis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uptime
}

func (c *MockClock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.location
}

// Advance moves both the wall clock and uptime forward.
func (c *MockClock) Advance(millis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += millis
	c.uptime += millis
}

// SetNow moves only the wall clock, simulating a manual clock change.
func (c *MockClock) SetNow(nowMillis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = nowMillis
}

var _ Clock = (*RealClock)(nil)
var _ Clock = (*MockClock)(nil)
