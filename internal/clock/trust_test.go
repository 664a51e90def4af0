package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrustProgression(t *testing.T) {
	clk := NewMockClock(1_000_000, time.UTC)
	provider := NewTrustProvider(clk)

	// Fresh boot: nothing corroborates the clock.
	assert.Equal(t, TrustNone, provider.Trust())
	assert.False(t, provider.ShouldTrustTemporarily())

	// Just below the elapsed threshold.
	clk.Advance(ElapsedTrustThreshold - 2)
	assert.Equal(t, TrustNone, provider.Trust())

	// Crossing it earns elapsed trust.
	clk.Advance(1)
	assert.Equal(t, TrustElapsed, provider.Trust())
	assert.True(t, provider.ShouldTrustTemporarily())
}

func TestTrustNetworkVerification(t *testing.T) {
	clk := NewMockClock(1_000_000, time.UTC)
	provider := NewTrustProvider(clk)

	provider.ReportNetworkVerified()
	assert.Equal(t, TrustNetwork, provider.Trust())
	assert.True(t, provider.ShouldTrustTemporarily())

	// A manual clock change does not revoke network trust within the
	// same boot.
	clk.SetNow(500)
	assert.Equal(t, TrustNetwork, provider.Trust())
}

func TestMockClockAdvance(t *testing.T) {
	clk := NewMockClock(10_000, nil)
	assert.Equal(t, time.UTC, clk.Location())

	uptimeBefore := clk.UptimeMillis()
	clk.Advance(250)
	assert.Equal(t, int64(10_250), clk.NowMillis())
	assert.Equal(t, uptimeBefore+250, clk.UptimeMillis())

	// SetNow models a wall-clock change: uptime must not move.
	clk.SetNow(5_000)
	assert.Equal(t, int64(5_000), clk.NowMillis())
	assert.Equal(t, uptimeBefore+250, clk.UptimeMillis())
}
