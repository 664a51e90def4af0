package clock

import "sync"

// TimeTrust classifies how reliable the current wall-clock reading is.
type TimeTrust int

const (
	// TrustNone means the clock could have been tampered with and no
	// corroborating source is available.
	TrustNone TimeTrust = iota

	// TrustElapsed means the clock has not been verified, but the device
	// has been continuously up long enough that the reading is plausible
	// for short-horizon decisions.
	TrustElapsed

	// TrustNetwork means the reading was verified against network time
	// during the current boot.
	TrustNetwork
)

// ElapsedTrustThreshold is how much continuous uptime must accumulate
// before an unverified clock earns TrustElapsed. Long enough that a user
// cannot cheaply reboot-and-adjust their way around it.
const ElapsedTrustThreshold = 16 * 60 * 60 * 1000

// TrustProvider tracks the trust state of the wall clock. Network
// verification is reported by the sync layer whenever a server round trip
// confirms the local clock within tolerance.
type TrustProvider struct {
	clock Clock

	mu               sync.RWMutex
	networkVerified  bool
	verifiedAtUptime int64
}

// NewTrustProvider creates a provider over the given clock.
func NewTrustProvider(c Clock) *TrustProvider {
	return &TrustProvider{clock: c}
}

// ReportNetworkVerified records that the current wall clock matched a
// network time source.
func (p *TrustProvider) ReportNetworkVerified() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.networkVerified = true
	p.verifiedAtUptime = p.clock.UptimeMillis()
}

// Trust returns the current classification.
func (p *TrustProvider) Trust() TimeTrust {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.networkVerified {
		return TrustNetwork
	}
	if p.clock.UptimeMillis() >= ElapsedTrustThreshold {
		return TrustElapsed
	}
	return TrustNone
}

// ShouldTrustTemporarily reports whether the clock is good enough for
// reversible decisions (expiring a temporary block, honoring a
// disable-limits window). Irreversible actions require TrustNetwork or a
// long confirmed elapsed interval.
func (p *TrustProvider) ShouldTrustTemporarily() bool {
	return p.Trust() != TrustNone
}
