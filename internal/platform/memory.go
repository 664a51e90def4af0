package platform

import (
	"context"
	"sync"

	"screentimed/internal/domain"
)

// Memory is a scriptable in-memory platform used by tests and the
// integration suite. All state is settable and all commands recorded.
type Memory struct {
	mu sync.Mutex

	Foreground      []domain.App
	AudioPackage    string
	AudioPlaying    bool
	Battery         domain.BatteryStatus
	BatteryErr      error
	Network         domain.NetworkID
	Screen          bool
	ForegroundErr   error
	SystemImageApps map[string]bool

	overlayTarget     string
	statusMessage     string
	warnings          []string
	audioStops        []int
	revokeNotified    int
	overlayHistory    []string
	foregroundQueries int
}

// NewMemory creates a memory platform with a sane default state.
func NewMemory() *Memory {
	return &Memory{
		Battery: domain.BatteryStatus{Level: 100, Charging: true},
		Network: domain.NetworkID{State: domain.NetworkIDNoNetwork},
		Screen:  true,
	}
}

func (m *Memory) ForegroundApps(ctx context.Context) ([]domain.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foregroundQueries++
	if m.ForegroundErr != nil {
		return nil, m.ForegroundErr
	}
	apps := make([]domain.App, len(m.Foreground))
	copy(apps, m.Foreground)
	return apps, nil
}

func (m *Memory) AudioPlaybackPackage() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AudioPackage, m.AudioPlaying
}

func (m *Memory) BatteryStatus() (domain.BatteryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BatteryErr != nil {
		return domain.BatteryStatus{}, m.BatteryErr
	}
	return m.Battery, nil
}

func (m *Memory) NetworkID() domain.NetworkID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Network
}

func (m *Memory) ScreenOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Screen
}

func (m *Memory) IsSystemImageApp(packageName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SystemImageApps[packageName]
}

func (m *Memory) ShowLockOverlay(packageName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlayTarget = packageName
	m.overlayHistory = append(m.overlayHistory, packageName)
	return nil
}

func (m *Memory) HideLockOverlay() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlayTarget = ""
	return nil
}

func (m *Memory) SetStatusMessage(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusMessage = message
}

func (m *Memory) StopAudioPlayback(attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioStops = append(m.audioStops, attempt)
	m.AudioPlaying = false
	return nil
}

func (m *Memory) ShowTimeWarning(categoryTitle string, remainingMillis int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, categoryTitle)
}

func (m *Memory) NotifyTemporarilyAllowedAppsRevoked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeNotified++
}

// SetForeground replaces the visible app list.
func (m *Memory) SetForeground(apps ...domain.App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Foreground = apps
}

// OverlayTarget returns the currently blocked package, if any.
func (m *Memory) OverlayTarget() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlayTarget
}

// OverlayHistory returns every package ever blocked, in order.
func (m *Memory) OverlayHistory() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]string, len(m.overlayHistory))
	copy(history, m.overlayHistory)
	return history
}

// StatusMessage returns the current status line.
func (m *Memory) StatusMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusMessage
}

// Warnings returns the shown time warnings in order.
func (m *Memory) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	warnings := make([]string, len(m.warnings))
	copy(warnings, m.warnings)
	return warnings
}

// AudioStops returns the recorded stop attempts in order.
func (m *Memory) AudioStops() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	stops := make([]int, len(m.audioStops))
	copy(stops, m.audioStops)
	return stops
}

// ForegroundQueries returns how often the foreground list was queried.
func (m *Memory) ForegroundQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foregroundQueries
}

// RevokeNotifications returns how often the revoke notice was shown.
func (m *Memory) RevokeNotifications() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeNotified
}

var _ domain.Platform = (*Memory)(nil)
