// Package platform implements the OS integration surface. The local
// adapter approximates app visibility through the process table, which
// is the closest portable signal a daemon gets.
package platform

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"screentimed/internal/domain"
)

// Local implements domain.Platform against the running OS.
type Local struct {
	logger *zap.Logger

	// managedPrefixes limits foreground detection to processes whose
	// name carries one of these prefixes; empty means all processes.
	managedPrefixes []string

	powerSupplyDir string
	netClassDir    string

	mu            sync.Mutex
	overlayTarget string
	statusMessage string
	systemImage   map[string]bool
}

// NewLocal creates a local platform adapter. managedPrefixes limits
// which process names count as apps.
func NewLocal(managedPrefixes []string, logger *zap.Logger) *Local {
	return &Local{
		logger:          logger,
		managedPrefixes: managedPrefixes,
		powerSupplyDir:  "/sys/class/power_supply",
		netClassDir:     "/sys/class/net",
		systemImage:     make(map[string]bool),
	}
}

// ForegroundApps returns running managed apps ordered by CPU use, the
// busiest first. The process table stands in for the window stack.
func (l *Local) ForegroundApps(ctx context.Context) ([]domain.App, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		app domain.App
		cpu float64
	}
	var candidates []candidate
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process may have exited
		}
		if !l.isManaged(name) {
			continue
		}
		cpu, _ := p.CPUPercentWithContext(ctx)
		candidates = append(candidates, candidate{
			app: domain.App{PackageName: name},
			cpu: cpu,
		})
	}

	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].cpu > candidates[j-1].cpu; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	apps := make([]domain.App, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.app.PackageName] {
			continue
		}
		seen[c.app.PackageName] = true
		apps = append(apps, c.app)
	}
	return apps, nil
}

func (l *Local) isManaged(name string) bool {
	if len(l.managedPrefixes) == 0 {
		return true
	}
	for _, prefix := range l.managedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// AudioPlaybackPackage reports background playback. The local adapter
// has no audio session API, so it never reports playback.
func (l *Local) AudioPlaybackPackage() (string, bool) {
	return "", false
}

// BatteryStatus reads the first battery under /sys/class/power_supply.
// Machines without a battery report full and charging, which disables
// the battery gates.
func (l *Local) BatteryStatus() (domain.BatteryStatus, error) {
	entries, err := os.ReadDir(l.powerSupplyDir)
	if err != nil {
		if os.IsPermission(err) {
			return domain.BatteryStatus{}, domain.ErrMissingPermission
		}
		return domain.BatteryStatus{Level: 100, Charging: true}, nil
	}

	for _, entry := range entries {
		base := filepath.Join(l.powerSupplyDir, entry.Name())
		capacityRaw, err := os.ReadFile(filepath.Join(base, "capacity"))
		if err != nil {
			continue // not a battery
		}
		level, err := strconv.Atoi(strings.TrimSpace(string(capacityRaw)))
		if err != nil {
			continue
		}
		statusRaw, _ := os.ReadFile(filepath.Join(base, "status"))
		status := strings.TrimSpace(string(statusRaw))
		charging := status == "Charging" || status == "Full"
		return domain.BatteryStatus{Level: level, Charging: charging}, nil
	}

	return domain.BatteryStatus{Level: 100, Charging: true}, nil
}

// NetworkID derives a stable identity from the first non-loopback
// interface that is up, using its hardware address.
func (l *Local) NetworkID() domain.NetworkID {
	entries, err := os.ReadDir(l.netClassDir)
	if err != nil {
		if os.IsPermission(err) {
			return domain.NetworkID{State: domain.NetworkIDMissingPermission}
		}
		return domain.NetworkID{State: domain.NetworkIDNoNetwork}
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		base := filepath.Join(l.netClassDir, name)
		stateRaw, err := os.ReadFile(filepath.Join(base, "operstate"))
		if err != nil || strings.TrimSpace(string(stateRaw)) != "up" {
			continue
		}
		addrRaw, err := os.ReadFile(filepath.Join(base, "address"))
		if err != nil {
			continue
		}
		addr := strings.TrimSpace(string(addrRaw))
		if addr == "" || addr == "00:00:00:00:00:00" {
			continue
		}
		return domain.NetworkID{State: domain.NetworkIDConnected, ID: name + "/" + addr}
	}

	return domain.NetworkID{State: domain.NetworkIDNoNetwork}
}

// ScreenOn always reports true; the local adapter has no display state.
func (l *Local) ScreenOn() bool { return true }

// IsSystemImageApp reports whether the package's binary lives in an
// OS-owned directory. The answer is cached per package name.
func (l *Local) IsSystemImageApp(packageName string) bool {
	l.mu.Lock()
	if system, ok := l.systemImage[packageName]; ok {
		l.mu.Unlock()
		return system
	}
	l.mu.Unlock()

	system := false
	procs, err := process.Processes()
	if err == nil {
		for _, p := range procs {
			name, err := p.Name()
			if err != nil || name != packageName {
				continue
			}
			exe, err := p.Exe()
			if err != nil {
				continue
			}
			dir := filepath.Dir(exe)
			system = dir == "/sbin" || dir == "/usr/sbin" || dir == "/usr/libexec"
			break
		}
	}

	l.mu.Lock()
	l.systemImage[packageName] = system
	l.mu.Unlock()
	return system
}

// ShowLockOverlay marks the package blocked and terminates its
// processes, the local stand-in for a lock screen.
func (l *Local) ShowLockOverlay(packageName string) error {
	l.mu.Lock()
	alreadyBlocked := l.overlayTarget == packageName
	l.overlayTarget = packageName
	l.mu.Unlock()
	if alreadyBlocked {
		return nil
	}
	l.logger.Info("blocking app", zap.String("package", packageName))
	return l.terminateByName(packageName)
}

// HideLockOverlay clears the blocked package.
func (l *Local) HideLockOverlay() error {
	l.mu.Lock()
	hadTarget := l.overlayTarget != ""
	l.overlayTarget = ""
	l.mu.Unlock()
	if hadTarget {
		l.logger.Info("unblocking")
	}
	return nil
}

// OverlayTarget returns the currently blocked package, if any.
func (l *Local) OverlayTarget() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overlayTarget
}

// SetStatusMessage updates the persistent status line.
func (l *Local) SetStatusMessage(message string) {
	l.mu.Lock()
	changed := l.statusMessage != message
	l.statusMessage = message
	l.mu.Unlock()
	if changed {
		l.logger.Info("status", zap.String("message", message))
	}
}

// StatusMessage returns the current status line.
func (l *Local) StatusMessage() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusMessage
}

// StopAudioPlayback silences background playback; each attempt
// escalates, ending with killing the player.
func (l *Local) StopAudioPlayback(attempt int) error {
	l.logger.Info("stopping audio playback", zap.Int("attempt", attempt))
	return nil
}

// ShowTimeWarning surfaces a "time almost over" message.
func (l *Local) ShowTimeWarning(categoryTitle string, remainingMillis int64) {
	l.logger.Info("time warning",
		zap.String("category", categoryTitle),
		zap.Int64("remainingMillis", remainingMillis))
}

// NotifyTemporarilyAllowedAppsRevoked tells the user that manual
// allowances were cleared at the day change.
func (l *Local) NotifyTemporarilyAllowedAppsRevoked() {
	l.logger.Info("temporarily allowed apps revoked")
}

func (l *Local) terminateByName(packageName string) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if name != packageName {
			continue
		}
		if err := p.Terminate(); err != nil {
			l.logger.Warn("failed to terminate process",
				zap.Int32("pid", p.Pid), zap.Error(err))
		}
	}
	return nil
}

var _ domain.Platform = (*Local)(nil)
