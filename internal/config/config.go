// Package config loads the daemon configuration from the environment,
// with an optional .env file for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full daemon configuration.
type Config struct {
	// DataDir holds the database, key file and backups.
	DataDir string

	// DatabasePath overrides the default database location.
	DatabasePath string

	// SyncServerURL is the websocket endpoint of the family server.
	// Empty disables outbound sync.
	SyncServerURL string

	// SyncInterval is the background sync period.
	SyncInterval time.Duration

	// BackupTime is the daily backup time as HH:MM.
	BackupTime string

	// BackupKeep is how many rotated backups to retain.
	BackupKeep int

	// ManagedPrefixes limits which process names count as apps.
	ManagedPrefixes []string

	// WarningMinutes are the remaining-time thresholds, in minutes,
	// that trigger a "time almost over" notification.
	WarningMinutes []int

	// LogLevel selects the zap level: debug, info, warn, error.
	LogLevel string
}

// Load reads the configuration. A .env file in the working directory is
// merged in when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:       envOr("SCREENTIMED_DATA_DIR", defaultDataDir()),
		SyncServerURL: os.Getenv("SCREENTIMED_SYNC_URL"),
		BackupTime:    envOr("SCREENTIMED_BACKUP_TIME", "03:30"),
		LogLevel:      envOr("SCREENTIMED_LOG_LEVEL", "info"),
	}
	cfg.DatabasePath = envOr("SCREENTIMED_DB_PATH", cfg.DataDir+"/screentimed.db")

	interval, err := envDuration("SCREENTIMED_SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.SyncInterval = interval

	keep, err := envInt("SCREENTIMED_BACKUP_KEEP", 3)
	if err != nil {
		return nil, err
	}
	cfg.BackupKeep = keep

	if raw := os.Getenv("SCREENTIMED_MANAGED_PREFIXES"); raw != "" {
		for _, prefix := range strings.Split(raw, ",") {
			prefix = strings.TrimSpace(prefix)
			if prefix != "" {
				cfg.ManagedPrefixes = append(cfg.ManagedPrefixes, prefix)
			}
		}
	}

	cfg.WarningMinutes = []int{1, 5, 10, 15, 30}
	if raw := os.Getenv("SCREENTIMED_WARNING_MINUTES"); raw != "" {
		cfg.WarningMinutes = nil
		for _, field := range strings.Split(raw, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			minutes, err := strconv.Atoi(field)
			if err != nil || minutes <= 0 {
				return nil, fmt.Errorf("invalid SCREENTIMED_WARNING_MINUTES entry %q", field)
			}
			cfg.WarningMinutes = append(cfg.WarningMinutes, minutes)
		}
	}

	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".screentimed"
	}
	return home + "/.screentimed"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
