// Package main is the CLI entry point for screentimed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"screentimed/internal/clock"
	"screentimed/internal/config"
	"screentimed/internal/domain"
	"screentimed/internal/handling"
	"screentimed/internal/infra"
	"screentimed/internal/loop"
	"screentimed/internal/platform"
	syncpkg "screentimed/internal/sync"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "screentimed",
	Short: "Screen time enforcement daemon",
	Long: `screentimed enforces per-category time limits, blocked time areas
and session limits for the configured child user. It works local-first:
all decisions happen on the device, usage syncs to the family server
in the background.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enforcement daemon",
	Long: `Runs the main enforcement loop together with the background sync
dispatcher and the maintenance scheduler until interrupted.`,
	RunE: runDaemon,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local configuration state",
	RunE:  runStatus,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable enforcement",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable enforcement",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(false) },
}

var pairCmd = &cobra.Command{
	Use:   "pair <device-id> <auth-token>",
	Short: "Pair this device with the family server",
	Args:  cobra.ExactArgs(2),
	RunE:  runPair,
}

var allowCmd = &cobra.Command{
	Use:   "allow <package>",
	Short: "Temporarily allow an app until the next day change",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllow,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import users, categories and rules from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a database backup now",
	RunE:  runBackup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var jsonOutput bool

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(allowCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := createLogger(cfg.LogLevel)
	defer logger.Sync()

	store, err := infra.OpenStore(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}

	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("failed to prepare secret key: %w", err)
	}
	secrets, err := infra.NewSecretStore(store, key)
	if err != nil {
		return err
	}

	backup := infra.NewBackupManager(
		store.Path(), filepath.Join(cfg.DataDir, "backups"), cfg.BackupKeep, logger)

	clk := clock.NewRealClock()
	trust := clock.NewTrustProvider(clk)

	var transport syncpkg.Transport = syncpkg.NoopTransport{}
	if cfg.SyncServerURL != "" {
		deviceID, token, err := pairingState(store, secrets)
		if err != nil {
			return err
		}
		if token != "" {
			transport = syncpkg.NewClient(cfg.SyncServerURL, deviceID, store, secrets, logger)
		} else {
			logger.Info("sync server configured but device not paired yet")
		}
	}
	dispatcher := syncpkg.NewDispatcher(transport, logger)

	scheduler := syncpkg.NewScheduler(time.Local, dispatcher, backup, logger)
	if err := scheduler.Start(cfg.SyncInterval, cfg.BackupTime); err != nil {
		return err
	}
	defer scheduler.Stop()

	local := platform.NewLocal(cfg.ManagedPrefixes, logger)
	loopConfig := loop.DefaultConfig()
	loopConfig.WarningMinutes = cfg.WarningMinutes
	mainLoop := loop.New(store, local, dispatcher, clk, trust, loopConfig, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return mainLoop.Run(groupCtx) })
	group.Go(func() error {
		err := dispatcher.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	logger.Info("screentimed started",
		zap.String("version", Version),
		zap.String("database", cfg.DatabasePath))

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	store, err := infra.OpenStore(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	enabled, err := store.AppEnabled(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Enforcement: %s\n", onOff(enabled))

	deviceData, err := store.DeviceRelatedData(ctx)
	if err != nil {
		return err
	}
	if deviceData.Device.ID == "" {
		fmt.Println("Device:      not configured")
		return nil
	}
	fmt.Printf("Device:      %s (%s)\n", deviceData.Device.Name, deviceData.Device.ID)

	if deviceData.Device.CurrentUserID == "" {
		fmt.Println("User:        none")
		return nil
	}
	userData, err := store.UserRelatedData(ctx, deviceData.Device.CurrentUserID)
	if err != nil {
		return err
	}
	if userData == nil {
		fmt.Printf("User:        %s (missing)\n", deviceData.Device.CurrentUserID)
		return nil
	}
	fmt.Printf("User:        %s (%s)\n", userData.User.Name, userData.User.Type)
	fmt.Printf("Categories:  %d\n", len(userData.CategoryByID))

	location := userData.User.Location()
	now := time.Now().In(location)
	nowMillis := now.UnixMilli()
	dayOfEpoch := handling.DayOfEpoch(nowMillis, location)
	dayOfWeek := (int(now.Weekday()) + 6) % 7
	minuteOfDay := now.Hour()*60 + now.Minute()

	categoryIDs := make([]string, 0, len(userData.CategoryByID))
	for id := range userData.CategoryByID {
		categoryIDs = append(categoryIDs, id)
	}
	usage, err := store.UsageSnapshot(ctx, categoryIDs, dayOfEpoch)
	if err != nil {
		return err
	}

	for _, category := range userData.CategoryByID {
		rules := userData.RulesByCategory[category.ID]
		fmt.Printf("  - %s (%d rules%s)\n",
			category.Title, len(rules),
			remainingLabel(category, rules, usage, dayOfEpoch, dayOfWeek, minuteOfDay))
	}
	return nil
}

// remainingLabel renders the tightest remaining budget among the rules
// applying right now, or nothing when the category is unlimited today.
func remainingLabel(category *domain.Category, rules []*domain.TimeLimitRule,
	usage *domain.UsageSnapshot, dayOfEpoch int32, dayOfWeek, minuteOfDay int) string {
	remaining := int64(-1)
	for _, rule := range rules {
		if !rule.AppliesOnDay(dayOfWeek) || !rule.AppliesAtMinute(minuteOfDay) {
			continue
		}
		budget := rule.MaximumTime
		if rule.AppliesToExtraTime {
			budget += category.ExtraTimeForDay(dayOfEpoch)
		}
		left := budget - usage.UsedTimeFor(category.ID, dayOfEpoch, rule)
		if left < 0 {
			left = 0
		}
		if remaining < 0 || left < remaining {
			remaining = left
		}
	}
	if remaining < 0 {
		return ""
	}
	return fmt.Sprintf(", %s left", time.Duration(remaining)*time.Millisecond)
}

func setEnabled(enabled bool) error {
	store, err := openStoreQuiet()
	if err != nil {
		return err
	}
	if err := store.SetAppEnabled(context.Background(), enabled); err != nil {
		return err
	}
	fmt.Printf("Enforcement %s\n", onOff(enabled))
	return nil
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := infra.OpenStore(cfg.DatabasePath, zap.NewNop())
	if err != nil {
		return err
	}
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return err
	}
	secrets, err := infra.NewSecretStore(store, key)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := store.SetOwnDeviceID(ctx, args[0]); err != nil {
		return err
	}
	if err := secrets.SetSecret(ctx, syncpkg.SecretKeyAuthToken, args[1]); err != nil {
		return err
	}
	fmt.Printf("Paired as device %s\n", args[0])
	return nil
}

func runAllow(cmd *cobra.Command, args []string) error {
	store, err := openStoreQuiet()
	if err != nil {
		return err
	}
	if err := store.AddTemporarilyAllowedApp(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Temporarily allowed %s\n", args[0])
	return nil
}

// importFile is the JSON shape accepted by the import command.
type importFile struct {
	Device     *domain.Device          `json:"device"`
	Users      []*domain.User          `json:"users"`
	Categories []*domain.Category      `json:"categories"`
	Rules      []*domain.TimeLimitRule `json:"rules"`
	Apps       []struct {
		CategoryID  string `json:"categoryId"`
		PackageName string `json:"packageName"`
	} `json:"apps"`
}

func runImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var file importFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	store, err := openStoreQuiet()
	if err != nil {
		return err
	}
	ctx := context.Background()

	for _, user := range file.Users {
		if err := store.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("user %s: %w", user.ID, err)
		}
	}
	if file.Device != nil {
		if err := store.UpsertDevice(ctx, file.Device); err != nil {
			return fmt.Errorf("device %s: %w", file.Device.ID, err)
		}
		if err := store.SetOwnDeviceID(ctx, file.Device.ID); err != nil {
			return err
		}
	}
	for _, category := range file.Categories {
		if err := store.UpsertCategory(ctx, category); err != nil {
			return fmt.Errorf("category %s: %w", category.ID, err)
		}
	}
	for _, rule := range file.Rules {
		if err := store.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}
	for _, app := range file.Apps {
		if err := store.AssignApp(ctx, app.CategoryID, app.PackageName); err != nil {
			return fmt.Errorf("app %s: %w", app.PackageName, err)
		}
	}

	fmt.Printf("Imported %d users, %d categories, %d rules, %d apps\n",
		len(file.Users), len(file.Categories), len(file.Rules), len(file.Apps))
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := createLogger(cfg.LogLevel)
	defer logger.Sync()

	backup := infra.NewBackupManager(
		cfg.DatabasePath, filepath.Join(cfg.DataDir, "backups"), cfg.BackupKeep, logger)
	return backup.Backup()
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("screentimed %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func openStoreQuiet() (*infra.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return infra.OpenStore(cfg.DatabasePath, zap.NewNop())
}

func pairingState(store *infra.Store, secrets *infra.SecretStore) (string, string, error) {
	ctx := context.Background()
	deviceData, err := store.DeviceRelatedData(ctx)
	if err != nil {
		return "", "", err
	}
	token, err := secrets.GetSecret(ctx, syncpkg.SecretKeyAuthToken)
	if err != nil {
		return deviceData.Device.ID, "", nil
	}
	return deviceData.Device.ID, token, nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func createLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
