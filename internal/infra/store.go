package infra

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"screentimed/internal/domain"
)

const (
	configKeyEnabled  = "enabled"
	configKeyDeviceID = "device_id"
)

// Store is the sqlite-backed implementation of domain.Store plus the
// administrative write surface used by the CLI and the sync layer.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	path   string
}

// OpenStore opens (or creates) the database and runs migrations.
func OpenStore(dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		dsn = "screentimed.db"
	}
	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&userModel{},
		&deviceModel{},
		&categoryModel{},
		&categoryNetworkModel{},
		&categoryAppModel{},
		&ruleModel{},
		&usedTimeModel{},
		&sessionDurationModel{},
		&whitelistedAppModel{},
		&temporarilyAllowedAppModel{},
		&actionModel{},
		&configModel{},
		&secretModel{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, logger: logger, path: dsn}, nil
}

// ensureDirForSQLite creates the parent directory of a file DSN.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0700)
}

// Path returns the database file path (for backups).
func (s *Store) Path() string { return s.path }

// --- domain.Store implementation ---

// AppEnabled reads the app-wide kill switch; a missing row means enabled.
func (s *Store) AppEnabled(ctx context.Context) (bool, error) {
	var row configModel
	err := s.db.WithContext(ctx).First(&row, "key = ?", configKeyEnabled).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read enabled flag: %w", err)
	}
	return row.Value != "false", nil
}

// DeviceRelatedData loads the own device's configuration snapshot.
func (s *Store) DeviceRelatedData(ctx context.Context) (*domain.DeviceRelatedData, error) {
	deviceID, err := s.ownDeviceID(ctx)
	if err != nil {
		return nil, err
	}
	if deviceID == "" {
		return &domain.DeviceRelatedData{Device: &domain.Device{}}, nil
	}

	var m deviceModel
	err = s.db.WithContext(ctx).First(&m, "id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.DeviceRelatedData{Device: &domain.Device{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device: %w", err)
	}

	return &domain.DeviceRelatedData{
		Device: &domain.Device{
			ID:               m.ID,
			Name:             m.Name,
			CurrentUserID:    m.CurrentUserID,
			IsUsedTimeDevice: m.IsUsedTimeDevice,
			ConsiderIdle:     m.ConsiderIdle,
		},
		SlowMainLoop:         m.SlowMainLoop,
		MultiAppDetection:    m.MultiAppDetection,
		PauseForegroundLoop:  m.PauseForegroundLoop,
		AppDetectionInterval: m.AppDetectionInterval,
	}, nil
}

// UserRelatedData loads the configuration snapshot of one user.
func (s *Store) UserRelatedData(ctx context.Context, userID string) (*domain.UserRelatedData, error) {
	var userRow userModel
	err := s.db.WithContext(ctx).First(&userRow, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}

	var categoryRows []categoryModel
	if err := s.db.WithContext(ctx).Where("child_id = ?", userID).Find(&categoryRows).Error; err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	categoryIDs := make([]string, 0, len(categoryRows))
	for _, row := range categoryRows {
		categoryIDs = append(categoryIDs, row.ID)
	}

	var networkRows []categoryNetworkModel
	var ruleRows []ruleModel
	var appRows []categoryAppModel
	if len(categoryIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("category_id IN ?", categoryIDs).Find(&networkRows).Error; err != nil {
			return nil, fmt.Errorf("read category networks: %w", err)
		}
		if err := s.db.WithContext(ctx).Where("category_id IN ?", categoryIDs).Find(&ruleRows).Error; err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		if err := s.db.WithContext(ctx).Where("category_id IN ?", categoryIDs).Find(&appRows).Error; err != nil {
			return nil, fmt.Errorf("read category apps: %w", err)
		}
	}

	networksByCategory := make(map[string][]categoryNetworkModel)
	for _, row := range networkRows {
		networksByCategory[row.CategoryID] = append(networksByCategory[row.CategoryID], row)
	}

	data := &domain.UserRelatedData{
		User: &domain.User{
			ID:                         userRow.ID,
			Name:                       userRow.Name,
			Type:                       domain.UserType(userRow.Type),
			TimeZone:                   userRow.TimeZone,
			DisableLimitsUntil:         userRow.DisableLimitsUntil,
			CategoryForNotAssignedApps: userRow.CategoryForNotAssignedApps,
		},
		CategoryByID:           make(map[string]*domain.Category, len(categoryRows)),
		RulesByCategory:        make(map[string][]*domain.TimeLimitRule),
		CategoryByApp:          make(map[string][]string),
		WhitelistedApps:        make(map[string]bool),
		TemporarilyAllowedApps: make(map[string]bool),
	}
	for i := range categoryRows {
		row := &categoryRows[i]
		data.CategoryByID[row.ID] = categoryToDomain(row, networksByCategory[row.ID])
	}
	for i := range ruleRows {
		rule := ruleToDomain(&ruleRows[i])
		data.RulesByCategory[rule.CategoryID] = append(data.RulesByCategory[rule.CategoryID], rule)
	}
	for _, row := range appRows {
		data.CategoryByApp[row.PackageName] = append(data.CategoryByApp[row.PackageName], row.CategoryID)
	}

	var whitelistRows []whitelistedAppModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&whitelistRows).Error; err != nil {
		return nil, fmt.Errorf("read whitelisted apps: %w", err)
	}
	for _, row := range whitelistRows {
		data.WhitelistedApps[row.PackageName] = true
	}

	deviceID, err := s.ownDeviceID(ctx)
	if err != nil {
		return nil, err
	}
	if deviceID != "" {
		var allowedRows []temporarilyAllowedAppModel
		if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Find(&allowedRows).Error; err != nil {
			return nil, fmt.Errorf("read temporarily allowed apps: %w", err)
		}
		for _, row := range allowedRows {
			data.TemporarilyAllowedApps[row.PackageName] = true
		}
	}

	return data, nil
}

// UsageSnapshot loads the usage state of the given categories. Rows of
// neighboring days stay included so day boundaries in odd time zones do
// not lose data.
func (s *Store) UsageSnapshot(ctx context.Context, categoryIDs []string, dayOfEpoch int32) (*domain.UsageSnapshot, error) {
	snapshot := &domain.UsageSnapshot{
		UsedTimesByCategory: make(map[string][]*domain.UsedTimeItem),
		SessionsByCategory:  make(map[string][]*domain.SessionDuration),
	}
	if len(categoryIDs) == 0 {
		return snapshot, nil
	}

	var usedRows []usedTimeModel
	err := s.db.WithContext(ctx).
		Where("category_id IN ? AND day_of_epoch BETWEEN ? AND ?", categoryIDs, dayOfEpoch-1, dayOfEpoch+1).
		Find(&usedRows).Error
	if err != nil {
		return nil, fmt.Errorf("read used times: %w", err)
	}
	for _, row := range usedRows {
		snapshot.UsedTimesByCategory[row.CategoryID] = append(snapshot.UsedTimesByCategory[row.CategoryID], &domain.UsedTimeItem{
			CategoryID:       row.CategoryID,
			DayOfEpoch:       row.DayOfEpoch,
			StartMinuteOfDay: row.StartMinuteOfDay,
			EndMinuteOfDay:   row.EndMinuteOfDay,
			UsedTime:         row.UsedTime,
		})
	}

	var sessionRows []sessionDurationModel
	if err := s.db.WithContext(ctx).Where("category_id IN ?", categoryIDs).Find(&sessionRows).Error; err != nil {
		return nil, fmt.Errorf("read session durations: %w", err)
	}
	for _, row := range sessionRows {
		snapshot.SessionsByCategory[row.CategoryID] = append(snapshot.SessionsByCategory[row.CategoryID], &domain.SessionDuration{
			CategoryID:           row.CategoryID,
			MaxSessionDuration:   row.MaxSessionDuration,
			SessionPauseDuration: row.SessionPauseDuration,
			StartMinuteOfDay:     row.StartMinuteOfDay,
			EndMinuteOfDay:       row.EndMinuteOfDay,
			LastUsage:            row.LastUsage,
			LastSessionDuration:  row.LastSessionDuration,
		})
	}

	return snapshot, nil
}

// usedTimeActionPayload is the opaque payload of one queued sync action.
type usedTimeActionPayload struct {
	CategoryID       string `json:"categoryId"`
	DayOfEpoch       int32  `json:"dayOfEpoch"`
	StartMinuteOfDay int    `json:"startMinuteOfDay"`
	EndMinuteOfDay   int    `json:"endMinuteOfDay"`
	Duration         int64  `json:"duration"`
	Timestamp        int64  `json:"timestamp"`
	Trusted          bool   `json:"trusted"`
}

// CommitUsage applies one batched usage write. Increments, session
// updates, version bumps and the queued sync actions share one
// transaction: local-first, sync eventually.
func (s *Store) CommitUsage(ctx context.Context, commit domain.UsageCommit) error {
	if len(commit.Deltas) == 0 && len(commit.Sessions) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touched := make(map[string]bool)

		for _, delta := range commit.Deltas {
			row := usedTimeModel{
				CategoryID:       delta.CategoryID,
				DayOfEpoch:       delta.DayOfEpoch,
				StartMinuteOfDay: delta.StartMinuteOfDay,
				EndMinuteOfDay:   delta.EndMinuteOfDay,
				UsedTime:         delta.Duration,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "category_id"}, {Name: "day_of_epoch"},
					{Name: "start_minute_of_day"}, {Name: "end_minute_of_day"},
				},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"used_time": gorm.Expr("used_time + ?", delta.Duration),
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("increment used time: %w", err)
			}
			touched[delta.CategoryID] = true

			payload, err := json.Marshal(usedTimeActionPayload{
				CategoryID:       delta.CategoryID,
				DayOfEpoch:       delta.DayOfEpoch,
				StartMinuteOfDay: delta.StartMinuteOfDay,
				EndMinuteOfDay:   delta.EndMinuteOfDay,
				Duration:         delta.Duration,
				Timestamp:        commit.Timestamp,
				Trusted:          commit.Trusted,
			})
			if err != nil {
				return err
			}
			action := actionModel{
				Type:      "ADD_USED_TIME",
				Payload:   payload,
				CreatedAt: time.Now().UnixMilli(),
			}
			if err := tx.Create(&action).Error; err != nil {
				return fmt.Errorf("queue sync action: %w", err)
			}
		}

		for _, session := range commit.Sessions {
			row := sessionDurationModel{
				CategoryID:           session.CategoryID,
				MaxSessionDuration:   session.MaxSessionDuration,
				SessionPauseDuration: session.SessionPauseDuration,
				StartMinuteOfDay:     session.StartMinuteOfDay,
				EndMinuteOfDay:       session.EndMinuteOfDay,
				LastUsage:            session.LastUsage,
				LastSessionDuration:  session.LastSessionDuration,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "category_id"}, {Name: "max_session_duration"},
					{Name: "session_pause_duration"},
					{Name: "start_minute_of_day"}, {Name: "end_minute_of_day"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"last_usage", "last_session_duration"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("update session duration: %w", err)
			}
			touched[session.CategoryID] = true
		}

		for categoryID := range touched {
			err := tx.Model(&categoryModel{}).
				Where("id = ?", categoryID).
				Update("used_times_version", newVersionToken()).Error
			if err != nil {
				return fmt.Errorf("bump used times version: %w", err)
			}
		}
		return nil
	})
}

// PruneUsedTimes deletes rows older than the given day of epoch.
func (s *Store) PruneUsedTimes(ctx context.Context, beforeDay int32) (int64, error) {
	result := s.db.WithContext(ctx).Where("day_of_epoch < ?", beforeDay).Delete(&usedTimeModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune used times: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RevokeTemporarilyAllowedApps clears the device's manual allowances.
func (s *Store) RevokeTemporarilyAllowedApps(ctx context.Context) error {
	deviceID, err := s.ownDeviceID(ctx)
	if err != nil {
		return err
	}
	if deviceID == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Delete(&temporarilyAllowedAppModel{}).Error
}

// PendingActions returns queued outbound actions in sequence order.
func (s *Store) PendingActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	var rows []actionModel
	query := s.db.WithContext(ctx).Order("sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read pending actions: %w", err)
	}
	actions := make([]domain.ActionRecord, 0, len(rows))
	for _, row := range rows {
		actions = append(actions, domain.ActionRecord{
			Sequence: row.Sequence,
			Type:     row.Type,
			Payload:  row.Payload,
		})
	}
	return actions, nil
}

// MarkActionsSynced removes actions up to the given sequence.
func (s *Store) MarkActionsSynced(ctx context.Context, throughSequence int64) error {
	return s.db.WithContext(ctx).
		Where("sequence <= ?", throughSequence).
		Delete(&actionModel{}).Error
}

// --- administrative surface (CLI, sync, tests) ---

// SetAppEnabled writes the kill switch.
func (s *Store) SetAppEnabled(ctx context.Context, enabled bool) error {
	return s.setConfig(ctx, configKeyEnabled, fmt.Sprintf("%t", enabled))
}

// SetOwnDeviceID records which device row is this device.
func (s *Store) SetOwnDeviceID(ctx context.Context, deviceID string) error {
	return s.setConfig(ctx, configKeyDeviceID, deviceID)
}

// UpsertUser writes one user row.
func (s *Store) UpsertUser(ctx context.Context, user *domain.User) error {
	row := userModel{
		ID:                         user.ID,
		Name:                       user.Name,
		Type:                       string(user.Type),
		TimeZone:                   user.TimeZone,
		DisableLimitsUntil:         user.DisableLimitsUntil,
		CategoryForNotAssignedApps: user.CategoryForNotAssignedApps,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// UpsertDevice writes one device row.
func (s *Store) UpsertDevice(ctx context.Context, device *domain.Device) error {
	row := deviceModel{
		ID:               device.ID,
		Name:             device.Name,
		CurrentUserID:    device.CurrentUserID,
		IsUsedTimeDevice: device.IsUsedTimeDevice,
		ConsiderIdle:     device.ConsiderIdle,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// UpsertCategory writes one category with fresh version tokens.
func (s *Store) UpsertCategory(ctx context.Context, category *domain.Category) error {
	if err := category.Validate(); err != nil {
		return err
	}
	row := categoryModel{
		ID:                        category.ID,
		ChildID:                   category.ChildID,
		Title:                     category.Title,
		BlockedMinutes:            encodeBlockedMinutes(&category.BlockedTimes),
		ExtraTime:                 category.ExtraTime,
		ExtraTimeDay:              category.ExtraTimeDay,
		TemporarilyBlocked:        category.TemporarilyBlocked,
		TemporarilyBlockedEndTime: category.TemporarilyBlockedEndTime,
		BlockAllNotifications:     category.BlockAllNotifications,
		NotificationBlockDelay:    category.NotificationBlockDelay,
		DisableLimitsUntil:        category.DisableLimitsUntil,
		MinBatteryLevelCharging:   category.MinBatteryLevelCharging,
		MinBatteryLevelMobile:     category.MinBatteryLevelMobile,
		TimeWarningFlags:          category.TimeWarningFlags,
		ParentCategoryID:          category.ParentCategoryID,
		NetworkMode:               int(category.NetworkMode),
		BaseVersion:               newVersionToken(),
		AppsVersion:               newVersionToken(),
		RulesVersion:              newVersionToken(),
		UsedTimesVersion:          newVersionToken(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("category_id = ?", category.ID).Delete(&categoryNetworkModel{}).Error; err != nil {
			return err
		}
		for _, network := range category.Networks {
			networkRow := categoryNetworkModel{
				ItemID:     network.ItemID,
				CategoryID: category.ID,
				Salt:       network.Salt,
				HashedID:   network.HashedID,
			}
			if err := tx.Create(&networkRow).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertRule writes one rule row and bumps the category's rules version.
func (s *Store) UpsertRule(ctx context.Context, rule *domain.TimeLimitRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	row := ruleModel{
		ID:                   rule.ID,
		CategoryID:           rule.CategoryID,
		DayMask:              rule.DayMask,
		MaximumTime:          rule.MaximumTime,
		StartMinuteOfDay:     rule.StartMinuteOfDay,
		EndMinuteOfDay:       rule.EndMinuteOfDay,
		AppliesToExtraTime:   rule.AppliesToExtraTime,
		SessionDurationLimit: rule.SessionDurationLimit,
		SessionPauseDuration: rule.SessionPauseDuration,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&categoryModel{}).
			Where("id = ?", rule.CategoryID).
			Update("rules_version", newVersionToken()).Error
	})
}

// SetDeviceFlags writes the experimental loop flags of one device.
func (s *Store) SetDeviceFlags(ctx context.Context, deviceID string, slowMainLoop, multiAppDetection, pauseForegroundLoop bool, appDetectionInterval int64) error {
	return s.db.WithContext(ctx).Model(&deviceModel{}).
		Where("id = ?", deviceID).
		Updates(map[string]interface{}{
			"slow_main_loop":         slowMainLoop,
			"multi_app_detection":    multiAppDetection,
			"pause_foreground_loop":  pauseForegroundLoop,
			"app_detection_interval": appDetectionInterval,
		}).Error
}

// AssignApp maps one package to a category.
func (s *Store) AssignApp(ctx context.Context, categoryID, packageName string) error {
	row := categoryAppModel{CategoryID: categoryID, PackageName: packageName}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&categoryModel{}).
			Where("id = ?", categoryID).
			Update("apps_version", newVersionToken()).Error
	})
}

// AddWhitelistedApp exempts one package from blocking for a user.
func (s *Store) AddWhitelistedApp(ctx context.Context, userID, packageName string) error {
	row := whitelistedAppModel{UserID: userID, PackageName: packageName}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// AddTemporarilyAllowedApp allows one package until the next revocation.
func (s *Store) AddTemporarilyAllowedApp(ctx context.Context, packageName string) error {
	deviceID, err := s.ownDeviceID(ctx)
	if err != nil {
		return err
	}
	if deviceID == "" {
		return errors.New("no own device configured")
	}
	row := temporarilyAllowedAppModel{DeviceID: deviceID, PackageName: packageName}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) ownDeviceID(ctx context.Context) (string, error) {
	var row configModel
	err := s.db.WithContext(ctx).First(&row, "key = ?", configKeyDeviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	return row.Value, nil
}

func (s *Store) setConfig(ctx context.Context, key, value string) error {
	row := configModel{Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// newVersionToken returns a short random sync token.
func newVersionToken() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

var _ domain.Store = (*Store)(nil)
