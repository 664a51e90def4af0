// Package infra implements infrastructure adapters: the sqlite store,
// the secret store and the database backup.
package infra

import (
	"encoding/binary"

	"screentimed/internal/domain"
)

type userModel struct {
	ID                         string `gorm:"primaryKey"`
	Name                       string `gorm:"not null"`
	Type                       string `gorm:"not null"`
	TimeZone                   string
	DisableLimitsUntil         int64
	CategoryForNotAssignedApps string
}

func (userModel) TableName() string { return "users" }

type deviceModel struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	CurrentUserID    string
	IsUsedTimeDevice bool
	ConsiderIdle     bool

	SlowMainLoop         bool
	MultiAppDetection    bool
	PauseForegroundLoop  bool
	AppDetectionInterval int64
}

func (deviceModel) TableName() string { return "devices" }

type categoryModel struct {
	ID                        string `gorm:"primaryKey"`
	ChildID                   string `gorm:"index;not null"`
	Title                     string `gorm:"not null"`
	BlockedMinutes            []byte
	ExtraTime                 int64
	ExtraTimeDay              int32
	TemporarilyBlocked        bool
	TemporarilyBlockedEndTime int64
	BlockAllNotifications     bool
	NotificationBlockDelay    int64
	DisableLimitsUntil        int64
	MinBatteryLevelCharging   int
	MinBatteryLevelMobile     int
	TimeWarningFlags          int64
	ParentCategoryID          string
	NetworkMode               int

	BaseVersion      string
	AppsVersion      string
	RulesVersion     string
	UsedTimesVersion string
}

func (categoryModel) TableName() string { return "categories" }

type categoryNetworkModel struct {
	ItemID     string `gorm:"primaryKey"`
	CategoryID string `gorm:"index;not null"`
	Salt       string `gorm:"not null"`
	HashedID   string `gorm:"not null"`
}

func (categoryNetworkModel) TableName() string { return "category_networks" }

type categoryAppModel struct {
	CategoryID  string `gorm:"primaryKey"`
	PackageName string `gorm:"primaryKey;index"`
}

func (categoryAppModel) TableName() string { return "category_apps" }

type ruleModel struct {
	ID                   string `gorm:"primaryKey"`
	CategoryID           string `gorm:"index;not null"`
	DayMask              uint8
	MaximumTime          int64
	StartMinuteOfDay     int
	EndMinuteOfDay       int
	AppliesToExtraTime   bool
	SessionDurationLimit int64
	SessionPauseDuration int64
}

func (ruleModel) TableName() string { return "time_limit_rules" }

type usedTimeModel struct {
	CategoryID       string `gorm:"primaryKey"`
	DayOfEpoch       int32  `gorm:"primaryKey"`
	StartMinuteOfDay int    `gorm:"primaryKey"`
	EndMinuteOfDay   int    `gorm:"primaryKey"`
	UsedTime         int64
}

func (usedTimeModel) TableName() string { return "used_times" }

type sessionDurationModel struct {
	CategoryID           string `gorm:"primaryKey"`
	MaxSessionDuration   int64  `gorm:"primaryKey"`
	SessionPauseDuration int64  `gorm:"primaryKey"`
	StartMinuteOfDay     int    `gorm:"primaryKey"`
	EndMinuteOfDay       int    `gorm:"primaryKey"`
	LastUsage            int64
	LastSessionDuration  int64
}

func (sessionDurationModel) TableName() string { return "session_durations" }

type whitelistedAppModel struct {
	UserID      string `gorm:"primaryKey"`
	PackageName string `gorm:"primaryKey"`
}

func (whitelistedAppModel) TableName() string { return "whitelisted_apps" }

type temporarilyAllowedAppModel struct {
	DeviceID    string `gorm:"primaryKey"`
	PackageName string `gorm:"primaryKey"`
}

func (temporarilyAllowedAppModel) TableName() string { return "temporarily_allowed_apps" }

type actionModel struct {
	Sequence  int64  `gorm:"primaryKey;autoIncrement"`
	Type      string `gorm:"not null"`
	Payload   []byte
	CreatedAt int64
}

func (actionModel) TableName() string { return "pending_actions" }

type configModel struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (configModel) TableName() string { return "config" }

type secretModel struct {
	Key   string `gorm:"primaryKey"`
	Value []byte `gorm:"not null"`
	Nonce []byte `gorm:"not null"`
}

func (secretModel) TableName() string { return "secrets" }

// encodeBlockedMinutes serializes the weekly bitmap little endian.
func encodeBlockedMinutes(b *domain.BlockedMinutes) []byte {
	out := make([]byte, len(b)*8)
	for i, word := range b {
		binary.LittleEndian.PutUint64(out[i*8:], word)
	}
	return out
}

// decodeBlockedMinutes restores the weekly bitmap; short or missing data
// yields an empty bitmap.
func decodeBlockedMinutes(data []byte) domain.BlockedMinutes {
	var b domain.BlockedMinutes
	for i := range b {
		if (i+1)*8 > len(data) {
			break
		}
		b[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return b
}

func categoryToDomain(m *categoryModel, networks []categoryNetworkModel) *domain.Category {
	category := &domain.Category{
		ID:                        m.ID,
		ChildID:                   m.ChildID,
		Title:                     m.Title,
		BlockedTimes:              decodeBlockedMinutes(m.BlockedMinutes),
		ExtraTime:                 m.ExtraTime,
		ExtraTimeDay:              m.ExtraTimeDay,
		TemporarilyBlocked:        m.TemporarilyBlocked,
		TemporarilyBlockedEndTime: m.TemporarilyBlockedEndTime,
		BlockAllNotifications:     m.BlockAllNotifications,
		NotificationBlockDelay:    m.NotificationBlockDelay,
		DisableLimitsUntil:        m.DisableLimitsUntil,
		MinBatteryLevelCharging:   m.MinBatteryLevelCharging,
		MinBatteryLevelMobile:     m.MinBatteryLevelMobile,
		TimeWarningFlags:          m.TimeWarningFlags,
		ParentCategoryID:          m.ParentCategoryID,
		NetworkMode:               domain.NetworkMode(m.NetworkMode),
		Versions: domain.CategoryVersions{
			Base:      m.BaseVersion,
			Apps:      m.AppsVersion,
			Rules:     m.RulesVersion,
			UsedTimes: m.UsedTimesVersion,
		},
	}
	for _, network := range networks {
		category.Networks = append(category.Networks, domain.CategoryNetwork{
			ItemID:   network.ItemID,
			Salt:     network.Salt,
			HashedID: network.HashedID,
		})
	}
	return category
}

func ruleToDomain(m *ruleModel) *domain.TimeLimitRule {
	return &domain.TimeLimitRule{
		ID:                   m.ID,
		CategoryID:           m.CategoryID,
		DayMask:              m.DayMask,
		MaximumTime:          m.MaximumTime,
		StartMinuteOfDay:     m.StartMinuteOfDay,
		EndMinuteOfDay:       m.EndMinuteOfDay,
		AppliesToExtraTime:   m.AppliesToExtraTime,
		SessionDurationLimit: m.SessionDurationLimit,
		SessionPauseDuration: m.SessionPauseDuration,
	}
}
