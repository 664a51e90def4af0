package infra

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"screentimed/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestAppEnabledDefaultsToTrue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	enabled, err := store.AppEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.SetAppEnabled(ctx, false))
	enabled, err = store.AppEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, store.SetAppEnabled(ctx, true))
	enabled, err = store.AppEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestDeviceRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Without an own-device binding the snapshot is empty but non-nil.
	data, err := store.DeviceRelatedData(ctx)
	require.NoError(t, err)
	require.NotNil(t, data.Device)
	assert.Empty(t, data.Device.ID)

	require.NoError(t, store.UpsertDevice(ctx, &domain.Device{
		ID:               "device1",
		Name:             "Tablet",
		CurrentUserID:    "child1",
		IsUsedTimeDevice: true,
		ConsiderIdle:     true,
	}))
	require.NoError(t, store.SetOwnDeviceID(ctx, "device1"))
	require.NoError(t, store.SetDeviceFlags(ctx, "device1", true, true, true, 250))

	data, err = store.DeviceRelatedData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "device1", data.Device.ID)
	assert.Equal(t, "child1", data.Device.CurrentUserID)
	assert.True(t, data.Device.IsUsedTimeDevice)
	assert.True(t, data.Device.ConsiderIdle)
	assert.True(t, data.SlowMainLoop)
	assert.True(t, data.MultiAppDetection)
	assert.True(t, data.PauseForegroundLoop)
	assert.Equal(t, int64(250), data.AppDetectionInterval)
}

func TestUserRelatedDataRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	unknown, err := store.UserRelatedData(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	require.NoError(t, store.UpsertUser(ctx, &domain.User{
		ID:       "child1",
		Name:     "Kid",
		Type:     domain.UserTypeChild,
		TimeZone: "Europe/Berlin",
	}))

	category := &domain.Category{
		ID:           "games",
		ChildID:      "child1",
		Title:        "Games",
		ExtraTimeDay: -1,
		NetworkMode:  domain.NetworkModeAllowlist,
		Networks: []domain.CategoryNetwork{
			{ItemID: "n1", Salt: "salt1", HashedID: "hash1"},
		},
	}
	category.BlockedTimes.SetRange(960, 1020)
	require.NoError(t, store.UpsertCategory(ctx, category))

	require.NoError(t, store.UpsertRule(ctx, &domain.TimeLimitRule{
		ID:               "r1",
		CategoryID:       "games",
		DayMask:          0x1f,
		MaximumTime:      3_600_000,
		StartMinuteOfDay: 0,
		EndMinuteOfDay:   domain.MinutesPerDay,
	}))
	require.NoError(t, store.AssignApp(ctx, "games", "com.example.game"))
	require.NoError(t, store.AddWhitelistedApp(ctx, "child1", "com.example.calc"))

	data, err := store.UserRelatedData(ctx, "child1")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, domain.UserTypeChild, data.User.Type)
	assert.Equal(t, "Europe/Berlin", data.User.TimeZone)

	loaded := data.CategoryByID["games"]
	require.NotNil(t, loaded)
	assert.True(t, loaded.BlockedTimes.IsSet(960))
	assert.True(t, loaded.BlockedTimes.IsSet(1019))
	assert.False(t, loaded.BlockedTimes.IsSet(1020))
	assert.Equal(t, domain.NetworkModeAllowlist, loaded.NetworkMode)
	require.Len(t, loaded.Networks, 1)
	assert.Equal(t, "hash1", loaded.Networks[0].HashedID)
	assert.NotEmpty(t, loaded.Versions.UsedTimes)

	require.Len(t, data.RulesByCategory["games"], 1)
	assert.Equal(t, int64(3_600_000), data.RulesByCategory["games"][0].MaximumTime)
	assert.Equal(t, []string{"games"}, data.CategoryByApp["com.example.game"])
	assert.True(t, data.WhitelistedApps["com.example.calc"])
}

func TestCommitUsageIncrementsAndQueuesActions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "child1", Name: "Kid", Type: domain.UserTypeChild}))
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{
		ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
	}))

	before, err := store.UserRelatedData(ctx, "child1")
	require.NoError(t, err)
	versionBefore := before.CategoryByID["games"].Versions.UsedTimes

	delta := domain.UsedTimeDelta{
		CategoryID:       "games",
		DayOfEpoch:       19730,
		StartMinuteOfDay: 0,
		EndMinuteOfDay:   domain.MinutesPerDay,
		Duration:         5000,
	}
	commit := domain.UsageCommit{
		Deltas:    []domain.UsedTimeDelta{delta},
		Timestamp: 1_700_000_000_000,
		Trusted:   true,
	}
	require.NoError(t, store.CommitUsage(ctx, commit))
	require.NoError(t, store.CommitUsage(ctx, commit))

	// Two commits of the same window accumulate in a single row.
	snapshot, err := store.UsageSnapshot(ctx, []string{"games"}, 19730)
	require.NoError(t, err)
	require.Len(t, snapshot.UsedTimesByCategory["games"], 1)
	assert.Equal(t, int64(10_000), snapshot.UsedTimesByCategory["games"][0].UsedTime)

	// The touched category got a fresh sync token.
	after, err := store.UserRelatedData(ctx, "child1")
	require.NoError(t, err)
	assert.NotEqual(t, versionBefore, after.CategoryByID["games"].Versions.UsedTimes)

	// Each delta queued one outbound action with the full payload.
	actions, err := store.PendingActions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "ADD_USED_TIME", actions[0].Type)
	assert.Less(t, actions[0].Sequence, actions[1].Sequence)

	var payload struct {
		CategoryID string `json:"categoryId"`
		Duration   int64  `json:"duration"`
		Trusted    bool   `json:"trusted"`
	}
	require.NoError(t, json.Unmarshal(actions[0].Payload, &payload))
	assert.Equal(t, "games", payload.CategoryID)
	assert.Equal(t, int64(5000), payload.Duration)
	assert.True(t, payload.Trusted)
}

func TestCommitUsageUpsertsSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "child1", Name: "Kid", Type: domain.UserTypeChild}))
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{
		ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
	}))

	session := domain.SessionDuration{
		CategoryID:           "games",
		MaxSessionDuration:   60_000,
		SessionPauseDuration: 30_000,
		StartMinuteOfDay:     0,
		EndMinuteOfDay:       domain.MinutesPerDay,
		LastUsage:            1_700_000_000_000,
		LastSessionDuration:  10_000,
	}
	require.NoError(t, store.CommitUsage(ctx, domain.UsageCommit{Sessions: []domain.SessionDuration{session}}))

	session.LastUsage += 5000
	session.LastSessionDuration = 15_000
	require.NoError(t, store.CommitUsage(ctx, domain.UsageCommit{Sessions: []domain.SessionDuration{session}}))

	snapshot, err := store.UsageSnapshot(ctx, []string{"games"}, 19730)
	require.NoError(t, err)
	require.Len(t, snapshot.SessionsByCategory["games"], 1)
	assert.Equal(t, int64(15_000), snapshot.SessionsByCategory["games"][0].LastSessionDuration)
}

func TestMarkActionsSynced(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "child1", Name: "Kid", Type: domain.UserTypeChild}))
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{
		ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CommitUsage(ctx, domain.UsageCommit{
			Deltas: []domain.UsedTimeDelta{{
				CategoryID: "games", DayOfEpoch: 19730,
				EndMinuteOfDay: domain.MinutesPerDay, Duration: 1000,
			}},
		}))
	}

	actions, err := store.PendingActions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	require.NoError(t, store.MarkActionsSynced(ctx, actions[1].Sequence))
	remaining, err := store.PendingActions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Greater(t, remaining[0].Sequence, actions[1].Sequence)
}

func TestPruneUsedTimes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "child1", Name: "Kid", Type: domain.UserTypeChild}))
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{
		ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
	}))

	for _, day := range []int32{100, 110, 120} {
		require.NoError(t, store.CommitUsage(ctx, domain.UsageCommit{
			Deltas: []domain.UsedTimeDelta{{
				CategoryID: "games", DayOfEpoch: day,
				EndMinuteOfDay: domain.MinutesPerDay, Duration: 1000,
			}},
		}))
	}

	removed, err := store.PruneUsedTimes(ctx, 115)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	snapshot, err := store.UsageSnapshot(ctx, []string{"games"}, 120)
	require.NoError(t, err)
	require.Len(t, snapshot.UsedTimesByCategory["games"], 1)
	assert.Equal(t, int32(120), snapshot.UsedTimesByCategory["games"][0].DayOfEpoch)
}

func TestTemporarilyAllowedAppLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Needs an own-device binding first.
	require.Error(t, store.AddTemporarilyAllowedApp(ctx, "com.example.game"))

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "child1", Name: "Kid", Type: domain.UserTypeChild}))
	require.NoError(t, store.UpsertDevice(ctx, &domain.Device{ID: "device1", Name: "Tablet", CurrentUserID: "child1"}))
	require.NoError(t, store.SetOwnDeviceID(ctx, "device1"))
	require.NoError(t, store.AddTemporarilyAllowedApp(ctx, "com.example.game"))

	data, err := store.UserRelatedData(ctx, "child1")
	require.NoError(t, err)
	assert.True(t, data.TemporarilyAllowedApps["com.example.game"])

	require.NoError(t, store.RevokeTemporarilyAllowedApps(ctx))
	data, err = store.UserRelatedData(ctx, "child1")
	require.NoError(t, err)
	assert.Empty(t, data.TemporarilyAllowedApps)
}

func TestUsageSnapshotIncludesNeighboringDays(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "child1", Name: "Kid", Type: domain.UserTypeChild}))
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{
		ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
	}))

	for _, day := range []int32{99, 100, 101, 103} {
		require.NoError(t, store.CommitUsage(ctx, domain.UsageCommit{
			Deltas: []domain.UsedTimeDelta{{
				CategoryID: "games", DayOfEpoch: day,
				EndMinuteOfDay: domain.MinutesPerDay, Duration: 1000,
			}},
		}))
	}

	snapshot, err := store.UsageSnapshot(ctx, []string{"games"}, 100)
	require.NoError(t, err)
	assert.Len(t, snapshot.UsedTimesByCategory["games"], 3)
}
