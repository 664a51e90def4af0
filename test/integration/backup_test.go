//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"screentimed/internal/domain"
	"screentimed/internal/infra"
)

var _ = Describe("Database Backup", func() {
	var (
		tmpDir    string
		dbPath    string
		backupDir string
		manager   *infra.BackupManager
	)

	openStore := func() *infra.Store {
		store, err := infra.OpenStore(dbPath, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return store
	}

	seedUsage := func(store *infra.Store, duration int64) {
		ctx := context.Background()
		Expect(store.UpsertUser(ctx, &domain.User{
			ID: "child1", Name: "Kid", Type: domain.UserTypeChild,
		})).To(Succeed())
		Expect(store.UpsertCategory(ctx, &domain.Category{
			ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
		})).To(Succeed())
		Expect(store.CommitUsage(ctx, domain.UsageCommit{
			Deltas: []domain.UsedTimeDelta{{
				CategoryID:     "games",
				DayOfEpoch:     19730,
				EndMinuteOfDay: domain.MinutesPerDay,
				Duration:       duration,
			}},
		})).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "screentimed-integration-*")
		Expect(err).NotTo(HaveOccurred())

		dbPath = filepath.Join(tmpDir, "screentimed.db")
		backupDir = filepath.Join(tmpDir, "backups")
		manager = infra.NewBackupManager(dbPath, backupDir, 3, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Backup", func() {
		Context("with a populated database", func() {
			It("writes a copy into the backup directory", func() {
				seedUsage(openStore(), 5000)

				Expect(manager.Backup()).To(Succeed())

				entries, err := os.ReadDir(backupDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})

			It("skips a second backup of an unchanged database", func() {
				seedUsage(openStore(), 5000)

				Expect(manager.Backup()).To(Succeed())
				Expect(manager.Backup()).To(Succeed())

				entries, err := os.ReadDir(backupDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})
		})
	})

	Describe("Restore", func() {
		Context("when the database was lost", func() {
			It("brings back the backed-up usage history", func() {
				seedUsage(openStore(), 5000)
				Expect(manager.Backup()).To(Succeed())

				Expect(os.Remove(dbPath)).To(Succeed())
				Expect(manager.Restore()).To(Succeed())

				restored := openStore()
				snapshot, err := restored.UsageSnapshot(context.Background(), []string{"games"}, 19730)
				Expect(err).NotTo(HaveOccurred())
				Expect(snapshot.UsedTimesByCategory["games"]).To(HaveLen(1))
				Expect(snapshot.UsedTimesByCategory["games"][0].UsedTime).To(Equal(int64(5000)))
			})
		})

		Context("without any backups", func() {
			It("fails instead of truncating the database", func() {
				Expect(manager.Restore()).NotTo(Succeed())
			})
		})
	})
})
