//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"screentimed/internal/clock"
	"screentimed/internal/domain"
	"screentimed/internal/infra"
	"screentimed/internal/loop"
	"screentimed/internal/platform"
)

// Monday 2024-01-08 16:00:00 UTC.
const mondaySixteen = int64(1704729600000)

const gamePackage = "com.example.game"

type noopRequester struct{}

func (noopRequester) RequestSync(domain.SyncPriority) {}

var _ = Describe("Enforcement Loop", func() {
	var (
		tmpDir string
		store  *infra.Store
		mem    *platform.Memory
		clk    *clock.MockClock
		trust  *clock.TrustProvider
		cancel context.CancelFunc
		done   chan struct{}
	)

	seed := func(mutate func(category *domain.Category)) {
		ctx := context.Background()
		Expect(store.UpsertUser(ctx, &domain.User{
			ID: "child1", Name: "Kid", Type: domain.UserTypeChild,
		})).To(Succeed())
		Expect(store.UpsertDevice(ctx, &domain.Device{
			ID: "device1", Name: "Tablet", CurrentUserID: "child1", IsUsedTimeDevice: true,
		})).To(Succeed())
		Expect(store.SetOwnDeviceID(ctx, "device1")).To(Succeed())

		category := &domain.Category{
			ID: "games", ChildID: "child1", Title: "Games", ExtraTimeDay: -1,
		}
		if mutate != nil {
			mutate(category)
		}
		Expect(store.UpsertCategory(ctx, category)).To(Succeed())
		Expect(store.AssignApp(ctx, "games", gamePackage)).To(Succeed())
	}

	startLoop := func() {
		l := loop.New(store, mem, noopRequester{}, clk, trust, loop.DefaultConfig(), zap.NewNop())
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = l.Run(ctx)
		}()
	}

	// advancing polls the overlay while moving the mock clock forward, so
	// envelopes expire and the grace delay elapses across real ticks.
	advancing := func(step int64) func() string {
		return func() string {
			clk.Advance(step)
			return mem.OverlayTarget()
		}
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "screentimed-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.OpenStore(filepath.Join(tmpDir, "screentimed.db"), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		mem = platform.NewMemory()
		mem.SetForeground(domain.App{PackageName: gamePackage})
		clk = clock.NewMockClock(mondaySixteen, time.UTC)
		trust = clock.NewTrustProvider(clk)
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 10*time.Second).Should(BeClosed())
		os.RemoveAll(tmpDir)
	})

	Context("with a blocked time area covering the whole week", func() {
		BeforeEach(func() {
			seed(func(category *domain.Category) {
				category.BlockedTimes.SetRange(0, domain.MinutesPerWeek)
			})
			trust.ReportNetworkVerified()
			startLoop()
		})

		It("locks the assigned app and releases exempt apps", func() {
			Eventually(advancing(200)).
				WithTimeout(20 * time.Second).WithPolling(100 * time.Millisecond).
				Should(Equal(gamePackage))

			mem.SetForeground(domain.App{PackageName: "com.android.systemui"})
			Eventually(advancing(200)).
				WithTimeout(20 * time.Second).WithPolling(100 * time.Millisecond).
				Should(BeEmpty())
		})
	})

	Context("with a one-second daily budget", func() {
		BeforeEach(func() {
			seed(nil)
			Expect(store.UpsertRule(context.Background(), &domain.TimeLimitRule{
				ID:               "r1",
				CategoryID:       "games",
				DayMask:          0x7f,
				MaximumTime:      1000,
				StartMinuteOfDay: 0,
				EndMinuteOfDay:   domain.MinutesPerDay,
			})).To(Succeed())
			trust.ReportNetworkVerified()
			startLoop()
		})

		It("locks the app once counted usage exhausts the budget", func() {
			Eventually(advancing(1000)).
				WithTimeout(30 * time.Second).WithPolling(100 * time.Millisecond).
				Should(Equal(gamePackage))

			// The exhausted usage survives in the database.
			snapshot, err := store.UsageSnapshot(context.Background(), []string{"games"},
				19730)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.UsedTimesByCategory["games"]).NotTo(BeEmpty())
		})
	})

	Context("with a temporary block expiring soon", func() {
		BeforeEach(func() {
			seed(func(category *domain.Category) {
				category.TemporarilyBlocked = true
				category.TemporarilyBlockedEndTime = mondaySixteen + 3000
			})
			startLoop()
		})

		It("stays locked past the end time until the clock is trusted", func() {
			Eventually(advancing(200)).
				WithTimeout(20 * time.Second).WithPolling(100 * time.Millisecond).
				Should(Equal(gamePackage))

			// Push the wall clock well past the end time. The clock was
			// never verified, so the expiry is not honored.
			clk.Advance(10_000)
			Consistently(mem.OverlayTarget, 2*time.Second, 100*time.Millisecond).
				Should(Equal(gamePackage))

			trust.ReportNetworkVerified()
			Eventually(advancing(200)).
				WithTimeout(20 * time.Second).WithPolling(100 * time.Millisecond).
				Should(BeEmpty())
		})
	})
})
