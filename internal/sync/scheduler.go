package sync

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"screentimed/internal/domain"
	"screentimed/internal/infra"
)

// Scheduler runs the recurring maintenance jobs: the periodic background
// sync and the daily database backup.
type Scheduler struct {
	cron      *cron.Cron
	requester domain.SyncRequester
	backup    *infra.BackupManager
	logger    *zap.Logger
}

// NewScheduler creates a scheduler in the given location. The location
// matters for the daily backup spec; interval jobs are unaffected.
func NewScheduler(loc *time.Location, requester domain.SyncRequester, backup *infra.BackupManager, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		requester: requester,
		backup:    backup,
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(syncInterval time.Duration, backupTime string) error {
	seconds := int(syncInterval.Seconds())
	if seconds <= 0 {
		seconds = 300
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), func() {
		s.requester.RequestSync(domain.SyncUnimportant)
	})
	if err != nil {
		return fmt.Errorf("schedule periodic sync: %w", err)
	}

	if s.backup != nil {
		spec, err := dailySpec(backupTime)
		if err != nil {
			return err
		}
		_, err = s.cron.AddFunc(spec, func() {
			if err := s.backup.Backup(); err != nil {
				s.logger.Warn("daily backup failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule daily backup: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// dailySpec converts "HH:MM" into a cron spec with seconds.
func dailySpec(timeStr string) (string, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
		return "", fmt.Errorf("invalid backup time %q, expected HH:MM", timeStr)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid backup time %q", timeStr)
	}
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
