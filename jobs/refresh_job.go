package jobs

import (
	"context"
	"time"

	"github.com/hkipo/hkex-ipo-backend/database"
	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/services"
	"github.com/sirupsen/logrus"
)

// CalendarRefreshJob periodically rebuilds the reconciled calendar and
// persists each run when a snapshot store is available.
type CalendarRefreshJob struct {
	Service       *services.ReconcileService
	SnapshotStore *database.SnapshotStore
}

func NewCalendarRefreshJob(service *services.ReconcileService, snapshotStore *database.SnapshotStore) *CalendarRefreshJob {
	return &CalendarRefreshJob{
		Service:       service,
		SnapshotStore: snapshotStore,
	}
}

func (j *CalendarRefreshJob) Run() {
	logrus.Info("Starting calendar refresh job")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	startTime := time.Now()
	records := j.Service.Refresh(ctx)

	liveCount := 0
	sampleCount := 0
	overrideCount := 0
	for _, record := range records {
		switch record.DataOrigin {
		case models.OriginSample:
			sampleCount++
		case models.OriginOverride:
			overrideCount++
		default:
			liveCount++
		}
	}

	logrus.WithFields(logrus.Fields{
		"record_count":   len(records),
		"live_count":     liveCount,
		"sample_count":   sampleCount,
		"override_count": overrideCount,
		"duration":       time.Since(startTime),
	}).Info("Calendar refresh job completed")

	if sampleCount > 0 && liveCount == 0 {
		logrus.Warn("Entire calendar served from sample data, live sources may be unreachable")
	}

	if j.SnapshotStore != nil {
		if err := j.SnapshotStore.SaveSnapshot(ctx, records); err != nil {
			logrus.Errorf("Failed to persist calendar snapshot: %v", err)
		}
	}
}

// SnapshotCleanupJob trims old persisted snapshots.
type SnapshotCleanupJob struct {
	SnapshotStore *database.SnapshotStore
	Retention     time.Duration
}

func NewSnapshotCleanupJob(snapshotStore *database.SnapshotStore, retention time.Duration) *SnapshotCleanupJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &SnapshotCleanupJob{SnapshotStore: snapshotStore, Retention: retention}
}

func (j *SnapshotCleanupJob) Run() {
	if j.SnapshotStore == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := j.SnapshotStore.PruneSnapshots(ctx, j.Retention)
	if err != nil {
		logrus.Errorf("Snapshot cleanup failed: %v", err)
		return
	}
	logrus.WithField("deleted", deleted).Info("Snapshot cleanup job completed")
}
