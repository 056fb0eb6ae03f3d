package carnival

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/metrics"
	"github.com/old-man-footy/backend/internal/storage"
	"github.com/old-man-footy/backend/internal/storage/models"
)

// ContactReplyStore deletes expired contact replies.
type ContactReplyStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob removes contact replies older than the retention window and
// records each run in the sync log.
type RetentionJob struct {
	replies     ContactReplyStore
	syncLogs    *storage.SyncLogRepository
	clock       clockwork.Clock
	days        int
	environment string
}

// NewRetentionJob creates a contact reply retention job.
func NewRetentionJob(replies ContactReplyStore, syncLogs *storage.SyncLogRepository, clock clockwork.Clock, days int, environment string) *RetentionJob {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RetentionJob{
		replies:     replies,
		syncLogs:    syncLogs,
		clock:       clock,
		days:        days,
		environment: environment,
	}
}

// Run deletes expired replies and returns how many were removed.
func (j *RetentionJob) Run(ctx context.Context, trigger string) (int64, error) {
	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())
	log := logging.Ctx(ctx).With().Str("component", "retention").Logger()
	start := j.clock.Now()

	run, err := j.syncLogs.StartSync(ctx, models.JobKindContactReplyRetention, models.SyncMeta{
		TriggerSource: trigger,
		Environment:   j.environment,
	})
	if err != nil {
		metrics.RecordSyncRun(models.JobKindContactReplyRetention, trigger, "failed", 0)
		return 0, fmt.Errorf("opening retention sync log: %w", err)
	}

	cutoff := start.AddDate(0, 0, -j.days)
	deleted, err := j.replies.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if markErr := run.MarkFailed(context.WithoutCancel(ctx), err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to mark retention log failed")
		}
		metrics.RecordSyncRun(models.JobKindContactReplyRetention, trigger, "failed", j.clock.Since(start))
		return 0, fmt.Errorf("deleting expired contact replies: %w", err)
	}

	if err := run.MarkCompleted(context.WithoutCancel(ctx), models.SyncCounters{EventsProcessed: int(deleted)}); err != nil {
		log.Error().Err(err).Msg("Failed to mark retention log completed")
	}
	metrics.ContactRepliesDeletedTotal.Add(float64(deleted))
	metrics.RecordSyncRun(models.JobKindContactReplyRetention, trigger, "completed", j.clock.Since(start))

	log.Info().Int64("deleted", deleted).Int("retention_days", j.days).Msg("Contact reply retention completed")
	return deleted, nil
}
