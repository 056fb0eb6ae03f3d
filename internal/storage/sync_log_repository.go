package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/old-man-footy/backend/internal/storage/models"
)

// ErrSyncLogFinalized is returned when a sync log that already reached a
// terminal status is completed or failed again.
var ErrSyncLogFinalized = errors.New("sync log already finalized")

const syncLogColumns = `
	id, job_kind, started_at, completed_at, status, trigger_source,
	events_processed, events_created, events_updated, error_message, environment`

// SyncLogRepository records job runs and answers interval-gate queries.
type SyncLogRepository struct {
	BaseRepository
}

// NewSyncLogRepository creates a new sync log repository.
func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// SyncRun is the handle for one RUNNING sync log.
type SyncRun struct {
	repo *SyncLogRepository
	log  models.SyncLog
}

// ID returns the sync log id.
func (h *SyncRun) ID() string {
	return h.log.ID
}

// Log returns a copy of the record as last written through this handle.
func (h *SyncRun) Log() models.SyncLog {
	return h.log
}

// StartSync creates a RUNNING sync log of the given kind.
func (r *SyncLogRepository) StartSync(ctx context.Context, kind string, meta models.SyncMeta) (*SyncRun, error) {
	entry := models.SyncLog{
		ID:            GenerateID(),
		JobKind:       kind,
		StartedAt:     r.Now(),
		Status:        models.SyncStatusRunning,
		TriggerSource: meta.TriggerSource,
		Environment:   meta.Environment,
	}
	if entry.Environment == "" {
		entry.Environment = "production"
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_logs (id, job_kind, started_at, status, trigger_source, environment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.JobKind, entry.StartedAt, entry.Status, entry.TriggerSource, entry.Environment)
	if err != nil {
		return nil, fmt.Errorf("inserting sync log: %w", err)
	}

	return &SyncRun{repo: r, log: entry}, nil
}

// MarkCompleted transitions the log to COMPLETED with the given counters.
func (h *SyncRun) MarkCompleted(ctx context.Context, counters models.SyncCounters) error {
	now := h.repo.Now()
	result, err := h.repo.DB().ExecContext(ctx, `
		UPDATE sync_logs SET
			status = ?, completed_at = ?,
			events_processed = ?, events_created = ?, events_updated = ?
		WHERE id = ? AND status = ?
	`,
		models.SyncStatusCompleted, now,
		counters.EventsProcessed, counters.EventsCreated, counters.EventsUpdated,
		h.log.ID, models.SyncStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("completing sync log: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSyncLogFinalized
	}

	h.log.Status = models.SyncStatusCompleted
	h.log.CompletedAt = &now
	h.log.EventsProcessed = counters.EventsProcessed
	h.log.EventsCreated = counters.EventsCreated
	h.log.EventsUpdated = counters.EventsUpdated
	return nil
}

// MarkFailed transitions the log to FAILED with the error message.
func (h *SyncRun) MarkFailed(ctx context.Context, errorMessage string) error {
	now := h.repo.Now()
	result, err := h.repo.DB().ExecContext(ctx, `
		UPDATE sync_logs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, models.SyncStatusFailed, now, errorMessage, h.log.ID, models.SyncStatusRunning)
	if err != nil {
		return fmt.Errorf("failing sync log: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSyncLogFinalized
	}

	h.log.Status = models.SyncStatusFailed
	h.log.CompletedAt = &now
	h.log.ErrorMessage = &errorMessage
	return nil
}

func scanSyncLog(row rowScanner) (*models.SyncLog, error) {
	var (
		entry       models.SyncLog
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(
		&entry.ID, &entry.JobKind, &entry.StartedAt, &completedAt, &entry.Status,
		&entry.TriggerSource, &entry.EventsProcessed, &entry.EventsCreated,
		&entry.EventsUpdated, &errMsg, &entry.Environment,
	)
	if err != nil {
		return nil, err
	}
	entry.CompletedAt = timePtr(completedAt)
	if errMsg.Valid {
		entry.ErrorMessage = &errMsg.String
	}
	return &entry, nil
}

// GetLastSuccessfulSync returns the most recent COMPLETED log of kind, or nil.
func (r *SyncLogRepository) GetLastSuccessfulSync(ctx context.Context, kind string) (*models.SyncLog, error) {
	entry, err := scanSyncLog(r.DB().QueryRowContext(ctx, `
		SELECT `+syncLogColumns+` FROM sync_logs
		WHERE job_kind = ? AND status = ?
		ORDER BY completed_at DESC
		LIMIT 1
	`, kind, models.SyncStatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last successful sync: %w", err)
	}
	return entry, nil
}

// ShouldRunSync reports whether no COMPLETED log of kind exists within the
// last hours hours.
func (r *SyncLogRepository) ShouldRunSync(ctx context.Context, kind string, hours int) (bool, error) {
	last, err := r.GetLastSuccessfulSync(ctx, kind)
	if err != nil {
		return false, err
	}
	if last == nil || last.CompletedAt == nil {
		return true, nil
	}
	cutoff := r.Now().Add(-time.Duration(hours) * time.Hour)
	return last.CompletedAt.Before(cutoff), nil
}

// List returns the most recent logs, optionally filtered by kind.
func (r *SyncLogRepository) List(ctx context.Context, kind string, limit int) ([]models.SyncLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + syncLogColumns + ` FROM sync_logs`
	args := []any{}
	if kind != "" {
		query += ` WHERE job_kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sync logs: %w", err)
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		entry, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log: %w", err)
		}
		logs = append(logs, *entry)
	}
	return logs, rows.Err()
}
