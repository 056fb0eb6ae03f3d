package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/old-man-footy/backend/internal/api/middleware"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/storage/models"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// SyncLogReader reads the sync history.
type SyncLogReader interface {
	GetLastSuccessfulSync(ctx context.Context, kind string) (*models.SyncLog, error)
	List(ctx context.Context, kind string, limit int) ([]models.SyncLog, error)
}

// SyncTrigger starts a background sync.
type SyncTrigger interface {
	TriggerManual() bool
}

// TriggerSync starts a manual MySideline sync in the background.
func TriggerSync(trigger SyncTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !trigger.TriggerManual() {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "A sync is already in progress")
			return
		}
		logging.Info().Str("remote", r.RemoteAddr).Msg("Manual sync requested")
		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
	}
}

// ListSyncLogs returns recent sync log records, newest first.
func ListSyncLogs(logs SyncLogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		kind := q.Get("kind")
		switch kind {
		case "", models.JobKindMySideline, models.JobKindContactReplyRetention:
		default:
			middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation,
				"Unknown job kind", map[string]string{"param": "kind", "value": kind})
			return
		}

		limit := defaultLogLimit
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrBadRequest,
					"limit must be a positive integer", map[string]string{"param": "limit", "value": raw})
				return
			}
			limit = min(n, maxLogLimit)
		}

		entries, err := logs.List(r.Context(), kind, limit)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to list sync logs")
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list sync logs")
			return
		}
		if entries == nil {
			entries = []models.SyncLog{}
		}

		middleware.WriteJSON(w, http.StatusOK, entries)
	}
}
