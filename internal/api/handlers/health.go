// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/old-man-footy/backend/internal/api/middleware"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/storage/models"
)

// Pinger checks the database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CarnivalCounter summarises the carnival catalogue.
type CarnivalCounter interface {
	Counts(ctx context.Context) (models.CarnivalCounts, error)
}

// SyncState reports the in-process state of the MySideline sync.
type SyncState interface {
	IsRunning() bool
	LastSyncDate() *time.Time
}

// NextRunner reports the next scheduled sync.
type NextRunner interface {
	NextRun() *time.Time
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		middleware.WriteJSON(w, code, HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		})
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Carnivals          models.CarnivalCounts `json:"carnivals"`
	SyncRunning        bool                  `json:"sync_running"`
	LastSyncAt         *time.Time            `json:"last_sync_at,omitempty"`
	LastSuccessfulSync *models.SyncLog       `json:"last_successful_sync,omitempty"`
	NextSyncAt         *time.Time            `json:"next_sync_at,omitempty"`
}

// Status returns a handler that provides catalogue and sync status.
func Status(carnivals CarnivalCounter, logs SyncLogReader, sync SyncState, scheduler NextRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := carnivals.Counts(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to count carnivals")
			middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, "Carnival catalogue unavailable")
			return
		}

		last, err := logs.GetLastSuccessfulSync(ctx, models.JobKindMySideline)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to read last successful sync")
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to read sync history")
			return
		}

		response := StatusResponse{
			Carnivals:          counts,
			SyncRunning:        sync.IsRunning(),
			LastSyncAt:         sync.LastSyncDate(),
			LastSuccessfulSync: last,
		}
		if scheduler != nil {
			response.NextSyncAt = scheduler.NextRun()
		}

		middleware.WriteJSON(w, http.StatusOK, response)
	}
}
