// Package api provides HTTP routing and handlers for the operational API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/api/handlers"
	"github.com/old-man-footy/backend/internal/api/middleware"
	"github.com/old-man-footy/backend/internal/storage/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// DefaultSyncTriggerLimit is the number of manual triggers accepted per
// client IP per minute when Dependencies leaves it unset.
const DefaultSyncTriggerLimit = 6

// Scheduler is the part of the job scheduler exposed over HTTP.
type Scheduler interface {
	TriggerManual() bool
	NextRun() *time.Time
}

// Dependencies are the components the router serves.
type Dependencies struct {
	DB         handlers.Pinger
	Carnivals  handlers.CarnivalCounter
	Upcoming   handlers.UpcomingLister
	SyncLogs   handlers.SyncLogReader
	Sync       handlers.SyncState
	Scheduler  Scheduler
	UploadsDir string
	Clock      clockwork.Clock

	CORSOrigins      []string
	SyncTriggerLimit int
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(deps.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(deps.Carnivals, deps.SyncLogs, deps.Sync, deps.Scheduler)).Methods("GET")

	// Sync endpoints
	limit := deps.SyncTriggerLimit
	if limit <= 0 {
		limit = DefaultSyncTriggerLimit
	}
	api.Handle("/sync", httprate.LimitByIP(limit, time.Minute)(handlers.TriggerSync(deps.Scheduler))).Methods("POST")
	api.HandleFunc("/sync/logs", handlers.ListSyncLogs(deps.SyncLogs)).Methods("GET")

	// Catalogue endpoints
	if deps.Upcoming != nil {
		api.HandleFunc("/carnivals/upcoming", handlers.ListUpcomingCarnivals(deps.Upcoming, deps.Clock)).Methods("GET")
	}

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Stored logos
	if deps.UploadsDir != "" {
		r.PathPrefix(models.UploadsPrefix).Handler(
			http.StripPrefix(models.UploadsPrefix, http.FileServer(http.Dir(deps.UploadsDir))),
		).Methods("GET", "HEAD")
	}

	r.NotFoundHandler = middleware.Logging(http.HandlerFunc(notFound))

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "No route for "+r.URL.Path)
}

// NewHandler returns the router wrapped with CORS when origins are configured.
func NewHandler(deps Dependencies) http.Handler {
	r := NewRouter(deps)
	if len(deps.CORSOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		MaxAge:         300,
	}).Handler(r)
}
