package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/api/middleware"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/storage/models"
)

const (
	defaultUpcomingLimit = 20
	maxUpcomingLimit     = 100
)

// UpcomingLister lists active carnivals from a given day onwards.
type UpcomingLister interface {
	ListUpcoming(ctx context.Context, day time.Time, limit int) ([]models.Carnival, error)
}

// ListUpcomingCarnivals returns active carnivals dated today or later, soonest first.
func ListUpcomingCarnivals(carnivals UpcomingLister, clock clockwork.Clock) http.HandlerFunc {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultUpcomingLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrBadRequest,
					"limit must be a positive integer", map[string]string{"param": "limit", "value": raw})
				return
			}
			limit = min(n, maxUpcomingLimit)
		}

		now := clock.Now()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

		list, err := carnivals.ListUpcoming(r.Context(), today, limit)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to list upcoming carnivals")
			middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, "Carnival catalogue unavailable")
			return
		}
		if list == nil {
			list = []models.Carnival{}
		}

		middleware.WriteJSON(w, http.StatusOK, list)
	}
}
