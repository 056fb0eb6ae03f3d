package carnival

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/image"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/metrics"
	"github.com/old-man-footy/backend/internal/mysideline"
	"github.com/old-man-footy/backend/internal/storage"
	"github.com/old-man-footy/backend/internal/storage/models"
)

// Result messages.
const (
	MessageDisabled       = "disabled"
	MessageAlreadyRunning = "sync already in progress"
	MessageNoEvents       = "no events found"
	MessageCompleted      = "sync completed"
)

// EntityTypeCarnival names carnival images on disk.
const EntityTypeCarnival = "carnival"

// EventSource yields the currently published events.
type EventSource interface {
	Scrape(ctx context.Context) []mysideline.Event
}

// LogoFetcher downloads remote logos into local storage.
type LogoFetcher interface {
	DownloadMany(ctx context.Context, reqs []image.Request) []image.Result
}

// SyncConfig holds the orchestrator settings.
type SyncConfig struct {
	Enabled     bool
	Environment string
}

// Result is the structured outcome of one RunSync call.
type Result struct {
	Success              bool   `json:"success"`
	Skipped              bool   `json:"skipped,omitempty"`
	Message              string `json:"message,omitempty"`
	Error                string `json:"error,omitempty"`
	SyncLogID            string `json:"sync_log_id,omitempty"`
	Trigger              string `json:"trigger"`
	EventsProcessed      int    `json:"events_processed"`
	EventsCreated        int    `json:"events_created"`
	EventsUpdated        int    `json:"events_updated"`
	CarnivalsDeactivated int64  `json:"carnivals_deactivated"`
	LogosDownloaded      int    `json:"logos_downloaded"`
	LogosFailed          int    `json:"logos_failed"`
	DurationMs           int64  `json:"duration_ms"`
}

// SyncService runs the MySideline synchronisation. At most one run executes
// at a time per process.
type SyncService struct {
	carnivals  CarnivalStore
	syncLogs   *storage.SyncLogRepository
	source     EventSource
	logos      LogoFetcher
	reconciler *Reconciler
	clock      clockwork.Clock
	cfg        SyncConfig

	running  atomic.Bool
	lastSync atomic.Pointer[time.Time]
}

// NewSyncService creates a new MySideline sync service.
func NewSyncService(
	carnivals CarnivalStore,
	syncLogs *storage.SyncLogRepository,
	source EventSource,
	logos LogoFetcher,
	clock clockwork.Clock,
	cfg SyncConfig,
) *SyncService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SyncService{
		carnivals:  carnivals,
		syncLogs:   syncLogs,
		source:     source,
		logos:      logos,
		reconciler: NewReconciler(carnivals, clock),
		clock:      clock,
		cfg:        cfg,
	}
}

// IsRunning reports whether a sync is in progress.
func (s *SyncService) IsRunning() bool {
	return s.running.Load()
}

// LastSyncDate returns when the last run in this process completed, or nil.
func (s *SyncService) LastSyncDate() *time.Time {
	return s.lastSync.Load()
}

// RunSync performs one synchronisation. Failures are reported in the
// Result; nothing escapes as a panic.
func (s *SyncService) RunSync(ctx context.Context, trigger string) Result {
	if !s.cfg.Enabled {
		return s.disabled(ctx, trigger)
	}
	if !s.claim() {
		log := logging.Ctx(ctx).With().Str("component", "sync").Str("trigger", trigger).Logger()
		log.Info().Msg("MySideline sync already in progress, skipping")
		metrics.RecordSyncRun(models.JobKindMySideline, trigger, "skipped", 0)
		return Result{Success: true, Skipped: true, Message: MessageAlreadyRunning, Trigger: trigger}
	}
	return s.runClaimed(ctx, trigger)
}

// claim takes the single-writer lock. A successful claim must be followed
// by runClaimed or release.
func (s *SyncService) claim() bool {
	return s.running.CompareAndSwap(false, true)
}

func (s *SyncService) release() {
	s.running.Store(false)
}

func (s *SyncService) disabled(ctx context.Context, trigger string) Result {
	log := logging.Ctx(ctx).With().Str("component", "sync").Str("trigger", trigger).Logger()
	log.Info().Msg("MySideline sync disabled, skipping")
	metrics.RecordSyncRun(models.JobKindMySideline, trigger, "disabled", 0)
	return Result{Success: true, Message: MessageDisabled, Trigger: trigger}
}

// runClaimed runs the sync while holding the lock taken by claim, and
// releases it on return.
func (s *SyncService) runClaimed(ctx context.Context, trigger string) (res Result) {
	defer s.release()

	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())
	log := logging.Ctx(ctx).With().Str("component", "sync").Str("trigger", trigger).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("MySideline sync panicked outside the pipeline")
			metrics.RecordSyncRun(models.JobKindMySideline, trigger, "failed", 0)
			res = Result{Success: false, Error: fmt.Sprintf("sync panicked: %v", r), Trigger: trigger, SyncLogID: res.SyncLogID}
		}
	}()

	if !s.cfg.Enabled {
		return s.disabled(ctx, trigger)
	}

	metrics.SyncInProgress.Set(1)
	defer metrics.SyncInProgress.Set(0)

	start := s.clock.Now()
	run, err := s.syncLogs.StartSync(ctx, models.JobKindMySideline, models.SyncMeta{
		TriggerSource: trigger,
		Environment:   s.cfg.Environment,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open sync log")
		metrics.RecordSyncRun(models.JobKindMySideline, trigger, "failed", 0)
		return Result{Success: false, Error: err.Error(), Trigger: trigger}
	}

	log.Info().Str("sync_log_id", run.ID()).Msg("MySideline sync started")

	res, err = s.execute(ctx, start)
	res.Trigger = trigger
	res.SyncLogID = run.ID()
	duration := s.clock.Since(start)
	res.DurationMs = duration.Milliseconds()

	// The log must be finalised even when ctx was cancelled mid-run.
	finalCtx := context.WithoutCancel(ctx)

	if err != nil {
		if markErr := run.MarkFailed(finalCtx, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to mark sync log failed")
		}
		metrics.RecordSyncRun(models.JobKindMySideline, trigger, "failed", duration)
		log.Error().Err(err).Dur("duration", duration).Msg("MySideline sync failed")

		res.Success = false
		res.Error = err.Error()
		return res
	}

	counters := models.SyncCounters{
		EventsProcessed: res.EventsProcessed,
		EventsCreated:   res.EventsCreated,
		EventsUpdated:   res.EventsUpdated,
	}
	if markErr := run.MarkCompleted(finalCtx, counters); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to mark sync log completed")
	}

	completedAt := s.clock.Now()
	s.lastSync.Store(&completedAt)
	metrics.RecordSyncRun(models.JobKindMySideline, trigger, "completed", duration)

	log.Info().
		Int("events_processed", res.EventsProcessed).
		Int("events_created", res.EventsCreated).
		Int("events_updated", res.EventsUpdated).
		Int("logos_downloaded", res.LogosDownloaded).
		Int("logos_failed", res.LogosFailed).
		Dur("duration", duration).
		Msg("MySideline sync completed")

	res.Success = true
	return res
}

// execute runs the pipeline after the sync log has been opened.
func (s *SyncService) execute(ctx context.Context, runAt time.Time) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
	}()

	log := logging.Ctx(ctx).With().Str("component", "sync").Logger()

	deactivated, derr := s.reconciler.DeactivatePast(ctx)
	if derr != nil {
		log.Warn().Err(derr).Msg("Past carnival deactivation incomplete")
	}
	res.CarnivalsDeactivated = deactivated
	log.Info().Int64("deactivated", deactivated).Msg("Past carnivals deactivated")

	events := s.source.Scrape(ctx)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("sync cancelled: %w", err)
	}
	if len(events) == 0 {
		log.Info().Msg("No events returned by scraper")
		res.Message = MessageNoEvents
		return res, nil
	}

	cleaned := make([]mysideline.Event, 0, len(events))
	for _, e := range events {
		cleaned = append(cleaned, mysideline.Clean(e))
	}
	log.Info().Int("events", len(cleaned)).Msg("Reconciling events")

	outcomes := s.reconciler.Reconcile(ctx, cleaned, runAt)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("sync cancelled during reconciliation: %w", err)
	}
	counters := Tally(outcomes)
	res.EventsProcessed = counters.EventsProcessed
	res.EventsCreated = counters.EventsCreated
	res.EventsUpdated = counters.EventsUpdated

	res.LogosDownloaded, res.LogosFailed = s.fetchLogos(ctx, outcomes)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("sync cancelled during logo download: %w", err)
	}

	res.Message = MessageCompleted
	return res, nil
}

// fetchLogos downloads the remote logos written in this run and points each
// row at its stored copy, or clears the logo when the download failed.
func (s *SyncService) fetchLogos(ctx context.Context, outcomes []Outcome) (downloaded, failed int) {
	log := logging.Ctx(ctx).With().Str("component", "sync").Logger()

	var reqs []image.Request
	for _, o := range outcomes {
		if !o.Processed() || o.CarnivalID == "" || o.PendingLogo == "" {
			continue
		}
		reqs = append(reqs, image.Request{
			URL:        o.PendingLogo,
			EntityType: EntityTypeCarnival,
			EntityID:   o.CarnivalID,
			ImageType:  image.TypeLogo,
		})
	}
	if len(reqs) == 0 || s.logos == nil {
		return 0, 0
	}

	log.Info().Int("logos", len(reqs)).Msg("Downloading club logos")
	results := s.logos.DownloadMany(ctx, reqs)

	patches := make(map[string]models.CarnivalPatch, len(results))
	for i, r := range results {
		id := reqs[i].EntityID
		switch {
		case r.Success:
			patches[id] = models.CarnivalPatch{models.FieldClubLogoURL: r.PublicURL}
			downloaded++
		case errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) || ctx.Err() != nil:
			// Interrupted, not rejected: keep the remote URL for the next run.
			failed++
		default:
			patches[id] = models.CarnivalPatch{models.FieldClubLogoURL: nil}
			failed++
			log.Warn().Str("carnival_id", id).Str("url", r.OriginalURL).Str("error", r.ErrorMessage()).Msg("Logo download failed, clearing logo")
		}
	}
	if err := s.carnivals.UpdateMany(context.WithoutCancel(ctx), patches); err != nil {
		log.Error().Err(err).Int("logos", len(patches)).Msg("Failed to store logo results")
	}
	return downloaded, failed
}
