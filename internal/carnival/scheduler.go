package carnival

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/config"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/storage/models"
	"github.com/robfig/cron/v3"
)

// SyncGate decides whether enough time has passed since the last
// successful run of a job.
type SyncGate interface {
	ShouldRunSync(ctx context.Context, kind string, hours int) (bool, error)
}

// SchedulerConfig holds the job schedules.
type SchedulerConfig struct {
	SyncCron          string
	SyncIntervalHours int
	StartupDelay      time.Duration
	RetentionCron     string
}

// Scheduler runs the daily MySideline sync, the startup catch-up sync and
// the contact reply retention job.
type Scheduler struct {
	cron      *cron.Cron
	sync      *SyncService
	retention *RetentionJob
	gate      SyncGate
	clock     clockwork.Clock
	cfg       SchedulerConfig

	mu           sync.Mutex
	syncEntry    cron.EntryID
	startupTimer clockwork.Timer
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler. retention may be nil.
func NewScheduler(syncService *SyncService, retention *RetentionJob, gate SyncGate, clock clockwork.Clock, cfg SchedulerConfig) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.StartupDelay < config.MinStartupDelay {
		cfg.StartupDelay = config.MinStartupDelay
	}
	if cfg.SyncIntervalHours <= 0 {
		cfg.SyncIntervalHours = 24
	}

	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.Local)),
		sync:      syncService,
		retention: retention,
		gate:      gate,
		clock:     clock,
		cfg:       cfg,
	}
}

// Start registers the jobs, starts the cron loop and arms the startup check.
func (s *Scheduler) Start(ctx context.Context) error {
	log := logging.With("scheduler")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, e := range s.cron.Entries() {
		s.cron.Remove(e.ID)
	}

	entry, err := s.cron.AddFunc(s.cfg.SyncCron, func() {
		s.runSync(models.TriggerScheduled)
	})
	if err != nil {
		return fmt.Errorf("scheduling sync %q: %w", s.cfg.SyncCron, err)
	}
	s.syncEntry = entry

	if s.retention != nil && s.cfg.RetentionCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.RetentionCron, func() {
			s.runRetention(models.TriggerScheduled)
		}); err != nil {
			s.cron.Remove(entry)
			return fmt.Errorf("scheduling contact reply retention %q: %w", s.cfg.RetentionCron, err)
		}
	}

	s.cron.Start()
	s.startupTimer = s.clock.AfterFunc(s.cfg.StartupDelay, s.startupCheck)

	log.Info().
		Str("sync_cron", s.cfg.SyncCron).
		Str("retention_cron", s.cfg.RetentionCron).
		Dur("startup_delay", s.cfg.StartupDelay).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	log := logging.With("scheduler")
	log.Info().Msg("Stopping scheduler...")

	s.mu.Lock()
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	log.Info().Msg("Scheduler stopped")
	return nil
}

// Serve runs the scheduler until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "scheduler"
}

// TriggerManual starts a sync in the background. The single-writer lock is
// taken before returning, so true means this call owns the run and false
// means another run (or a stopped scheduler) refused it.
func (s *Scheduler) TriggerManual() bool {
	if !s.sync.claim() {
		return false
	}
	started := s.goRun(func(ctx context.Context) {
		s.sync.runClaimed(ctx, models.TriggerManual)
	})
	if !started {
		s.sync.release()
	}
	return started
}

// NextRun returns the next scheduled sync time, or nil before Start.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncEntry == 0 {
		return nil
	}
	entry := s.cron.Entry(s.syncEntry)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}

// startupCheck runs a sync when none has succeeded within the interval.
func (s *Scheduler) startupCheck() {
	s.goRun(func(ctx context.Context) {
		log := logging.With("scheduler")

		ok, err := s.gate.ShouldRunSync(ctx, models.JobKindMySideline, s.cfg.SyncIntervalHours)
		if err != nil {
			log.Error().Err(err).Msg("Startup sync check failed")
			return
		}
		if !ok {
			log.Info().Int("interval_hours", s.cfg.SyncIntervalHours).Msg("Recent sync found, skipping startup sync")
			return
		}
		s.sync.RunSync(ctx, models.TriggerStartup)
	})
}

func (s *Scheduler) runSync(trigger string) {
	s.goRun(func(ctx context.Context) {
		s.sync.RunSync(ctx, trigger)
	})
}

func (s *Scheduler) runRetention(trigger string) {
	s.goRun(func(ctx context.Context) {
		if _, err := s.retention.Run(ctx, trigger); err != nil {
			log := logging.With("scheduler")
			log.Error().Err(err).Msg("Contact reply retention failed")
		}
	})
}

// goRun executes fn on the scheduler context, tracked for Stop. It reports
// false when the scheduler has been stopped.
func (s *Scheduler) goRun(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return false
	}

	// Added under mu: Stop cancels under mu before it waits.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
	return true
}
