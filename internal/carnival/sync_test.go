package carnival

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/image"
	"github.com/old-man-footy/backend/internal/mysideline"
	"github.com/old-man-footy/backend/internal/storage"
	"github.com/old-man-footy/backend/internal/storage/models"
)

const eventURLPrefix = "https://profile.mysideline.com.au/register/clubsearch/?criteria="

var testNow = time.Date(2025, time.June, 1, 10, 0, 0, 0, time.Local)

func localDay(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	return &t
}

type fakeSource struct {
	mu       sync.Mutex
	events   []mysideline.Event
	calls    int
	entered  chan struct{}
	release  chan struct{}
	panicMsg string
}

func (f *fakeSource) Scrape(ctx context.Context) []mysideline.Event {
	f.mu.Lock()
	f.calls++
	events := append([]mysideline.Event(nil), f.events...)
	entered, release, panicMsg := f.entered, f.release, f.panicMsg
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	return events
}

func (f *fakeSource) set(events ...mysideline.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	clock     *clockwork.FakeClock
	carnivals *storage.CarnivalRepository
	syncLogs  *storage.SyncLogRepository
	replies   *storage.ContactReplyRepository
	source    *fakeSource
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"), storage.WithClock(clock))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := storage.RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	return &testEnv{
		clock:     clock,
		carnivals: storage.NewCarnivalRepository(db),
		syncLogs:  storage.NewSyncLogRepository(db),
		replies:   storage.NewContactReplyRepository(db),
		source:    &fakeSource{},
	}
}

func (e *testEnv) service(logos LogoFetcher) *SyncService {
	return NewSyncService(e.carnivals, e.syncLogs, e.source, logos, e.clock, SyncConfig{Enabled: true, Environment: "test"})
}

func (e *testEnv) byExternalID(t *testing.T, id string) models.Carnival {
	t.Helper()
	rows, err := e.carnivals.FindByMySidelineID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByMySidelineID(%q): %v", id, err)
	}
	if len(rows) != 1 {
		t.Fatalf("FindByMySidelineID(%q) returned %d rows, want 1", id, len(rows))
	}
	return rows[0]
}

func (e *testEnv) logs(t *testing.T, kind string) []models.SyncLog {
	t.Helper()
	logs, err := e.syncLogs.List(context.Background(), kind, 10)
	if err != nil {
		t.Fatalf("List sync logs: %v", err)
	}
	return logs
}

// nswCarnival is the canonical event produced from the search API item
// {_id:"abc123", name:"NSW Masters Carnival (19/07/2025)", regoOpen:true, ...}.
func nswCarnival() mysideline.Event {
	date := localDay(2025, time.July, 19)
	lat, lng := -33.86, 151.21
	return mysideline.Event{
		MySidelineID:      "abc123",
		MySidelineTitle:   "NSW Masters Carnival (19/07/2025)",
		MySidelineAddress: "Ground X",
		MySidelineDate:    date,
		Title:             "NSW Masters Carnival",
		Date:              date,
		State:             "NSW",
		Location: mysideline.Location{
			Address:       "Ground X",
			State:         "NSW",
			Country:       models.DefaultCountry,
			Latitude:      &lat,
			Longitude:     &lng,
			GoogleMapsURL: "https://www.google.com/maps/search/?api=1&query=-33.86,151.21",
		},
		OrganiserContactEmail: "x@y.com",
		RegistrationLink:      eventURLPrefix + "abc123",
		IsActive:              true,
	}
}

// withoutTimestamps strips the bookkeeping timestamps from a row.
func withoutTimestamps(c models.Carnival) models.Carnival {
	c.LastMySidelineSync = nil
	c.CreatedAt = time.Time{}
	c.UpdatedAt = time.Time{}
	return c
}

func TestRunSyncIngestsNewEvent(t *testing.T) {
	env := newTestEnv(t, testNow)
	env.source.set(nswCarnival())

	svc := env.service(nil)
	res := svc.RunSync(context.Background(), models.TriggerManual)
	if !res.Success {
		t.Fatalf("RunSync failed: %s", res.Error)
	}
	if res.EventsProcessed != 1 || res.EventsCreated != 1 || res.EventsUpdated != 0 {
		t.Errorf("counters = %d/%d/%d, want 1/1/0", res.EventsProcessed, res.EventsCreated, res.EventsUpdated)
	}

	c := env.byExternalID(t, "abc123")
	if c.Title != "NSW Masters Carnival" {
		t.Errorf("Title = %q", c.Title)
	}
	if c.Date == nil || !c.Date.Equal(*localDay(2025, time.July, 19)) {
		t.Errorf("Date = %v, want 2025-07-19", c.Date)
	}
	if c.GoogleMapsURL != "https://www.google.com/maps/search/?api=1&query=-33.86,151.21" {
		t.Errorf("GoogleMapsURL = %q", c.GoogleMapsURL)
	}
	if !c.IsRegistrationOpen || !c.IsActive {
		t.Errorf("IsRegistrationOpen = %v, IsActive = %v, want both true", c.IsRegistrationOpen, c.IsActive)
	}
	if c.IsManuallyEntered || c.Source != models.SourceMySideline || c.LocationCountry != models.DefaultCountry {
		t.Errorf("origin fields = %v/%q/%q", c.IsManuallyEntered, c.Source, c.LocationCountry)
	}
	if c.MySidelineTitle != "NSW Masters Carnival (19/07/2025)" || c.MySidelineAddress != "Ground X" {
		t.Errorf("immutable triple = %q/%q", c.MySidelineTitle, c.MySidelineAddress)
	}
	if c.LastMySidelineSync == nil || !c.LastMySidelineSync.Equal(testNow) {
		t.Errorf("LastMySidelineSync = %v, want %v", c.LastMySidelineSync, testNow)
	}

	logs := env.logs(t, models.JobKindMySideline)
	if len(logs) != 1 {
		t.Fatalf("got %d sync logs, want 1", len(logs))
	}
	got := logs[0]
	if got.ID != res.SyncLogID || got.Status != models.SyncStatusCompleted || got.TriggerSource != models.TriggerManual || got.Environment != "test" {
		t.Errorf("sync log = %+v", got)
	}
	if got.EventsProcessed != 1 || got.EventsCreated != 1 || got.EventsUpdated != 0 {
		t.Errorf("sync log counters = %d/%d/%d", got.EventsProcessed, got.EventsCreated, got.EventsUpdated)
	}
	if last := svc.LastSyncDate(); last == nil || !last.Equal(testNow) {
		t.Errorf("LastSyncDate = %v, want %v", last, testNow)
	}
}

func TestRunSyncMergesOnlyEmptyFields(t *testing.T) {
	env := newTestEnv(t, testNow)
	svc := env.service(nil)

	first := nswCarnival()
	first.OrganiserContactEmail = ""
	env.source.set(first)
	if res := svc.RunSync(context.Background(), models.TriggerManual); !res.Success {
		t.Fatalf("first RunSync failed: %s", res.Error)
	}
	before := env.byExternalID(t, "abc123")

	env.clock.Advance(time.Hour)
	second := nswCarnival()
	second.OrganiserContactEmail = "y@z.com"
	second.State = "QLD"
	second.Location.State = "QLD"
	second.ScheduleDetails = ""
	env.source.set(second)

	res := svc.RunSync(context.Background(), models.TriggerManual)
	if !res.Success {
		t.Fatalf("second RunSync failed: %s", res.Error)
	}
	if res.EventsCreated != 0 || res.EventsUpdated != 1 {
		t.Errorf("created/updated = %d/%d, want 0/1", res.EventsCreated, res.EventsUpdated)
	}

	after := env.byExternalID(t, "abc123")
	if after.OrganiserContactEmail != "y@z.com" {
		t.Errorf("OrganiserContactEmail = %q, want y@z.com", after.OrganiserContactEmail)
	}
	if after.LastMySidelineSync == nil || !after.LastMySidelineSync.Equal(testNow.Add(time.Hour)) {
		t.Errorf("LastMySidelineSync = %v", after.LastMySidelineSync)
	}

	want := withoutTimestamps(before)
	want.OrganiserContactEmail = "y@z.com"
	if got := withoutTimestamps(after); !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected field changes:\n got %+v\nwant %+v", got, want)
	}
	if svc.LastSyncDate() == nil {
		t.Error("LastSyncDate not recorded")
	}
}

func TestRunSyncSkipsPastEvent(t *testing.T) {
	env := newTestEnv(t, testNow)
	ctx := context.Background()

	stored := &models.Carnival{
		Source:          models.SourceMySideline,
		MySidelineID:    "old1",
		MySidelineTitle: "Old Carnival",
		Title:           "Old Carnival",
		Date:            localDay(2020, time.January, 1),
		IsActive:        true,
	}
	if err := env.carnivals.Insert(ctx, stored); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	incoming := mysideline.Event{
		MySidelineID:          "old1",
		MySidelineTitle:       "Old Carnival",
		Title:                 "Old Carnival",
		Date:                  localDay(2020, time.January, 1),
		OrganiserContactEmail: "new@x.com",
		Location:              mysideline.Location{Country: models.DefaultCountry},
		IsActive:              true,
	}
	env.source.set(incoming)

	res := env.service(nil).RunSync(ctx, models.TriggerManual)
	if !res.Success {
		t.Fatalf("RunSync failed: %s", res.Error)
	}
	if res.CarnivalsDeactivated != 1 {
		t.Errorf("CarnivalsDeactivated = %d, want 1", res.CarnivalsDeactivated)
	}
	if res.EventsCreated != 0 {
		t.Errorf("EventsCreated = %d, want 0", res.EventsCreated)
	}

	got := env.byExternalID(t, "old1")
	if got.IsActive {
		t.Error("past carnival still active")
	}
	if got.OrganiserContactEmail != "" || got.LocationCountry != "" {
		t.Errorf("past carnival was merged: email %q, country %q", got.OrganiserContactEmail, got.LocationCountry)
	}
	if got.LastMySidelineSync != nil {
		t.Errorf("LastMySidelineSync = %v, want untouched", got.LastMySidelineSync)
	}
}

func TestRunSyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testNow)
	svc := env.service(nil)
	env.source.set(nswCarnival())

	svc.RunSync(context.Background(), models.TriggerManual)
	before := env.byExternalID(t, "abc123")

	env.clock.Advance(24 * time.Hour)
	res := svc.RunSync(context.Background(), models.TriggerScheduled)
	if !res.Success || res.EventsCreated != 0 || res.EventsProcessed != 1 {
		t.Fatalf("second run = %+v", res)
	}

	after := env.byExternalID(t, "abc123")
	if !reflect.DeepEqual(withoutTimestamps(after), withoutTimestamps(before)) {
		t.Errorf("second run changed fields:\n got %+v\nwant %+v", withoutTimestamps(after), withoutTimestamps(before))
	}
	if !after.LastMySidelineSync.After(*before.LastMySidelineSync) {
		t.Errorf("LastMySidelineSync not advanced: %v -> %v", before.LastMySidelineSync, after.LastMySidelineSync)
	}
}

func TestRunSyncLeavesManualCarnivals(t *testing.T) {
	env := newTestEnv(t, testNow)
	ctx := context.Background()

	manual := &models.Carnival{
		Source:            models.SourceManual,
		IsManuallyEntered: true,
		Title:             "NSW Masters Carnival",
		Date:              localDay(2025, time.July, 19),
		IsActive:          true,
	}
	if err := env.carnivals.Insert(ctx, manual); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	before, _ := env.carnivals.GetByID(ctx, manual.ID)

	env.source.set(nswCarnival())
	env.clock.Advance(time.Minute)
	if res := env.service(nil).RunSync(ctx, models.TriggerManual); !res.Success || res.EventsCreated != 1 {
		t.Fatalf("RunSync = %+v", res)
	}

	after, _ := env.carnivals.GetByID(ctx, manual.ID)
	if !reflect.DeepEqual(withoutTimestamps(*after), withoutTimestamps(*before)) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("manual carnival modified:\n got %+v\nwant %+v", *after, *before)
	}

	counts, err := env.carnivals.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Manual != 1 || counts.Imported != 1 {
		t.Errorf("counts = %+v, want 1 manual and 1 imported", counts)
	}
}

func TestRunSyncDisabled(t *testing.T) {
	env := newTestEnv(t, testNow)
	env.source.set(nswCarnival())
	svc := NewSyncService(env.carnivals, env.syncLogs, env.source, nil, env.clock, SyncConfig{Enabled: false})

	res := svc.RunSync(context.Background(), models.TriggerManual)
	if !res.Success || res.Message != MessageDisabled || res.EventsProcessed != 0 {
		t.Errorf("RunSync = %+v, want disabled success", res)
	}
	if env.source.callCount() != 0 {
		t.Error("scraper invoked while disabled")
	}
	if logs := env.logs(t, models.JobKindMySideline); len(logs) != 0 {
		t.Errorf("disabled run opened %d sync logs", len(logs))
	}
}

func TestRunSyncRejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t, testNow)
	env.source.set(nswCarnival())
	env.source.entered = make(chan struct{}, 1)
	env.source.release = make(chan struct{})
	svc := env.service(nil)

	done := make(chan Result, 1)
	go func() { done <- svc.RunSync(context.Background(), models.TriggerScheduled) }()

	select {
	case <-env.source.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the scraper")
	}
	if !svc.IsRunning() {
		t.Error("IsRunning = false during sync")
	}

	second := svc.RunSync(context.Background(), models.TriggerManual)
	if !second.Skipped || second.Message != MessageAlreadyRunning {
		t.Errorf("second RunSync = %+v, want skipped", second)
	}

	close(env.source.release)
	first := <-done
	if !first.Success || first.EventsCreated != 1 {
		t.Errorf("first RunSync = %+v", first)
	}
	if svc.IsRunning() {
		t.Error("IsRunning = true after sync finished")
	}
	if logs := env.logs(t, models.JobKindMySideline); len(logs) != 1 {
		t.Errorf("got %d sync logs, want 1", len(logs))
	}
}

func TestRunSyncEmptyScrape(t *testing.T) {
	env := newTestEnv(t, testNow)

	res := env.service(nil).RunSync(context.Background(), models.TriggerStartup)
	if !res.Success || res.Message != MessageNoEvents || res.EventsProcessed != 0 {
		t.Errorf("RunSync = %+v", res)
	}
	logs := env.logs(t, models.JobKindMySideline)
	if len(logs) != 1 || logs[0].Status != models.SyncStatusCompleted || logs[0].EventsProcessed != 0 {
		t.Errorf("sync logs = %+v", logs)
	}
}

func TestRunSyncPanicMarksFailed(t *testing.T) {
	env := newTestEnv(t, testNow)
	env.source.panicMsg = "browser exploded"
	svc := env.service(nil)

	res := svc.RunSync(context.Background(), models.TriggerManual)
	if res.Success || !strings.Contains(res.Error, "browser exploded") {
		t.Errorf("RunSync = %+v, want failure", res)
	}
	if svc.IsRunning() {
		t.Error("running flag not cleared after panic")
	}

	logs := env.logs(t, models.JobKindMySideline)
	if len(logs) != 1 || logs[0].Status != models.SyncStatusFailed {
		t.Fatalf("sync logs = %+v", logs)
	}
	if logs[0].ErrorMessage == nil || !strings.Contains(*logs[0].ErrorMessage, "browser exploded") {
		t.Errorf("ErrorMessage = %v", logs[0].ErrorMessage)
	}
	if ok, _ := env.syncLogs.ShouldRunSync(context.Background(), models.JobKindMySideline, 24); !ok {
		t.Error("failed run should not satisfy the interval gate")
	}
}

func newTestDownloader(t *testing.T) (*image.Downloader, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := image.DefaultConfig(dir)
	cfg.RetryBackoff = time.Millisecond
	cfg.RequestSpacing = time.Millisecond
	cfg.Timeout = 2 * time.Second
	return image.New(cfg), dir
}

func TestRunSyncDownloadsLogoAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG\r\n\x1a\nlogo"))
	}))
	defer srv.Close()

	env := newTestEnv(t, testNow)
	event := nswCarnival()
	event.ClubLogoURL = srv.URL + "/logos/nsw.png"
	env.source.set(event)

	downloader, uploads := newTestDownloader(t)
	res := env.service(downloader).RunSync(context.Background(), models.TriggerManual)
	if !res.Success || res.LogosDownloaded != 1 || res.LogosFailed != 0 {
		t.Fatalf("RunSync = %+v", res)
	}
	if hits.Load() != 3 {
		t.Errorf("logo requests = %d, want 3", hits.Load())
	}

	c := env.byExternalID(t, "abc123")
	prefix := "/uploads/carnival/" + c.ID + "/logo/"
	if !strings.HasPrefix(c.ClubLogoURL, prefix) || !c.HasLocalLogo() {
		t.Fatalf("ClubLogoURL = %q, want prefix %q", c.ClubLogoURL, prefix)
	}
	stored := filepath.Join(uploads, filepath.FromSlash(strings.TrimPrefix(c.ClubLogoURL, "/uploads/")))
	if _, err := os.Stat(stored); err != nil {
		t.Errorf("logo file missing: %v", err)
	}

	// A second run keeps the stored copy.
	env.clock.Advance(time.Hour)
	res = env.service(downloader).RunSync(context.Background(), models.TriggerManual)
	if res.LogosDownloaded != 0 || hits.Load() != 3 {
		t.Errorf("logo downloaded again: %+v, hits %d", res, hits.Load())
	}
	if again := env.byExternalID(t, "abc123"); again.ClubLogoURL != c.ClubLogoURL {
		t.Errorf("ClubLogoURL changed to %q", again.ClubLogoURL)
	}
}

func TestRunSyncClearsFailedLogo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a logo</html>"))
	}))
	defer srv.Close()

	env := newTestEnv(t, testNow)
	event := nswCarnival()
	event.ClubLogoURL = srv.URL + "/logo.png"
	env.source.set(event)

	downloader, _ := newTestDownloader(t)
	res := env.service(downloader).RunSync(context.Background(), models.TriggerManual)
	if !res.Success || res.LogosFailed != 1 {
		t.Fatalf("RunSync = %+v", res)
	}
	if c := env.byExternalID(t, "abc123"); c.ClubLogoURL != "" {
		t.Errorf("ClubLogoURL = %q, want cleared", c.ClubLogoURL)
	}
}

type duplicatingStore struct {
	*storage.CarnivalRepository
	duplicateID string
}

func (s duplicatingStore) FindByMySidelineID(ctx context.Context, id string) ([]models.Carnival, error) {
	rows, err := s.CarnivalRepository.FindByMySidelineID(ctx, id)
	if err == nil && id == s.duplicateID && len(rows) == 1 {
		rows = append(rows, rows[0])
	}
	return rows, err
}

func TestReconcileAbortsDuplicateExternalID(t *testing.T) {
	env := newTestEnv(t, testNow)
	ctx := context.Background()

	dup := &models.Carnival{Source: models.SourceMySideline, MySidelineID: "dup", Title: "Dup", Date: localDay(2025, time.August, 1), IsActive: true}
	if err := env.carnivals.Insert(ctx, dup); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	r := NewReconciler(duplicatingStore{env.carnivals, "dup"}, env.clock)
	outcomes := r.Reconcile(ctx, []mysideline.Event{
		{MySidelineID: "dup", Title: "Dup", Date: localDay(2025, time.August, 1), OrganiserContactEmail: "a@b.com"},
		{MySidelineID: "fresh", Title: "Fresh", Date: localDay(2025, time.August, 2)},
	}, env.clock.Now())

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	if outcomes[0].Action != ActionFailed || !outcomes[0].IsDuplicateExternalID() {
		t.Errorf("outcome[0] = %+v, want duplicate failure", outcomes[0])
	}
	if outcomes[1].Action != ActionCreated {
		t.Errorf("outcome[1] = %+v, want created", outcomes[1])
	}
	if got := Tally(outcomes); got != (models.SyncCounters{EventsProcessed: 1, EventsCreated: 1}) {
		t.Errorf("Tally = %+v", got)
	}

	stored, _ := env.carnivals.GetByID(ctx, dup.ID)
	if stored.OrganiserContactEmail != "" {
		t.Error("duplicate row was written")
	}
}

func TestReconcileMatchStrategies(t *testing.T) {
	env := newTestEnv(t, testNow)
	ctx := context.Background()
	date := localDay(2025, time.September, 6)

	byImmutable := &models.Carnival{
		Source:            models.SourceMySideline,
		MySidelineTitle:   "QLD Masters Day (06/09/2025)",
		MySidelineAddress: "Oval Y",
		MySidelineDate:    date,
		Title:             "QLD Masters Day",
		Date:              date,
		RegistrationLink:  "https://old.example/register",
		IsActive:          true,
	}
	byDateTitle := &models.Carnival{
		Source:   models.SourceMySideline,
		Title:    "Country Masters",
		Date:     date,
		IsActive: true,
	}
	for _, c := range []*models.Carnival{byImmutable, byDateTitle} {
		if err := env.carnivals.Insert(ctx, c); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	r := NewReconciler(env.carnivals, env.clock)
	outcomes := r.Reconcile(ctx, []mysideline.Event{
		{
			MySidelineID:      "q1",
			MySidelineTitle:   "QLD Masters Day (06/09/2025)",
			MySidelineAddress: "Oval Y",
			MySidelineDate:    date,
			Title:             "QLD Masters Day",
			Date:              date,
			RegistrationLink:  eventURLPrefix + "q1",
		},
		{
			MySidelineID:    "c1",
			MySidelineTitle: "Country Masters (06/09/2025)",
			Title:           "Country Masters",
			Date:            date,
			State:           "NSW",
		},
	}, env.clock.Now())

	for i, want := range []string{byImmutable.ID, byDateTitle.ID} {
		if outcomes[i].Action != ActionUpdated || outcomes[i].CarnivalID != want {
			t.Errorf("outcome[%d] = %+v, want update of %s", i, outcomes[i], want)
		}
	}

	got := env.byExternalID(t, "q1")
	if got.ID != byImmutable.ID || got.RegistrationLink != eventURLPrefix+"q1" {
		t.Errorf("immutable match = %s %q", got.ID, got.RegistrationLink)
	}
	got = env.byExternalID(t, "c1")
	if got.ID != byDateTitle.ID || got.State != "NSW" {
		t.Errorf("date/title match = %s %q", got.ID, got.State)
	}
	if got.MySidelineTitle != "" {
		t.Errorf("immutable title rewritten to %q", got.MySidelineTitle)
	}
}

func TestReconcileInsertRules(t *testing.T) {
	midnight := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.Local)

	tests := []struct {
		name         string
		date         *time.Time
		wantRegoOpen bool
		wantActive   bool
	}{
		{"exactly seven days ahead", localDay(2025, time.June, 8), false, true},
		{"eight days ahead", localDay(2025, time.June, 9), true, true},
		{"today", localDay(2025, time.June, 1), false, true},
		{"no date", nil, false, true},
		{"already past", localDay(2025, time.May, 31), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, midnight)
			r := NewReconciler(env.carnivals, env.clock)

			out := r.Reconcile(context.Background(), []mysideline.Event{
				{MySidelineID: "e1", Title: "Event", Date: tt.date, IsActive: true},
			}, env.clock.Now())
			if out[0].Action != ActionCreated {
				t.Fatalf("outcome = %+v", out[0])
			}

			c := env.byExternalID(t, "e1")
			if c.IsRegistrationOpen != tt.wantRegoOpen {
				t.Errorf("IsRegistrationOpen = %v, want %v", c.IsRegistrationOpen, tt.wantRegoOpen)
			}
			if c.IsActive != tt.wantActive {
				t.Errorf("IsActive = %v, want %v", c.IsActive, tt.wantActive)
			}
			if c.LocationCountry != models.DefaultCountry {
				t.Errorf("LocationCountry = %q", c.LocationCountry)
			}
		})
	}
}

func TestDeactivatePastBoundary(t *testing.T) {
	env := newTestEnv(t, testNow)
	ctx := context.Background()

	today := &models.Carnival{Title: "Today", Date: localDay(2025, time.June, 1), IsActive: true}
	yesterday := &models.Carnival{Title: "Yesterday", Date: localDay(2025, time.May, 31), IsActive: true}
	for _, c := range []*models.Carnival{today, yesterday} {
		if err := env.carnivals.Insert(ctx, c); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := NewReconciler(env.carnivals, env.clock).DeactivatePast(ctx)
	if err != nil {
		t.Fatalf("DeactivatePast: %v", err)
	}
	if n != 1 {
		t.Errorf("deactivated %d, want 1", n)
	}

	got, _ := env.carnivals.GetByID(ctx, today.ID)
	if !got.IsActive {
		t.Error("carnival dated today was deactivated")
	}
	got, _ = env.carnivals.GetByID(ctx, yesterday.ID)
	if got.IsActive {
		t.Error("carnival dated yesterday still active")
	}
}

func TestTally(t *testing.T) {
	outcomes := []Outcome{
		{Action: ActionCreated},
		{Action: ActionUpdated},
		{Action: ActionSkipped},
		{Action: ActionFailed, Err: errors.New("boom")},
		{Action: ActionCreated},
	}
	want := models.SyncCounters{EventsProcessed: 4, EventsCreated: 2, EventsUpdated: 2}
	if got := Tally(outcomes); got != want {
		t.Errorf("Tally = %+v, want %+v", got, want)
	}
}

type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f cancellingFetcher) DownloadMany(ctx context.Context, reqs []image.Request) []image.Result {
	f.cancel()
	results := make([]image.Result, len(reqs))
	for i, req := range reqs {
		results[i] = image.Result{OriginalURL: req.URL, Err: context.Canceled}
	}
	return results
}

type cancellingStore struct {
	*storage.CarnivalRepository
	cancel context.CancelFunc
}

func (s cancellingStore) FindByMySidelineID(ctx context.Context, id string) ([]models.Carnival, error) {
	s.cancel()
	return s.CarnivalRepository.FindByMySidelineID(ctx, id)
}

func TestRunSyncCancelledMidRunMarksFailed(t *testing.T) {
	const remoteLogo = "https://cdn.example.com/nsw.png"

	tests := []struct {
		name        string
		build       func(env *testEnv, cancel context.CancelFunc) *SyncService
		wantStored  int
		wantLogoURL string
	}{
		{
			name: "during reconciliation",
			build: func(env *testEnv, cancel context.CancelFunc) *SyncService {
				return NewSyncService(cancellingStore{env.carnivals, cancel}, env.syncLogs, env.source, nil, env.clock, SyncConfig{Enabled: true, Environment: "test"})
			},
		},
		{
			name: "during logo download",
			build: func(env *testEnv, cancel context.CancelFunc) *SyncService {
				return env.service(cancellingFetcher{cancel})
			},
			wantStored:  1,
			wantLogoURL: remoteLogo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testNow)
			event := nswCarnival()
			event.ClubLogoURL = remoteLogo
			env.source.set(event)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res := tt.build(env, cancel).RunSync(ctx, models.TriggerScheduled)
			if res.Success || !strings.Contains(res.Error, "cancelled") {
				t.Fatalf("RunSync = %+v, want cancelled failure", res)
			}

			logs := env.logs(t, models.JobKindMySideline)
			if len(logs) != 1 || logs[0].Status != models.SyncStatusFailed {
				t.Fatalf("sync logs = %+v, want one FAILED", logs)
			}
			due, err := env.syncLogs.ShouldRunSync(context.Background(), models.JobKindMySideline, 24)
			if err != nil || !due {
				t.Errorf("ShouldRunSync = %v, %v; a cancelled run must not satisfy the interval gate", due, err)
			}

			counts, err := env.carnivals.Counts(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if counts.Total != tt.wantStored {
				t.Fatalf("stored carnivals = %d, want %d", counts.Total, tt.wantStored)
			}
			if tt.wantStored > 0 {
				if c := env.byExternalID(t, "abc123"); c.ClubLogoURL != tt.wantLogoURL {
					t.Errorf("ClubLogoURL = %q, want %q kept", c.ClubLogoURL, tt.wantLogoURL)
				}
			}
		})
	}
}

type panickingClock struct {
	clockwork.Clock
}

func (panickingClock) Now() time.Time { panic("clock unavailable") }

func TestRunSyncRecoversPanicBeforePipeline(t *testing.T) {
	env := newTestEnv(t, testNow)
	svc := NewSyncService(env.carnivals, env.syncLogs, env.source, nil, panickingClock{env.clock}, SyncConfig{Enabled: true})

	res := svc.RunSync(context.Background(), models.TriggerManual)
	if res.Success || !strings.Contains(res.Error, "clock unavailable") {
		t.Errorf("RunSync = %+v, want recovered panic", res)
	}
	if svc.IsRunning() {
		t.Error("lock still held after recovered panic")
	}
}
