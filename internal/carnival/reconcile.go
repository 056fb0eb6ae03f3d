// Package carnival converges the local carnival catalogue with the events
// published on MySideline and schedules the jobs that keep it current.
package carnival

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/metrics"
	"github.com/old-man-footy/backend/internal/mysideline"
	"github.com/old-man-footy/backend/internal/storage"
	"github.com/old-man-footy/backend/internal/storage/models"
)

// registrationLead is how far ahead an event must be for registration to be
// considered open when it is first imported.
const registrationLead = 7 * 24 * time.Hour

// CarnivalStore is the persistence the reconciler needs.
type CarnivalStore interface {
	FindByMySidelineID(ctx context.Context, mySidelineID string) ([]models.Carnival, error)
	FindByImmutableFields(ctx context.Context, title string, date *time.Time, address string) (*models.Carnival, error)
	FindByDateAndTitle(ctx context.Context, date *time.Time, title string) (*models.Carnival, error)
	Insert(ctx context.Context, c *models.Carnival) error
	Update(ctx context.Context, id string, patch models.CarnivalPatch) error
	UpdateMany(ctx context.Context, patches map[string]models.CarnivalPatch) error
	DeactivatePastBefore(ctx context.Context, day time.Time) (int64, error)
	CountActiveBefore(ctx context.Context, day time.Time) (int, error)
}

// Action is the reconciliation result for one incoming event.
type Action string

// Reconciliation actions.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Outcome describes what happened to one incoming event.
type Outcome struct {
	Action     Action
	CarnivalID string
	Title      string

	// PendingLogo is the remote logo URL written to the row in this run.
	// It still has to be downloaded.
	PendingLogo string

	Err error
}

// Processed reports whether the event counts towards the sync counters.
func (o Outcome) Processed() bool {
	return o.Err == nil && o.Action != ActionFailed
}

// Tally folds outcomes into sync log counters.
func Tally(outcomes []Outcome) models.SyncCounters {
	var c models.SyncCounters
	for _, o := range outcomes {
		if !o.Processed() {
			continue
		}
		c.EventsProcessed++
		if o.Action == ActionCreated {
			c.EventsCreated++
		}
	}
	c.EventsUpdated = c.EventsProcessed - c.EventsCreated
	return c
}

// Reconciler matches incoming events against stored carnivals and applies
// inserts and empty-field merges. Manually entered carnivals are never
// written.
type Reconciler struct {
	store CarnivalStore
	clock clockwork.Clock
}

// NewReconciler creates a reconciler.
func NewReconciler(store CarnivalStore, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{store: store, clock: clock}
}

// Reconcile processes events sequentially. A failing event is logged and
// reported in its Outcome; the rest of the batch continues.
func (r *Reconciler) Reconcile(ctx context.Context, events []mysideline.Event, runAt time.Time) []Outcome {
	log := logging.Ctx(ctx).With().Str("component", "reconciler").Logger()

	outcomes := make([]Outcome, 0, len(events))
	for _, e := range events {
		o := r.reconcileOne(ctx, e, runAt)
		if o.Err != nil {
			o.Action = ActionFailed
			log.Error().Err(o.Err).
				Str("mysideline_id", e.MySidelineID).
				Str("title", e.Title).
				Msg("Failed to reconcile event")
		}
		metrics.RecordReconcile(string(o.Action))
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (r *Reconciler) reconcileOne(ctx context.Context, e mysideline.Event, runAt time.Time) Outcome {
	out := Outcome{Title: e.Title}

	existing, err := r.match(ctx, e)
	if err != nil {
		out.Err = err
		return out
	}

	if existing == nil {
		c := r.newCarnival(e, runAt)
		if err := r.store.Insert(ctx, c); err != nil {
			out.Err = err
			return out
		}
		out.Action = ActionCreated
		out.CarnivalID = c.ID
		if c.HasRemoteLogo() {
			out.PendingLogo = c.ClubLogoURL
		}
		return out
	}

	out.CarnivalID = existing.ID
	if r.isPast(e) || !existing.IsActive {
		out.Action = ActionSkipped
		return out
	}

	patch := mergePatch(existing, e)
	patch[models.FieldLastMySidelineSync] = runAt
	if err := r.store.Update(ctx, existing.ID, patch); err != nil {
		out.Err = err
		return out
	}
	out.Action = ActionUpdated
	if logo, ok := patch[models.FieldClubLogoURL].(string); ok {
		out.PendingLogo = logo
	}
	return out
}

// match applies the lookup strategies in order and returns the first hit.
func (r *Reconciler) match(ctx context.Context, e mysideline.Event) (*models.Carnival, error) {
	if e.MySidelineID != "" {
		rows, err := r.store.FindByMySidelineID(ctx, e.MySidelineID)
		if err != nil {
			return nil, err
		}
		switch len(rows) {
		case 0:
		case 1:
			return &rows[0], nil
		default:
			return nil, fmt.Errorf("%w: %q has %d rows", storage.ErrDuplicateExternalID, e.MySidelineID, len(rows))
		}
	}

	if e.MySidelineTitle != "" {
		c, err := r.store.FindByImmutableFields(ctx, e.MySidelineTitle, e.MySidelineDate, e.MySidelineAddress)
		if err != nil || c != nil {
			return c, err
		}
	}

	return r.store.FindByDateAndTitle(ctx, e.Date, e.Title)
}

func (r *Reconciler) isPast(e mysideline.Event) bool {
	return e.Date != nil && e.Date.Before(r.clock.Now())
}

func (r *Reconciler) newCarnival(e mysideline.Event, runAt time.Time) *models.Carnival {
	now := r.clock.Now()
	country := e.Location.Country
	if country == "" {
		country = models.DefaultCountry
	}

	c := &models.Carnival{
		Source:            models.SourceMySideline,
		IsManuallyEntered: false,

		MySidelineID:      e.MySidelineID,
		MySidelineTitle:   e.MySidelineTitle,
		MySidelineAddress: e.MySidelineAddress,
		MySidelineDate:    e.MySidelineDate,

		Title:                e.Title,
		Date:                 e.Date,
		State:                e.State,
		LocationAddress:      e.Location.Address,
		LocationAddressLine1: e.Location.AddressLine1,
		LocationAddressLine2: e.Location.AddressLine2,
		LocationSuburb:       e.Location.Suburb,
		LocationPostcode:     e.Location.Postcode,
		LocationLatitude:     e.Location.Latitude,
		LocationLongitude:    e.Location.Longitude,
		LocationCountry:      country,
		GoogleMapsURL:        e.Location.GoogleMapsURL,

		OrganiserContactName:  e.OrganiserContactName,
		OrganiserContactEmail: e.OrganiserContactEmail,
		OrganiserContactPhone: e.OrganiserContactPhone,

		RegistrationLink:    e.RegistrationLink,
		SocialMediaFacebook: e.SocialMediaFacebook,
		SocialMediaWebsite:  e.SocialMediaWebsite,
		ScheduleDetails:     e.ScheduleDetails,
		ClubLogoURL:         e.ClubLogoURL,

		IsActive:           e.IsActive,
		LastMySidelineSync: &runAt,
	}

	if e.Date != nil {
		if e.Date.After(now.Add(registrationLead)) {
			c.IsRegistrationOpen = true
		}
		if e.Date.Before(startOfDay(now)) {
			c.IsActive = false
		}
	}
	return c
}

// mergePatch lists the fields that are empty on the stored row and present
// on the incoming event.
func mergePatch(existing *models.Carnival, e mysideline.Event) models.CarnivalPatch {
	patch := models.CarnivalPatch{}
	fillString := func(field, stored, incoming string) {
		if stored == "" && incoming != "" {
			patch[field] = incoming
		}
	}
	fillFloat := func(field string, stored, incoming *float64) {
		if stored == nil && incoming != nil {
			patch[field] = incoming
		}
	}

	fillString(models.FieldLocationAddress, existing.LocationAddress, e.Location.Address)
	fillString(models.FieldLocationAddressLine1, existing.LocationAddressLine1, e.Location.AddressLine1)
	fillString(models.FieldLocationAddressLine2, existing.LocationAddressLine2, e.Location.AddressLine2)
	fillString(models.FieldLocationSuburb, existing.LocationSuburb, e.Location.Suburb)
	fillString(models.FieldLocationPostcode, existing.LocationPostcode, e.Location.Postcode)
	fillFloat(models.FieldLocationLatitude, existing.LocationLatitude, e.Location.Latitude)
	fillFloat(models.FieldLocationLongitude, existing.LocationLongitude, e.Location.Longitude)
	fillString(models.FieldLocationCountry, existing.LocationCountry, e.Location.Country)
	fillString(models.FieldOrganiserContactEmail, existing.OrganiserContactEmail, e.OrganiserContactEmail)
	fillString(models.FieldOrganiserContactName, existing.OrganiserContactName, e.OrganiserContactName)
	fillString(models.FieldOrganiserContactPhone, existing.OrganiserContactPhone, e.OrganiserContactPhone)
	fillString(models.FieldRegistrationLink, existing.RegistrationLink, e.RegistrationLink)
	fillString(models.FieldScheduleDetails, existing.ScheduleDetails, e.ScheduleDetails)
	fillString(models.FieldSocialMediaFacebook, existing.SocialMediaFacebook, e.SocialMediaFacebook)
	fillString(models.FieldSocialMediaWebsite, existing.SocialMediaWebsite, e.SocialMediaWebsite)
	fillString(models.FieldState, existing.State, e.State)

	// A stored remote URL is a logo whose download never completed.
	if e.ClubLogoURL != "" && (existing.ClubLogoURL == "" || existing.HasRemoteLogo()) {
		patch[models.FieldClubLogoURL] = e.ClubLogoURL
	}

	if existing.MySidelineID == "" && e.MySidelineID != "" {
		patch[models.FieldMySidelineID] = e.MySidelineID
		if e.RegistrationLink != "" {
			patch[models.FieldRegistrationLink] = e.RegistrationLink
		}
	}
	return patch
}

// DeactivatePast hides every carnival dated before today (local midnight).
func (r *Reconciler) DeactivatePast(ctx context.Context) (int64, error) {
	today := startOfDay(r.clock.Now())

	n, err := r.store.DeactivatePastBefore(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("deactivating past carnivals: %w", err)
	}
	metrics.CarnivalsDeactivatedTotal.Add(float64(n))

	remaining, err := r.store.CountActiveBefore(ctx, today)
	if err != nil {
		return n, fmt.Errorf("verifying past carnival deactivation: %w", err)
	}
	if remaining > 0 {
		return n, fmt.Errorf("%d past carnivals still active", remaining)
	}
	return n, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.In(time.Local)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

// IsDuplicateExternalID reports whether the outcome failed because the
// external id uniqueness rule was already broken in the store.
func (o Outcome) IsDuplicateExternalID() bool {
	return errors.Is(o.Err, storage.ErrDuplicateExternalID)
}
