package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/old-man-footy/backend/internal/storage/models"
)

// ErrDuplicateExternalID is returned when more than one carnival carries the
// same MySideline id.
var ErrDuplicateExternalID = errors.New("multiple carnivals share a mysideline id")

// patchableColumns lists the columns a CarnivalPatch may write.
var patchableColumns = map[string]bool{
	models.FieldMySidelineID:          true,
	models.FieldLocationAddress:       true,
	models.FieldLocationAddressLine1:  true,
	models.FieldLocationAddressLine2:  true,
	models.FieldLocationSuburb:        true,
	models.FieldLocationPostcode:      true,
	models.FieldLocationLatitude:      true,
	models.FieldLocationLongitude:     true,
	models.FieldLocationCountry:       true,
	models.FieldOrganiserContactEmail: true,
	models.FieldOrganiserContactName:  true,
	models.FieldOrganiserContactPhone: true,
	models.FieldRegistrationLink:      true,
	models.FieldScheduleDetails:       true,
	models.FieldSocialMediaFacebook:   true,
	models.FieldSocialMediaWebsite:    true,
	models.FieldState:                 true,
	models.FieldClubLogoURL:           true,
	models.FieldLastMySidelineSync:    true,
}

const carnivalColumns = `
	id, source, is_manually_entered,
	mysideline_id, mysideline_title, mysideline_address, mysideline_date,
	title, date, state, location_address, location_address_line1, location_address_line2,
	location_suburb, location_postcode, location_latitude, location_longitude,
	location_country, google_maps_url,
	organiser_contact_name, organiser_contact_email, organiser_contact_phone,
	registration_link, social_media_facebook, social_media_website, schedule_details,
	club_logo_url, is_active, is_registration_open,
	last_mysideline_sync, created_at, updated_at`

// CarnivalRepository provides data access for carnivals.
type CarnivalRepository struct {
	BaseRepository
}

// NewCarnivalRepository creates a new carnival repository.
func NewCarnivalRepository(db *DB) *CarnivalRepository {
	return &CarnivalRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCarnival(row rowScanner) (*models.Carnival, error) {
	var (
		c                                           models.Carnival
		msID, msTitle, msAddress, msDate, date      sql.NullString
		state, addr, line1, line2, suburb, postcode sql.NullString
		country, mapsURL                            sql.NullString
		contactName, contactEmail, contactPhone     sql.NullString
		regLink, facebook, website, schedule, logo  sql.NullString
		lat, lng                                    sql.NullFloat64
		lastSync                                    sql.NullTime
	)

	err := row.Scan(
		&c.ID, &c.Source, &c.IsManuallyEntered,
		&msID, &msTitle, &msAddress, &msDate,
		&c.Title, &date, &state, &addr, &line1, &line2,
		&suburb, &postcode, &lat, &lng,
		&country, &mapsURL,
		&contactName, &contactEmail, &contactPhone,
		&regLink, &facebook, &website, &schedule,
		&logo, &c.IsActive, &c.IsRegistrationOpen,
		&lastSync, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.MySidelineID = msID.String
	c.MySidelineTitle = msTitle.String
	c.MySidelineAddress = msAddress.String
	c.MySidelineDate = parseDate(msDate)
	c.Date = parseDate(date)
	c.State = state.String
	c.LocationAddress = addr.String
	c.LocationAddressLine1 = line1.String
	c.LocationAddressLine2 = line2.String
	c.LocationSuburb = suburb.String
	c.LocationPostcode = postcode.String
	c.LocationLatitude = floatPtr(lat)
	c.LocationLongitude = floatPtr(lng)
	c.LocationCountry = country.String
	c.GoogleMapsURL = mapsURL.String
	c.OrganiserContactName = contactName.String
	c.OrganiserContactEmail = contactEmail.String
	c.OrganiserContactPhone = contactPhone.String
	c.RegistrationLink = regLink.String
	c.SocialMediaFacebook = facebook.String
	c.SocialMediaWebsite = website.String
	c.ScheduleDetails = schedule.String
	c.ClubLogoURL = logo.String
	c.LastMySidelineSync = timePtr(lastSync)

	return &c, nil
}

func (r *CarnivalRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Carnival, error) {
	c, err := scanCarnival(r.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CarnivalRepository) queryMany(ctx context.Context, query string, args ...any) ([]models.Carnival, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var carnivals []models.Carnival
	for rows.Next() {
		c, err := scanCarnival(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning carnival: %w", err)
		}
		carnivals = append(carnivals, *c)
	}
	return carnivals, rows.Err()
}

// GetByID retrieves a carnival by its ID.
func (r *CarnivalRepository) GetByID(ctx context.Context, id string) (*models.Carnival, error) {
	c, err := r.queryOne(ctx, `SELECT `+carnivalColumns+` FROM carnivals WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying carnival: %w", err)
	}
	return c, nil
}

// FindByMySidelineID returns every carnival carrying the external id.
// More than one row means the uniqueness invariant has been broken.
func (r *CarnivalRepository) FindByMySidelineID(ctx context.Context, mySidelineID string) ([]models.Carnival, error) {
	carnivals, err := r.queryMany(ctx,
		`SELECT `+carnivalColumns+` FROM carnivals WHERE mysideline_id = ? ORDER BY created_at`,
		mySidelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying carnival by mysideline id: %w", err)
	}
	return carnivals, nil
}

// FindByImmutableFields matches an imported carnival on the title, date and
// address captured at first import. NULL matches NULL.
func (r *CarnivalRepository) FindByImmutableFields(ctx context.Context, title string, date *time.Time, address string) (*models.Carnival, error) {
	c, err := r.queryOne(ctx, `
		SELECT `+carnivalColumns+` FROM carnivals
		WHERE is_manually_entered = 0
		  AND mysideline_title = ?
		  AND mysideline_date IS ?
		  AND mysideline_address IS ?
		ORDER BY created_at
		LIMIT 1
	`, title, nullDate(date), nullString(address))
	if err != nil {
		return nil, fmt.Errorf("querying carnival by immutable fields: %w", err)
	}
	return c, nil
}

// FindByDateAndTitle matches an imported carnival on its display date and title.
func (r *CarnivalRepository) FindByDateAndTitle(ctx context.Context, date *time.Time, title string) (*models.Carnival, error) {
	c, err := r.queryOne(ctx, `
		SELECT `+carnivalColumns+` FROM carnivals
		WHERE is_manually_entered = 0
		  AND date IS ?
		  AND title = ?
		ORDER BY created_at
		LIMIT 1
	`, nullDate(date), title)
	if err != nil {
		return nil, fmt.Errorf("querying carnival by date and title: %w", err)
	}
	return c, nil
}

// Insert creates a carnival, assigning its ID and timestamps.
func (r *CarnivalRepository) Insert(ctx context.Context, c *models.Carnival) error {
	c.ID = GenerateID()
	c.CreatedAt = r.Now()
	c.UpdatedAt = c.CreatedAt
	if c.Source == "" {
		c.Source = models.SourceManual
	}
	if c.IsManuallyEntered && c.MySidelineID != "" {
		return fmt.Errorf("inserting carnival: manual carnival cannot carry a mysideline id")
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO carnivals (`+carnivalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Source, c.IsManuallyEntered,
		nullString(c.MySidelineID), nullString(c.MySidelineTitle), nullString(c.MySidelineAddress), nullDate(c.MySidelineDate),
		c.Title, nullDate(c.Date), nullString(c.State), nullString(c.LocationAddress),
		nullString(c.LocationAddressLine1), nullString(c.LocationAddressLine2),
		nullString(c.LocationSuburb), nullString(c.LocationPostcode),
		nullFloat(c.LocationLatitude), nullFloat(c.LocationLongitude),
		nullString(c.LocationCountry), nullString(c.GoogleMapsURL),
		nullString(c.OrganiserContactName), nullString(c.OrganiserContactEmail), nullString(c.OrganiserContactPhone),
		nullString(c.RegistrationLink), nullString(c.SocialMediaFacebook),
		nullString(c.SocialMediaWebsite), nullString(c.ScheduleDetails),
		nullString(c.ClubLogoURL), c.IsActive, c.IsRegistrationOpen,
		nullTime(c.LastMySidelineSync), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting carnival: %w", err)
	}

	return nil
}

// Update applies a column-level patch to one carnival. Only columns listed in
// patchableColumns may be written; the immutable MySideline triple never is.
func (r *CarnivalRepository) Update(ctx context.Context, id string, patch models.CarnivalPatch) error {
	return r.update(ctx, r.DB(), id, patch)
}

// UpdateMany applies several patches in one transaction. Either every patch
// is written or none is.
func (r *CarnivalRepository) UpdateMany(ctx context.Context, patches map[string]models.CarnivalPatch) error {
	if len(patches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(patches))
	for id := range patches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return r.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := r.update(ctx, tx, id, patches[id]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *CarnivalRepository) update(ctx context.Context, db execer, id string, patch models.CarnivalPatch) error {
	if len(patch) == 0 {
		return nil
	}

	columns := make([]string, 0, len(patch))
	for col := range patch {
		if !patchableColumns[col] {
			return fmt.Errorf("updating carnival: column %q is not patchable", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for _, col := range columns {
		sets = append(sets, col+" = ?")
		args = append(args, patchValue(patch[col]))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, r.Now(), id)

	result, err := db.ExecContext(ctx,
		`UPDATE carnivals SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating carnival: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("carnival not found: %s", id)
	}

	return nil
}

func patchValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return nullString(val)
	case *float64:
		return nullFloat(val)
	case *time.Time:
		return nullTime(val)
	case time.Time:
		return val.UTC()
	default:
		return val
	}
}

// DeactivatePastBefore hides every active carnival dated before day,
// regardless of origin, and returns the number of rows changed.
func (r *CarnivalRepository) DeactivatePastBefore(ctx context.Context, day time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE carnivals SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND date IS NOT NULL AND date < ?
	`, r.Now(), dayString(day))
	if err != nil {
		return 0, fmt.Errorf("deactivating past carnivals: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deactivated carnivals: %w", err)
	}
	return n, nil
}

// CountActiveBefore counts active carnivals dated before day.
func (r *CarnivalRepository) CountActiveBefore(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := r.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM carnivals
		WHERE is_active = 1 AND date IS NOT NULL AND date < ?
	`, dayString(day)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active past carnivals: %w", err)
	}
	return n, nil
}

// Counts summarises the catalogue.
func (r *CarnivalRepository) Counts(ctx context.Context) (models.CarnivalCounts, error) {
	var counts models.CarnivalCounts
	err := r.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_active = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_manually_entered = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_manually_entered = 1 THEN 1 ELSE 0 END), 0)
		FROM carnivals
	`).Scan(&counts.Total, &counts.Active, &counts.Imported, &counts.Manual)
	if err != nil {
		return counts, fmt.Errorf("counting carnivals: %w", err)
	}
	return counts, nil
}

// ListUpcoming returns active carnivals dated on or after day, soonest first.
func (r *CarnivalRepository) ListUpcoming(ctx context.Context, day time.Time, limit int) ([]models.Carnival, error) {
	if limit <= 0 {
		limit = 50
	}
	carnivals, err := r.queryMany(ctx, `
		SELECT `+carnivalColumns+` FROM carnivals
		WHERE is_active = 1 AND (date IS NULL OR date >= ?)
		ORDER BY date IS NULL, date, title
		LIMIT ?
	`, dayString(day), limit)
	if err != nil {
		return nil, fmt.Errorf("querying upcoming carnivals: %w", err)
	}
	return carnivals, nil
}
