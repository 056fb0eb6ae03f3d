// Package models contains the domain models for the application.
package models

import (
	"strings"
	"time"
)

// Carnival sources.
const (
	SourceMySideline = "MySideline"
	SourceManual     = "Manual"
)

// DefaultCountry is applied to imported carnivals without an explicit country.
const DefaultCountry = "Australia"

// DefaultEventTitle is used when an event arrives without a usable title.
const DefaultEventTitle = "Masters Rugby League Event"

// UploadsPrefix is the public URL prefix of locally stored images.
const UploadsPrefix = "/uploads/"

// Carnival represents a Masters Rugby League carnival.
// Empty strings are persisted as NULL.
type Carnival struct {
	ID                string `json:"id"`
	Source            string `json:"source"`
	IsManuallyEntered bool   `json:"is_manually_entered"`

	// MySideline identity. The title/address/date triple is captured on first
	// insert and never rewritten.
	MySidelineID      string     `json:"mysideline_id,omitempty"`
	MySidelineTitle   string     `json:"mysideline_title,omitempty"`
	MySidelineAddress string     `json:"mysideline_address,omitempty"`
	MySidelineDate    *time.Time `json:"mysideline_date,omitempty"`

	Title                string     `json:"title"`
	Date                 *time.Time `json:"date,omitempty"`
	State                string     `json:"state,omitempty"`
	LocationAddress      string     `json:"location_address,omitempty"`
	LocationAddressLine1 string     `json:"location_address_line1,omitempty"`
	LocationAddressLine2 string     `json:"location_address_line2,omitempty"`
	LocationSuburb       string     `json:"location_suburb,omitempty"`
	LocationPostcode     string     `json:"location_postcode,omitempty"`
	LocationLatitude     *float64   `json:"location_latitude,omitempty"`
	LocationLongitude    *float64   `json:"location_longitude,omitempty"`
	LocationCountry      string     `json:"location_country,omitempty"`
	GoogleMapsURL        string     `json:"google_maps_url,omitempty"`

	OrganiserContactName  string `json:"organiser_contact_name,omitempty"`
	OrganiserContactEmail string `json:"organiser_contact_email,omitempty"`
	OrganiserContactPhone string `json:"organiser_contact_phone,omitempty"`

	RegistrationLink    string `json:"registration_link,omitempty"`
	SocialMediaFacebook string `json:"social_media_facebook,omitempty"`
	SocialMediaWebsite  string `json:"social_media_website,omitempty"`
	ScheduleDetails     string `json:"schedule_details,omitempty"`

	ClubLogoURL string `json:"club_logo_url,omitempty"`

	IsActive           bool `json:"is_active"`
	IsRegistrationOpen bool `json:"is_registration_open"`

	LastMySidelineSync *time.Time `json:"last_mysideline_sync,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasLocalLogo reports whether the logo points at a stored upload.
func (c *Carnival) HasLocalLogo() bool {
	return strings.HasPrefix(c.ClubLogoURL, UploadsPrefix)
}

// HasRemoteLogo reports whether the logo is a remote URL awaiting download.
func (c *Carnival) HasRemoteLogo() bool {
	return strings.HasPrefix(c.ClubLogoURL, "http")
}

// Column names accepted in a CarnivalPatch.
const (
	FieldMySidelineID          = "mysideline_id"
	FieldLocationAddress       = "location_address"
	FieldLocationAddressLine1  = "location_address_line1"
	FieldLocationAddressLine2  = "location_address_line2"
	FieldLocationSuburb        = "location_suburb"
	FieldLocationPostcode      = "location_postcode"
	FieldLocationLatitude      = "location_latitude"
	FieldLocationLongitude     = "location_longitude"
	FieldLocationCountry       = "location_country"
	FieldOrganiserContactEmail = "organiser_contact_email"
	FieldOrganiserContactName  = "organiser_contact_name"
	FieldOrganiserContactPhone = "organiser_contact_phone"
	FieldRegistrationLink      = "registration_link"
	FieldScheduleDetails       = "schedule_details"
	FieldSocialMediaFacebook   = "social_media_facebook"
	FieldSocialMediaWebsite    = "social_media_website"
	FieldState                 = "state"
	FieldClubLogoURL           = "club_logo_url"
	FieldLastMySidelineSync    = "last_mysideline_sync"
)

// CarnivalPatch is a column-keyed partial update. Values are string,
// *float64, *time.Time, time.Time or nil.
type CarnivalPatch map[string]any

// CarnivalCounts summarises the catalogue for status reporting.
type CarnivalCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Imported int `json:"imported"`
	Manual   int `json:"manual"`
}
