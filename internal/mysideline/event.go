package mysideline

import (
	"strings"
	"time"

	"github.com/old-man-footy/backend/internal/storage/models"
)

// Event is a canonical carnival record built from one search API item.
// Empty strings mean absent.
type Event struct {
	MySidelineID      string
	MySidelineTitle   string
	MySidelineAddress string
	MySidelineDate    *time.Time

	Title    string
	Date     *time.Time
	State    string
	Location Location

	OrganiserContactName  string
	OrganiserContactEmail string
	OrganiserContactPhone string

	RegistrationLink    string
	SocialMediaWebsite  string
	SocialMediaFacebook string
	ScheduleDetails     string

	ClubLogoURL string
	IsActive    bool
}

// buildEvent converts a filtered API item into an Event.
func buildEvent(item *apiItem, eventURLPrefix string) Event {
	name := strings.TrimSpace(item.Name.String())
	cleanTitle, date := ExtractDate(name)

	title := cleanTitle
	if title == "" {
		title = name
	}
	if title == "" {
		title = models.DefaultEventTitle
	}

	loc := normaliseAddress(item)
	id := strings.TrimSpace(item.ID.String())

	return Event{
		MySidelineID:      id,
		MySidelineTitle:   name,
		MySidelineAddress: loc.Address,
		MySidelineDate:    date,

		Title:    title,
		Date:     date,
		State:    loc.State,
		Location: loc,

		OrganiserContactName:  item.Contact.Name.String(),
		OrganiserContactEmail: strings.TrimSpace(item.Contact.Email.String()),
		OrganiserContactPhone: strings.TrimSpace(item.Contact.Number.String()),

		RegistrationLink:    eventURLPrefix + id,
		SocialMediaWebsite:  strings.TrimSpace(item.Meta.Website.String()),
		SocialMediaFacebook: strings.TrimSpace(item.Meta.Facebook.String()),
		ScheduleDetails:     item.FinderDetails.Description.String(),

		IsActive: truthy(item.RegoOpen),
	}
}

// isMastersEvent applies the Masters relevance filter to one item.
func isMastersEvent(item *apiItem) bool {
	if strings.TrimSpace(item.Name.String()) == "" {
		return false
	}

	ageLvl := strings.ToLower(item.AgeLvl.String())
	region := strings.ToLower(item.Orgtree.Region.Name.String())
	association := strings.ToLower(item.Association.Name.String())
	competition := strings.ToLower(item.Competition.Name.String())
	club := strings.ToLower(item.Club.Name.String())

	if strings.Contains(association, "touch") || strings.Contains(competition, "touch") {
		return false
	}
	if strings.Contains(ageLvl, "all ages") {
		return false
	}

	return strings.Contains(ageLvl, "masters") ||
		strings.Contains(region, "nrl masters") ||
		strings.Contains(association, "nrl masters") ||
		strings.Contains(competition, "masters") ||
		strings.Contains(club, "masters")
}
