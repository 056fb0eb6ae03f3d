package mysideline

import (
	"regexp"
	"strings"

	"github.com/old-man-footy/backend/internal/storage/models"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Clean normalises an event's free-text fields. Invalid values are dropped
// rather than reported.
func Clean(e Event) Event {
	e.Title = strings.TrimSpace(e.Title)
	e.Location.Address = strings.TrimSpace(e.Location.Address)
	e.OrganiserContactName = strings.TrimSpace(e.OrganiserContactName)

	if e.Title == "" {
		e.Title = models.DefaultEventTitle
	}

	if e.OrganiserContactEmail != "" {
		if emailPattern.MatchString(e.OrganiserContactEmail) {
			e.OrganiserContactEmail = strings.ToLower(e.OrganiserContactEmail)
		} else {
			e.OrganiserContactEmail = ""
		}
	}
	return e
}
