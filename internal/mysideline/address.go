package mysideline

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/old-man-footy/backend/internal/storage/models"
)

const mapsSearchURL = "https://www.google.com/maps/search/?api=1&query="

// Location is the structured address derived from a venue or contact record.
type Location struct {
	Address       string
	AddressLine1  string
	AddressLine2  string
	Suburb        string
	Postcode      string
	State         string
	Country       string
	Latitude      *float64
	Longitude     *float64
	GoogleMapsURL string
}

// normaliseAddress prefers the venue address over the contact address.
func normaliseAddress(item *apiItem) Location {
	addr := item.Venue.Address
	if addr == nil {
		addr = item.Contact.Address
	}
	if addr == nil {
		return Location{Country: models.DefaultCountry}
	}
	return addr.location()
}

func (a *rawAddress) location() Location {
	loc := Location{
		Address:      strings.TrimSpace(a.Formatted.String()),
		AddressLine1: strings.TrimSpace(a.AddressLine1.String()),
		AddressLine2: strings.TrimSpace(a.AddressLine2.String()),
		Suburb:       strings.TrimSpace(a.Suburb.String()),
		Postcode:     strings.TrimSpace(a.Postcode.String()),
		State:        strings.ToUpper(strings.TrimSpace(a.State.String())),
		Country:      strings.TrimSpace(a.Country.String()),
		Latitude:     a.Lat.value,
		Longitude:    a.Lng.value,
	}
	if loc.Country == "" {
		loc.Country = models.DefaultCountry
	}
	if loc.Address == "" {
		loc.Address = joinNonEmpty(", ", loc.AddressLine1, loc.AddressLine2, loc.Suburb,
			joinNonEmpty(" ", loc.State, loc.Postcode))
	}

	switch {
	case loc.Latitude != nil && loc.Longitude != nil:
		loc.GoogleMapsURL = mapsSearchURL + formatCoord(*loc.Latitude) + "," + formatCoord(*loc.Longitude)
	case loc.Address != "":
		loc.GoogleMapsURL = mapsSearchURL + url.QueryEscape(loc.Address)
	}
	return loc
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
