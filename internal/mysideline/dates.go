package mysideline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	numericDate   = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	dayMonthYear  = regexp.MustCompile(`^(\d{1,2})\s+([A-Za-z]{3,})\.?,?\s+(\d{4})$`)
	monthDayYear  = regexp.MustCompile(`^([A-Za-z]{3,})\.?\s+(\d{1,2}),?\s+(\d{4})$`)
)

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// fallbackLayouts are tried when none of the Australian forms match.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"Mon, 02 Jan 2006",
	"Mon Jan 2 2006",
}

// ParseDate parses a heterogeneous date string into a calendar date at local
// midnight. Numeric dates are read day first. It returns nil when s is not a
// valid date.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(ordinalSuffix.ReplaceAllString(s, "$1"))
	if s == "" {
		return nil
	}

	if m := numericDate.FindStringSubmatch(s); m != nil {
		return calendarDate(atoi(m[3]), atoi(m[2]), atoi(m[1]))
	}
	if m := dayMonthYear.FindStringSubmatch(s); m != nil {
		if month := lookupMonth(m[2]); month > 0 {
			return calendarDate(atoi(m[3]), month, atoi(m[1]))
		}
	}
	if m := monthDayYear.FindStringSubmatch(s); m != nil {
		if month := lookupMonth(m[1]); month > 0 {
			return calendarDate(atoi(m[3]), month, atoi(m[2]))
		}
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendarDate(t.Year(), int(t.Month()), t.Day())
		}
	}
	return nil
}

// calendarDate builds local midnight for the given components, rejecting
// components that time.Date would normalise (31 February, month 13).
func calendarDate(year, month, day int) *time.Time {
	if month < 1 || month > 12 || day < 1 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return nil
	}
	return &t
}

// lookupMonth resolves an English month name or prefix of at least three
// letters to 1..12, or 0.
func lookupMonth(name string) int {
	name = strings.ToLower(name)
	if len(name) < 3 {
		return 0
	}
	for i, full := range monthNames {
		if strings.HasPrefix(full, name) {
			return i + 1
		}
	}
	return 0
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
