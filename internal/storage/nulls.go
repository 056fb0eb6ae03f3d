package storage

import (
	"database/sql"
	"time"
)

// dateLayout is the on-disk form of calendar dates. Dates compare
// lexicographically, which keeps "before day D" queries in SQL.
const dateLayout = "2006-01-02"

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullFloat maps a nil pointer to NULL.
func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// nullDate formats a calendar date, or NULL.
func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

// nullTime stores a timestamp in UTC, or NULL.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// dayString formats the calendar day of t in t's own location.
func dayString(t time.Time) string {
	return t.Format(dateLayout)
}

// parseDate reads a stored calendar date as local midnight.
func parseDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.ParseInLocation(dateLayout, ns.String, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
