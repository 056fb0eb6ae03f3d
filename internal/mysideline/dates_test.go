package mysideline

import (
	"testing"
	"time"
)

func localDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		want  *time.Time
	}{
		{"27/07/2024", ptr(localDay(2024, time.July, 27))},
		{"27-07-2024", ptr(localDay(2024, time.July, 27))},
		{"1/2/2025", ptr(localDay(2025, time.February, 1))},
		{"27 July 2024", ptr(localDay(2024, time.July, 27))},
		{"27th July 2024", ptr(localDay(2024, time.July, 27))},
		{"1st Jan 2025", ptr(localDay(2025, time.January, 1))},
		{"July 27, 2024", ptr(localDay(2024, time.July, 27))},
		{"Sept 1 2024", ptr(localDay(2024, time.September, 1))},
		{"2024-07-27", ptr(localDay(2024, time.July, 27))},
		{"  3rd  march  2025 ", ptr(localDay(2025, time.March, 3))},
		{"31/02/2024", nil},
		{"13/13/2024", nil},
		{"00/01/2024", nil},
		{"32 July 2024", nil},
		{"27 Julember 2024", nil},
		{"invalid", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDate(tt.input)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseDate(%q) = %v, want nil", tt.input, got)
			case tt.want != nil && got == nil:
				t.Errorf("ParseDate(%q) = nil, want %v", tt.input, tt.want)
			case tt.want != nil && !got.Equal(*tt.want):
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDateEquivalentForms(t *testing.T) {
	a := ParseDate("27th July 2024")
	b := ParseDate("27 July 2024")
	c := ParseDate("27/07/2024")
	if a == nil || b == nil || c == nil {
		t.Fatalf("expected all forms to parse: %v %v %v", a, b, c)
	}
	if !a.Equal(*b) || !b.Equal(*c) {
		t.Errorf("forms differ: %v %v %v", a, b, c)
	}
}

func TestExtractDate(t *testing.T) {
	tests := []struct {
		title     string
		wantTitle string
		wantDate  *time.Time
	}{
		{"NSW Masters Carnival (19/07/2025)", "NSW Masters Carnival", ptr(localDay(2025, time.July, 19))},
		{"Masters Carnival (July 19, 2025) Bathurst", "Masters Carnival Bathurst", ptr(localDay(2025, time.July, 19))},
		{"Masters Gala Day (3rd August 2025)", "Masters Gala Day", ptr(localDay(2025, time.August, 3))},
		{"Masters Gala Day - 27th July 2024", "Masters Gala Day", ptr(localDay(2024, time.July, 27))},
		{"Country Masters | 12-10-2024", "Country Masters", ptr(localDay(2024, time.October, 12))},
		{"Masters Carnival 12/10/2024", "Masters Carnival", ptr(localDay(2024, time.October, 12))},
		{"Masters (Over 35s) 19/07/2025", "Masters", ptr(localDay(2025, time.July, 19))},
		{"  Masters Round 5 2025  ", "Masters Round 5 2025", nil},
		{"Masters Carnival (31/02/2025)", "Masters Carnival (31/02/2025)", nil},
		{"Plain Title", "Plain Title", nil},
		{"", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			gotTitle, gotDate := ExtractDate(tt.title)
			if gotTitle != tt.wantTitle {
				t.Errorf("title = %q, want %q", gotTitle, tt.wantTitle)
			}
			switch {
			case tt.wantDate == nil && gotDate != nil:
				t.Errorf("date = %v, want nil", gotDate)
			case tt.wantDate != nil && gotDate == nil:
				t.Errorf("date = nil, want %v", tt.wantDate)
			case tt.wantDate != nil && !gotDate.Equal(*tt.wantDate):
				t.Errorf("date = %v, want %v", gotDate, tt.wantDate)
			}
		})
	}
}

func TestExtractDateIsIdempotent(t *testing.T) {
	titles := []string{
		"NSW Masters Carnival (19/07/2025)",
		"Masters Gala Day - 27th July 2024",
		"Country Masters | 12-10-2024",
		"Masters Carnival 12/10/2024",
		"Masters Carnival (July 19, 2025) Bathurst",
	}
	for _, title := range titles {
		clean, _ := ExtractDate(title)
		again, date := ExtractDate(clean)
		if date != nil {
			t.Errorf("ExtractDate(%q) found a second date %v", clean, date)
		}
		if again != clean {
			t.Errorf("second pass changed %q to %q", clean, again)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
