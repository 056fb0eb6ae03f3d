package mysideline

import (
	"regexp"
	"strings"
	"time"
)

// dateToken matches the date shapes that appear inside event titles.
const dateToken = `\d{1,2}[/-]\d{1,2}[/-]\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+[A-Za-z]{3,}\.?,?\s+\d{4}` +
	`|[A-Za-z]{3,}\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}`

// titleDatePatterns are tried in order; the first one whose date parses wins.
var titleDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(\s*(` + dateToken + `)\s*\)`),
	regexp.MustCompile(`(?i)\s+[-|]\s+(` + dateToken + `)`),
	regexp.MustCompile(`(?i)(?:^|\s)(` + dateToken + `)\s*$`),
}

var (
	parenGroup     = regexp.MustCompile(`\([^()]*\)`)
	edgeSeparators = regexp.MustCompile(`^[\s\-|]+|[\s\-|]+$`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// ExtractDate strips an embedded date from an event title. It returns the
// cleaned title and the parsed date, or the trimmed title and nil when no
// date is found.
func ExtractDate(title string) (string, *time.Time) {
	trimmed := strings.TrimSpace(title)

	for _, pattern := range titleDatePatterns {
		loc := pattern.FindStringSubmatchIndex(trimmed)
		if loc == nil {
			continue
		}
		date := ParseDate(trimmed[loc[2]:loc[3]])
		if date == nil {
			continue
		}
		residue := trimmed[:loc[0]] + " " + trimmed[loc[1]:]
		return cleanResidue(residue), date
	}
	return trimmed, nil
}

func cleanResidue(s string) string {
	s = parenGroup.ReplaceAllString(s, " ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = edgeSeparators.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
