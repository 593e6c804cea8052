package validation

import "time"

// dateLayout is the wire format every extractor emits for calendar
// dates ("YYYY-MM-DD").
const dateLayout = "2006-01-02"

// parseDate parses a YYYY-MM-DD string, returning the zero time and ok
// = false for blank or malformed input rather than an error: a missing
// date is itself evidence a validator may want to report, not a crash.
func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
