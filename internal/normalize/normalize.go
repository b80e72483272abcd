// Package normalize coerces raw cell values to canonical types. All functions
// are pure: no I/O, no logging, no shared state.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrUnparseableTimestamp is returned when no known timestamp representation
// matches. Callers must treat it as "drop the row", never substitute a
// default instant.
var ErrUnparseableTimestamp = errors.New("normalize: unparseable timestamp")

// timestampLayouts are tried in order. Year-less layouts resolve against the
// reference year passed to Timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 3:04 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 3:04 PM",
	"2006-01-02",
}

// excelEpoch is day zero of the 1900 date system as used by spreadsheet
// exports (the off-by-two Lotus epoch).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Timestamp parses a raw cell into a UTC time.
//
// Accepted representations:
//   - time.Time (passed through, converted to UTC)
//   - unix epoch seconds as int/float or numeric text
//   - textual layouts listed in timestampLayouts; naive values are localized
//     in loc, year-less values take the year of ref
//   - Excel serial dates (fractional days since 1899-12-30) as a last resort
//     for numeric text in a plausible serial range
//
// A nil loc means UTC. Failure is ErrUnparseableTimestamp wrapped with the
// offending value; there is no epoch/now fallback.
func Timestamp(raw any, loc *time.Location, ref time.Time) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	switch v := raw.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnparseableTimestamp)
	case time.Time:
		return v.UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return fromNumeric(v), nil
	}

	s := strings.TrimSpace(fmt.Sprint(raw))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnparseableTimestamp)
	}

	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if ts.Year() == 0 {
			// Year-less layout: adopt the reference year.
			ts = time.Date(ref.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), loc)
		}
		return ts.UTC(), nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumeric(f), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTimestamp, s)
}

// fromNumeric interprets a number as either unix seconds or an Excel serial
// date. Serial dates from device exports are small (tens of thousands =
// years 1900..2100); epoch seconds for any modern date are > 10^8.
func fromNumeric(f float64) time.Time {
	if f > 0 && f < 100000 {
		days := int(f)
		frac := f - float64(days)
		return excelEpoch.AddDate(0, 0, days).
			Add(time.Duration(frac * 24 * float64(time.Hour))).
			Round(time.Second).UTC()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// Int64 parses a raw cell as an integer. Non-numeric input yields ok=false;
// whether null is acceptable is the caller's decision. Fractional text is
// truncated toward zero.
func Int64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	s := strings.TrimSpace(fmt.Sprint(raw))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// String trims whitespace and strips control and invisible characters.
// ok=false means the cleaned value is empty and the cell must become null.
func String(raw any) (string, bool) {
	if raw == nil {
		return "", false
	}
	s, isStr := raw.(string)
	if !isStr {
		s = fmt.Sprint(raw)
	}
	s = strings.Map(dropDisallowed, s)
	if HasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// dropDisallowed removes C0/C1 controls plus BOM and zero-width points.
// Tabs and newlines inside a cell are export noise, not content, so they go too.
func dropDisallowed(r rune) rune {
	switch r {
	case '\uFEFF', '\u200B', '\u200C', '\u200D':
		return -1
	}
	if unicode.IsControl(r) {
		return -1
	}
	return r
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace,
// letting hot paths skip TrimSpace allocations.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return first == ' ' || first == '\t' || first == '\n' || first == '\r' ||
		last == ' ' || last == '\t' || last == '\n' || last == '\r'
}
