package catalog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NoDateText is what the scraper emits when it finds no date.
const NoDateText = "Check event page for dates"

// Span is the inclusive day range an event's date_time text describes.
// Start and End are midnights in the reference location.
type Span struct {
	Start time.Time
	End   time.Time
	// Ranged is set for "1 Feb-2 Feb" style text.
	Ranged bool
	// YearKnown is false when the text carried no year and the reference
	// year was assumed.
	YearKnown bool
}

// Days returns the number of calendar days the span covers.
func (s Span) Days() int {
	return int(s.End.Sub(s.Start).Hours()/24+0.5) + 1
}

var (
	fullDateLayouts = []string{"2006-01-02", "2/1/2006", "2 Jan 2006", "2 January 2006"}

	dayMonthRe = regexp.MustCompile(`(?i)^(\d{1,2})\s+([a-z]{3})[a-z]*\.?(?:\s*-\s*(\d{1,2})\s+([a-z]{3})[a-z]*\.?)?$`)

	shortMonths = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// ParseSpan understands the forms the event API produces: "1 Feb",
// "1 Feb-2 Feb", "01/02/2025" (day first), "2025-02-01". Text without a year
// takes ref's year; a range whose end falls before its start rolls the end
// into the next year. ref also supplies the location.
func ParseSpan(text string, ref time.Time) (Span, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, NoDateText) {
		return Span{}, false
	}
	loc := ref.Location()

	for _, layout := range fullDateLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return Span{Start: t, End: t, YearKnown: true}, true
		}
	}

	m := dayMonthRe.FindStringSubmatch(text)
	if m == nil {
		return Span{}, false
	}
	start, ok := dayMonth(m[1], m[2], ref.Year(), loc)
	if !ok {
		return Span{}, false
	}
	if m[3] == "" {
		return Span{Start: start, End: start}, true
	}
	end, ok := dayMonth(m[3], m[4], ref.Year(), loc)
	if !ok {
		return Span{}, false
	}
	if end.Before(start) {
		end = end.AddDate(1, 0, 0)
	}
	return Span{Start: start, End: end, Ranged: true}, true
}

func dayMonth(dayText, monthText string, year int, loc *time.Location) (time.Time, bool) {
	day, err := strconv.Atoi(dayText)
	if err != nil {
		return time.Time{}, false
	}
	month, ok := shortMonths[strings.ToLower(monthText)]
	if !ok {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Day() != day || t.Month() != month {
		// 31 Feb and friends normalise into the next month.
		return time.Time{}, false
	}
	return t, true
}
