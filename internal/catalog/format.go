package catalog

import (
	"strings"
	"time"
	"unicode/utf8"
)

// FormatDate renders an event's date_time for display. Any text containing
// a hyphen (ranges such as "1 Feb-2 Feb", ISO dates) and text that cannot be
// parsed are returned verbatim; other single dates become "1 Feb 2025", or
// "1 Feb" when the text carried no year.
func FormatDate(text string) string {
	if strings.Contains(text, "-") {
		return text
	}
	span, ok := ParseSpan(text, time.Now())
	if !ok || span.Ranged {
		return text
	}
	if !span.YearKnown {
		return span.Start.Format("2 Jan")
	}
	return span.Start.Format("2 Jan 2006")
}

// Truncate shortens text to max characters and appends "...".
func Truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	if max < 0 {
		max = 0
	}
	var b strings.Builder
	n := 0
	for _, r := range text {
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteString("...")
	return b.String()
}
