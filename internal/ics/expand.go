// Package ics turns catalog events into calendar occurrences: a day-by-day
// agenda for the CLI and an iCalendar feed for calendar apps.
package ics

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"eventscope/internal/catalog"
	appLog "eventscope/internal/log"
	"eventscope/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 366
)

// ExpandConfig controls how date spans are expanded into days.
type ExpandConfig struct {
	// DisplayLocation is the timezone day boundaries are computed in.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// Reference supplies the year for "1 Feb" style dates. If zero,
	// RangeStart is used.
	Reference time.Time

	// MaxOccurrencesPerEvent caps very long ranges. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Occurrence is one day on which an event takes place.
type Occurrence struct {
	Category model.Category `json:"category"`
	Event    model.Event    `json:"event"`
	Day      time.Time      `json:"day"`
	// DayIndex is 1-based within the event's span; Days is the span length.
	DayIndex int `json:"day_index"`
	Days     int `json:"days"`
}

// ExpandResult wraps the expanded occurrences and the events that could
// not be placed on a calendar.
type ExpandResult struct {
	Occurrences []Occurrence
	// Undated lists event IDs whose date_time could not be parsed.
	Undated []string
	// TruncatedEvents records event IDs that hit the per-event cap.
	TruncatedEvents []string
}

// ExpandOccurrences expands every event in groups into one occurrence per
// day it runs within [RangeStart, RangeEnd]. Occurrences are ordered by
// day, then category (canonical order), then the API's event order.
func ExpandOccurrences(groups map[model.Category][]model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	ref := cfg.Reference
	if ref.IsZero() {
		ref = cfg.RangeStart
	}
	ref = ref.In(cfg.DisplayLocation)

	rangeStart := cfg.RangeStart.In(cfg.DisplayLocation)
	rangeEnd := cfg.RangeEnd.In(cfg.DisplayLocation)

	for _, c := range catalog.OrderedGroupKeys(groups) {
		for _, ev := range groups[c] {
			span, ok := catalog.ParseSpan(ev.DateTime, ref)
			if !ok {
				result.Undated = append(result.Undated, ev.EventID)
				continue
			}
			if !timeRangesOverlap(span.Start, span.End.Add(24*time.Hour), rangeStart, rangeEnd) {
				continue
			}
			occ, hitCap := expandSpan(c, ev, span, rangeStart, rangeEnd, cfg.MaxOccurrencesPerEvent)
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, ev.EventID)
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}
	}

	if len(result.TruncatedEvents) > 0 {
		appLog.Warn("expand: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"events", len(result.TruncatedEvents),
			"cap", cfg.MaxOccurrencesPerEvent,
		)
	}

	// Stable: within one day the category/API order from above is kept.
	slices.SortStableFunc(result.Occurrences, func(a, b Occurrence) int {
		return a.Day.Compare(b.Day)
	})
	return result, nil
}

func expandSpan(c model.Category, ev model.Event, span catalog.Span, rangeStart, rangeEnd time.Time, max int) ([]Occurrence, bool) {
	days := span.Days()
	if !span.Ranged || days == 1 {
		if span.Start.Before(startOfDay(rangeStart)) || span.Start.After(rangeEnd) {
			return nil, false
		}
		return []Occurrence{{Category: c, Event: ev, Day: span.Start, DayIndex: 1, Days: 1}}, false
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Count:   days,
		Dtstart: span.Start,
	})
	if err != nil {
		appLog.Error("expand: failed to build daily rule", err, "event_id", ev.EventID, "date_time", ev.DateTime)
		return nil, false
	}

	dayTimes := r.Between(startOfDay(rangeStart), rangeEnd, true)
	hitCap := false
	if len(dayTimes) > max {
		dayTimes = dayTimes[:max]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(dayTimes))
	for _, d := range dayTimes {
		out = append(out, Occurrence{
			Category: c,
			Event:    ev,
			Day:      d,
			DayIndex: daysBetween(span.Start, d) + 1,
			Days:     days,
		})
	}
	return out, hitCap
}

// ReferenceTime picks the time "1 Feb" style dates are anchored to: the
// catalog's scraped_at when it parses, otherwise now.
func ReferenceTime(snapshot *model.CatalogSnapshot, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if snapshot != nil {
		if t, ok := parseScrapedAt(snapshot.APIInfo.ScrapedAt, loc); ok {
			return t
		}
	}
	return now.In(loc)
}

func parseScrapedAt(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.In(loc), true
	}
	// Python's isoformat() without an offset, optionally with microseconds.
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysBetween(a, b time.Time) int {
	return int(startOfDay(b).Sub(startOfDay(a)).Hours()/24 + 0.5)
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
