package ics

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventscope/internal/catalog"
	appLog "eventscope/internal/log"
	"eventscope/internal/model"
)

const (
	ProductID = "-//eventscope//Event Catalog//EN"
	uidDomain = "eventscope"
)

// ExportConfig controls calendar export.
type ExportConfig struct {
	// Name is written as X-WR-CALNAME.
	Name string
	// Location anchors all-day dates; nil means time.Local.
	Location *time.Location
	// Reference supplies the year for "1 Feb" style dates.
	Reference time.Time
	// Now stamps DTSTAMP; zero means time.Now().
	Now time.Time
}

// CalendarName is the X-WR-CALNAME for a snapshot: the API's name, or
// "eventscope" when the snapshot carries none.
func CalendarName(snap *model.CatalogSnapshot) string {
	if snap != nil && strings.TrimSpace(snap.APIInfo.Name) != "" {
		return strings.TrimSpace(snap.APIInfo.Name)
	}
	return uidDomain
}

// BuildCalendar turns the given groups into one all-day VEVENT per event.
// Events whose date_time cannot be parsed are skipped and counted.
func BuildCalendar(groups map[model.Category][]model.Event, cfg ExportConfig) (*ical.Calendar, int) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	ref := cfg.Reference
	if ref.IsZero() {
		ref = now
	}
	ref = ref.In(loc)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if cfg.Name != "" {
		cal.SetXWRCalName(cfg.Name)
	}
	cal.SetXWRTimezone(loc.String())

	skipped := 0
	seen := make(map[string]bool)
	for _, c := range catalog.OrderedGroupKeys(groups) {
		for _, ev := range groups[c] {
			span, ok := catalog.ParseSpan(ev.DateTime, ref)
			if !ok {
				skipped++
				continue
			}
			uid := ev.EventID + "@" + uidDomain
			if seen[uid] {
				continue
			}
			seen[uid] = true

			ve := cal.AddEvent(uid)
			ve.SetDtStampTime(now.UTC())
			ve.SetSummary(ev.Title)
			if ev.Description != "" {
				ve.SetDescription(ev.Description)
			}
			if ev.Location != "" {
				ve.SetLocation(ev.Location)
			}
			if ev.TicketLink != "" {
				ve.SetURL(ev.TicketLink)
			}
			ve.AddProperty(ical.ComponentPropertyCategories, string(c))
			ve.SetAllDayStartAt(span.Start)
			// DTEND of an all-day event is exclusive.
			ve.SetAllDayEndAt(span.End.AddDate(0, 0, 1))
		}
	}

	if skipped > 0 {
		appLog.Debug("ics export skipped undated events", "skipped", skipped)
	}
	return cal, skipped
}

// WriteCalendar builds the calendar and serializes it to w.
func WriteCalendar(w io.Writer, groups map[model.Category][]model.Event, cfg ExportConfig) error {
	cal, _ := BuildCalendar(groups, cfg)
	return cal.SerializeTo(w)
}
