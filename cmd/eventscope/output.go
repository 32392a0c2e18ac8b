package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"eventscope/internal/catalog"
	"eventscope/internal/model"
	"eventscope/internal/provider"
	"eventscope/internal/ui"
)

// descriptionLimit matches the event cards of the web front end.
const descriptionLimit = 100

var stdout io.Writer = os.Stdout

func newStyler() ui.Styler {
	return ui.Styler{Enabled: ui.ShouldUseColor()}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printStatus writes the session's user-facing status line.
func printStatus(w io.Writer, st ui.Styler, p *provider.Provider) {
	msg := p.Message()
	if msg == "" {
		return
	}
	if p.State() == provider.StateFailed {
		fmt.Fprintln(w, st.Warn(msg))
		return
	}
	fmt.Fprintln(w, st.Dim(msg))
}

// printSaveWarning reports a toggle that applies only to this session.
func printSaveWarning(w io.Writer, st ui.Styler, err error) {
	fmt.Fprintln(w, st.Warn("Warning: preferences could not be saved ("+err.Error()+"); the change applies to this session only."))
}

// printGroups renders filtered groups as event cards, categories in
// canonical order and events in API order.
func printGroups(w io.Writer, st ui.Styler, groups map[model.Category][]model.Event, width int) {
	keys := catalog.OrderedGroupKeys(groups)
	if len(keys) == 0 {
		fmt.Fprintln(w, "No events match your preferences.")
		return
	}
	rule := strings.Repeat("-", max(10, min(width, 80)))
	for _, c := range keys {
		evs := groups[c]
		fmt.Fprintf(w, "%s %s\n", st.Bold(st.Category(c)), st.Dim(fmt.Sprintf("(%d)", len(evs))))
		fmt.Fprintln(w, st.Dim(rule))
		for _, ev := range evs {
			printEvent(w, st, ev)
		}
		fmt.Fprintln(w)
	}
}

func printEvent(w io.Writer, st ui.Styler, ev model.Event) {
	fmt.Fprintf(w, "  %s\n", st.Bold(ev.Title))
	date := catalog.NoDateText
	if strings.TrimSpace(ev.DateTime) != "" {
		date = catalog.FormatDate(ev.DateTime)
	}
	line := "    " + date
	if ev.Location != "" {
		line += " | " + ev.Location
	}
	if ev.Price != "" {
		line += " | " + ev.Price
	}
	fmt.Fprintln(w, line)
	if ev.Description != "" {
		fmt.Fprintf(w, "    %s\n", st.Dim(catalog.Truncate(ev.Description, descriptionLimit)))
	}
	if ev.TicketLink != "" {
		fmt.Fprintf(w, "    %s\n", ev.TicketLink)
	}
}

// printCategoryRows renders the filter bar as a table.
func printCategoryRows(w io.Writer, rows []catalog.CategoryRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tCATEGORY\tEVENTS")
	for _, r := range rows {
		mark := " "
		if r.Selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", mark, string(r.Category), r.Count)
	}
	tw.Flush()
}

// printPreferences lists preferred categories or notes that none are set.
func printPreferences(w io.Writer, st ui.Styler, p model.UserPreferences) {
	if p.IsEmpty() {
		fmt.Fprintln(w, "No preferred categories; all events are shown.")
		return
	}
	names := make([]string, len(p.PreferredCategories))
	for i, c := range p.PreferredCategories {
		names[i] = st.Category(c)
	}
	fmt.Fprintf(w, "Preferred categories: %s\n", strings.Join(names, ", "))
}
