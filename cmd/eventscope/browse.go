package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eventscope/internal/catalog"
	"eventscope/internal/ics"
	"eventscope/internal/model"
	"eventscope/internal/provider"
	"eventscope/internal/ui"
)

// runWithApp opens the app for the duration of fn and cancels on SIGINT or
// SIGTERM.
func runWithApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, conf, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// readySession loads a session and prints its status line. It returns an
// error when the catalog could not be loaded.
func readySession(ctx context.Context, a *app) (*provider.Provider, error) {
	p, err := a.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if !jsonOutput {
		printStatus(os.Stderr, newStyler(), p)
	}
	if p.State() != provider.StateReady {
		err := p.Err()
		p.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return p, nil
}

var showCmd = &cobra.Command{
	Use:     "show",
	Short:   "Show events in your preferred categories",
	GroupID: "browse",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(func(ctx context.Context, a *app) error {
			p, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			defer p.Close()

			groups := p.Filtered()
			if jsonOutput {
				return printJSON(stdout, map[string]any{
					"session_id":           p.SessionID(),
					"source":               p.Source(),
					"message":              p.Message(),
					"preferred_categories": p.Preferences().PreferredCategories,
					"category_groups":      groups,
				})
			}

			st := newStyler()
			printPreferences(stdout, st, p.Preferences())
			fmt.Fprintln(stdout)
			printGroups(stdout, st, groups, ui.Width(80))
			return nil
		})
	},
}

var featuredCmd = &cobra.Command{
	Use:     "featured",
	Short:   "Show one random event from each of the first categories",
	GroupID: "browse",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("count")
		if n <= 0 {
			n = conf.FeaturedCount
		}
		return runWithApp(func(ctx context.Context, a *app) error {
			p, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			defer p.Close()

			featured := catalog.Featured(p.Snapshot(), n, nil)
			if jsonOutput {
				if featured == nil {
					featured = []catalog.FeaturedEvent{}
				}
				return printJSON(stdout, featured)
			}
			if len(featured) == 0 {
				fmt.Fprintln(stdout, "No featured events.")
				return nil
			}
			st := newStyler()
			for _, f := range featured {
				fmt.Fprintln(stdout, st.Bold(st.Category(f.Category)))
				printEvent(stdout, st, f.Event)
			}
			return nil
		})
	},
}

var agendaCmd = &cobra.Command{
	Use:     "agenda",
	Short:   "List preferred events day by day",
	GroupID: "browse",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		backfill, _ := cmd.Flags().GetInt("backfill")
		if days <= 0 {
			days = conf.AgendaDays
		}
		return runWithApp(func(ctx context.Context, a *app) error {
			p, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			defer p.Close()

			now := time.Now().In(a.loc)
			res, err := ics.ExpandOccurrences(p.Filtered(), ics.ExpandConfig{
				DisplayLocation: a.loc,
				RangeStart:      now.AddDate(0, 0, -max(backfill, 0)),
				RangeEnd:        now.AddDate(0, 0, days),
				Reference:       ics.ReferenceTime(p.Snapshot(), now, a.loc),
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				occ := res.Occurrences
				if occ == nil {
					occ = []ics.Occurrence{}
				}
				return printJSON(stdout, map[string]any{
					"occurrences": occ,
					"undated":     res.Undated,
				})
			}
			printAgenda(stdout, newStyler(), res)
			return nil
		})
	},
}

func printAgenda(w io.Writer, st ui.Styler, res ics.ExpandResult) {
	if len(res.Occurrences) == 0 {
		fmt.Fprintln(w, "Nothing scheduled in this window.")
	}
	var day time.Time
	for _, o := range res.Occurrences {
		if !o.Day.Equal(day) {
			if !day.IsZero() {
				fmt.Fprintln(w)
			}
			day = o.Day
			fmt.Fprintln(w, st.Bold(day.Format("Mon 2 Jan 2006")))
		}
		label := o.Event.Title
		if o.Days > 1 {
			label += st.Dim(fmt.Sprintf(" (day %d of %d)", o.DayIndex, o.Days))
		}
		fmt.Fprintf(w, "  %-13s %s\n", "["+string(o.Category)+"]", label)
	}
	if len(res.Undated) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, st.Dim(fmt.Sprintf("%d events without a usable date are not listed; see `eventscope show`.", len(res.Undated))))
	}
}

var exportCmd = &cobra.Command{
	Use:     "export-ics",
	Short:   "Export preferred events as an iCalendar file",
	GroupID: "browse",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return runWithApp(func(ctx context.Context, a *app) error {
			p, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			defer p.Close()

			now := time.Now()
			cfg := ics.ExportConfig{
				Name:      ics.CalendarName(p.Snapshot()),
				Location:  a.loc,
				Reference: ics.ReferenceTime(p.Snapshot(), now, a.loc),
				Now:       now,
			}
			if output == "" || output == "-" {
				return ics.WriteCalendar(stdout, p.Filtered(), cfg)
			}
			return writeCalendarFile(output, p.Filtered(), cfg)
		})
	},
}

// writeCalendarFile writes via a temp file and rename so readers never see
// a partial calendar.
func writeCalendarFile(path string, groups map[model.Category][]model.Event, cfg ics.ExportConfig) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := ics.WriteCalendar(f, groups, cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write calendar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}

func init() {
	featuredCmd.Flags().IntP("count", "n", 0, "number of categories to sample (default: featured_count)")
	agendaCmd.Flags().Int("days", 0, "days ahead to include (default: agenda_days)")
	agendaCmd.Flags().Int("backfill", 0, "past days to include")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}
