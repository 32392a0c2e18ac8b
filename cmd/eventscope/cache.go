package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"eventscope/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Inspect or clear the cached catalog",
	GroupID: "system",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the age and freshness of the cached catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(func(ctx context.Context, a *app) error {
			st, err := a.cache.Status(ctx)
			if err != nil && !st.Present {
				return fmt.Errorf("read cache: %w", err)
			}
			if jsonOutput {
				out := map[string]any{
					"present": st.Present,
					"fresh":   st.Fresh,
					"ttl":     cache.TTL.String(),
				}
				if err != nil {
					out["error"] = err.Error()
				} else if st.Present {
					out["captured_at"] = st.CapturedAt.In(a.loc).Format(time.RFC3339)
					out["age"] = st.Age.Round(time.Second).String()
					out["expires_in"] = st.ExpiresIn.Round(time.Second).String()
					out["version"] = st.Version
					out["events"] = st.Events
				}
				return printJSON(stdout, out)
			}
			printCacheStatus(st, err, a)
			return nil
		})
	},
}

func printCacheStatus(st cache.Status, readErr error, a *app) {
	s := newStyler()
	switch {
	case !st.Present:
		fmt.Fprintln(stdout, "No cached catalog.")
	case readErr != nil:
		fmt.Fprintln(stdout, s.Warn("Cached catalog is unreadable and will be discarded on next load: "+readErr.Error()))
	default:
		fmt.Fprintf(stdout, "Captured:  %s (%s ago)\n", st.CapturedAt.In(a.loc).Format("2 Jan 2006 15:04"), st.Age.Round(time.Second))
		fmt.Fprintf(stdout, "Events:    %d\n", st.Events)
		fmt.Fprintf(stdout, "Version:   %d\n", st.Version)
		if st.Fresh {
			fmt.Fprintf(stdout, "Status:    fresh, expires in %s\n", st.ExpiresIn.Round(time.Second))
		} else {
			fmt.Fprintln(stdout, "Status:    "+s.Warn("stale")+", the next load fetches from the network")
		}
	}
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached catalog so the next load fetches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(func(ctx context.Context, a *app) error {
			if err := a.cache.Clear(ctx); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			if jsonOutput {
				return printJSON(stdout, map[string]bool{"cleared": true})
			}
			fmt.Fprintln(stdout, "Cache cleared.")
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
