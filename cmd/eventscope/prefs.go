package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"eventscope/internal/model"
	"eventscope/internal/prefs"
)

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Short:   "List catalog categories with event counts",
	GroupID: "prefs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(func(ctx context.Context, a *app) error {
			p, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			defer p.Close()

			rows := p.Categories()
			if jsonOutput {
				return printJSON(stdout, rows)
			}
			printCategoryRows(stdout, rows)
			if snap := p.Snapshot(); !snap.CountsConsistent() {
				for _, m := range snap.CountMismatches() {
					fmt.Fprintln(os.Stderr, newStyler().Dim(fmt.Sprintf("note: %s advertises %d events but lists %d", m.Category, m.Count, m.Events)))
				}
			}
			return nil
		})
	},
}

var toggleCmd = &cobra.Command{
	Use:     "toggle <category>",
	Short:   "Add or remove a preferred category",
	GroupID: "prefs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := model.ParseCategory(args[0])
		if err != nil {
			return err
		}
		return runWithApp(func(ctx context.Context, a *app) error {
			// Toggling does not need the catalog.
			p, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			next, err := p.Toggle(ctx, c)
			saveFailed := errors.Is(err, prefs.ErrSaveFailed)
			if err != nil && !saveFailed {
				return err
			}
			if jsonOutput {
				return printJSON(stdout, map[string]any{
					"toggled":              c,
					"preferred_categories": next.PreferredCategories,
					"persisted":            !saveFailed,
				})
			}
			st := newStyler()
			if saveFailed {
				printSaveWarning(os.Stderr, st, err)
			}
			verb := "Removed"
			if next.Has(c) {
				verb = "Added"
			}
			fmt.Fprintf(stdout, "%s %s.\n", verb, st.Category(c))
			printPreferences(stdout, st, next)
			return nil
		})
	},
}

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	Short:   "Show or reset preferred categories",
	GroupID: "prefs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		return runWithApp(func(ctx context.Context, a *app) error {
			current := a.prefs.Load(ctx)
			if reset {
				current = prefs.Default()
				if err := a.prefs.Save(ctx, current); err != nil {
					return err
				}
			}
			if jsonOutput {
				return printJSON(stdout, current)
			}
			printPreferences(stdout, newStyler(), current)
			return nil
		})
	},
}

func init() {
	prefsCmd.Flags().Bool("reset", false, "clear all preferred categories")
}
