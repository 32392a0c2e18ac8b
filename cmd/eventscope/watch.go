package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"eventscope/internal/events"
	appLog "eventscope/internal/log"
	"eventscope/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Follow catalog and preference events published over NATS",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("nats-url")
		if url == "" {
			url = conf.NATSURL
		}
		if url == "" {
			return errors.New("no NATS server configured (set nats_url or --nats-url)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sub, err := events.NewNATSSubscriber(url,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				appLog.Warn("nats: disconnected", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				appLog.Info("nats: reconnected")
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(events.TopicAll)
		if err != nil {
			return err
		}
		defer cancel()

		appLog.Info("watching session events", "url", url, "subject", events.TopicAll)
		st := newStyler()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				if jsonOutput {
					fmt.Fprintf(stdout, "{\"topic\":%q,\"data\":%s}\n", msg.Topic, strings.TrimSpace(string(msg.Data)))
					continue
				}
				printWatchMessage(stdout, st, msg)
			}
		}
	},
}

// printWatchMessage renders one published event as a single line.
func printWatchMessage(w io.Writer, st ui.Styler, msg events.Message) {
	switch msg.Topic {
	case events.TopicCatalogReady:
		var ev events.CatalogReady
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			break
		}
		line := fmt.Sprintf("%s ready from %s: %d events in %d categories", ev.SessionID, ev.Source, ev.Events, ev.Categories)
		if !ev.CountsConsistent {
			line += st.Dim(" (counts disagree with groups)")
		}
		fmt.Fprintln(w, line)
		return

	case events.TopicCatalogFailed:
		var ev events.CatalogFailed
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			break
		}
		fmt.Fprintln(w, st.Warn(fmt.Sprintf("%s failed (%s): %s", ev.SessionID, ev.Kind, ev.Error)))
		return

	case events.TopicPreferencesChanged:
		var ev events.PreferencesChanged
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			break
		}
		names := make([]string, len(ev.PreferredCategories))
		for i, c := range ev.PreferredCategories {
			names[i] = st.Category(c)
		}
		line := fmt.Sprintf("%s toggled %s; preferred: [%s]", ev.SessionID, st.Category(ev.Toggled), strings.Join(names, ", "))
		if !ev.Persisted {
			line += st.Warn(" (not saved)")
		}
		fmt.Fprintln(w, line)
		return
	}
	fmt.Fprintf(w, "%s %s\n", msg.Topic, strings.TrimSpace(string(msg.Data)))
}

func init() {
	watchCmd.Flags().String("nats-url", "", "NATS server URL (default: nats_url from config)")
}
