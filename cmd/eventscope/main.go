package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"eventscope/internal/config"
	appLog "eventscope/internal/log"
)

var (
	configPath string
	jsonOutput bool
	logLevel   string

	conf *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "eventscope <command>",
	Short:         "Browse the event catalog filtered by your preferred categories",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
		appLog.Debug("effective config",
			"config_path", configPath,
			"api_base_url", cfg.APIBaseURL,
			"storage", cfg.Storage.Backend,
			"timezone", cfg.Timezone,
			"refresh", cfg.Refresh,
			"nats", cfg.NATSURL != "",
		)
		conf = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", envOr("EVENTSCOPE_CONFIG", config.DefaultPath()), "path to config file (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "browse", Title: "Browse:"},
		&cobra.Group{ID: "prefs", Title: "Preferences:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Browse
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(featuredCmd)
	rootCmd.AddCommand(agendaCmd)
	rootCmd.AddCommand(exportCmd)

	// Preferences
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(prefsCmd)

	// System
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
