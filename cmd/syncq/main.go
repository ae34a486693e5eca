// Command syncq manages an offline mutation queue: it records writes made
// while disconnected and replays them to the inventory server in dependency
// order once a connection is available.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/config"
	"github.com/invtrack/syncq/internal/logging"
)

var (
	// Set by PersistentPreRunE.
	loader *config.Loader
	cfg    *config.Config
	sink   *logging.Sink

	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "syncq",
	Short: "Offline-first mutation queue for the inventory API",
	Long: `syncq records inventory writes in a local queue and replays them to the
server in dependency order, retrying transient failures and holding back
updates that conflict with changes made elsewhere.

Configuration comes from .syncq/syncq.yaml (or .toml), SYNCQ_* environment
variables and the flags below, in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loader = config.NewLoader()
		for key, flag := range map[string]string{
			"db.path":         "db",
			"remote.base_url": "remote",
			"log.file":        "log-file",
		} {
			if err := loader.BindFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return err
			}
		}
		if err := loader.Load(configPath); err != nil {
			return err
		}
		c, err := loader.Config()
		if err != nil {
			return err
		}
		cfg = c

		s, err := logging.NewSink(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sink != nil {
			_ = sink.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: .syncq/syncq.yaml)")
	flags.String("db", "", "Queue database path (config: db.path)")
	flags.String("remote", "", "Inventory API base URL (config: remote.base_url)")
	flags.String("log-file", "", "Also log to this rotating file (config: log.file)")
	flags.BoolVar(&jsonOutput, "json", false, "Output JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
