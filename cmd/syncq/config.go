package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/config"
	"github.com/invtrack/syncq/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		out, err := cfg.Render(config.Format(format))
		if err != nil {
			fatal("%v", err)
		}
		if file := loader.ConfigFile(); file != "" {
			fmt.Fprintf(os.Stderr, "%s\n", ui.RenderMuted("# from "+file))
		}
		os.Stdout.Write(out)
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "Output format: yaml or toml")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
