package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/loadtest"
	"github.com/invtrack/syncq/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Stress the queue with concurrent writers",
	Long: `Run concurrent writers against a scratch queue while a processor drains
it into an in-process server, then report latency and check that every
record reached the server after its prerequisites.

Examples:
  syncq loadtest
  syncq loadtest --contexts 16 --chains 100 --failure-rate 0.2`,
	Run: func(cmd *cobra.Command, args []string) {
		contexts, _ := cmd.Flags().GetInt("contexts")
		chains, _ := cmd.Flags().GetInt("chains")
		failureRate, _ := cmd.Flags().GetFloat64("failure-rate")
		seed, _ := cmd.Flags().GetInt64("seed")

		if contexts <= 0 || chains <= 0 {
			fatal("--contexts and --chains must be positive")
		}
		if failureRate < 0 || failureRate >= 1 {
			fatal("--failure-rate must be in [0, 1)")
		}

		dir, err := os.MkdirTemp("", "syncq-loadtest-")
		if err != nil {
			fatal("%v", err)
		}
		defer os.RemoveAll(dir)

		fmt.Printf("%s Running %d writers x %d chains...\n", ui.RenderAccent("🔄"), contexts, chains)
		result, err := loadtest.Run(cmd.Context(), filepath.Join(dir, "load.db"), loadtest.Scenario{
			Contexts:    contexts,
			Chains:      chains,
			FailureRate: failureRate,
			Seed:        seed,
			Logger:      sink.Logger("loadtest"),
		})
		if err != nil {
			fatal("load test failed: %v", err)
		}

		if jsonOutput {
			printJSON(result)
		} else {
			result.Print(os.Stdout)
		}
		if len(result.OrderViolations) > 0 || result.Synced != result.Records {
			os.Exit(1)
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("contexts", 4, "Concurrent writers")
	loadtestCmd.Flags().Int("chains", 25, "Dependency chains per writer (5 records each)")
	loadtestCmd.Flags().Float64("failure-rate", 0, "Fraction of server calls that fail transiently")
	loadtestCmd.Flags().Int64("seed", 42, "Seed for failure injection")
	rootCmd.AddCommand(loadtestCmd)
}
