package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/syncer"
	"github.com/invtrack/syncq/internal/ui"
)

var driveCmd = &cobra.Command{
	Use:     "drive",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Dispatch every eligible record to the server in dependency order, then
exit. Records waiting for a backoff to elapse are left for a later cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openSession(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer s.Close()

		report, err := s.engine.Drive(cmd.Context())
		if err != nil {
			fatal("sync cycle failed: %v", err)
		}
		if jsonOutput {
			printJSON(report)
			return
		}
		printReport(report)
	},
}

func printReport(r syncer.Report) {
	if r.Coalesced {
		fmt.Printf("%s A cycle was already running; it will make another pass\n", ui.RenderAccent("↻"))
		return
	}
	mark := ui.RenderPass("✓")
	if r.Failed > 0 || r.Conflicts > 0 {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Printf("%s Sync cycle finished in %v (%d passes)\n", mark, r.Duration.Round(time.Millisecond), r.Passes)
	fmt.Printf("   Synced:    %d\n", r.Synced)
	if r.Retried > 0 {
		fmt.Printf("   Retrying:  %d\n", r.Retried)
	}
	if r.Failed > 0 {
		fmt.Printf("   Failed:    %s (%d cascaded)\n", ui.RenderFail(fmt.Sprint(r.Failed)), r.Cascaded)
	}
	if r.Conflicts > 0 {
		fmt.Printf("   Conflicts: %s\n", ui.RenderWarn(fmt.Sprint(r.Conflicts)))
	}
	if r.Discarded > 0 {
		fmt.Printf("   Discarded: %d\n", r.Discarded)
	}
	fmt.Printf("   Remaining: %d\n", r.Remaining)
	if r.NextRetry != nil {
		fmt.Printf("   Next retry at %s\n", r.NextRetry.Local().Format(time.TimeOnly))
	}
}

var retryCmd = &cobra.Command{
	Use:     "retry <key>...",
	GroupID: "sync",
	Short:   "Requeue failed or conflicting records with a fresh retry budget",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openSession(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer s.Close()

		failed := 0
		for _, key := range args {
			if _, err := s.engine.Retry(cmd.Context(), key); err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), key, err)
				failed++
				continue
			}
			fmt.Printf("%s Requeued %s\n", ui.RenderPass("✓"), key)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

var discardCmd = &cobra.Command{
	Use:     "discard <key>...",
	GroupID: "sync",
	Short:   "Drop failed or conflicting records",
	Long: `Remove failed or conflicting records from the queue. Discarding a
conflicting update keeps the server's state and fails every queued record
that depended on it.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openSession(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer s.Close()

		failed := 0
		for _, key := range args {
			if _, err := s.engine.Discard(cmd.Context(), key); err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), key, err)
				failed++
				continue
			}
			fmt.Printf("%s Discarded %s\n", ui.RenderPass("✓"), key)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:     "resolve <key>",
	GroupID: "sync",
	Short:   "Settle a conflicting update",
	Long: `Settle a record held in the conflict status.

  accept-local   send the local update as is
  accept-remote  drop the local update and keep the server's state
  merge          send the local update without the --drop fields
  defer          leave it blocked

Without --decision, and with a terminal on stdin, syncq asks interactively.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			fatal("%v", err)
		}
		defer s.Close()

		rec, err := s.engine.Store().FindByKey(ctx, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if rec == nil || rec.Status != mutation.StatusConflict {
			fatal("%s is not a conflicting record", args[0])
		}

		decision, err := decisionFromFlags(cmd, rec)
		if err != nil {
			fatal("%v", err)
		}

		if _, err := s.engine.Resolve(ctx, rec.IdempotencyKey, decision); err != nil {
			fatal("failed to resolve %s: %v", rec.IdempotencyKey, err)
		}
		fmt.Printf("%s Resolved %s with %s\n", ui.RenderPass("✓"), rec.IdempotencyKey, decision.Action)
	},
}

func decisionFromFlags(cmd *cobra.Command, rec *mutation.Record) (conflict.Decision, error) {
	name, _ := cmd.Flags().GetString("decision")
	if name == "" {
		if !ui.IsTerminal(os.Stdin) {
			return conflict.Decision{}, fmt.Errorf("--decision is required when stdin is not a terminal")
		}
		return ui.PromptDecision(rec)
	}

	action, err := conflict.ParseAction(name)
	if err != nil {
		return conflict.Decision{}, err
	}
	if action != conflict.Merge {
		return conflict.Decision{Action: action}, nil
	}
	drop, _ := cmd.Flags().GetStringSlice("drop")
	if len(drop) == 0 {
		return conflict.Decision{}, fmt.Errorf("--decision merge needs --drop with the fields to take from the server")
	}
	return ui.MergeDecision(rec, drop)
}

func init() {
	resolveCmd.Flags().String("decision", "", "accept-local, accept-remote, merge or defer")
	resolveCmd.Flags().StringSlice("drop", nil, "Fields to take from the server (merge)")

	rootCmd.AddCommand(driveCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(resolveCmd)
}
