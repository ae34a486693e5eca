package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/ui"
)

var purgeCmd = &cobra.Command{
	Use:     "purge",
	GroupID: "maint",
	Short:   "Delete records older than the retention window",
	Long: `Delete queued records and confirmations created before a cutoff,
whatever their status. The default cutoff is sync.purge_ttl ago.
Younger records that depend on a purged record can never be sent and are
marked failed ("parent mutation expired").

Examples:
  syncq purge                      # older than sync.purge_ttl (7 days)
  syncq purge --ttl 48h
  syncq purge --before "last monday"
  syncq purge --before "3 days ago" --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		now := time.Now()

		cutoff := now.Add(-cfg.Sync.PurgeTTL)
		if ttl, _ := cmd.Flags().GetDuration("ttl"); ttl > 0 {
			cutoff = now.Add(-ttl)
		}
		if before, _ := cmd.Flags().GetString("before"); before != "" {
			t, err := parseCutoff(before, now)
			if err != nil {
				fatal("%v", err)
			}
			cutoff = t
		}

		store, err := openStore(ctx)
		if err != nil {
			fatal("%v", err)
		}
		defer store.Close()

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			records, err := store.ListByStatus(ctx)
			if err != nil {
				fatal("%v", err)
			}
			n := 0
			for _, rec := range records {
				if rec.CreatedAt.Before(cutoff) {
					n++
				}
			}
			fmt.Printf("Would delete %d queued records created before %s\n", n, cutoff.Format(time.DateTime))
			return
		}

		res, err := store.PurgeBefore(ctx, cutoff)
		if err != nil {
			fatal("purge failed: %v", err)
		}
		if jsonOutput {
			printJSON(res)
			return
		}
		fmt.Printf("%s Deleted %d records created before %s\n", ui.RenderPass("✓"), res.Records, cutoff.Format(time.DateTime))
		if res.Confirmations > 0 {
			fmt.Printf("   Forgot %d confirmations\n", res.Confirmations)
		}
		if res.Orphaned > 0 {
			fmt.Printf("%s Failed %d younger records that depended on purged ones\n", ui.RenderWarn("⚠"), res.Orphaned)
		}
	},
}

// parseCutoff reads a natural-language point in time ("yesterday",
// "last friday", "2 weeks ago") relative to now. RFC 3339 timestamps are
// accepted as well.
func parseCutoff(text string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q as a point in time", text)
	}
	if r.Time.After(now) {
		return time.Time{}, fmt.Errorf("%q is in the future", text)
	}
	return r.Time, nil
}

func init() {
	purgeCmd.Flags().Duration("ttl", 0, "Delete records older than this (default: sync.purge_ttl)")
	purgeCmd.Flags().String("before", "", "Delete records created before this time (natural language or RFC 3339)")
	purgeCmd.Flags().Bool("dry-run", false, "Only count what would be deleted")
	rootCmd.AddCommand(purgeCmd)
}
