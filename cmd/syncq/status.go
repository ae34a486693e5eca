package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "queue",
	Short:   "Show queue counts",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer store.Close()

		counts, err := store.Counts(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		if jsonOutput {
			printJSON(counts)
			return
		}

		fmt.Printf("\n%s Sync queue %s\n\n", ui.RenderAccent("📊"), ui.RenderMuted(cfg.DB.Path))
		ui.WriteCounts(os.Stdout, counts)
		if counts[mutation.StatusFailed] > 0 || counts[mutation.StatusConflict] > 0 {
			fmt.Printf("\n%s Records need attention: syncq list --status failed,conflict\n", ui.RenderWarn("⚠"))
		}
		fmt.Println()
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "queue",
	Short:   "List queued records in sequence order",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			fatal("%v", err)
		}
		defer store.Close()

		statusNames, _ := cmd.Flags().GetStringSlice("status")
		statuses := make([]mutation.Status, 0, len(statusNames))
		for _, name := range statusNames {
			s := mutation.Status(name)
			if !s.IsValid() {
				fatal("unknown status %q", name)
			}
			statuses = append(statuses, s)
		}

		var records []*mutation.Record
		if entity, _ := cmd.Flags().GetString("entity"); entity != "" {
			et := mutation.EntityType(entity)
			if !et.IsValid() {
				fatal("unknown entity type %q", entity)
			}
			all, err := store.ListByEntityType(ctx, et)
			if err != nil {
				fatal("%v", err)
			}
			for _, rec := range all {
				if len(statuses) == 0 || containsStatus(statuses, rec.Status) {
					records = append(records, rec)
				}
			}
		} else {
			records, err = store.ListByStatus(ctx, statuses...)
			if err != nil {
				fatal("%v", err)
			}
		}

		if jsonOutput {
			printJSON(records)
			return
		}
		if len(records) == 0 {
			fmt.Println("No records.")
			return
		}
		fmt.Println(ui.RecordTable(records))
	},
}

func containsStatus(list []mutation.Status, s mutation.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

var showCmd = &cobra.Command{
	Use:     "show <key>",
	GroupID: "queue",
	Short:   "Show one record",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer store.Close()

		rec, err := store.FindByKey(cmd.Context(), args[0])
		if err != nil {
			fatal("%v", err)
		}
		if rec == nil {
			// Synced records only leave a confirmation behind.
			conf, err := store.Confirmed(cmd.Context(), args[0])
			if err != nil || conf == nil {
				fatal("no record with key %s", args[0])
			}
			if jsonOutput {
				printJSON(conf)
				return
			}
			fmt.Printf("%s %s synced as %s\n", ui.RenderPass("✓"), args[0], conf.ServerID)
			return
		}

		if jsonOutput {
			printJSON(rec)
			return
		}
		ui.WriteRecord(os.Stdout, rec)
	},
}

func init() {
	listCmd.Flags().StringSlice("status", nil, "Only these statuses (pending, in_flight, failed, conflict)")
	listCmd.Flags().String("entity", "", "Only this entity type")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}
