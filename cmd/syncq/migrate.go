package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/migrate"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file.jsonl>",
	GroupID: "maint",
	Short:   "Write the queue to a JSONL file",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer store.Close()

		names, _ := cmd.Flags().GetStringSlice("status")
		var statuses []mutation.Status
		for _, name := range names {
			s := mutation.Status(name)
			if !s.IsValid() {
				fatal("unknown status %q", name)
			}
			statuses = append(statuses, s)
		}

		n, err := migrate.Export(cmd.Context(), store, migrate.ExportOptions{ToJSONL: args[0], Statuses: statuses})
		if err != nil {
			fatal("export failed: %v", err)
		}
		fmt.Printf("%s Exported %d records to %s\n", ui.RenderPass("✓"), n, args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "maint",
	Short:   "Queue the records of a JSONL export",
	Long: `Queue the records of a file written by 'syncq export', in file order.

Idempotency keys are kept, so a record that already reached the server from
the exporting device is deduplicated there, and keys already in this queue
are skipped. Failed records are skipped unless --include-failed is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		defer store.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		includeFailed, _ := cmd.Flags().GetBool("include-failed")

		result, err := migrate.Import(cmd.Context(), store, migrate.ImportOptions{
			FromJSONL:     args[0],
			DryRun:        dryRun,
			IncludeFailed: includeFailed,
		})
		if err != nil {
			fatal("import failed: %v", err)
		}
		if jsonOutput {
			printJSON(result)
			return
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d of %d records\n", ui.RenderPass("✓"), verb, result.Imported, result.Read)
		if result.Duplicates > 0 {
			fmt.Printf("   Already queued: %d\n", result.Duplicates)
		}
		if result.Skipped > 0 {
			fmt.Printf("   Skipped failed: %d\n", result.Skipped)
		}
		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), msg)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	exportCmd.Flags().StringSlice("status", nil, "Only these statuses (default: all)")
	importCmd.Flags().Bool("dry-run", false, "Validate without queueing")
	importCmd.Flags().Bool("include-failed", false, "Requeue records that had failed")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
