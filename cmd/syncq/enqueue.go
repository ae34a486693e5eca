package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/facade"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/ui"
)

var enqueueCmd = &cobra.Command{
	Use:     "enqueue",
	GroupID: "queue",
	Short:   "Queue a create or update",
	Long: `Queue a write for the inventory server.

Field values are parsed as JSON when they look like JSON (numbers, true,
false, null, quoted strings) and taken literally otherwise. Quote a value to
force a string: --set 'model_number="1234"'.

A create may reference an entity that is itself still queued by using that
record's idempotency key as the reference and listing the key in
--depends-on. The key is replaced by the server id once the prerequisite
syncs.

Examples:
  syncq enqueue create locations --set name=Garage
  syncq enqueue create containers --set name=Bin --set location_id=<key> --depends-on <key>
  syncq enqueue update inventory inv-42 --set quantity=3 \
      --base-rev 2026-05-01T08:00:00Z --base quantity=5`,
}

var enqueueCreateCmd = &cobra.Command{
	Use:   "create <entity-type>",
	Short: "Queue a create",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		et, payload, opts := parseWrite(cmd, args[0], mutation.OpCreate)
		runWrite(cmd.Context(), func(s *session) (*mutation.Record, error) {
			return s.engine.Create(cmd.Context(), payload, opts)
		}, et)
	},
}

var enqueueUpdateCmd = &cobra.Command{
	Use:   "update <entity-type> <entity-id>",
	Short: "Queue an update",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		et, payload, opts := parseWrite(cmd, args[0], mutation.OpUpdate)

		base, _ := cmd.Flags().GetStringArray("base")
		if len(base) > 0 {
			fields, err := parseFields(base)
			if err != nil {
				fatal("%v", err)
			}
			opts.CachedFields = fields
		}
		if rev, _ := cmd.Flags().GetString("base-rev"); rev != "" {
			t, err := time.Parse(time.RFC3339Nano, rev)
			if err != nil {
				fatal("invalid --base-rev: %v", err)
			}
			opts.CachedRevision = &t
		}

		runWrite(cmd.Context(), func(s *session) (*mutation.Record, error) {
			return s.engine.Update(cmd.Context(), args[1], payload, opts)
		}, et)
	},
}

func parseWrite(cmd *cobra.Command, entity string, op mutation.Operation) (mutation.EntityType, mutation.Payload, *facade.Options) {
	et := mutation.EntityType(entity)
	if !et.IsValid() {
		fatal("unknown entity type %q", entity)
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	fields, err := parseFields(sets)
	if err != nil {
		fatal("%v", err)
	}
	payload, err := mutation.PayloadFromFields(et, fields)
	if err != nil {
		fatal("invalid %s payload: %v", et, err)
	}

	deps, _ := cmd.Flags().GetStringSlice("depends-on")
	key, _ := cmd.Flags().GetString("key")
	return et, payload, &facade.Options{IdempotencyKey: key, DependsOn: deps}
}

func runWrite(ctx context.Context, write func(*session) (*mutation.Record, error), et mutation.EntityType) {
	s, err := openSession(ctx)
	if err != nil {
		fatal("%v", err)
	}
	defer s.Close()

	rec, err := write(s)
	if err != nil {
		fatal("failed to queue %s write: %v", et, err)
	}

	if jsonOutput {
		printJSON(rec)
		return
	}
	fmt.Printf("%s Queued %s %s as %s\n", ui.RenderPass("✓"), rec.Operation, rec.EntityType, ui.RenderAccent(rec.IdempotencyKey))
}

// parseFields turns name=value pairs into a field map.
func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q (want name=value)", pair)
		}
		fields[name] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, string, nil:
			return v
		}
	}
	return raw
}

func init() {
	for _, c := range []*cobra.Command{enqueueCreateCmd, enqueueUpdateCmd} {
		c.Flags().StringArray("set", nil, "Field value as name=value (repeatable)")
		c.Flags().StringSlice("depends-on", nil, "Keys of queued records this write needs first")
		c.Flags().String("key", "", "Idempotency key (default: a new UUIDv7)")
	}
	enqueueUpdateCmd.Flags().StringArray("base", nil, "Last-seen server value as name=value, for conflict detection")
	enqueueUpdateCmd.Flags().String("base-rev", "", "Last-seen server revision (RFC 3339)")

	enqueueCmd.AddCommand(enqueueCreateCmd)
	enqueueCmd.AddCommand(enqueueUpdateCmd)
	rootCmd.AddCommand(enqueueCmd)
}
