package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/invtrack/syncq/internal/mutation"
)

// RecordTable renders records as a table, one row per record, in the order
// given.
func RecordTable(records []*mutation.Record) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("SEQ", "KEY", "OP", "ENTITY", "ID", "STATUS", "TRIES", "DEPENDS ON", "LAST ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, rec := range records {
		t.Row(
			fmt.Sprintf("%d", rec.SequenceID),
			shorten(rec.IdempotencyKey, 13),
			string(rec.Operation),
			string(rec.EntityType),
			rec.EntityID,
			RenderStatus(rec.Status),
			fmt.Sprintf("%d", rec.Attempt),
			shortenAll(rec.DependsOn, 13),
			shorten(rec.LastError, 40),
		)
	}
	return t.Render()
}

// WriteCounts prints per-status counts and the remaining total.
func WriteCounts(w io.Writer, counts map[mutation.Status]int) {
	statuses := make([]mutation.Status, 0, len(counts))
	remaining := 0
	for s, n := range counts {
		statuses = append(statuses, s)
		if !s.IsTerminal() {
			remaining += n
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	fmt.Fprintf(w, "%s\n", headerStyle.Render("Queue"))
	for _, s := range statuses {
		fmt.Fprintf(w, "  %-10s %d\n", RenderStatus(s), counts[s])
	}
	fmt.Fprintf(w, "  %-10s %d\n", "remaining", remaining)
}

// WriteRecord prints every field of one record.
func WriteRecord(w io.Writer, rec *mutation.Record) {
	fmt.Fprintf(w, "%s %s\n", RenderAccent(rec.IdempotencyKey), RenderStatus(rec.Status))
	fmt.Fprintf(w, "  Sequence:   %d\n", rec.SequenceID)
	fmt.Fprintf(w, "  Operation:  %s %s", rec.Operation, rec.EntityType)
	if rec.EntityID != "" {
		fmt.Fprintf(w, " %s", rec.EntityID)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Created:    %s\n", rec.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  Attempts:   %d (retry floor %d)\n", rec.Attempt, rec.RetryFloor)
	if rec.NextAttemptAt != nil {
		fmt.Fprintf(w, "  Next try:   %s\n", rec.NextAttemptAt.Local().Format(time.DateTime))
	}
	if len(rec.DependsOn) > 0 {
		fmt.Fprintf(w, "  Depends on: %s\n", strings.Join(rec.DependsOn, ", "))
	}
	if rec.CachedRevision != nil {
		fmt.Fprintf(w, "  Base rev:   %s\n", rec.CachedRevision.Format(time.RFC3339Nano))
	}
	if rec.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", RenderFail(rec.LastError))
	}

	fields, err := rec.Fields()
	if err != nil || len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "  Payload:")
	for _, name := range names {
		fmt.Fprintf(w, "    %s = %v\n", name, fields[name])
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func shortenAll(keys []string, n int) string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = shorten(k, n)
	}
	return strings.Join(out, ",")
}
