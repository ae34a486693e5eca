package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/mutation"
)

// PromptDecision asks how to settle a conflicting update. For a merge the
// user also picks which of the update's fields to give up to the server.
func PromptDecision(rec *mutation.Record) (conflict.Decision, error) {
	fields, err := rec.Fields()
	if err != nil {
		return conflict.Decision{}, err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var choice string
	summary := fmt.Sprintf("%s %s %s\n%s", rec.Operation, rec.EntityType, rec.EntityID, rec.LastError)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Conflicting update "+rec.IdempotencyKey).
				Description(summary),
			huh.NewSelect[string]().
				Title("Resolve with").
				Options(
					huh.NewOption("Keep my change (accept-local)", conflict.AcceptLocal.String()),
					huh.NewOption("Keep the server's state (accept-remote)", conflict.AcceptRemote.String()),
					huh.NewOption("Merge field by field", conflict.Merge.String()),
					huh.NewOption("Decide later", conflict.Defer.String()),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return conflict.Decision{}, err
	}

	action, err := conflict.ParseAction(choice)
	if err != nil {
		return conflict.Decision{}, err
	}
	if action != conflict.Merge {
		return conflict.Decision{Action: action}, nil
	}

	var drop []string
	options := make([]huh.Option[string], len(names))
	for i, name := range names {
		options[i] = huh.NewOption(fmt.Sprintf("%s = %v", name, fields[name]), name)
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Fields to take from the server").
				Options(options...).
				Value(&drop),
		),
	).Run()
	if err != nil {
		return conflict.Decision{}, err
	}
	return MergeDecision(rec, drop)
}

// MergeDecision builds a merge that keeps rec's fields except drop. Dropping
// every field turns the merge into accept-remote.
func MergeDecision(rec *mutation.Record, drop []string) (conflict.Decision, error) {
	merged, err := conflict.MergeFields(rec, drop)
	if err != nil {
		return conflict.Decision{}, err
	}
	if merged == nil {
		return conflict.Decision{Action: conflict.AcceptRemote}, nil
	}
	return conflict.Decision{
		Action:  conflict.Merge,
		Payload: merged,
		Reason:  "merged without " + strings.Join(drop, ", "),
	}, nil
}
