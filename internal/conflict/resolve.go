package conflict

import (
	"context"
	"fmt"

	"github.com/invtrack/syncq/internal/mutation"
)

// Action is what to do with a conflicting update.
type Action int

const (
	// Defer leaves the record blocked in the conflict status.
	Defer Action = iota
	// AcceptLocal dispatches the local payload over the server's state.
	AcceptLocal
	// AcceptRemote drops the local update; the server's state wins.
	AcceptRemote
	// Merge dispatches Decision.Payload instead of the local payload.
	Merge
)

func (a Action) String() string {
	switch a {
	case Defer:
		return "defer"
	case AcceptLocal:
		return "accept-local"
	case AcceptRemote:
		return "accept-remote"
	case Merge:
		return "merge"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction parses the String form of an action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "defer":
		return Defer, nil
	case "accept-local", "local":
		return AcceptLocal, nil
	case "accept-remote", "remote":
		return AcceptRemote, nil
	case "merge":
		return Merge, nil
	}
	return Defer, fmt.Errorf("unknown decision %q (want accept-local, accept-remote, merge or defer)", s)
}

// Decision is a resolver's answer.
type Decision struct {
	Action Action
	// Payload replaces the local payload when Action is Merge.
	Payload mutation.Payload
	// Reason is kept in the record's last error when the decision defers.
	Reason string
}

// Validate checks that a Merge decision carries a usable payload for rec.
func (d Decision) Validate(rec *mutation.Record) error {
	if d.Action != Merge {
		return nil
	}
	if d.Payload == nil {
		return fmt.Errorf("merge decision needs a payload")
	}
	if d.Payload.EntityType() != rec.EntityType {
		return fmt.Errorf("merge payload is %s, record is %s", d.Payload.EntityType(), rec.EntityType)
	}
	return d.Payload.Validate(rec.Operation)
}

// Conflict is what a resolver is asked to decide on.
type Conflict struct {
	Record *mutation.Record
	Result Result
}

// Resolver is the strategy consulted when an update conflicts.
type Resolver interface {
	Resolve(ctx context.Context, c Conflict) (Decision, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, c Conflict) (Decision, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, c Conflict) (Decision, error) {
	return f(ctx, c)
}

var (
	_ Resolver = LocalWins{}
	_ Resolver = RemoteWins{}
	_ Resolver = ManualReview{}
	_ Resolver = FieldMerge{}
)

// LocalWins always dispatches the local payload.
type LocalWins struct{}

func (LocalWins) Resolve(ctx context.Context, c Conflict) (Decision, error) {
	return Decision{Action: AcceptLocal}, nil
}

// RemoteWins always keeps the server's state.
type RemoteWins struct{}

func (RemoteWins) Resolve(ctx context.Context, c Conflict) (Decision, error) {
	return Decision{Action: AcceptRemote}, nil
}

// ManualReview defers every conflict to a person.
type ManualReview struct {
	Reason string
}

func (r ManualReview) Resolve(ctx context.Context, c Conflict) (Decision, error) {
	reason := r.Reason
	if reason == "" {
		reason = "manual review required"
	}
	return Decision{Action: Defer, Reason: reason}, nil
}

// FieldMerge keeps the local values of fields the server did not touch and
// lets the server win on the diverging ones. Conflicts that cannot be
// classified (no base values) are deferred.
type FieldMerge struct{}

func (FieldMerge) Resolve(ctx context.Context, c Conflict) (Decision, error) {
	if c.Result.Class == NeedsManual {
		return Decision{Action: Defer, Reason: "no base values to merge against"}, nil
	}
	merged, err := MergeFields(c.Record, c.Result.Fields)
	if err != nil {
		return Decision{}, err
	}
	if merged == nil {
		return Decision{Action: AcceptRemote}, nil
	}
	return Decision{Action: Merge, Payload: merged}, nil
}

// MergeFields returns rec's payload without the given fields, or nil if
// nothing would be left to send.
func MergeFields(rec *mutation.Record, drop []string) (mutation.Payload, error) {
	fields, err := rec.Fields()
	if err != nil {
		return nil, err
	}
	for _, f := range drop {
		delete(fields, f)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return mutation.PayloadFromFields(rec.EntityType, fields)
}
