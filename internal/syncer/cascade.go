package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/resolver"
)

// ErrNotConflicting is returned by ApplyDecision for records that are not
// blocked on a conflict.
var ErrNotConflicting = errors.New("mutation is not in conflict")

// fail marks rec failed with reason and cascades to every queued record that
// transitively depends on it.
func (p *Processor) fail(ctx context.Context, rec *mutation.Record, reason string, report *Report) error {
	if err := p.store.MarkStatus(ctx, rec.SequenceID, mutation.StatusFailed, reason); err != nil {
		return err
	}
	rec.Status = mutation.StatusFailed
	rec.LastError = reason

	descendants, err := p.cascade(ctx, rec.IdempotencyKey, fmt.Sprintf("parent mutation failed: %s: %s", rec.IdempotencyKey, reason))
	if err != nil {
		return err
	}

	p.logger.Printf("Mutation %s failed: %s (%d dependents cascaded)", rec, reason, len(descendants))
	p.bus.Emit(events.Event{Type: events.MutationFailed, Record: rec, Cascaded: len(descendants), Message: reason})
	for _, d := range descendants {
		p.bus.Emit(events.Event{Type: events.MutationFailed, Record: d, Message: d.LastError})
	}

	if report != nil {
		report.Failed++
		report.Cascaded += len(descendants)
	}
	return nil
}

// discard drops rec from the queue because the server's state wins, failing
// its dependents. Returns the number of dependents failed.
func (p *Processor) discard(ctx context.Context, rec *mutation.Record, reason string) (int, error) {
	descendants, err := p.cascade(ctx, rec.IdempotencyKey, fmt.Sprintf("parent mutation discarded: %s: %s", rec.IdempotencyKey, reason))
	if err != nil {
		return 0, err
	}
	if err := p.store.Remove(ctx, rec.SequenceID); err != nil {
		return 0, err
	}

	p.logger.Printf("Mutation %s discarded: %s (%d dependents cascaded)", rec, reason, len(descendants))
	p.bus.Emit(events.Event{Type: events.QueueUpdated, Record: rec, Message: "discarded: " + reason})
	for _, d := range descendants {
		p.bus.Emit(events.Event{Type: events.MutationFailed, Record: d, Message: d.LastError})
	}
	return len(descendants), nil
}

// cascade marks every pending or conflicting descendant of key failed with
// reason. The dependents index is built from the current queue, so the walk
// only visits the affected subtree.
func (p *Processor) cascade(ctx context.Context, key, reason string) ([]*mutation.Record, error) {
	live, err := p.store.ListByStatus(ctx, mutation.StatusPending, mutation.StatusInFlight, mutation.StatusConflict)
	if err != nil {
		return nil, err
	}

	var failed []*mutation.Record
	for _, d := range resolver.Dependents(live).Descendants(key) {
		if d.Status == mutation.StatusInFlight {
			continue
		}
		if err := p.store.MarkStatus(ctx, d.SequenceID, mutation.StatusFailed, reason); err != nil {
			return nil, err
		}
		d.Status = mutation.StatusFailed
		d.LastError = reason
		failed = append(failed, d)
	}
	return failed, nil
}

// ApplyDecision resolves a record blocked in the conflict status.
//
//   - AcceptLocal clears the conflict baseline and requeues the local payload.
//   - AcceptRemote discards the record and fails its dependents.
//   - Merge requeues the decision's payload.
//   - Defer leaves the record blocked.
//
// The caller should Drive afterwards to dispatch a requeued record.
func (p *Processor) ApplyDecision(ctx context.Context, key string, decision conflict.Decision) (*mutation.Record, error) {
	rec, err := p.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, key)
	}
	if rec.Status != mutation.StatusConflict {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotConflicting, key, rec.Status)
	}
	if err := decision.Validate(rec); err != nil {
		return nil, fmt.Errorf("invalid decision for %s: %w", key, err)
	}

	switch decision.Action {
	case conflict.AcceptLocal:
		if err := p.store.ReplacePayload(ctx, rec.SequenceID, rec.Payload, nil, nil); err != nil {
			return nil, err
		}
	case conflict.Merge:
		if err := p.store.ReplacePayload(ctx, rec.SequenceID, decision.Payload, nil, nil); err != nil {
			return nil, err
		}
	case conflict.AcceptRemote:
		if _, err := p.discard(ctx, rec, "server state kept"); err != nil {
			return nil, err
		}
		return rec, nil
	default:
		return rec, nil
	}

	updated, err := p.store.Get(ctx, rec.SequenceID)
	if err != nil {
		return nil, err
	}
	p.bus.Emit(events.Event{Type: events.QueueUpdated, Record: updated})
	return updated, nil
}
