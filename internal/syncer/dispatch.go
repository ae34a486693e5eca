package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invtrack/syncq/internal/conflict"
	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/queue"
	"github.com/invtrack/syncq/internal/remote"
	"github.com/invtrack/syncq/internal/resolver"
)

// pass makes one sweep over the dispatchable records in resolver order.
// Only store failures and cancellation are returned.
func (p *Processor) pass(ctx context.Context, report *Report) error {
	records, err := p.store.ListPending(ctx)
	if err != nil {
		return err
	}

	plan := resolver.Resolve(records)
	for _, rec := range plan.Unresolvable {
		p.logger.Printf("Warning: unresolvable dependency for %s (depends on %s)", rec, strings.Join(rec.DependsOn, ", "))
	}
	report.Unresolvable = len(plan.Unresolvable)

	for _, planned := range plan.Order() {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Another context may have confirmed, failed or retried the record
		// since the listing.
		rec, err := p.store.Get(ctx, planned.SequenceID)
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		// In-flight records belong to whichever context claimed them.
		if rec.Status != mutation.StatusPending {
			continue
		}

		if rec.NextAttemptAt != nil && p.config.Now().Before(*rec.NextAttemptAt) {
			report.Waiting++
			report.noteRetry(*rec.NextAttemptAt)
			continue
		}

		ready, err := p.dependenciesMet(ctx, rec, report)
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !ready {
			continue
		}

		claimed, err := p.store.Claim(ctx, rec.SequenceID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		rec.Status = mutation.StatusInFlight

		if err := p.dispatch(ctx, rec, report); err != nil {
			// Discarded or purged by another context while we held it.
			if errors.Is(err, queue.ErrNotFound) {
				p.logger.Printf("Mutation %s left the queue during dispatch", rec)
				continue
			}
			return err
		}
	}
	return nil
}

// dependenciesMet reports whether every prerequisite of rec has been
// confirmed. A prerequisite that is still queued defers rec; one that has
// failed, or that is neither queued nor confirmed any more, fails rec as
// well.
func (p *Processor) dependenciesMet(ctx context.Context, rec *mutation.Record, report *Report) (bool, error) {
	if len(rec.DependsOn) == 0 {
		return true, nil
	}
	present, err := p.store.KeysExist(ctx, rec.DependsOn)
	if err != nil {
		return false, err
	}
	if len(present) == 0 {
		gone, err := p.store.UnknownKeys(ctx, rec.DependsOn)
		if err != nil {
			return false, err
		}
		if len(gone) > 0 {
			reason := fmt.Sprintf("parent mutation expired: %s", gone[0])
			return false, p.fail(ctx, rec, reason, report)
		}
		return true, nil
	}

	for _, key := range present {
		parent, err := p.store.FindByKey(ctx, key)
		if err != nil {
			return false, err
		}
		if parent != nil && parent.Status == mutation.StatusFailed {
			reason := fmt.Sprintf("parent mutation failed: %s: %s", parent.IdempotencyKey, parent.LastError)
			if err := p.fail(ctx, rec, reason, report); err != nil {
				return false, err
			}
			return false, nil
		}
	}

	report.Deferred++
	p.bus.Emit(events.Event{Type: events.MutationDeferred, Record: rec})
	return false, nil
}

// dispatch delivers one record claimed by this context and records the
// outcome.
func (p *Processor) dispatch(ctx context.Context, rec *mutation.Record, report *Report) error {
	fields, err := rec.Fields()
	if err != nil {
		return p.fail(ctx, rec, err.Error(), report)
	}

	ids, err := p.store.ConfirmedIDs(ctx, rec.DependsOn)
	if err != nil {
		return err
	}
	fields = substituteRefs(fields, ids)
	entityID := rec.EntityID
	if id, ok := ids[entityID]; ok {
		entityID = id
	}

	if rec.Operation == mutation.OpUpdate && p.detector.NeedsCheck(rec) {
		proceed, merged, err := p.checkConflict(ctx, rec, entityID, report)
		if err != nil || !proceed {
			return err
		}
		if merged != nil {
			fields = substituteRefs(merged, ids)
		}
	}

	dctx, cancel := context.WithTimeout(ctx, p.config.DispatchTimeout)
	var res remote.Result
	switch rec.Operation {
	case mutation.OpCreate:
		res, err = p.remote.Create(dctx, rec.EntityType, rec.IdempotencyKey, fields)
	case mutation.OpUpdate:
		res, err = p.remote.Update(dctx, rec.EntityType, entityID, rec.IdempotencyKey, fields)
	default:
		err = remote.NewPermanentError(fmt.Errorf("unknown operation %q", rec.Operation))
	}
	cancel()

	if err != nil {
		return p.handleFailure(ctx, rec, err, report)
	}

	var revision *time.Time
	if !res.Revision.IsZero() {
		revision = &res.Revision
	}
	if err := p.store.Confirm(ctx, rec, res.ServerID, revision); err != nil {
		return err
	}
	report.Synced++
	p.bus.Emit(events.Event{Type: events.MutationSynced, Record: rec})
	return nil
}

// checkConflict fetches the server's state for an update and applies the
// resolver's decision. It returns whether to dispatch, and replacement fields
// when the decision was a merge.
func (p *Processor) checkConflict(ctx context.Context, rec *mutation.Record, entityID string, report *Report) (bool, map[string]any, error) {
	fctx, cancel := context.WithTimeout(ctx, p.config.DispatchTimeout)
	snap, err := p.remote.Fetch(fctx, rec.EntityType, entityID)
	cancel()
	if err != nil {
		return false, nil, p.handleFailure(ctx, rec, err, report)
	}

	res, err := p.detector.Check(rec, snap)
	if err != nil {
		return false, nil, p.fail(ctx, rec, err.Error(), report)
	}
	if res.IsClean() {
		return true, nil, nil
	}

	decision := conflict.Decision{Action: conflict.Defer}
	if p.config.Resolver != nil {
		d, err := p.config.Resolver.Resolve(ctx, conflict.Conflict{Record: rec, Result: res})
		switch {
		case err != nil:
			p.logger.Printf("Warning: conflict resolver failed for %s: %v", rec, err)
		case d.Validate(rec) != nil:
			p.logger.Printf("Warning: conflict resolver returned an invalid decision for %s: %v", rec, d.Validate(rec))
		default:
			decision = d
		}
	}

	switch decision.Action {
	case conflict.AcceptLocal:
		return true, nil, nil

	case conflict.Merge:
		if err := p.store.ReplacePayload(ctx, rec.SequenceID, decision.Payload, &snap.Revision, snap.Fields); err != nil {
			return false, nil, err
		}
		// ReplacePayload requeued the record; take it back before sending.
		claimed, err := p.store.Claim(ctx, rec.SequenceID)
		if err != nil || !claimed {
			return false, nil, err
		}
		fields, err := mutation.PayloadFields(decision.Payload)
		if err != nil {
			return false, nil, p.fail(ctx, rec, err.Error(), report)
		}
		return true, fields, nil

	case conflict.AcceptRemote:
		n, err := p.discard(ctx, rec, "server state kept")
		if err != nil {
			return false, nil, err
		}
		report.Discarded++
		report.Cascaded += n
		return false, nil, nil

	default:
		reason := fmt.Sprintf("conflict on %s (%s)", strings.Join(res.Fields, ", "), res.Class)
		if decision.Reason != "" {
			reason += ": " + decision.Reason
		}
		if err := p.store.MarkStatus(ctx, rec.SequenceID, mutation.StatusConflict, reason); err != nil {
			return false, nil, err
		}
		rec.Status = mutation.StatusConflict
		rec.LastError = reason
		report.Conflicts++
		p.bus.Emit(events.Event{Type: events.MutationConflict, Record: rec, Fields: res.Fields, Message: reason})
		return false, nil, nil
	}
}

// handleFailure records a failed attempt and either schedules a retry or
// fails the record.
func (p *Processor) handleFailure(ctx context.Context, rec *mutation.Record, dispatchErr error, report *Report) error {
	dispatchErr = remote.CategorizeError(dispatchErr)
	msg := dispatchErr.Error()

	// The drive itself was cancelled: put the record back without spending
	// an attempt.
	if ctx.Err() != nil {
		if err := p.store.MarkStatus(context.WithoutCancel(ctx), rec.SequenceID, mutation.StatusPending, msg); err != nil {
			return err
		}
		return ctx.Err()
	}

	if remote.IsPermanent(dispatchErr) {
		if _, err := p.store.RecordAttempt(ctx, rec.SequenceID, nil); err != nil {
			return err
		}
		return p.fail(ctx, rec, msg, report)
	}

	used := rec.BudgetUsed() + 1
	delay := p.backoff(used)
	next := p.config.Now().Add(delay)
	attempt, err := p.store.RecordAttempt(ctx, rec.SequenceID, &next)
	if err != nil {
		return err
	}
	rec.Attempt = attempt

	if rec.BudgetUsed() >= p.config.MaxAttempts {
		reason := fmt.Sprintf("giving up after %d attempts: %s", rec.BudgetUsed(), msg)
		return p.fail(ctx, rec, reason, report)
	}

	if err := p.store.MarkStatus(ctx, rec.SequenceID, mutation.StatusPending, msg); err != nil {
		return err
	}
	report.Retried++
	report.noteRetry(next)
	p.logger.Printf("Dispatch of %s failed (attempt %d/%d), retrying in %s: %s",
		rec, rec.BudgetUsed(), p.config.MaxAttempts, delay.Round(time.Millisecond), msg)
	return nil
}

// substituteRefs replaces string field values that name a prerequisite's
// idempotency key with the id the server assigned to it.
func substituteRefs(fields map[string]any, ids map[string]string) map[string]any {
	if len(ids) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			if id, ok := ids[s]; ok {
				out[k] = id
				continue
			}
		}
		out[k] = v
	}
	return out
}
