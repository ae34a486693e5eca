// Package syncer drains the durable mutation queue into the remote API.
//
// Overview
//
// A Processor runs drive cycles. Each cycle lists the dispatchable records,
// orders them with the resolver, and delivers them one at a time:
//
//	queue.Store ──ListPending──▶ resolver.Resolve ──Order──▶ dispatch (sequential)
//	                                                          │
//	          ┌───────────────────────────────────────────────┤
//	          ▼                     ▼                         ▼
//	   success: Confirm      transient: backoff       permanent / exhausted:
//	   (record removed)      (back to pending)        failed + cascade
//
// Updates with a cached revision are checked against the server's current
// state first (package conflict). A conflicting update is handed to the
// configured conflict.Resolver, or blocked in the conflict status when there
// is none.
//
// Claims
//
// Several contexts may drive the same store. A record is moved from pending
// to in_flight with a compare-and-set (queue.Store.Claim) before it is sent,
// and only the context whose claim succeeded sends it. Others skip in-flight
// records, which still hold their dependents back.
//
// State
//
// The processor is Idle or Draining. A Drive call that arrives while a cycle
// is running does not start a second one: it asks the running cycle to make
// one more pass over the queue and returns at once.
//
// Retries
//
// Transient failures (network, timeouts, 408/425/429, 5xx) are retried up to
// MaxAttempts times. The delay before attempt n is min(30s, 2^n s) with
// jitter. The earliest scheduled retry is reported in Report.NextRetry so the
// daemon can arm a timer. Permanent failures fail the record at once.
//
// Cascade
//
// When a record fails, every queued record that transitively depends on it
// fails too, with "parent mutation failed: <key>: <reason>". One
// mutation-failed event is emitted per record; the root's event carries the
// number of descendants.
//
// Error Handling
//
// Per-record failures never surface from Drive: they end up in the record's
// status and last error, and in events. Drive only returns an error when the
// store itself fails or the context is cancelled; it then emits sync-error.
package syncer
