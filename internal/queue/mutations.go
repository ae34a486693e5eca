package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/resolver"
)

const recordColumns = `seq, idempotency_key, operation, entity_type, entity_id, payload,
	depends_on, cached_revision, cached_fields, attempt, retry_floor, status,
	last_error, next_attempt_at, created_at, updated_at`

// Enqueue validates and persists a new record with status pending.
//
// An EntityID naming a queued or confirmed idempotency key (an update of a
// record created offline) is added to DependsOn if missing, so the update
// waits for the create and is sent with the server's id.
//
// Fails with ErrDuplicateKey if the idempotency key is queued or confirmed,
// ErrUnknownDependency if a dependsOn key was never seen, and
// ErrDependencyFailed if a prerequisite has already failed. On any error the
// store is unchanged.
func (s *Store) Enqueue(ctx context.Context, rec *mutation.Record) (*mutation.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var cachedFields sql.NullString
	if len(rec.CachedFields) > 0 {
		data, err := json.Marshal(rec.CachedFields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cached fields: %w", err)
		}
		cachedFields = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	known, err := keyKnown(ctx, tx, rec.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if known {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, rec.IdempotencyKey)
	}

	deps := append([]string(nil), rec.DependsOn...)
	if rec.EntityID != "" && !slices.Contains(deps, rec.EntityID) {
		target, err := keyKnown(ctx, tx, rec.EntityID)
		if err != nil {
			return nil, err
		}
		if target {
			deps = append(deps, rec.EntityID)
		}
	}
	depsJSON, err := json.Marshal(nonNil(deps))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal depends_on: %w", err)
	}

	for _, dep := range deps {
		var status sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT status FROM mutations WHERE idempotency_key = ?`, dep).Scan(&status)
		switch {
		case err == nil:
			if mutation.Status(status.String) == mutation.StatusFailed {
				return nil, fmt.Errorf("%w: %s", ErrDependencyFailed, dep)
			}
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}

		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM confirmed WHERE idempotency_key = ?`, dep).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
	INSERT INTO mutations (
		idempotency_key, operation, entity_type, entity_id, payload,
		depends_on, cached_revision, cached_fields, attempt, retry_floor,
		status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		rec.IdempotencyKey,
		string(rec.Operation),
		string(rec.EntityType),
		nullIfEmpty(rec.EntityID),
		string(payloadJSON),
		string(depsJSON),
		timeToNullString(rec.CachedRevision),
		cachedFields,
		string(mutation.StatusPending),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, rec.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert mutation: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	stored := *rec
	stored.SequenceID = seq
	stored.DependsOn = deps
	stored.Attempt = 0
	stored.RetryFloor = 0
	stored.Status = mutation.StatusPending
	stored.LastError = ""
	stored.NextAttemptAt = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return &stored, nil
}

func keyKnown(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
	SELECT (SELECT COUNT(*) FROM mutations WHERE idempotency_key = ?)
	     + (SELECT COUNT(*) FROM confirmed WHERE idempotency_key = ?)`, key, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return n > 0, nil
}

// ListPending returns the records a drive cycle plans over (pending and
// in_flight) ordered by sequence ascending. In-flight records are included so
// their dependents stay ordered behind them; only pending ones may be
// claimed.
func (s *Store) ListPending(ctx context.Context) ([]*mutation.Record, error) {
	return s.ListByStatus(ctx, mutation.StatusPending, mutation.StatusInFlight)
}

// ListByStatus returns records in any of the given statuses ordered by
// sequence. With no statuses it returns every record.
func (s *Store) ListByStatus(ctx context.Context, statuses ...mutation.Status) ([]*mutation.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM mutations`
	var args []interface{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListByEntityType returns every record targeting et, ordered by sequence.
func (s *Store) ListByEntityType(ctx context.Context, et mutation.EntityType) ([]*mutation.Record, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM mutations WHERE entity_type = ? ORDER BY seq ASC`, string(et))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s mutations: %w", et, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindByKey returns the record with the given idempotency key, or nil if the
// store has none (it may already be confirmed).
func (s *Store) FindByKey(ctx context.Context, key string) (*mutation.Record, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM mutations WHERE idempotency_key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mutation %s: %w", key, err)
	}
	return rec, nil
}

// Get returns the record with the given sequence id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, seq int64) (*mutation.Record, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM mutations WHERE seq = ?`, seq)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: #%d", ErrNotFound, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mutation #%d: %w", seq, err)
	}
	return rec, nil
}

// MarkStatus atomically sets the status and last error of one record.
// An empty errMsg clears last_error.
func (s *Store) MarkStatus(ctx context.Context, seq int64, status mutation.Status, errMsg string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.conn.ExecContext(ctx, `
	UPDATE mutations SET status = ?, last_error = ?, updated_at = ?
	WHERE seq = ?`,
		string(status), nullIfEmpty(errMsg), formatTime(time.Now()), seq)
	if err != nil {
		return fmt.Errorf("failed to mark mutation #%d %s: %w", seq, status, err)
	}
	return requireRow(res, seq)
}

// Claim moves a pending record to in_flight. It reports false when the
// record is no longer pending, for example because another context sharing
// the store claimed it first. Only the claiming context may dispatch it.
func (s *Store) Claim(ctx context.Context, seq int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE mutations SET status = ?, updated_at = ?
	WHERE seq = ? AND status = ?`,
		string(mutation.StatusInFlight), formatTime(time.Now()), seq, string(mutation.StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to claim mutation #%d: %w", seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// RecordAttempt increments the attempt counter of one record, stores when it
// may next be tried (nil for "now") and returns the new attempt count.
func (s *Store) RecordAttempt(ctx context.Context, seq int64, next *time.Time) (int, error) {
	var attempt int
	err := s.conn.QueryRowContext(ctx, `
	UPDATE mutations SET attempt = attempt + 1, next_attempt_at = ?, updated_at = ?
	WHERE seq = ?
	RETURNING attempt`,
		timeToNullString(next), formatTime(time.Now()), seq).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: #%d", ErrNotFound, seq)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for #%d: %w", seq, err)
	}
	return attempt, nil
}

// Remove deletes one record. Removing a missing record is not an error.
func (s *Store) Remove(ctx context.Context, seq int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to remove mutation #%d: %w", seq, err)
	}
	return nil
}

// Retry moves a failed or conflicting record back to pending with a fresh
// retry budget. The attempt counter itself is preserved.
func (s *Store) Retry(ctx context.Context, key string) (*mutation.Record, error) {
	rec, err := s.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if rec.Status != mutation.StatusFailed && rec.Status != mutation.StatusConflict {
		return nil, fmt.Errorf("%w: %s is %s", ErrActive, key, rec.Status)
	}

	_, err = s.conn.ExecContext(ctx, `
	UPDATE mutations
	SET status = ?, last_error = NULL, next_attempt_at = NULL, retry_floor = attempt, updated_at = ?
	WHERE seq = ? AND status IN (?, ?)`,
		string(mutation.StatusPending), formatTime(time.Now()), rec.SequenceID,
		string(mutation.StatusFailed), string(mutation.StatusConflict))
	if err != nil {
		return nil, fmt.Errorf("failed to retry mutation %s: %w", key, err)
	}
	return s.Get(ctx, rec.SequenceID)
}

// Discard deletes a failed or conflicting record the caller gave up on.
func (s *Store) Discard(ctx context.Context, key string) (*mutation.Record, error) {
	rec, err := s.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if rec.Status != mutation.StatusFailed && rec.Status != mutation.StatusConflict {
		return nil, fmt.Errorf("%w: %s is %s", ErrActive, key, rec.Status)
	}
	if err := s.Remove(ctx, rec.SequenceID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReplacePayload swaps the payload and conflict baseline of a record and puts
// it back to pending. Used when a conflict is resolved.
func (s *Store) ReplacePayload(ctx context.Context, seq int64, payload mutation.Payload, revision *time.Time, cachedFields map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	var fieldsJSON sql.NullString
	if len(cachedFields) > 0 {
		data, err := json.Marshal(cachedFields)
		if err != nil {
			return fmt.Errorf("failed to marshal cached fields: %w", err)
		}
		fieldsJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.conn.ExecContext(ctx, `
	UPDATE mutations
	SET payload = ?, cached_revision = ?, cached_fields = ?, status = ?,
	    last_error = NULL, next_attempt_at = NULL, updated_at = ?
	WHERE seq = ?`,
		string(payloadJSON), timeToNullString(revision), fieldsJSON,
		string(mutation.StatusPending), formatTime(time.Now()), seq)
	if err != nil {
		return fmt.Errorf("failed to replace payload of #%d: %w", seq, err)
	}
	return requireRow(res, seq)
}

// ResetInFlight returns records claimed more than staleAfter ago to pending.
// A claim that old belongs to a context that died mid dispatch; younger ones
// may still be in progress elsewhere and are left alone. Redelivery is safe
// because the server deduplicates on the idempotency key.
func (s *Store) ResetInFlight(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	res, err := s.conn.ExecContext(ctx, `
	UPDATE mutations SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(mutation.StatusPending), formatTime(time.Now()), string(mutation.StatusInFlight), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight mutations: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns the number of records per status. Statuses with no records
// are present with zero.
func (s *Store) Counts(ctx context.Context) (map[mutation.Status]int, error) {
	counts := map[mutation.Status]int{
		mutation.StatusPending:  0,
		mutation.StatusInFlight: 0,
		mutation.StatusFailed:   0,
		mutation.StatusConflict: 0,
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM mutations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count mutations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[mutation.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// KeysExist returns the subset of keys that still have a queued record,
// i.e. whose mutation has not been confirmed yet.
func (s *Store) KeysExist(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT idempotency_key FROM mutations WHERE idempotency_key IN (`+strings.Join(placeholders, ", ")+`) ORDER BY seq`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to check queued keys: %w", err)
	}
	defer rows.Close()

	var present []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		present = append(present, k)
	}
	return present, rows.Err()
}

// UnknownKeys returns the keys that are neither queued nor confirmed, in
// input order. A dependency on such a key can never be met.
func (s *Store) UnknownKeys(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keys: %w", err)
	}
	rows, err := s.conn.QueryContext(ctx, `
	SELECT k.value FROM json_each(?) AS k
	WHERE k.value NOT IN (SELECT idempotency_key FROM mutations)
	  AND k.value NOT IN (SELECT idempotency_key FROM confirmed)
	ORDER BY k.key`, string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to check unknown keys: %w", err)
	}
	defer rows.Close()

	var unknown []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		unknown = append(unknown, k)
	}
	return unknown, rows.Err()
}

// PurgeResult counts what a purge removed.
type PurgeResult struct {
	Records       int64 `json:"records"`
	Confirmations int64 `json:"confirmations"`

	// Orphaned counts younger records failed because a record they depend
	// on was purged before reaching the server.
	Orphaned int64 `json:"orphaned"`
}

// PurgeExpired deletes records and confirmations older than ttl regardless of
// status, bounding storage growth from abandoned work. A non-positive ttl
// uses DefaultTTL.
func (s *Store) PurgeExpired(ctx context.Context, ttl time.Duration) (PurgeResult, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.PurgeBefore(ctx, time.Now().Add(-ttl))
}

// PurgeBefore deletes records created and confirmations made before cutoff.
//
// Queued records that depend on a purged record, directly or transitively,
// are failed with "parent mutation expired". Confirmations still named in a
// queued record's dependsOn are kept, since dispatching that record needs
// the server id. In-flight records are left alone.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var result PurgeResult

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expired, err := txKeys(ctx, tx, `SELECT idempotency_key FROM mutations WHERE created_at < ? ORDER BY seq`, formatTime(cutoff))
	if err != nil {
		return result, fmt.Errorf("failed to list expired mutations: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return result, fmt.Errorf("failed to purge mutations: %w", err)
	}
	if result.Records, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to count purged mutations: %w", err)
	}

	if len(expired) > 0 {
		rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM mutations WHERE status IN (?, ?) ORDER BY seq`,
			string(mutation.StatusPending), string(mutation.StatusConflict))
		if err != nil {
			return result, fmt.Errorf("failed to list remaining mutations: %w", err)
		}
		live, err := scanRecords(rows)
		rows.Close()
		if err != nil {
			return result, err
		}

		idx := resolver.Dependents(live)
		orphaned := make(map[int64]bool)
		now := formatTime(time.Now())
		for _, key := range expired {
			reason := "parent mutation expired: " + key
			for _, d := range idx.Descendants(key) {
				if orphaned[d.SequenceID] {
					continue
				}
				orphaned[d.SequenceID] = true
				if _, err := tx.ExecContext(ctx, `
				UPDATE mutations SET status = ?, last_error = ?, updated_at = ?
				WHERE seq = ?`,
					string(mutation.StatusFailed), reason, now, d.SequenceID); err != nil {
					return result, fmt.Errorf("failed to fail dependent %s: %w", d.IdempotencyKey, err)
				}
			}
		}
		result.Orphaned = int64(len(orphaned))
	}

	res, err = tx.ExecContext(ctx, `
	DELETE FROM confirmed WHERE confirmed_at < ?
	AND idempotency_key NOT IN (
		SELECT d.value FROM mutations AS m, json_each(m.depends_on) AS d
	)`, formatTime(cutoff))
	if err != nil {
		return result, fmt.Errorf("failed to purge confirmations: %w", err)
	}
	if result.Confirmations, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to count purged confirmations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func txKeys(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// scanRecords scans multiple records from query results.
func scanRecords(rows *sql.Rows) ([]*mutation.Record, error) {
	var records []*mutation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*mutation.Record, error) {
	var rec mutation.Record
	var operation, entityType, status, payloadJSON, depsJSON string
	var createdAt, updatedAt string
	var entityID, cachedRevision, cachedFields, lastError, nextAttemptAt sql.NullString

	err := row.Scan(
		&rec.SequenceID,
		&rec.IdempotencyKey,
		&operation,
		&entityType,
		&entityID,
		&payloadJSON,
		&depsJSON,
		&cachedRevision,
		&cachedFields,
		&rec.Attempt,
		&rec.RetryFloor,
		&status,
		&lastError,
		&nextAttemptAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Operation = mutation.Operation(operation)
	rec.EntityType = mutation.EntityType(entityType)
	rec.EntityID = entityID.String
	rec.Status = mutation.Status(status)
	rec.LastError = lastError.String
	rec.CachedRevision = nullStringToTime(cachedRevision)
	rec.NextAttemptAt = nullStringToTime(nextAttemptAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	payload, err := mutation.DecodePayload(rec.EntityType, []byte(payloadJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", rec.IdempotencyKey, err)
	}
	rec.Payload = payload

	if depsJSON != "" && depsJSON != "null" {
		if err := json.Unmarshal([]byte(depsJSON), &rec.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal depends_on: %w", err)
		}
	}
	if len(rec.DependsOn) == 0 {
		rec.DependsOn = nil
	}

	if cachedFields.Valid && cachedFields.String != "" {
		if err := json.Unmarshal([]byte(cachedFields.String), &rec.CachedFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached fields: %w", err)
		}
	}

	return &rec, nil
}

func requireRow(res sql.Result, seq int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: #%d", ErrNotFound, seq)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
