package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
)

// Confirmation is what the store remembers about an acknowledged record.
type Confirmation struct {
	IdempotencyKey string              `json:"idempotency_key"`
	EntityType     mutation.EntityType `json:"entity_type"`
	ServerID       string              `json:"server_id,omitempty"`
	Revision       *time.Time          `json:"revision,omitempty"`
	ConfirmedAt    time.Time           `json:"confirmed_at"`
}

// Confirm removes a synced record and remembers its key together with the
// identity the server assigned. Both happen in one transaction so a crash
// never leaves a record both queued and confirmed.
func (s *Store) Confirm(ctx context.Context, rec *mutation.Record, serverID string, revision *time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, rec.SequenceID); err != nil {
		return fmt.Errorf("failed to delete mutation #%d: %w", rec.SequenceID, err)
	}

	id := serverID
	if id == "" {
		id = rec.EntityID
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO confirmed (idempotency_key, entity_type, server_id, revision, confirmed_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(idempotency_key) DO UPDATE SET
		server_id = excluded.server_id,
		revision = excluded.revision,
		confirmed_at = excluded.confirmed_at`,
		rec.IdempotencyKey, string(rec.EntityType), nullIfEmpty(id),
		timeToNullString(revision), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record confirmation of %s: %w", rec.IdempotencyKey, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Confirmed returns the confirmation for key, or nil if the key was never
// confirmed (or has been purged).
func (s *Store) Confirmed(ctx context.Context, key string) (*Confirmation, error) {
	var c Confirmation
	var entityType, confirmedAt string
	var serverID, revision sql.NullString
	err := s.conn.QueryRowContext(ctx, `
	SELECT idempotency_key, entity_type, server_id, revision, confirmed_at
	FROM confirmed WHERE idempotency_key = ?`, key).
		Scan(&c.IdempotencyKey, &entityType, &serverID, &revision, &confirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get confirmation %s: %w", key, err)
	}
	c.EntityType = mutation.EntityType(entityType)
	c.ServerID = serverID.String
	c.Revision = nullStringToTime(revision)
	c.ConfirmedAt = parseTime(confirmedAt)
	return &c, nil
}

// ConfirmedIDs maps each confirmed key in keys to its server-assigned id.
// Keys that are not confirmed, or were confirmed without an id, are absent.
func (s *Store) ConfirmedIDs(ctx context.Context, keys []string) (map[string]string, error) {
	ids := make(map[string]string)
	if len(keys) == 0 {
		return ids, nil
	}
	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT idempotency_key, server_id FROM confirmed
	WHERE server_id IS NOT NULL AND idempotency_key IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up confirmed ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		ids[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating confirmations: %w", err)
	}
	return ids, nil
}

// ListConfirmed returns every remembered confirmation, oldest first.
func (s *Store) ListConfirmed(ctx context.Context) ([]*Confirmation, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT idempotency_key, entity_type, server_id, revision, confirmed_at
	FROM confirmed ORDER BY confirmed_at ASC, idempotency_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	defer rows.Close()

	var out []*Confirmation
	for rows.Next() {
		var c Confirmation
		var entityType, confirmedAt string
		var serverID, revision sql.NullString
		if err := rows.Scan(&c.IdempotencyKey, &entityType, &serverID, &revision, &confirmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		c.EntityType = mutation.EntityType(entityType)
		c.ServerID = serverID.String
		c.Revision = nullStringToTime(revision)
		c.ConfirmedAt = parseTime(confirmedAt)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating confirmations: %w", err)
	}
	return out, nil
}
