// Package migrate moves a mutation queue in and out of JSONL files, for
// backups and for carrying unsynced work from one device to another.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/invtrack/syncq/internal/mutation"
	"github.com/invtrack/syncq/internal/queue"
)

// ExportOptions contains configuration for an export
type ExportOptions struct {
	ToJSONL  string            // Output JSONL file path
	Statuses []mutation.Status // Statuses to include (default: all)
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	FromJSONL     string // Input JSONL file path
	DryRun        bool   // Validate without writing
	IncludeFailed bool   // Requeue records that had failed at the source
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Read       int
	Imported   int
	Duplicates int
	Skipped    int
	Errors     []string
}

// WriteJSONL writes records to w, one JSON object per line.
func WriteJSONL(w io.Writer, records []*mutation.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode %s: %w", rec.IdempotencyKey, err)
		}
	}
	return nil
}

// ReadJSONL reads records from r. Blank lines are ignored.
func ReadJSONL(r io.Reader) ([]*mutation.Record, error) {
	var records []*mutation.Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec mutation.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return records, nil
}

// FromJSONL reads a JSONL file and returns the parsed records
func FromJSONL(jsonlPath string) ([]*mutation.Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()
	return ReadJSONL(file)
}

// Export writes the queue to opts.ToJSONL in sequence order and returns the
// number of records written.
func Export(ctx context.Context, store *queue.Store, opts ExportOptions) (int, error) {
	records, err := store.ListByStatus(ctx, opts.Statuses...)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(opts.ToJSONL); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Write atomically via temp file
	tmpPath := opts.ToJSONL + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := WriteJSONL(w, records); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, opts.ToJSONL); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return len(records), nil
}

// Import enqueues the records of opts.FromJSONL in file order, so that a
// prerequisite exported before its dependents is imported before them too.
// Idempotency keys are preserved: a key already known to the store is counted
// as a duplicate and skipped, and the server still deduplicates a record that
// reached it from the source device. Delivery state (attempts, errors,
// backoff) starts fresh.
func Import(ctx context.Context, store *queue.Store, opts ImportOptions) (*ImportResult, error) {
	if _, err := os.Stat(opts.FromJSONL); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	records, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	result := &ImportResult{Read: len(records)}
	for _, rec := range records {
		if rec.Status == mutation.StatusFailed && !opts.IncludeFailed {
			result.Skipped++
			continue
		}

		fresh := &mutation.Record{
			IdempotencyKey: rec.IdempotencyKey,
			Operation:      rec.Operation,
			EntityType:     rec.EntityType,
			EntityID:       rec.EntityID,
			Payload:        rec.Payload,
			DependsOn:      rec.DependsOn,
			CachedRevision: rec.CachedRevision,
			CachedFields:   rec.CachedFields,
		}

		if opts.DryRun {
			if err := fresh.Validate(); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("invalid record %s: %v", rec.IdempotencyKey, err))
				continue
			}
			result.Imported++
			continue
		}

		if _, err := store.Enqueue(ctx, fresh); err != nil {
			if errors.Is(err, queue.ErrDuplicateKey) {
				result.Duplicates++
				continue
			}
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Errors = append(result.Errors, fmt.Sprintf("failed to import %s: %v", rec.IdempotencyKey, err))
			continue
		}
		result.Imported++
	}

	return result, nil
}
