package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_Small(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "load.db")

	result, err := Run(context.Background(), dbPath, Scenario{Contexts: 3, Chains: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Records != 60 {
		t.Errorf("Expected 60 records, got %d", result.Records)
	}
	if result.Synced != result.Records {
		t.Errorf("Synced %d of %d records", result.Synced, result.Records)
	}
	if result.Failed != 0 {
		t.Errorf("Got %d failed records", result.Failed)
	}
	if len(result.OrderViolations) > 0 {
		t.Errorf("Ordering violations: %v", result.OrderViolations)
	}
	if result.Enqueue.Count != 60 {
		t.Errorf("Expected 60 enqueue samples, got %d", result.Enqueue.Count)
	}
}

func TestRun_WithTransientFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping failure injection in short mode")
	}
	dbPath := filepath.Join(t.TempDir(), "load.db")

	result, err := Run(context.Background(), dbPath, Scenario{
		Contexts:    4,
		Chains:      5,
		FailureRate: 0.3,
		Seed:        7,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Injected == 0 {
		t.Error("Expected some injected failures")
	}
	if result.Synced != result.Records {
		t.Errorf("Synced %d of %d records", result.Synced, result.Records)
	}
	if len(result.OrderViolations) > 0 {
		t.Errorf("Ordering violations: %v", result.OrderViolations)
	}

	var buf bytes.Buffer
	result.Print(&buf)
	if !strings.Contains(buf.String(), "Ordering: ok") {
		t.Errorf("summary missing ordering line:\n%s", buf.String())
	}
	t.Log("\n" + buf.String())
}

func TestRun_Timeout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "load.db")

	// Every call fails, so the queue never drains.
	_, err := Run(context.Background(), dbPath, Scenario{
		Contexts:    1,
		Chains:      1,
		FailureRate: 1,
		MaxAttempts: 1 << 30,
		Timeout:     200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"min", stats.Min, 1 * time.Millisecond},
		{"max", stats.Max, 100 * time.Millisecond},
		{"p50", stats.P50, 51 * time.Millisecond},
		{"p95", stats.P95, 96 * time.Millisecond},
		{"p99", stats.P99, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if stats.Count != 100 {
		t.Errorf("count = %d", stats.Count)
	}
	// Input is not reordered.
	if durations[0] != 100*time.Millisecond {
		t.Error("computeLatencyStats sorted its input")
	}
}

func TestComputeLatencyStats_Empty(t *testing.T) {
	if stats := computeLatencyStats(nil); stats.Count != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
